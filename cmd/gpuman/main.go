package main

import (
	"log/slog"
	"os"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("gpuman failed", "error", err)
		os.Exit(1)
	}
}
