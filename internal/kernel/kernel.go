// Package kernel recognizes Jupyter kernel processes from their command line.
package kernel

import (
	"path/filepath"
	"strings"
)

const (
	launcherMarker   = "ipykernel_launcher"
	connectionFlag   = "-f"
	connectionPrefix = "kernel-"
	connectionSuffix = ".json"
)

// IsLauncher reports whether a raw (NUL separated) command line belongs to
// an ipykernel launcher.
func IsLauncher(cmdline string) bool {
	return strings.Contains(cmdline, launcherMarker)
}

// ExtractID returns the kernel id encoded in the connection file passed
// with -f, e.g. ".../runtime/kernel-abc123.json" yields "abc123". It
// returns false when the command line is not a launcher, has no -f
// argument, or the file name does not follow the kernel-<id>.json form.
func ExtractID(cmdline string) (string, bool) {
	if !IsLauncher(cmdline) {
		return "", false
	}
	args := strings.Split(cmdline, "\x00")
	for i, arg := range args {
		if arg != connectionFlag {
			continue
		}
		if i+1 >= len(args) {
			return "", false
		}
		return idFromConnectionFile(args[i+1])
	}
	return "", false
}

func idFromConnectionFile(path string) (string, bool) {
	// filepath.Base drops trailing separators; a directory path is not a
	// connection file.
	if strings.HasSuffix(path, "/") {
		return "", false
	}
	base := filepath.Base(path)
	if !strings.HasPrefix(base, connectionPrefix) || !strings.HasSuffix(base, connectionSuffix) {
		return "", false
	}
	if len(base) < len(connectionPrefix)+len(connectionSuffix) {
		return "", false
	}
	return base[len(connectionPrefix) : len(base)-len(connectionSuffix)], true
}

// Display renders a raw command line for humans by replacing NULs with
// spaces.
func Display(cmdline string) string {
	return strings.ReplaceAll(cmdline, "\x00", " ")
}
