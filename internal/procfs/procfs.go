// Package procfs reads the per-process metadata the correlator needs from
// a /proc filesystem.
package procfs

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/afero"
)

// ErrProcessGone reports that the process exited between being listed by the
// GPU driver and being read here.
var ErrProcessGone = errors.New("procfs: process no longer exists")

// Identity is what the correlator needs to know about one process.
type Identity struct {
	PID      int
	Cmdline  string // raw, NUL separated, trailing NULs stripped
	LoginUID int64
}

// Lookup is the outcome of reading one process. Exactly one of Identity
// (when Vanished is false and Err is nil), Vanished, or Err is meaningful.
type Lookup struct {
	Identity Identity
	Vanished bool
	Err      error
}

// Reader reads /proc/<pid>/* files from an afero filesystem.
type Reader struct {
	fs   afero.Fs
	root string
}

// NewReader returns a Reader over fs rooted at root (usually "/proc").
func NewReader(fsys afero.Fs, root string) *Reader {
	if root == "" {
		root = "/proc"
	}
	return &Reader{fs: fsys, root: root}
}

// NewOSReader returns a Reader over the host filesystem.
func NewOSReader(root string) *Reader {
	return NewReader(afero.NewOsFs(), root)
}

func (r *Reader) read(pid int, name string) ([]byte, error) {
	path := filepath.Join(r.root, strconv.Itoa(pid), name)
	b, err := afero.ReadFile(r.fs, path)
	if err != nil {
		if isGone(err) {
			return nil, fmt.Errorf("%w: pid %d: %w", ErrProcessGone, pid, err)
		}
		return nil, fmt.Errorf("procfs: read %s: %w", path, err)
	}
	return b, nil
}

// Cmdline returns the raw command line of pid with trailing NULs removed.
func (r *Reader) Cmdline(pid int) (string, error) {
	b, err := r.read(pid, "cmdline")
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

// LoginUID returns the audit login uid of pid. An unset loginuid reads as
// 4294967295, which is returned unchanged.
func (r *Reader) LoginUID(pid int) (int64, error) {
	b, err := r.read(pid, "loginuid")
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	uid, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("procfs: pid %d loginuid %q: %w", pid, s, err)
	}
	return uid, nil
}

// Lookup reads the command line and login uid of pid.
func (r *Reader) Lookup(pid int) Lookup {
	cmdline, err := r.Cmdline(pid)
	if err != nil {
		return lookupErr(err)
	}
	uid, err := r.LoginUID(pid)
	if err != nil {
		return lookupErr(err)
	}
	return Lookup{Identity: Identity{PID: pid, Cmdline: cmdline, LoginUID: uid}}
}

func lookupErr(err error) Lookup {
	if errors.Is(err, ErrProcessGone) {
		return Lookup{Vanished: true, Err: err}
	}
	return Lookup{Err: err}
}

func isGone(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}
