// Package daemon implements the single-instance guard, heartbeat, and
// health verdict of §4.14.
package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile enforces single-instance execution via a PID file at path. On
// Acquire, if a live process already owns the file, startup is refused.
type PIDFile struct {
	path     string
	acquired bool
}

// NewPIDFile returns a guard for the given path. Nothing touches disk until
// Acquire is called.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// ErrAlreadyRunning is returned by Acquire when another live process holds
// the PID file.
type ErrAlreadyRunning struct {
	PID int
}

func (e *ErrAlreadyRunning) Error() string {
	return fmt.Sprintf("daemon: another instance is already running (pid %d)", e.PID)
}

// Acquire checks for an existing, live-owned PID file and refuses to start
// if one is found; otherwise it writes the current process's PID.
func (p *PIDFile) Acquire() error {
	if data, err := os.ReadFile(p.path); err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && pid > 0 && processAlive(pid) {
			return &ErrAlreadyRunning{PID: pid}
		}
		// stale file: owner is gone, fall through and overwrite it.
	}

	if err := os.WriteFile(p.path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("daemon: write pid file %q: %w", p.path, err)
	}
	p.acquired = true
	return nil
}

// Release removes the PID file if this instance acquired it.
func (p *PIDFile) Release() error {
	if !p.acquired {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("daemon: remove pid file %q: %w", p.path, err)
	}
	p.acquired = false
	return nil
}

// processAlive reports whether pid names a live process, via the signal-0
// probe (POSIX convention: sending signal 0 checks existence/permission
// without actually signaling the process).
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
