// Package pidfile records the running server's process id and uses it to
// refuse a second instance and to signal a running one to stop.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var (
	// ErrNotRunning is returned when no live process is recorded.
	ErrNotRunning = errors.New("server is not running")
	// ErrAlreadyRunning is wrapped by AlreadyRunningError.
	ErrAlreadyRunning = errors.New("server already running")
)

// AlreadyRunningError reports the live process that holds the pid file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("server already running with PID %d", e.PID)
}

func (e *AlreadyRunningError) Unwrap() error { return ErrAlreadyRunning }

// File is a pid file owned by this process.
type File struct {
	path string
	pid  int
}

// Acquire writes the current pid to path. It fails with an
// *AlreadyRunningError if the file names a process that is still alive;
// stale or unreadable files are overwritten.
func Acquire(path string) (*File, error) {
	if pid, err := Read(path); err == nil && pid != os.Getpid() && alive(pid) {
		return nil, &AlreadyRunningError{PID: pid}
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write pid file %s: %w", path, err)
	}
	return &File{path: path, pid: pid}, nil
}

// Path returns the file location.
func (f *File) Path() string { return f.path }

// Release removes the file if it still records this process.
func (f *File) Release() error {
	pid, err := Read(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != f.pid {
		return nil
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file %s: %w", f.path, err)
	}
	return nil
}

// Read parses the pid recorded at path.
func Read(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("parse pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}

// Stop sends SIGTERM to the recorded process and returns its pid.
func Stop(path string) (int, error) {
	pid, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return pid, ErrNotRunning
		}
		return pid, fmt.Errorf("signal process %d: %w", pid, err)
	}
	return pid, nil
}

// alive probes pid with signal 0.
func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
