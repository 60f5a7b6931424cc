// Package daemon tracks the process of a running "bynder2 serve".
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFileName is the pid file created in the data directory
const PIDFileName = "bynder2.pid"

// ErrAlreadyRunning is returned by Write when a live process owns the file
var ErrAlreadyRunning = errors.New("gateway is already running")

// PIDFile manages the gateway process ID file
type PIDFile struct {
	path string
}

// NewPIDFile creates a new PID file manager
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// PIDPath returns the pid file location inside dataDir, creating the
// directory when needed.
func PIDPath(dataDir string) (string, error) {
	if dataDir == "" {
		return "", fmt.Errorf("data directory cannot be empty")
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create PID directory: %w", err)
	}
	return filepath.Join(dataDir, PIDFileName), nil
}

// Path returns the file location
func (p *PIDFile) Path() string {
	return p.path
}

// Write records the current process. A file left by a dead process is
// replaced.
func (p *PIDFile) Write() error {
	if pid, err := p.Read(); err == nil {
		if ProcessRunning(pid) {
			return fmt.Errorf("%w (PID %d, file %s)", ErrAlreadyRunning, pid, p.path)
		}
		os.Remove(p.path)
	} else if _, statErr := os.Stat(p.path); statErr == nil {
		// unreadable content
		os.Remove(p.path)
	}

	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (file %s)", ErrAlreadyRunning, p.path)
		}
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(p.path)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// Read reads the PID from the PID file
func (p *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("PID file does not exist: %s", p.path)
		}
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file: %q", pidStr)
	}

	return pid, nil
}

// Remove removes the PID file
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if the process in the PID file is running
func (p *PIDFile) IsRunning() (bool, error) {
	pid, err := p.Read()
	if err != nil {
		return false, err
	}

	return ProcessRunning(pid), nil
}

// Kill asks the process in the PID file to terminate
func (p *PIDFile) Kill() error {
	pid, err := p.Read()
	if err != nil {
		return err
	}
	if !ProcessRunning(pid) {
		return fmt.Errorf("process %d is not running", pid)
	}

	return killProcess(pid)
}
