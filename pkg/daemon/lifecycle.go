package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jamesainslie/otahub/pkg/otahub/config"
)

// ErrDaemonAlreadyRunning is returned when another otahubd owns the PID file.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// Paths locates the daemon's runtime files.
type Paths struct {
	Socket string
	PID    string
	Status string
	DB     string
}

// PathsFromConfig resolves Paths from a loaded config. The status file sits
// next to the PID file.
func PathsFromConfig(cfg *config.Config) Paths {
	return Paths{
		Socket: cfg.Daemon.SocketPath,
		PID:    cfg.Daemon.PIDPath,
		Status: StatusPath(filepath.Dir(cfg.Daemon.PIDPath)),
		DB:     cfg.Daemon.DBPath,
	}
}

// WritePIDFile writes the current process ID to path.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a PID from path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	return os.Remove(path)
}

// IsDaemonRunning reports whether the process named by the PID file is alive.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning probes pid with signal 0.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
