package daemon

import (
	"os"
	"path/filepath"

	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// RecoverFromStaleDaemon removes the files a crashed daemon leaves behind:
// the PID, status, and socket files and badger's LOCK file. It returns
// ErrDaemonAlreadyRunning if the recorded process is still alive, and nil
// when there is nothing to recover.
func RecoverFromStaleDaemon(p Paths) error {
	pid, err := ReadPIDFile(p.PID)
	if err != nil {
		return nil //nolint:nilerr // a missing or unreadable PID file means no daemon
	}

	if IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	logging.Get("daemon").Warn("cleaning up stale daemon files", "stale_pid", pid)

	_ = os.Remove(p.PID)
	_ = os.Remove(p.Socket)
	if p.Status != "" {
		_ = os.Remove(p.Status)
	}
	if p.DB != "" {
		_ = os.Remove(filepath.Join(p.DB, "LOCK"))
	}
	return nil
}
