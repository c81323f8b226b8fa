package daemon_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/jamesainslie/otahub/pkg/daemon"
	"github.com/jamesainslie/otahub/pkg/otahub/config"
)

// stalePID is far above any real pid_max.
const stalePID = 999999999

func testPaths(t *testing.T) daemon.Paths {
	t.Helper()
	dir := t.TempDir()
	return daemon.Paths{
		Socket: filepath.Join(dir, "otahub.sock"),
		PID:    filepath.Join(dir, "otahub.pid"),
		Status: daemon.StatusPath(dir),
		DB:     filepath.Join(dir, "otahub.db"),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestPIDFile(t *testing.T) {
	p := testPaths(t)

	if daemon.IsDaemonRunning(p.PID) {
		t.Error("IsDaemonRunning() = true with no pid file")
	}

	if err := daemon.WritePIDFile(p.PID); err != nil {
		t.Fatalf("WritePIDFile() error = %v", err)
	}
	pid, err := daemon.ReadPIDFile(p.PID)
	if err != nil {
		t.Fatalf("ReadPIDFile() error = %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPIDFile() = %d, want %d", pid, os.Getpid())
	}
	if !daemon.IsDaemonRunning(p.PID) {
		t.Error("IsDaemonRunning() = false for the current process")
	}

	if err := daemon.RemovePIDFile(p.PID); err != nil {
		t.Fatalf("RemovePIDFile() error = %v", err)
	}
	if exists(p.PID) {
		t.Error("pid file still exists after RemovePIDFile")
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	for _, content := range []string{"not-a-number", "0", "-12", ""} {
		t.Run(strconv.Quote(content), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "otahub.pid")
			writeFile(t, path, content)

			if _, err := daemon.ReadPIDFile(path); err == nil {
				t.Errorf("ReadPIDFile(%q) error = nil", content)
			}
			if daemon.IsDaemonRunning(path) {
				t.Errorf("IsDaemonRunning() = true for pid file %q", content)
			}
		})
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !daemon.IsProcessRunning(os.Getpid()) {
		t.Error("current process reported as not running")
	}
	if daemon.IsProcessRunning(stalePID) {
		t.Error("nonexistent pid reported as running")
	}
}

func TestPathsFromConfig(t *testing.T) {
	cfg := &config.Config{Daemon: config.DaemonConfig{
		SocketPath: "/run/otahub/otahub.sock",
		PIDPath:    "/run/otahub/otahub.pid",
		DBPath:     "/var/lib/otahub/otahub.db",
	}}

	p := daemon.PathsFromConfig(cfg)
	if p.Status != "/run/otahub/otahub.status" {
		t.Errorf("Status = %q", p.Status)
	}
	if p.DB != cfg.Daemon.DBPath || p.Socket != cfg.Daemon.SocketPath || p.PID != cfg.Daemon.PIDPath {
		t.Errorf("PathsFromConfig() = %+v", p)
	}
}

func TestRecoverFromStaleDaemon(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		if err := daemon.RecoverFromStaleDaemon(testPaths(t)); err != nil {
			t.Errorf("RecoverFromStaleDaemon() error = %v", err)
		}
	})

	t.Run("unreadable pid file", func(t *testing.T) {
		p := testPaths(t)
		writeFile(t, p.PID, "garbage")
		if err := daemon.RecoverFromStaleDaemon(p); err != nil {
			t.Errorf("RecoverFromStaleDaemon() error = %v", err)
		}
	})

	t.Run("live daemon", func(t *testing.T) {
		p := testPaths(t)
		writeFile(t, p.PID, strconv.Itoa(os.Getpid()))
		writeFile(t, p.Socket, "")

		err := daemon.RecoverFromStaleDaemon(p)
		if !errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			t.Fatalf("RecoverFromStaleDaemon() error = %v, want ErrDaemonAlreadyRunning", err)
		}
		if !exists(p.PID) || !exists(p.Socket) {
			t.Error("files of a live daemon were removed")
		}
	})

	t.Run("stale daemon", func(t *testing.T) {
		p := testPaths(t)
		lock := filepath.Join(p.DB, "LOCK")
		writeFile(t, p.PID, strconv.Itoa(stalePID))
		writeFile(t, p.Socket, "")
		writeFile(t, p.Status, `{"status":"ready"}`)
		writeFile(t, lock, "")

		if err := daemon.RecoverFromStaleDaemon(p); err != nil {
			t.Fatalf("RecoverFromStaleDaemon() error = %v", err)
		}
		for _, path := range []string{p.PID, p.Socket, p.Status, lock} {
			if exists(path) {
				t.Errorf("%s survived recovery", path)
			}
		}
		if !exists(p.DB) {
			t.Error("database directory was removed")
		}
	})

	t.Run("stale pid only", func(t *testing.T) {
		p := testPaths(t)
		writeFile(t, p.PID, strconv.Itoa(stalePID))

		if err := daemon.RecoverFromStaleDaemon(p); err != nil {
			t.Fatalf("RecoverFromStaleDaemon() error = %v", err)
		}
		if exists(p.PID) {
			t.Error("stale pid file survived recovery")
		}
	})
}

func TestStatusFile(t *testing.T) {
	dir := t.TempDir()
	path := daemon.StatusPath(dir)

	if filepath.Base(path) != "otahub.status" {
		t.Errorf("StatusPath() = %s", path)
	}

	if err := daemon.WriteStatusReady(path, "/tmp/otahub.sock", "1.2.3"); err != nil {
		t.Fatalf("WriteStatusReady() error = %v", err)
	}
	st, err := daemon.ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.Status != daemon.StatusReady || st.PID != os.Getpid() || st.Socket != "/tmp/otahub.sock" || st.Version != "1.2.3" {
		t.Errorf("ready status = %+v", st)
	}
	if st.Error != "" {
		t.Errorf("ready status carries error %q", st.Error)
	}
	if exists(path + ".tmp") {
		t.Error("temporary status file left behind")
	}

	if err := daemon.WriteStatusError(path, errors.New("no device")); err != nil {
		t.Fatalf("WriteStatusError() error = %v", err)
	}
	st, err = daemon.ReadStatus(path)
	if err != nil {
		t.Fatalf("ReadStatus() error = %v", err)
	}
	if st.Status != daemon.StatusError || st.Error != "no device" || st.PID != 0 {
		t.Errorf("error status = %+v", st)
	}

	if err := daemon.RemoveStatus(path); err != nil {
		t.Fatalf("RemoveStatus() error = %v", err)
	}
	if _, err := daemon.ReadStatus(path); err == nil {
		t.Error("ReadStatus() of removed file error = nil")
	}

	writeFile(t, path, "not json")
	if _, err := daemon.ReadStatus(path); err == nil {
		t.Error("ReadStatus() of invalid json error = nil")
	}
}
