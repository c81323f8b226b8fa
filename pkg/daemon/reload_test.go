package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/otahub/pkg/otahub/config"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// isolatedConfig points config lookup at a fresh directory and writes
// content as the config file.
func isolatedConfig(t *testing.T, content string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))

	path := filepath.Join(home, ".config", "otahub", "config.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReloader_Apply(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "otahub.log")
	require.NoError(t, logging.Init(logging.Config{Level: "info", Path: logPath}))
	t.Cleanup(func() { _ = logging.Close() })

	sched := NewScheduler(nil, 0)
	r := &Reloader{sched: sched, log: logging.Get("daemon")}

	logging.Get("reload-test").Debug("hidden entry")

	cfg := &config.Config{
		CheckSchedule: "@daily",
		Logging:       config.LoggingConfig{Level: "debug"},
	}
	require.NoError(t, r.Apply(cfg))
	assert.Equal(t, "@daily", sched.Spec())

	logging.Get("reload-test").Debug("visible entry")
	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hidden entry"))
	assert.True(t, strings.Contains(string(data), "visible entry"))

	cfg.Logging.Level = "loud"
	assert.Error(t, r.Apply(cfg))
}

func TestReloader_Handle(t *testing.T) {
	path := isolatedConfig(t, "check_schedule: \"@daily\"\n")

	v, err := config.NewViper()
	require.NoError(t, err)

	sched := NewScheduler(nil, 0)
	r := NewReloader(v, sched)

	write := func(content string) {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, v.ReadInConfig())
	}

	write("check_schedule: \"@every 6h\"\n")
	r.handle(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Equal(t, "@every 6h", sched.Spec())

	// Invalid edits are ignored.
	write("check_schedule: \"whenever\"\n")
	r.handle(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Equal(t, "@every 6h", sched.Spec())

	// Events other than writes and creates do nothing.
	write("check_schedule: \"\"\n")
	r.handle(fsnotify.Event{Name: path, Op: fsnotify.Chmod})
	assert.Equal(t, "@every 6h", sched.Spec())

	r.handle(fsnotify.Event{Name: path, Op: fsnotify.Create})
	assert.Empty(t, sched.Spec())
}
