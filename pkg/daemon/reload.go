package daemon

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/jamesainslie/otahub/pkg/otahub/config"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// Reloader applies config file edits to a running daemon. Only log levels
// and the check schedule take effect live; other settings need a restart.
type Reloader struct {
	v     *viper.Viper
	sched *Scheduler
	log   *logging.Logger
}

// NewReloader creates a Reloader for v.
func NewReloader(v *viper.Viper, sched *Scheduler) *Reloader {
	return &Reloader{
		v:     v,
		sched: sched,
		log:   logging.Get("daemon"),
	}
}

// Watch starts watching the config file viper loaded. Without a config file
// there is nothing to watch.
func (r *Reloader) Watch() {
	if r.v.ConfigFileUsed() == "" {
		r.log.Debug("no config file, not watching for changes")
		return
	}
	r.v.OnConfigChange(r.handle)
	r.v.WatchConfig()
	r.log.Info("watching config file", "path", r.v.ConfigFileUsed())
}

func (r *Reloader) handle(e fsnotify.Event) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}

	cfg, err := config.Decode(r.v)
	if err != nil {
		r.log.Warn("ignoring invalid config change", "path", e.Name, "error", err)
		return
	}
	if err := r.Apply(cfg); err != nil {
		r.log.Warn("applying config change", "path", e.Name, "error", err)
		return
	}
	r.log.Info("config reloaded", "path", e.Name)
}

// Apply sets log levels and the check schedule from cfg.
func (r *Reloader) Apply(cfg *config.Config) error {
	if err := logging.SetLevels(cfg.Logging.Level, cfg.Logging.Components); err != nil {
		return err
	}
	if r.sched != nil {
		return r.sched.Reschedule(cfg.CheckSchedule)
	}
	return nil
}
