// Package daemon runs otahubd: it owns the update coordinator and serves it
// to otahub clients over gRPC on a unix socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/jamesainslie/otahub/pkg/daemon/store"
	"github.com/jamesainslie/otahub/pkg/otahub/config"
	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/device"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

// Options configures a Daemon.
type Options struct {
	Config *config.Config

	// Viper, when set, is watched for config file changes.
	Viper *viper.Viper

	Version string
}

// Daemon is an assembled otahubd.
type Daemon struct {
	cfg   *config.Config
	log   *logging.Logger
	info  device.Info
	store *store.Store
	coord *coordinator.Coordinator
	sched *Scheduler
	srv   *Server

	reloader *Reloader

	stopOnce sync.Once
	stop     chan struct{}
}

// New detects the device, opens the store, restores any paused transfer,
// and listens on the configured socket. Nothing runs until Run.
func New(opts Options) (*Daemon, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("daemon: nil config")
	}
	log := logging.Get("daemon")

	info, err := device.Detect(cfg.BuildProp, cfg.Device, cfg.InstalledBuildTime)
	if err != nil {
		return nil, fmt.Errorf("detecting device: %w", err)
	}
	log.Info("device detected", "device", info.Codename, "build_time", info.BuildTime.UTC(),
		"android", info.AndroidVersion, "security_patch", info.SecurityPatch)

	chunk, err := cfg.Transfer.ChunkBytes()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Daemon.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	d := &Daemon{
		cfg:   cfg,
		log:   log,
		info:  info,
		store: st,
		stop:  make(chan struct{}),
	}

	engine := transfer.New(transfer.Options{
		ChunkSize:        chunk,
		ProgressInterval: cfg.Transfer.ProgressInterval,
	})
	fetcher := manifest.NewClient(cfg.ManifestURL, cfg.Transfer.HTTPTimeout,
		manifest.WithUserAgent("otahub/"+opts.Version))

	d.coord = coordinator.New(coordinator.Config{
		Device:             info.Codename,
		InstalledBuildTime: info.BuildTime,
		DownloadDir:        cfg.DownloadDir,
		VerifyChecksum:     cfg.VerifyChecksum,
	}, fetcher, st, engine)

	if _, err := d.coord.Restore(); err != nil {
		log.Warn("restoring paused transfer", "error", err)
	}

	d.sched = NewScheduler(d.coord.ScheduledCheck, 0)
	if err := d.sched.Reschedule(cfg.CheckSchedule); err != nil {
		d.closeCore()
		return nil, err
	}

	svc := NewService(d.coord, ServiceOptions{
		Device:         info.Codename,
		Version:        opts.Version,
		AndroidVersion: info.AndroidVersion,
		SecurityPatch:  info.SecurityPatch,
		OnShutdown:     d.Stop,
	})
	d.srv, err = NewServer(cfg.Daemon.SocketPath, svc)
	if err != nil {
		d.closeCore()
		return nil, fmt.Errorf("listening on %s: %w", cfg.Daemon.SocketPath, err)
	}

	if opts.Viper != nil {
		d.reloader = NewReloader(opts.Viper, d.sched)
	}
	return d, nil
}

// Device returns the detected device.
func (d *Daemon) Device() device.Info {
	return d.info
}

// Coordinator returns the daemon's coordinator.
func (d *Daemon) Coordinator() *coordinator.Coordinator {
	return d.coord
}

// Run serves until ctx is done, Stop is called, or a Shutdown request
// arrives, then shuts everything down. A running transfer is paused and
// journaled so the next start can resume it.
func (d *Daemon) Run(ctx context.Context) error {
	if d.reloader != nil {
		d.reloader.Watch()
	}
	d.sched.Start()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.srv.Serve()
	}()
	d.log.Info("otahubd serving", "socket", d.cfg.Daemon.SocketPath)

	var err error
	select {
	case <-ctx.Done():
		d.log.Info("shutting down", "reason", ctx.Err())
	case <-d.stop:
		d.log.Info("shutting down", "reason", "requested")
	case err = <-serveErr:
		if errors.Is(err, grpc.ErrServerStopped) {
			err = nil
		}
		if err != nil {
			d.log.Error("server failed", "error", err)
		}
	}

	d.sched.Stop()
	// Closing the coordinator ends WatchState streams so the graceful stop
	// does not wait on them.
	d.coord.Close()
	if cerr := d.srv.Close(); cerr != nil {
		d.log.Warn("closing server", "error", cerr)
	}
	if cerr := d.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Stop asks Run to return. It is safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Daemon) closeCore() {
	d.coord.Close()
	if err := d.store.Close(); err != nil {
		d.log.Warn("closing store", "error", err)
	}
}
