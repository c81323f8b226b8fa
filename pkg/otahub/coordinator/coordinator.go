package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/otahub/pkg/daemon/broadcaster"
	"github.com/jamesainslie/otahub/pkg/daemon/store"
	"github.com/jamesainslie/otahub/pkg/otahub/diskspace"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

// Errors returned by Coordinator operations.
var (
	ErrBusy         = errors.New("a check or download is in progress")
	ErrNoUpdate     = errors.New("no update available")
	ErrUnknownFile  = errors.New("no such file in the last manifest")
	ErrInvalidEntry = errors.New("manifest entry has no url or filename")
	ErrDownloaded   = errors.New("update already downloaded")
)

// Fetcher retrieves the manifest entries for a device.
type Fetcher interface {
	Fetch(ctx context.Context, device string) ([]manifest.Entry, error)
}

// Store persists the last successful check and the paused-transfer journal.
type Store interface {
	LastCheck() (time.Time, bool, error)
	AdvanceLastCheck(t time.Time) (time.Time, error)
	SaveTransfer(rec store.Record) error
	LoadTransfer() (store.Record, bool, error)
	ClearTransfer() error
}

// Config holds the coordinator settings.
type Config struct {
	Device             string
	InstalledBuildTime time.Time
	DownloadDir        string
	VerifyChecksum     bool

	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator drives update checks and downloads. All methods are safe for
// concurrent use.
type Coordinator struct {
	cfg     Config
	fetcher Fetcher
	store   Store
	engine  *transfer.Engine
	log     *logging.Logger

	ui *broadcaster.Broadcaster[UiState]

	// mu guards the fields below and orders every UiState write. Transfer
	// statuses are applied in Seq order; a status older than the last one
	// applied is dropped.
	mu        sync.Mutex
	checking  bool
	entries   []manifest.Entry
	candidate manifest.Entry // newest entry from the last check
	active    manifest.Entry // entry of the current transfer
	applied   uint64
	seen      bool

	sub  *broadcaster.Subscriber[transfer.Status]
	done chan struct{}
}

// New creates a Coordinator and starts following engine status. Close stops
// it and shuts the engine down.
func New(cfg Config, fetcher Fetcher, st Store, engine *transfer.Engine) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Coordinator{
		cfg:     cfg,
		fetcher: fetcher,
		store:   st,
		engine:  engine,
		log:     logging.Get("coordinator"),
		ui:      broadcaster.New(UiState{Kind: NoUpdate, Total: -1}),
		done:    make(chan struct{}),
	}

	c.sub = engine.Subscribe()
	if c.sub == nil {
		close(c.done)
		return c
	}

	// Map the initial status before any check can publish.
	c.apply(<-c.sub.Updates)
	go c.loop()
	return c
}

// State returns the current UiState.
func (c *Coordinator) State() UiState {
	return c.ui.Current()
}

// Subscribe returns a subscription that immediately holds the current state.
func (c *Coordinator) Subscribe() *broadcaster.Subscriber[UiState] {
	return c.ui.Subscribe()
}

// Unsubscribe ends a subscription.
func (c *Coordinator) Unsubscribe(id string) {
	c.ui.Unsubscribe(id)
}

// TransferStatus returns the raw engine status.
func (c *Coordinator) TransferStatus() transfer.Status {
	return c.engine.Current()
}

// LastCheck returns the last successful check time.
func (c *Coordinator) LastCheck() (time.Time, bool, error) {
	return c.store.LastCheck()
}

// CheckForUpdate fetches the manifest and publishes UpdateAvailable or
// NoUpdate. A successful fetch advances the last check time. It returns
// ErrBusy while a transfer is in flight or paused, so the check cannot
// replace the download state.
func (c *Coordinator) CheckForUpdate(ctx context.Context) error {
	c.mu.Lock()
	err := c.beginCheckLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.runCheck(ctx)
}

// ScheduledCheck is CheckForUpdate for background callers. It returns
// ErrDownloaded without fetching while the update found by the last check
// sits downloaded and verified, so the Downloaded state and its file path
// stay visible.
func (c *Coordinator) ScheduledCheck(ctx context.Context) error {
	c.mu.Lock()
	if c.downloadedLocked() {
		c.mu.Unlock()
		return ErrDownloaded
	}
	err := c.beginCheckLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.runCheck(ctx)
}

func (c *Coordinator) downloadedLocked() bool {
	c.syncLocked()
	if c.engine.Current().State != transfer.Completed || c.ui.Current().Kind != Downloaded {
		return false
	}
	return c.candidate.IsZero() || c.candidate.Key() == c.active.Key()
}

// beginCheckLocked catches up with the engine, so a transfer status that is
// still queued cannot land on top of the check, and publishes Checking.
func (c *Coordinator) beginCheckLocked() error {
	c.syncLocked()
	if c.checking || c.engine.Current().Busy() {
		return ErrBusy
	}
	c.checking = true
	c.ui.Publish(UiState{Kind: Checking, Total: -1})
	return nil
}

func (c *Coordinator) runCheck(ctx context.Context) error {
	c.log.Info("checking for update", "device", c.cfg.Device)
	entries, err := c.fetcher.Fetch(ctx, c.cfg.Device)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.checking = false
	c.syncLocked()

	if err != nil {
		c.log.Warn("update check failed", "error", err)
		c.ui.Publish(UiState{Kind: Error, Total: -1, Message: "failed to fetch update: " + err.Error()})
		return fmt.Errorf("checking for update: %w", err)
	}

	if _, err := c.store.AdvanceLastCheck(c.cfg.Now()); err != nil {
		c.log.Warn("recording last check", "error", err)
	}

	latest, ok := manifest.SelectLatest(entries, c.cfg.InstalledBuildTime)
	c.entries = entries
	if !ok {
		c.candidate = manifest.Entry{}
		c.log.Info("no update available", "entries", len(entries))
		c.ui.Publish(UiState{Kind: NoUpdate, Total: -1})
		return nil
	}

	c.candidate = latest
	c.log.Info("update available", "filename", latest.Filename, "version", latest.Version)
	c.ui.Publish(UiState{Kind: UpdateAvailable, Entry: entryRef(latest), Total: int64(latest.Size)})
	return nil
}

// Candidate returns the entry found by the last check, if any.
func (c *Coordinator) Candidate() (manifest.Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.candidate, !c.candidate.IsZero()
}

// StartAvailable downloads the entry found by the last check.
func (c *Coordinator) StartAvailable() error {
	entry, ok := c.Candidate()
	if !ok {
		return ErrNoUpdate
	}
	return c.StartDownload(entry)
}

// StartFile downloads the entry with the given filename from the last check.
func (c *Coordinator) StartFile(filename string) error {
	c.mu.Lock()
	entry, ok := manifest.Find(c.entries, filename)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownFile, filename)
	}
	return c.StartDownload(entry)
}

// StartDownload downloads entry into the download directory under the base
// name of its filename. A file already there continues from its length; one
// that already holds entry.Size bytes completes without a request.
func (c *Coordinator) StartDownload(entry manifest.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.syncLocked()

	if c.checking {
		return ErrBusy
	}
	if c.engine.Current().Busy() {
		return transfer.ErrTransferActive
	}

	name := filepath.Base(entry.Filename)
	if entry.URL == "" || entry.Filename == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return ErrInvalidEntry
	}
	dest := filepath.Join(c.cfg.DownloadDir, name)

	size := int64(entry.Size)
	var have int64
	if info, err := os.Stat(dest); err == nil {
		have = info.Size()
	}
	if size > 0 && have > size {
		c.log.Warn("discarding oversized file", "path", dest, "bytes", have, "want", size)
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", dest, err)
		}
		have = 0
	}

	id := uuid.NewString()
	prev := c.active
	c.active = entry

	if size > 0 && have == size {
		if err := c.engine.Adopt(id, entry.URL, dest); err != nil {
			c.active = prev
			return err
		}
		return nil
	}

	if err := diskspace.Check(c.cfg.DownloadDir, size-have); err != nil {
		c.active = prev
		c.log.Warn("disk preflight failed", "error", err)
		c.ui.Publish(UiState{Kind: Error, Entry: entryRef(entry), Total: -1, Message: err.Error()})
		return err
	}

	c.log.Info("starting download", "id", id, "filename", name, "url", entry.URL)
	if err := c.engine.Start(id, entry.URL, dest); err != nil {
		c.active = prev
		return err
	}
	return nil
}

// Pause pauses the current transfer. The returned state reflects it.
func (c *Coordinator) Pause() error {
	return c.control(c.engine.Pause)
}

// Resume resumes a paused transfer.
func (c *Coordinator) Resume() error {
	return c.control(c.engine.Resume)
}

// Cancel cancels the current transfer and deletes its file.
func (c *Coordinator) Cancel() error {
	return c.control(c.engine.Cancel)
}

// control runs an engine control method and maps the status it left behind
// before returning.
func (c *Coordinator) control(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := fn()
	c.syncLocked()
	return err
}

// Restore brings back a transfer journaled as paused before a restart.
// Records whose partial file is gone are dropped. It reports whether a
// transfer was restored.
func (c *Coordinator) Restore() (bool, error) {
	rec, ok, err := c.store.LoadTransfer()
	if err != nil || !ok {
		return false, err
	}

	if _, err := os.Stat(rec.Path); err != nil {
		c.log.Warn("dropping stale transfer record", "id", rec.ID, "path", rec.Path)
		return false, c.store.ClearTransfer()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.active
	c.active = rec.Entry
	if err := c.engine.Restore(rec.ID, rec.URL, rec.Path); err != nil {
		c.active = prev
		return false, fmt.Errorf("restoring transfer %s: %w", rec.ID, err)
	}
	c.syncLocked()
	c.log.Info("restored paused transfer", "id", rec.ID, "path", rec.Path)
	return true, nil
}

// Close shuts the engine down, pausing any in-flight transfer, waits for the
// final status to be handled, and closes state subscriptions.
func (c *Coordinator) Close() {
	c.engine.Shutdown()
	<-c.done
	c.ui.Close()
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for st := range c.sub.Updates {
		c.apply(st)
	}
}

func (c *Coordinator) apply(st transfer.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyLocked(st)
}

// syncLocked applies the engine's current status.
func (c *Coordinator) syncLocked() {
	c.applyLocked(c.engine.Current())
}

// applyLocked maps one transfer status to a UiState and keeps the journal in
// step with it.
func (c *Coordinator) applyLocked(st transfer.Status) {
	if c.seen && st.Seq <= c.applied {
		return
	}
	c.seen = true
	c.applied = st.Seq

	entry := c.active

	switch st.State {
	case transfer.Idle:
		c.ui.Publish(UiState{Kind: NoUpdate, Total: -1})

	case transfer.Preparing:
		c.ui.Publish(UiState{Kind: Preparing, Entry: entryRef(entry), Progress: transfer.ProgressIndeterminate, Total: -1})

	case transfer.Downloading:
		c.ui.Publish(UiState{
			Kind:       Downloading,
			Entry:      entryRef(entry),
			Progress:   st.Progress,
			Downloaded: st.Downloaded,
			Total:      st.Total,
		})

	case transfer.Paused:
		rec := store.Record{ID: st.ID, URL: st.URL, Path: st.Path, Entry: entry}
		if err := c.store.SaveTransfer(rec); err != nil {
			c.log.Warn("journaling paused transfer", "id", st.ID, "error", err)
		}
		c.ui.Publish(UiState{
			Kind:       Paused,
			Entry:      entryRef(entry),
			Progress:   st.Progress,
			Downloaded: st.Downloaded,
			Total:      st.Total,
			FilePath:   st.Path,
		})

	case transfer.Completed:
		c.clearJournal()
		if c.cfg.VerifyChecksum {
			if err := manifest.VerifyFile(st.Path, entry.RecoverySHA256); err != nil {
				c.log.Error("verification failed", "path", st.Path, "error", err)
				if errors.Is(err, manifest.ErrChecksumMismatch) {
					_ = os.Remove(st.Path)
				}
				c.ui.Publish(UiState{Kind: Error, Entry: entryRef(entry), Total: -1, Message: err.Error()})
				return
			}
		}
		c.ui.Publish(UiState{
			Kind:       Downloaded,
			Entry:      entryRef(entry),
			Progress:   100,
			Downloaded: st.Downloaded,
			Total:      st.Total,
			FilePath:   st.Path,
		})

	case transfer.Failed:
		c.clearJournal()
		c.ui.Publish(UiState{Kind: Error, Entry: entryRef(entry), Total: -1, Message: st.Reason})

	case transfer.Cancelled:
		c.clearJournal()
		c.ui.Publish(UiState{Kind: Cancelled, Entry: entryRef(entry), Total: -1})
	}
}

func (c *Coordinator) clearJournal() {
	if err := c.store.ClearTransfer(); err != nil {
		c.log.Warn("clearing transfer journal", "error", err)
	}
}
