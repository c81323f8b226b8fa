package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/otahub/pkg/daemon/broadcaster"
	"github.com/jamesainslie/otahub/pkg/otahub/logging"
)

// Defaults for Options.
const (
	DefaultChunkSize        = 8 * 1024
	DefaultProgressInterval = 500 * time.Millisecond
)

// Options configures an Engine. Zero values select defaults.
type Options struct {
	ChunkSize        int
	ProgressInterval time.Duration
	HTTPClient       *http.Client
	Logger           *logging.Logger
}

// Engine runs at most one transfer at a time. Control methods are safe for
// concurrent use; while a transfer runs, its goroutine is the only publisher
// of status.
type Engine struct {
	chunkSize int
	interval  time.Duration
	client    *http.Client
	log       *logging.Logger

	status *broadcaster.Broadcaster[Status]
	seq    atomic.Uint64

	// mu serializes control methods. The download goroutine never takes it.
	mu  sync.Mutex
	job *job
}

type job struct {
	id     string
	url    string
	path   string
	cancel context.CancelCauseFunc
	done   chan struct{}
}

func (j *job) running() bool {
	if j == nil {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// New creates an idle Engine.
func New(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.HTTPClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.ResponseHeaderTimeout = 30 * time.Second
		opts.HTTPClient = &http.Client{Transport: transport}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Get("transfer")
	}

	return &Engine{
		chunkSize: opts.ChunkSize,
		interval:  opts.ProgressInterval,
		client:    opts.HTTPClient,
		log:       opts.Logger,
		status:    broadcaster.New(Status{State: Idle, Total: -1}),
	}
}

// Current returns the latest status.
func (e *Engine) Current() Status {
	return e.status.Current()
}

// Subscribe returns a subscription that immediately holds the current status.
// It returns nil after Shutdown.
func (e *Engine) Subscribe() *broadcaster.Subscriber[Status] {
	return e.status.Subscribe()
}

// Unsubscribe ends a subscription.
func (e *Engine) Unsubscribe(id string) {
	e.status.Unsubscribe(id)
}

// publish stamps st with the next sequence number and broadcasts it.
// Publishers never overlap: control methods publish only while no download
// goroutine runs.
func (e *Engine) publish(st Status) {
	st.Seq = e.seq.Add(1)
	e.status.Publish(st)
}

// Start downloads url to dest under the transfer id. If dest already holds a
// partial file, the download continues from its length. Start returns
// ErrTransferActive, changing nothing, while another transfer is in flight or
// paused.
func (e *Engine) Start(id, url, dest string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.running() || e.status.Current().State == Paused {
		return ErrTransferActive
	}
	return e.startLocked(id, url, dest)
}

func (e *Engine) startLocked(id, url, dest string) error {
	if id == "" || url == "" || dest == "" {
		return errors.New("transfer id, url, and destination are required")
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	j := &job{
		id:     id,
		url:    url,
		path:   dest,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.job = j

	e.publish(Status{
		State:    Preparing,
		ID:       id,
		Progress: ProgressIndeterminate,
		Total:    -1,
		URL:      url,
		Path:     dest,
	})

	go e.run(ctx, j)
	return nil
}

// Pause stops the in-flight transfer and keeps the partial file. It returns
// once the download goroutine has exited. If the body finished before the
// pause took effect the transfer ends Completed instead.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j := e.job
	if !j.running() {
		return ErrNoTransfer
	}

	j.cancel(errPaused)
	<-j.done
	return nil
}

// Resume continues a paused transfer from the length of its partial file.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.running() {
		return ErrTransferActive
	}

	cur := e.status.Current()
	if cur.State != Paused {
		return ErrNotPaused
	}

	e.log.Info("resuming transfer", "id", cur.ID, "path", cur.Path)
	return e.startLocked(cur.ID, cur.URL, cur.Path)
}

// Cancel stops the transfer and deletes its file. It applies to a transfer
// that is in flight, paused, or completed.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if j := e.job; j.running() {
		j.cancel(errCancelled)
		<-j.done

		// The body may have finished before the cancel was observed.
		if cur := e.status.Current(); cur.State == Completed {
			e.discard(cur.ID, cur.Path)
		}
		e.job = nil
		return nil
	}

	cur := e.status.Current()
	switch cur.State {
	case Paused, Completed:
		e.discard(cur.ID, cur.Path)
		e.job = nil
		return nil
	default:
		return ErrNoTransfer
	}
}

// discard deletes path and publishes Cancelled.
func (e *Engine) discard(id, path string) {
	e.removeFile(path)
	e.log.Info("transfer cancelled", "id", id)
	e.publish(Status{State: Cancelled, ID: id, Total: -1})
}

// Restore publishes Paused for a transfer recorded before a restart, so it
// can be resumed or cancelled. Only valid while Idle.
func (e *Engine) Restore(id, url, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.status.Current()
	if e.job.running() || cur.State != Idle {
		return ErrTransferActive
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("partial file: %w", err)
	}

	e.publish(Status{
		State:      Paused,
		ID:         id,
		Progress:   ProgressIndeterminate,
		Downloaded: info.Size(),
		Total:      -1,
		URL:        url,
		Path:       path,
	})
	return nil
}

// Adopt publishes Completed for a file at path that is already fully
// downloaded, without making a request. Only valid while no transfer is in
// flight or paused.
func (e *Engine) Adopt(id, url, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.running() || e.status.Current().State == Paused {
		return ErrTransferActive
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("downloaded file: %w", err)
	}

	e.job = nil
	e.log.Info("file already downloaded", "id", id, "path", path, "bytes", info.Size())
	e.publish(Status{
		State:      Completed,
		ID:         id,
		Progress:   100,
		Downloaded: info.Size(),
		Total:      info.Size(),
		URL:        url,
		Path:       path,
	})
	return nil
}

// Shutdown pauses any in-flight transfer and closes all subscriptions.
// Subscribers still receive the final status before their channel closes.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if j := e.job; j.running() {
		j.cancel(errPaused)
		<-j.done
	}
	e.status.Close()
}

func (e *Engine) run(ctx context.Context, j *job) {
	defer close(j.done)
	defer j.cancel(nil)

	log := e.log.With("id", j.id)
	done, total, err := e.download(ctx, j, log)
	cause := context.Cause(ctx)

	switch {
	case errors.Is(cause, errCancelled):
		e.removeFile(j.path)
		log.Info("transfer cancelled", "downloaded", done)
		e.publish(Status{State: Cancelled, ID: j.id, Total: -1})

	case err == nil:
		if total < 0 {
			total = done
		}
		log.Info("transfer completed", "path", j.path, "bytes", done)
		e.publish(Status{
			State:      Completed,
			ID:         j.id,
			Progress:   100,
			Downloaded: done,
			Total:      total,
			URL:        j.url,
			Path:       j.path,
		})

	case errors.Is(cause, errPaused):
		log.Info("transfer paused", "downloaded", done)
		e.publish(Status{
			State:      Paused,
			ID:         j.id,
			Progress:   percent(done, total),
			Downloaded: done,
			Total:      total,
			URL:        j.url,
			Path:       j.path,
		})

	default:
		e.removeFile(j.path)
		log.Error("transfer failed", "error", err)
		e.publish(Status{State: Failed, ID: j.id, Total: -1, Reason: err.Error()})
	}
}

// download streams the response into j.path. It returns the bytes on disk
// and the expected total (-1 if unknown).
func (e *Engine) download(ctx context.Context, j *job, log *logging.Logger) (int64, int64, error) {
	var offset int64
	if info, err := os.Stat(j.path); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return offset, -1, networkErr("creating request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	log.Info("requesting", "url", j.url, "offset", offset)

	resp, err := e.client.Do(req)
	if err != nil {
		return offset, -1, networkErr("requesting %s: %w", j.url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, err := contentRangeStart(resp.Header.Get("Content-Range"))
		if err != nil {
			return offset, -1, networkErr("resuming at byte %d: %w", offset, err)
		}
		if start != offset {
			return offset, -1, networkErr("server resumed at byte %d, want %d", start, offset)
		}
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The partial file may already hold every byte.
		if size, ok := unsatisfiedRangeSize(resp.Header.Get("Content-Range")); ok && size == offset {
			log.Info("partial file already complete", "bytes", offset)
			return offset, offset, nil
		}
		return offset, -1, networkErr("unexpected HTTP status %d", resp.StatusCode)
	case resp.StatusCode >= 200 && resp.StatusCode <= 299:
		if offset > 0 {
			log.Warn("server ignored range request, restarting from zero")
			offset = 0
		}
	default:
		return offset, -1, networkErr("unexpected HTTP status %d", resp.StatusCode)
	}

	total := int64(-1)
	if resp.ContentLength >= 0 {
		total = offset + resp.ContentLength
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return offset, total, ioErr("creating download directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(j.path, flags, 0o644)
	if err != nil {
		return offset, total, ioErr("opening %s: %w", j.path, err)
	}

	done, err := e.copy(ctx, j, f, resp.Body, offset, total)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = ioErr("closing %s: %w", j.path, cerr)
	}
	return done, total, err
}

// copy moves the body to f one chunk at a time, reporting progress.
func (e *Engine) copy(ctx context.Context, j *job, f *os.File, body io.Reader, done, total int64) (int64, error) {
	th := newThrottle(e.interval)
	report := func() {
		pct := percent(done, total)
		if !th.due(pct, time.Now()) {
			return
		}
		e.publish(Status{
			State:      Downloading,
			ID:         j.id,
			Progress:   pct,
			Downloaded: done,
			Total:      total,
			URL:        j.url,
			Path:       j.path,
		})
	}
	report()

	buf := make([]byte, e.chunkSize)
	for {
		if ctx.Err() != nil {
			return done, context.Cause(ctx)
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return done, ioErr("writing %s: %w", j.path, err)
			}
			done += int64(n)
			report()
		}

		if rerr == io.EOF {
			if err := f.Sync(); err != nil {
				return done, ioErr("syncing %s: %w", j.path, err)
			}
			return done, nil
		}
		if rerr != nil {
			if ctx.Err() != nil {
				return done, context.Cause(ctx)
			}
			return done, networkErr("reading body: %w", rerr)
		}
	}
}

func (e *Engine) removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.log.Warn("removing partial file", "path", path, "error", err)
	}
}

// contentRangeStart returns the first byte position of a Content-Range value
// of the form "bytes <first>-<last>/<size>".
func contentRangeStart(v string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	first, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(first), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", v)
	}
	return n, nil
}

// unsatisfiedRangeSize parses the "bytes */<size>" Content-Range sent with a
// 416 response.
func unsatisfiedRangeSize(v string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes */")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
