// Package output renders the update state for the otahub CLI in several
// formats (pretty, plain, json, jsonl, yaml, template).
//
// Formatters are looked up by name from a registry:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, view); err != nil {
//	    return err
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/otahub/pkg/otahub/coordinator"
	"github.com/jamesainslie/otahub/pkg/otahub/manifest"
	"github.com/jamesainslie/otahub/pkg/otahub/transfer"
)

// View is everything a formatter can show.
type View struct {
	State    coordinator.UiState
	Transfer transfer.Status

	// LastCheck is meaningful only when Checked is set.
	LastCheck time.Time
	Checked   bool

	Device   string
	DaemonUp bool

	// Installed system, when known.
	AndroidVersion string
	SecurityPatch  string

	// Now is the reference time for relative output. Zero means time.Now.
	Now time.Time
}

func (v *View) now() time.Time {
	if v.Now.IsZero() {
		return time.Now()
	}
	return v.Now
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted view to the buffer.
	Format(w *bytes.Buffer, v *View) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory, replacing any with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}

// FormatLastCheck renders the last successful check: "never", the clock
// time when it happened on the same local day as now, or date and time.
func FormatLastCheck(t time.Time, checked bool, now time.Time) string {
	if !checked {
		return "never"
	}
	t = t.Local()
	now = now.Local()
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return t.Format("3:04 PM")
	}
	return t.Format("Jan 2, 2006 3:04 PM")
}

// patchLayouts are the security patch spellings seen in build.prop and
// manifests.
var patchLayouts = []string{"2006-01-02", "20060102"}

// FormatSecurityPatch renders a security patch level such as "2024-03-05"
// as "March 05, 2024". Anything else is returned unchanged.
func FormatSecurityPatch(patch string) string {
	for _, layout := range patchLayouts {
		if t, err := time.Parse(layout, patch); err == nil {
			return t.Format("January 02, 2006")
		}
	}
	return patch
}

// RelativeLastCheck renders the age of the last check, e.g. "5 minutes ago".
func RelativeLastCheck(t time.Time, checked bool, now time.Time) string {
	if !checked {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// ProgressString renders bytes done against the total, with the percent
// when it is known.
func ProgressString(progress int, done, total int64) string {
	if total <= 0 || progress == transfer.ProgressIndeterminate {
		return manifest.FormatSize(done) + " downloaded"
	}
	return fmt.Sprintf("%d%% (%s / %s)", progress, manifest.FormatSize(done), manifest.FormatSize(total))
}

// Summary renders a state as a single line, for streaming output.
func Summary(s coordinator.UiState) string {
	name, size := "", "unknown size"
	if s.Entry != nil {
		name, size = s.Entry.Filename, s.Entry.SizeString()
	}

	switch s.Kind {
	case coordinator.Checking:
		return "checking for update"
	case coordinator.UpdateAvailable:
		return fmt.Sprintf("update available: %s (%s)", name, size)
	case coordinator.Preparing:
		return "preparing " + name
	case coordinator.Downloading:
		return fmt.Sprintf("downloading %s: %s", name, ProgressString(s.Progress, s.Downloaded, s.Total))
	case coordinator.Paused:
		return fmt.Sprintf("paused %s: %s", name, ProgressString(s.Progress, s.Downloaded, s.Total))
	case coordinator.Downloaded:
		return "downloaded " + s.FilePath
	case coordinator.Cancelled:
		return "download cancelled"
	case coordinator.Error:
		return "error: " + s.Message
	default:
		return "no update available"
	}
}
