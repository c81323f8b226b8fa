// Package logging provides component loggers shared by the otahub CLI and the
// otahubd daemon. Output goes to a rotating log file and, optionally, stderr.
//
// Basic usage:
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Close()
//
//	logger := logging.Get("transfer")
//	logger.Info("download started", "url", url)
//
// Loggers obtained with Get before Init are silent until Init runs, and they
// pick up new levels when SetLevels is called.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel mirrors entries at or above this level to stderr.
	// Empty disables console output.
	ConsoleLevel string
}

// Logger is a component-scoped logger. It is cheap to copy and safe for
// concurrent use.
type Logger struct {
	component string
	fields    []interface{}
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.log(LevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.log(LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.log(LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.log(LevelError, msg, args...)
}

// With returns a logger that prepends the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)
	return &Logger{component: l.component, fields: fields}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	sinks := globalState.sinksFor(l.component)
	if len(sinks) == 0 {
		return
	}

	kv := args
	if len(l.fields) > 0 {
		kv = make([]interface{}, 0, len(l.fields)+len(args))
		kv = append(kv, l.fields...)
		kv = append(kv, args...)
	}

	for _, sink := range sinks {
		switch level {
		case LevelDebug:
			sink.Debug(msg, kv...)
		case LevelInfo:
			sink.Info(msg, kv...)
		case LevelWarn:
			sink.Warn(msg, kv...)
		case LevelError:
			sink.Error(msg, kv...)
		}
	}
}

type state struct {
	mu          sync.RWMutex
	initialized bool
	writer      *RotatingWriter
	level       Level
	components  map[string]Level
	sinks       map[string][]*log.Logger

	consoleEnabled bool
	consoleLevel   Level
}

var globalState = &state{
	components: make(map[string]Level),
	sinks:      make(map[string][]*log.Logger),
}

// Init initializes the logging system. Calling it again replaces the previous
// configuration and closes the previous log file.
func Init(cfg Config) error {
	level, components, err := parseLevels(cfg.Level, cfg.Components)
	if err != nil {
		return err
	}

	var consoleLevel Level
	consoleEnabled := cfg.ConsoleLevel != ""
	if consoleEnabled {
		if consoleLevel, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
	}

	path := cfg.Path
	if path == "" {
		path = DefaultLogPath()
	}

	writer, err := NewRotatingWriter(path, cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if globalState.writer != nil {
		_ = globalState.writer.Close()
	}

	globalState.writer = writer
	globalState.level = level
	globalState.components = components
	globalState.consoleEnabled = consoleEnabled
	globalState.consoleLevel = consoleLevel
	globalState.sinks = make(map[string][]*log.Logger)
	globalState.initialized = true

	return nil
}

// SetLevels changes the default and per-component levels without reopening
// the log file. Existing loggers pick up the change on their next entry.
func SetLevels(level string, components map[string]string) error {
	parsed, comps, err := parseLevels(level, components)
	if err != nil {
		return err
	}

	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	globalState.level = parsed
	globalState.components = comps
	globalState.sinks = make(map[string][]*log.Logger)
	return nil
}

func parseLevels(level string, components map[string]string) (Level, map[string]Level, error) {
	parsed, err := ParseLevel(level)
	if err != nil {
		return LevelInfo, nil, fmt.Errorf("parsing log level: %w", err)
	}

	comps := make(map[string]Level, len(components))
	for comp, lvl := range components {
		l, err := ParseLevel(lvl)
		if err != nil {
			return LevelInfo, nil, fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		comps[comp] = l
	}
	return parsed, comps, nil
}

// Get returns a logger for the given component.
func Get(component string) *Logger {
	return &Logger{component: component}
}

// sinksFor returns the charm loggers for a component, building them on first use.
func (s *state) sinksFor(component string) []*log.Logger {
	s.mu.RLock()
	if !s.initialized {
		s.mu.RUnlock()
		return nil
	}
	if sinks, ok := s.sinks[component]; ok {
		s.mu.RUnlock()
		return sinks
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	if sinks, ok := s.sinks[component]; ok {
		return sinks
	}

	level := s.level
	if l, ok := s.components[component]; ok {
		level = l
	}

	sinks := []*log.Logger{
		log.NewWithOptions(s.writer, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
	}

	if s.consoleEnabled {
		// The stricter of the component level and the console level applies.
		consoleLevel := s.consoleLevel
		if level > consoleLevel {
			consoleLevel = level
		}
		sinks = append(sinks, log.NewWithOptions(os.Stderr, log.Options{
			Level:           consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		}))
	}

	s.sinks[component] = sinks
	return sinks
}

// Close flushes and closes the log file. Loggers become silent again.
func Close() error {
	globalState.mu.Lock()
	defer globalState.mu.Unlock()

	if !globalState.initialized {
		return nil
	}

	globalState.initialized = false
	globalState.sinks = make(map[string][]*log.Logger)

	if globalState.writer != nil {
		w := globalState.writer
		globalState.writer = nil
		if err := w.Close(); err != nil {
			return fmt.Errorf("closing log writer: %w", err)
		}
	}
	return nil
}

// DefaultLogPath returns $XDG_STATE_HOME/otahub/otahub.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "otahub", "otahub.log")
}
