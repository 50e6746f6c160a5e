package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kingrea/ciweave/internal/config"
)

// Level represents the severity of a log line.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Logger writes timestamped lines to the console and, when opened with New,
// to .ciweave/logs/ciweave.log so a failed CI run can be inspected later.
// A nil *Logger discards everything, which lets core packages log
// unconditionally.
type Logger struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
	verbose bool
	quiet   bool
	now     func() time.Time
}

// Option customises a Logger during construction.
type Option func(*Logger)

// WithConsole mirrors log lines to w (usually os.Stderr).
func WithConsole(w io.Writer) Option {
	return func(l *Logger) {
		l.console = w
	}
}

// WithVerbosity toggles debug output and info suppression.
func WithVerbosity(verbose, quiet bool) Option {
	return func(l *Logger) {
		l.verbose = verbose
		l.quiet = quiet
	}
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) {
		l.now = clock
	}
}

// New creates (or reuses) the log file for the given project directory.
func New(projectDir string, opts ...Option) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.StateDirName, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, "ciweave.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	l := NewConsole(nil, opts...)
	l.file = f
	return l, nil
}

// NewConsole returns a logger without a backing file.
func NewConsole(w io.Writer, opts ...Option) *Logger {
	l := &Logger{console: w, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Debugf logs only when verbose output was requested.
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Printf writes a single info line.
func (l *Logger) Printf(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warnf writes a warning line.
func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Errorf writes an error line.
func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func (l *Logger) log(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		fmt.Fprintf(l.file, "[%s] %-5s %s\n", l.now().Format(time.RFC3339), level, line)
	}
	if l.console == nil || !l.shows(level) {
		return
	}
	fmt.Fprintf(l.console, "%s: %s\n", level, line)
}

func (l *Logger) shows(level Level) bool {
	switch level {
	case LevelDebug:
		return l.verbose
	case LevelInfo:
		return !l.quiet
	default:
		return true
	}
}
