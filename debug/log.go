package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.Mutex
	file    *os.File
	enabled atomic.Bool // read without mu
	logger  = newLogger(io.Discard)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	return l
}

// Enable starts debug logging to ~/.config/go-syncstart/debug.log
func Enable() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	return EnableAt(filepath.Join(home, ".config", "go-syncstart", "debug.log"))
}

// EnableAt starts debug logging to path, truncating it.
func EnableAt(path string) error {
	mu.Lock()
	defer mu.Unlock()

	if enabled.Load() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}

	file = f
	enabled.Store(true)
	logger.SetOutput(f)
	logger.WithField("cat", "debug").Info("=== Debug logging started ===")
	return nil
}

// EnableWriter sends debug logging to w (tests, stderr).
func EnableWriter(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
	enabled.Store(true)
}

// SetLevel sets the minimum level ("debug", "info", "warn", ...).
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	mu.Lock()
	logger.SetLevel(lvl)
	mu.Unlock()
	return nil
}

// Disable stops debug logging
func Disable() {
	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		file.Close()
		file = nil
	}
	logger.SetOutput(io.Discard)
	enabled.Store(false)
}

// Enabled reports whether Log writes anywhere.
func Enabled() bool {
	return enabled.Load()
}

// Log writes a debug message under category
func Log(category, format string, args ...any) {
	if !enabled.Load() {
		return
	}
	logger.WithField("cat", category).Debug(fmt.Sprintf(format, args...))
}

// Warn logs at warning level regardless of category
func Warn(category, format string, args ...any) {
	if !enabled.Load() {
		return
	}
	logger.WithField("cat", category).Warn(fmt.Sprintf(format, args...))
}

type counterKey struct{ category, format string }

var (
	countersMu sync.Mutex
	counters   = make(map[counterKey]int)
)

// LogEvery logs only every N calls (use for high-frequency events).
// Calls are not counted while logging is disabled.
func LogEvery(n int, category, format string, args ...any) {
	if !enabled.Load() {
		return
	}
	if n <= 0 {
		n = 1
	}
	key := counterKey{category, format}
	countersMu.Lock()
	counters[key]++
	count := counters[key]
	countersMu.Unlock()

	if count%n == 0 {
		Log(category, format+" (every %d, count=%d)", append(args, n, count)...)
	}
}
