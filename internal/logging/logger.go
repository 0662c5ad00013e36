// Package logging provides categorized structured logging for cothread.
// Each subsystem gets a named zap logger; logging is a no-op until
// Initialize is called, so library use stays silent by default.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot   Category = "boot"   // Startup and configuration
	CategoryThread Category = "thread" // Document and message operations
	CategorySync   Category = "sync"   // Operation replication
	CategoryParse  Category = "parse"  // Slash-command and patch parsing
	CategoryCache  Category = "cache"  // Cache-anchor policy
	CategoryStore  Category = "store"  // Persistence
)

// Logger is a category-scoped logger with printf-style methods. Loggers
// obtained before Initialize pick up the real backend once it is installed.
type Logger struct {
	category Category
}

var (
	mu     sync.Mutex
	base   = zap.NewNop()
	level  = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	sugars = make(map[Category]*zap.SugaredLogger)
)

// Initialize installs a real logger. With verbose set, debug output is
// enabled.
func Initialize(verbose bool) error {
	mu.Lock()
	defer mu.Unlock()

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	if verbose {
		level.SetLevel(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	base = logger
	sugars = make(map[Category]*zap.SugaredLogger)
	return nil
}

// SetLevel changes the minimum level, e.g. "debug", "info", "warn", "error".
func SetLevel(name string) error {
	parsed, err := zapcore.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", name, err)
	}
	level.SetLevel(parsed)
	return nil
}

// Get returns the logger for a category.
func Get(category Category) *Logger {
	return &Logger{category: category}
}

// Sync flushes buffered log entries.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	_ = base.Sync()
}

func (l *Logger) sugar() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if s, ok := sugars[l.category]; ok {
		return s
	}
	s := base.Named(string(l.category)).Sugar()
	sugars[l.category] = s
	return s
}

func (l *Logger) Debug(format string, args ...any) { l.sugar().Debugf(format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.sugar().Infof(format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.sugar().Warnf(format, args...) }
func (l *Logger) Error(format string, args ...any) { l.sugar().Errorf(format, args...) }
