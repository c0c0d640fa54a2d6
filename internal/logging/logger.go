// Package logging provides category-based logging for cadence.
// Each category writes to its own file under <dir>/logs/, so a noisy
// subsystem never drowns out another. Before Initialize is called every
// logger is a no-op, which keeps library-style use (tests, embedding)
// silent by default.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot        Category = "boot"
	CategoryCoordinator Category = "coordinator"
	CategorySession     Category = "session"
	CategoryRouting     Category = "routing"
	CategoryTask        Category = "task"
	CategoryLedger      Category = "ledger"
	CategoryConfig      Category = "config"
	CategoryClassify    Category = "classify"
)

// allCategories is the set Initialize opens files for. Get on anything else
// returns the no-op logger.
var allCategories = []Category{
	CategoryBoot,
	CategoryCoordinator,
	CategorySession,
	CategoryRouting,
	CategoryTask,
	CategoryLedger,
	CategoryConfig,
	CategoryClassify,
}

// Logger wraps one category's zap logger. The zero value is a safe no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu        sync.RWMutex
	loggers   = map[Category]*Logger{}
	debugMode bool
	nopLogger = &Logger{}
)

// Initialize opens per-category log files under dir/logs and replaces the
// no-op loggers. Safe to call more than once; later calls reconfigure.
func Initialize(dir string) error {
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	encoder := zapcore.NewJSONEncoder(encCfg)

	level := zapcore.InfoLevel
	if debugEnv := os.Getenv("CADENCE_DEBUG"); debugEnv == "1" || strings.EqualFold(debugEnv, "true") {
		level = zapcore.DebugLevel
	}

	mu.Lock()
	defer mu.Unlock()
	debugMode = level == zapcore.DebugLevel

	for _, cat := range allCategories {
		path := filepath.Join(logDir, string(cat)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", path, err)
		}
		core := zapcore.NewCore(encoder, zapcore.AddSync(f), level)
		loggers[cat] = &Logger{
			category: cat,
			sugar:    zap.New(core).Sugar().Named(string(cat)),
		}
	}
	return nil
}

// IsDebugMode reports whether debug-level lines are being written.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugMode
}

// Get returns the logger for a category, or a no-op logger when logging has
// not been initialized or the category is unknown.
func Get(category Category) *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	return nopLogger
}

// CloseAll flushes and detaches every category logger.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for cat, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		delete(loggers, cat)
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key/value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l == nil || l.sugar == nil {
		return nopLogger
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Timer measures one operation and logs its duration on Stop.
type Timer struct {
	logger    *Logger
	operation string
	start     time.Time
}

// StartTimer begins timing an operation in a category.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{logger: Get(category), operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level.
func (t *Timer) Stop() {
	t.logger.Debug("%s took %s", t.operation, time.Since(t.start))
}

// StopWithThreshold logs at warn level when the operation exceeded the
// threshold, debug otherwise.
func (t *Timer) StopWithThreshold(threshold time.Duration) {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn("%s took %s (threshold %s)", t.operation, elapsed, threshold)
		return
	}
	t.logger.Debug("%s took %s", t.operation, elapsed)
}

// Convenience functions, one pair per category.

func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

func Coordinator(format string, args ...interface{}) {
	Get(CategoryCoordinator).Info(format, args...)
}

func CoordinatorDebug(format string, args ...interface{}) {
	Get(CategoryCoordinator).Debug(format, args...)
}

func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }

func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

func SessionError(format string, args ...interface{}) {
	Get(CategorySession).Error(format, args...)
}

func Routing(format string, args ...interface{}) { Get(CategoryRouting).Info(format, args...) }

func RoutingDebug(format string, args ...interface{}) {
	Get(CategoryRouting).Debug(format, args...)
}

func Task(format string, args ...interface{}) { Get(CategoryTask).Info(format, args...) }

func TaskDebug(format string, args ...interface{}) { Get(CategoryTask).Debug(format, args...) }

func Ledger(format string, args ...interface{}) { Get(CategoryLedger).Info(format, args...) }
