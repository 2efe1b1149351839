// Package logging provides categorized file-based debug logging for botmind.
// Logs are written to .botmind/logs/ with separate files per category.
// Logging is a no-op unless debug mode is enabled via Configure.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup/initialization
	CategoryStore    Category = "store"    // Task store mutations
	CategoryIngest   Category = "ingest"   // Ingestion pipeline
	CategoryStatus   Category = "status"   // Status machine transitions
	CategoryGoalSync Category = "goalsync" // Goal binding coordination
	CategoryVerify   Category = "verify"   // Step verification
	CategoryReplan   Category = "replan"   // Replan scheduling
	CategoryDedupe   Category = "dedupe"   // Dedup registries
	CategoryBot      Category = "bot"      // Bot state client
	CategoryThought  Category = "thought"  // Thought stream conversion
	CategoryHTTP     Category = "http"     // HTTP API
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Logger writes to a single category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	mu         sync.RWMutex
	loggers    = map[Category]*Logger{}
	logsDir    string
	debugMode  bool
	categories map[string]bool
	logLevel   = LevelInfo
)

// Configure sets up the logging directory and gates. Called once at startup
// with values from the loaded config; safe to call again on config reload.
func Configure(workspace string, debug bool, level string, enabled map[string]bool) error {
	mu.Lock()
	debugMode = debug
	categories = enabled
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	mu.Unlock()

	if !debug {
		return nil
	}
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	dir := filepath.Join(workspace, ".botmind", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	mu.Lock()
	logsDir = dir
	mu.Unlock()

	boot := Get(CategoryBoot)
	boot.Info("=== botmind logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugMode
}

func categoryEnabled(c Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !debugMode {
		return false
	}
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(c)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category. A no-op logger is
// returned when the category or debug mode is disabled.
func Get(c Category) *Logger {
	if !categoryEnabled(c) {
		return &Logger{category: c}
	}

	mu.RLock()
	l, ok := loggers[c]
	dir := logsDir
	mu.RUnlock()
	if ok {
		return l
	}
	if dir == "" {
		return &Logger{category: c}
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}
	name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), c)
	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file: %v\n", err)
		return &Logger{category: c}
	}
	l = &Logger{
		category: c,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[c] = l
	return l
}

// Close flushes and closes all open log files.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for c, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, c)
	}
}

func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] "+format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] "+format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] "+format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] "+format, args...)
}
