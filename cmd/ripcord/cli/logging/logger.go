// Package logging provides structured logging for the Ripcord CLI using slog.
//
// Usage:
//
//	// Initialize logger for a task (typically at task start)
//	if err := logging.Init(taskID); err != nil {
//	    // handle error
//	}
//	defer logging.Close()
//
//	// Add context values
//	ctx = logging.WithTask(ctx, taskID)
//	ctx = logging.WithComponent(ctx, "store")
//
//	// Log with context - task/component extracted automatically
//	logging.Info(ctx, "checkpoint saved",
//	    slog.String("checkpoint", hash),
//	    slog.Int("files", fileCount),
//	)
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"
)

// LogLevelEnvVar is the environment variable that controls log level.
const LogLevelEnvVar = "RIPCORD_LOG_LEVEL"

// LogsDir is the directory where log files are stored (relative to the workspace root).
const LogsDir = ".ripcord/logs"

var (
	// logger is the package-level logger instance
	logger *slog.Logger

	// logFile holds the current log file handle for cleanup
	logFile *os.File

	// logBufWriter wraps logFile with buffered I/O for performance
	logBufWriter *bufio.Writer

	// logRotator is set instead of logFile when rotation is enabled
	logRotator *lumberjack.Logger

	// currentTaskID stores the task ID from Init() to include in all logs
	currentTaskID string

	// mu protects logger, logFile, logBufWriter, logRotator, and currentTaskID
	mu sync.RWMutex

	// logLevelGetter is an optional callback to get log level from settings.
	// Set by SetLogLevelGetter before Init is called.
	logLevelGetter func() string
)

// SetLogLevelGetter sets a callback function to get the log level from settings.
// This allows the logging package to read settings without a circular dependency.
// The callback is only used if RIPCORD_LOG_LEVEL env var is not set.
func SetLogLevelGetter(getter func() string) {
	mu.Lock()
	defer mu.Unlock()
	logLevelGetter = getter
}

// Init initializes the logger for a task, writing JSON logs to
// .ripcord/logs/<task-id>.log.
//
// If the log file cannot be created, falls back to stderr.
// Log level is controlled by RIPCORD_LOG_LEVEL environment variable.
func Init(taskID string) error {
	// Validate task ID to prevent path traversal attacks
	if err := validation.ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("invalid task ID for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	closeOutputsLocked()

	level, levelStr := resolveLevelLocked()
	if levelStr != "" && !isValidLogLevel(levelStr) {
		fmt.Fprintf(os.Stderr, "[ripcord] Warning: invalid log level %q, defaulting to INFO\n", levelStr)
	}

	logsPath, err := logsDirPath()
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil
	}

	logFilePath := filepath.Join(logsPath, taskID+".log")
	f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // taskID validated above
	if err != nil {
		// Fall back to stderr
		logger = createLogger(os.Stderr, level)
		return nil
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192) // 8KB buffer for batched writes
	logger = createLogger(logBufWriter, level)
	currentTaskID = taskID

	return nil
}

// InitRotating initializes the logger for a long-running process (watch or
// serve mode), writing JSON logs to .ripcord/logs/<task-id>.log with size-based
// rotation. Unlike Init, the output is rotated so a multi-day agent session
// cannot fill the disk.
func InitRotating(taskID string) error {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("invalid task ID for logging: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()

	closeOutputsLocked()

	level, levelStr := resolveLevelLocked()
	if levelStr != "" && !isValidLogLevel(levelStr) {
		fmt.Fprintf(os.Stderr, "[ripcord] Warning: invalid log level %q, defaulting to INFO\n", levelStr)
	}

	logsPath, err := logsDirPath()
	if err != nil {
		logger = createLogger(os.Stderr, level)
		return nil
	}

	logRotator = &lumberjack.Logger{
		Filename:   filepath.Join(logsPath, taskID+".log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
	}
	logger = createLogger(logRotator, level)
	currentTaskID = taskID

	return nil
}

// Close closes the log output if one is open.
// Flushes any buffered data before closing.
// Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()

	closeOutputsLocked()
	currentTaskID = ""
}

// closeOutputsLocked flushes and closes any open log outputs. Callers must hold mu.
func closeOutputsLocked() {
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	if logRotator != nil {
		_ = logRotator.Close()
		logRotator = nil
	}
}

// resolveLevelLocked determines the log level from environment then settings.
// Callers must hold mu. Returns the parsed level and the raw string for
// invalid-value warnings.
func resolveLevelLocked() (slog.Level, string) {
	levelStr := os.Getenv(LogLevelEnvVar)
	if levelStr == "" && logLevelGetter != nil {
		levelStr = logLevelGetter()
	}
	return parseLogLevel(levelStr), levelStr
}

// logsDirPath resolves and creates the logs directory.
func logsDirPath() (string, error) {
	workspaceRoot, err := paths.WorkspaceRoot()
	if err != nil {
		// Fall back to current directory
		workspaceRoot = "."
	}

	logsPath := filepath.Join(workspaceRoot, LogsDir)
	if err := os.MkdirAll(logsPath, 0o750); err != nil {
		return "", fmt.Errorf("failed to create logs directory: %w", err)
	}
	return logsPath, nil
}

// resetLogger resets the logger to nil (for testing).
func resetLogger() {
	mu.Lock()
	defer mu.Unlock()
	logger = nil
	currentTaskID = ""
	closeOutputsLocked()
}

// getLogger returns the current logger, or a default stderr logger if not initialized.
func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if logger == nil {
		// Return default stderr logger
		return slog.Default()
	}
	return logger
}

// getTaskID returns the current task ID (thread-safe).
func getTaskID() string {
	mu.RLock()
	defer mu.RUnlock()
	return currentTaskID
}

// createLogger creates a JSON logger writing to the given writer at the specified level.
func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

// parseLogLevel parses a log level string to slog.Level.
// Returns slog.LevelInfo for empty or invalid values.
func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isValidLogLevel checks if the given string is a valid log level.
func isValidLogLevel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "":
		return true
	default:
		return false
	}
}

// Debug logs at DEBUG level with context values automatically extracted.
func Debug(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at INFO level with context values automatically extracted.
func Info(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at WARN level with context values automatically extracted.
func Warn(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at ERROR level with context values automatically extracted.
func Error(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs a message with duration_ms calculated from the start time.
// The level parameter specifies the log level (use slog.LevelDebug, slog.LevelInfo, etc).
// Designed for use with defer:
//
//	defer logging.LogDuration(ctx, slog.LevelInfo, "checkpoint saved", time.Now())
//
// Or with additional attrs:
//
//	defer logging.LogDuration(ctx, slog.LevelDebug, "diff computed", start,
//	    slog.String("from", fromHash),
//	    slog.Int("files", len(entries)),
//	)
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	durationMs := time.Since(start).Milliseconds()

	// Prepend duration_ms to attrs
	allAttrs := make([]any, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.Int64("duration_ms", durationMs))
	allAttrs = append(allAttrs, attrs...)

	log(ctx, level, msg, allAttrs...)
}

// log is the internal logging function that extracts context values and logs.
func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	// Build attributes slice with task ID first (if set)
	var allAttrs []any

	// Add task ID from Init() if set (always first for consistency)
	globalTaskID := getTaskID()
	if globalTaskID != "" {
		allAttrs = append(allAttrs, slog.String("task_id", globalTaskID))
	}

	// Extract context values, skipping task_id if already added from Init()
	contextAttrs := attrsFromContext(ctx, globalTaskID)
	for _, a := range contextAttrs {
		allAttrs = append(allAttrs, a)
	}

	// Add caller-provided attributes
	allAttrs = append(allAttrs, attrs...)

	// Pass nil context to slog as we've already extracted context values as attributes.
	// slog handlers are expected to handle nil context gracefully.
	l.Log(nil, level, msg, allAttrs...) //nolint:staticcheck // nil context is intentional - we extract values as attributes
}

// attrsFromContext extracts logging attributes from a context.
// If globalTaskID is non-empty, skips adding task_id from context to avoid duplicates.
func attrsFromContext(ctx context.Context, globalTaskID string) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr

	// Only add task_id from context if not already set globally
	if globalTaskID == "" {
		if v := ctx.Value(taskIDKey); v != nil {
			if s, ok := v.(string); ok && s != "" {
				attrs = append(attrs, slog.String("task_id", s))
			}
		}
	}
	if v := ctx.Value(parentTaskIDKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("parent_task_id", s))
		}
	}
	if v := ctx.Value(checkpointKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("checkpoint", s))
		}
	}
	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("component", s))
		}
	}

	return attrs
}
