package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
)

const (
	testTaskID    = "a1b2c3d4e5f6"
	testComponent = "store"
)

// setupWorkspace creates a temp workspace with a .ripcord directory and
// changes into it for the duration of the test.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, paths.RipcordDir), 0o755); err != nil {
		t.Fatalf("failed to create .ripcord dir: %v", err)
	}
	t.Chdir(tmpDir)
	paths.ClearWorkspaceRootCache()
	t.Cleanup(func() {
		resetLogger()
		paths.ClearWorkspaceRootCache()
	})
	return tmpDir
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     slog.Level
	}{
		{"empty defaults to INFO", "", slog.LevelInfo},
		{"DEBUG lowercase", "debug", slog.LevelDebug},
		{"DEBUG uppercase", "DEBUG", slog.LevelDebug},
		{"INFO lowercase", "info", slog.LevelInfo},
		{"WARN lowercase", "warn", slog.LevelWarn},
		{"ERROR uppercase", "ERROR", slog.LevelError},
		{"invalid defaults to INFO", "invalid", slog.LevelInfo},
		{"warning alias", "warning", slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLogLevel(tt.envValue)
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestInit_RejectsInvalidTaskID(t *testing.T) {
	setupWorkspace(t)

	if err := Init("../../../etc/passwd"); err == nil {
		t.Error("Init() with path traversal task ID expected error, got nil")
	}
	if err := Init(""); err == nil {
		t.Error("Init() with empty task ID expected error, got nil")
	}
}

func TestInit_CreatesLogFile(t *testing.T) {
	tmpDir := setupWorkspace(t)

	if err := Init(testTaskID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer Close()

	logFilePath := filepath.Join(tmpDir, ".ripcord", "logs", testTaskID+".log")
	if _, err := os.Stat(logFilePath); os.IsNotExist(err) {
		t.Errorf("Init() did not create log file at %s", logFilePath)
	}
}

func TestInit_WritesJSONLogs(t *testing.T) {
	tmpDir := setupWorkspace(t)

	if err := Init(testTaskID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Info(context.Background(), "test message", slog.String("key", "value"))

	// Close to flush
	Close()

	logFilePath := filepath.Join(tmpDir, ".ripcord", "logs", testTaskID+".log")
	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Errorf("Log output is not valid JSON: %v\nContent: %s", err, content)
	}

	if msg, ok := logEntry["msg"].(string); !ok || msg != "test message" {
		t.Errorf("Expected msg='test message', got %v", logEntry["msg"])
	}
	if key, ok := logEntry["key"].(string); !ok || key != "value" {
		t.Errorf("Expected key='value', got %v", logEntry["key"])
	}
	if taskID, ok := logEntry["task_id"].(string); !ok || taskID != testTaskID {
		t.Errorf("Expected task_id=%q, got %v", testTaskID, logEntry["task_id"])
	}
	if _, ok := logEntry["time"]; !ok {
		t.Error("Expected 'time' field in log entry")
	}
	if _, ok := logEntry["level"]; !ok {
		t.Error("Expected 'level' field in log entry")
	}
}

func TestInit_RespectsLogLevel(t *testing.T) {
	tmpDir := setupWorkspace(t)

	t.Setenv(LogLevelEnvVar, "WARN")

	if err := Init(testTaskID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx := context.Background()

	// These should NOT be logged
	Debug(ctx, "debug message")
	Info(ctx, "info message")

	// This SHOULD be logged
	Warn(ctx, "warn message")

	Close()

	logFilePath := filepath.Join(tmpDir, ".ripcord", "logs", testTaskID+".log")
	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	contentStr := string(content)
	if strings.Contains(contentStr, "debug message") {
		t.Error("DEBUG message should not be logged when level is WARN")
	}
	if strings.Contains(contentStr, "info message") {
		t.Error("INFO message should not be logged when level is WARN")
	}
	if !strings.Contains(contentStr, "warn message") {
		t.Error("WARN message should be logged when level is WARN")
	}
}

func TestInit_LogLevelGetterFallback(t *testing.T) {
	tmpDir := setupWorkspace(t)

	t.Setenv(LogLevelEnvVar, "")
	SetLogLevelGetter(func() string { return "DEBUG" })
	t.Cleanup(func() { SetLogLevelGetter(nil) })

	if err := Init(testTaskID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Debug(context.Background(), "debug via getter")
	Close()

	logFilePath := filepath.Join(tmpDir, ".ripcord", "logs", testTaskID+".log")
	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "debug via getter") {
		t.Error("DEBUG message should be logged when settings getter returns DEBUG")
	}
}

func TestInitRotating_WritesLogs(t *testing.T) {
	tmpDir := setupWorkspace(t)

	if err := InitRotating(testTaskID); err != nil {
		t.Fatalf("InitRotating() error = %v", err)
	}

	Info(context.Background(), "rotating message")
	Close()

	logFilePath := filepath.Join(tmpDir, ".ripcord", "logs", testTaskID+".log")
	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "rotating message") {
		t.Errorf("InitRotating() log file missing message, content: %s", content)
	}
}

func TestClose_SafeToCallMultipleTimes(t *testing.T) {
	setupWorkspace(t)

	if err := Init(testTaskID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Close()
	Close()
	Close()
}

func TestLogDuration(t *testing.T) {
	tmpDir := setupWorkspace(t)

	if err := Init(testTaskID); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now().Add(-50 * time.Millisecond)
	LogDuration(context.Background(), slog.LevelInfo, "operation completed", start,
		slog.String("operation", "save"),
	)
	Close()

	logFilePath := filepath.Join(tmpDir, ".ripcord", "logs", testTaskID+".log")
	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var logEntry map[string]interface{}
	if err := json.Unmarshal(content, &logEntry); err != nil {
		t.Fatalf("Log output is not valid JSON: %v", err)
	}

	durationMs, ok := logEntry["duration_ms"].(float64)
	if !ok {
		t.Fatalf("Expected duration_ms field, got %v", logEntry)
	}
	if durationMs < 50 {
		t.Errorf("Expected duration_ms >= 50, got %v", durationMs)
	}
	if op, ok := logEntry["operation"].(string); !ok || op != "save" {
		t.Errorf("Expected operation='save', got %v", logEntry["operation"])
	}
}

func TestUninitializedLoggerDoesNotPanic(t *testing.T) {
	resetLogger()

	// Logging without Init should fall back to the default logger
	Info(context.Background(), "message before init")
	Debug(context.Background(), "debug before init")
}
