// Package paths centralizes filesystem layout for the Ripcord CLI: where the
// .ripcord directory lives, how task IDs are generated, and which directories
// are refused as workspaces.
package paths

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Directory constants
const (
	RipcordDir      = ".ripcord"
	RipcordTmpDir   = ".ripcord/tmp"
	HistoryDir      = ".ripcord/history"
	LogsDir         = ".ripcord/logs"
	StateDir        = ".ripcord/state"
	CurrentTaskFile = ".ripcord/current_task"
)

// File names inside the .ripcord directory
const (
	SettingsFileName      = "settings.json"
	LocalSettingsFileName = "settings.local.json"
)

// workspaceRootCache caches the workspace root to avoid repeated directory
// walks. The cache is keyed by the working directory at lookup time.
var (
	workspaceRootMu       sync.RWMutex
	workspaceRootCache    string
	workspaceRootCacheDir string
)

// WorkspaceRoot returns the workspace root directory: the nearest ancestor of
// the working directory (inclusive) that contains a .ripcord directory.
// The result is cached per working directory.
// Returns an error if no workspace is found.
func WorkspaceRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	workspaceRootMu.RLock()
	if workspaceRootCache != "" && workspaceRootCacheDir == cwd {
		cached := workspaceRootCache
		workspaceRootMu.RUnlock()
		return cached, nil
	}
	workspaceRootMu.RUnlock()

	root, err := findWorkspaceRoot(cwd)
	if err != nil {
		return "", err
	}

	workspaceRootMu.Lock()
	workspaceRootCache = root
	workspaceRootCacheDir = cwd
	workspaceRootMu.Unlock()

	return root, nil
}

// findWorkspaceRoot walks up from dir looking for a .ripcord directory.
func findWorkspaceRoot(dir string) (string, error) {
	current := dir
	for {
		info, err := os.Stat(filepath.Join(current, RipcordDir))
		if err == nil && info.IsDir() {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no %s directory found in %s or any parent: run 'ripcord init' first", RipcordDir, dir)
		}
		current = parent
	}
}

// ClearWorkspaceRootCache clears the cached workspace root.
// This is primarily useful for testing when changing directories.
func ClearWorkspaceRootCache() {
	workspaceRootMu.Lock()
	workspaceRootCache = ""
	workspaceRootCacheDir = ""
	workspaceRootMu.Unlock()
}

// WorkspaceRootOr returns the workspace root directory, or the fallback if no
// workspace is found. Useful for commands that work before 'ripcord init'.
func WorkspaceRootOr(fallback string) string {
	root, err := WorkspaceRoot()
	if err != nil {
		return fallback
	}
	return root
}

// AbsPath returns the absolute path for a relative path within the workspace.
// If the path is already absolute, it is returned as-is.
func AbsPath(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return relPath, nil
	}

	root, err := WorkspaceRoot()
	if err != nil {
		return "", err
	}

	return filepath.Join(root, relPath), nil
}

// IsInternalPath returns true if the path is part of CLI infrastructure
// (i.e., inside the .ripcord directory)
func IsInternalPath(path string) bool {
	return strings.HasPrefix(path, RipcordDir+"/") || path == RipcordDir
}

// ToRelativePath converts an absolute path to relative.
// Returns empty string if the path is outside the working directory.
func ToRelativePath(absPath, cwd string) string {
	if !filepath.IsAbs(absPath) {
		return absPath
	}
	relPath, err := filepath.Rel(cwd, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") {
		return ""
	}
	return relPath
}

// GenerateTaskID generates a unique 12-character hex task ID.
// Uses crypto/rand for secure random generation.
// Returns 12 hex characters (6 bytes = ~281 trillion unique values).
func GenerateTaskID() string {
	b := make([]byte, 6)
	//nolint:errcheck,gosec // crypto/rand.Read is documented to always succeed on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// DefaultHistoryDir returns the default shadow history location for a workspace.
func DefaultHistoryDir(workspaceRoot string) string {
	return filepath.Join(workspaceRoot, RipcordDir, "history")
}

// TaskLogFile returns the log file path for a task within a workspace.
func TaskLogFile(workspaceRoot, taskID string) string {
	return filepath.Join(workspaceRoot, RipcordDir, "logs", taskID+".log")
}

// TaskStateFile returns the reconciliation state file path for a task.
func TaskStateFile(workspaceRoot, taskID string) string {
	return filepath.Join(workspaceRoot, RipcordDir, "state", taskID+".json")
}

// protectedSubdirs are home subdirectories that are refused as workspaces.
// Tracking one of these would snapshot a user's personal files into shadow
// history on every save.
var protectedSubdirs = []string{"Desktop", "Documents", "Downloads"}

// IsProtectedDirectory reports whether dir is the user's home directory or one
// of its protected subdirectories (Desktop, Documents, Downloads). The second
// return value names the matched directory for error messages.
func IsProtectedDirectory(dir string) (bool, string) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return false, ""
	}

	resolved := resolvePath(dir)
	if resolved == resolvePath(homeDir) {
		return true, "home"
	}
	for _, sub := range protectedSubdirs {
		if resolved == resolvePath(filepath.Join(homeDir, sub)) {
			return true, strings.ToLower(sub)
		}
	}
	return false, ""
}

// resolvePath returns the cleaned absolute path with symlinks resolved where
// possible. Falls back to the cleaned absolute path if resolution fails.
func resolvePath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// ReadCurrentTask reads the active task ID from .ripcord/current_task.
// Returns an empty string (not error) if the file doesn't exist.
// Works correctly from any subdirectory within the workspace.
func ReadCurrentTask() (string, error) {
	taskFile, err := AbsPath(CurrentTaskFile)
	if err != nil {
		// Fallback to relative path if not in a workspace
		taskFile = CurrentTaskFile
	}
	data, err := os.ReadFile(taskFile) //nolint:gosec // path is from AbsPath or constant
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read current task file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// WriteCurrentTask writes the task ID to .ripcord/current_task.
// Creates the .ripcord directory if it doesn't exist.
func WriteCurrentTask(taskID string) error {
	ripcordDirAbs, err := AbsPath(RipcordDir)
	if err != nil {
		ripcordDirAbs = RipcordDir
	}
	taskFileAbs, err := AbsPath(CurrentTaskFile)
	if err != nil {
		taskFileAbs = CurrentTaskFile
	}

	if err := os.MkdirAll(ripcordDirAbs, 0o750); err != nil {
		return fmt.Errorf("failed to create .ripcord directory: %w", err)
	}

	// Write task ID to file (no newline, just the ID)
	if err := os.WriteFile(taskFileAbs, []byte(taskID), 0o600); err != nil {
		return fmt.Errorf("failed to write current task file: %w", err)
	}

	return nil
}

// ClearCurrentTask removes the .ripcord/current_task file.
// Missing file is not an error.
func ClearCurrentTask() error {
	taskFile, err := AbsPath(CurrentTaskFile)
	if err != nil {
		taskFile = CurrentTaskFile
	}
	if err := os.Remove(taskFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove current task file: %w", err)
	}
	return nil
}
