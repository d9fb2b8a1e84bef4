package paths

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestIsInternalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{".ripcord/history/objects", true},
		{".ripcord", true},
		{"src/main.go", false},
		{".ripcordfile", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := IsInternalPath(tt.path)
			if got != tt.want {
				t.Errorf("IsInternalPath(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestGenerateTaskID(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-f]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateTaskID()
		if !pattern.MatchString(id) {
			t.Fatalf("GenerateTaskID() = %q, want 12 lowercase hex characters", id)
		}
		if seen[id] {
			t.Fatalf("GenerateTaskID() produced duplicate %q", id)
		}
		seen[id] = true
	}
}

func TestWorkspaceRoot(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, RipcordDir), 0o755); err != nil {
		t.Fatalf("failed to create .ripcord dir: %v", err)
	}
	subDir := filepath.Join(tmpDir, "src", "deep")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}

	t.Chdir(subDir)
	ClearWorkspaceRootCache()
	t.Cleanup(ClearWorkspaceRootCache)

	root, err := WorkspaceRoot()
	if err != nil {
		t.Fatalf("WorkspaceRoot() error = %v", err)
	}

	// Compare resolved paths: t.TempDir may be behind a symlink on macOS.
	wantResolved, _ := filepath.EvalSymlinks(tmpDir)
	gotResolved, _ := filepath.EvalSymlinks(root)
	if gotResolved != wantResolved {
		t.Errorf("WorkspaceRoot() = %q, want %q", gotResolved, wantResolved)
	}
}

func TestWorkspaceRoot_NotFound(t *testing.T) {
	tmpDir := t.TempDir()
	t.Chdir(tmpDir)
	ClearWorkspaceRootCache()
	t.Cleanup(ClearWorkspaceRootCache)

	if _, err := WorkspaceRoot(); err == nil {
		t.Error("WorkspaceRoot() in directory without .ripcord expected error, got nil")
	}
}

func TestIsProtectedDirectory(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory available: %v", err)
	}

	tests := []struct {
		name     string
		dir      string
		want     bool
		wantName string
	}{
		{"home directory", homeDir, true, "home"},
		{"desktop", filepath.Join(homeDir, "Desktop"), true, "desktop"},
		{"documents", filepath.Join(homeDir, "Documents"), true, "documents"},
		{"downloads", filepath.Join(homeDir, "Downloads"), true, "downloads"},
		{"project under home", filepath.Join(homeDir, "code", "myproject"), false, ""},
		{"temp directory", os.TempDir(), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, name := IsProtectedDirectory(tt.dir)
			if got != tt.want {
				t.Errorf("IsProtectedDirectory(%q) = %v, want %v", tt.dir, got, tt.want)
			}
			if got && name != tt.wantName {
				t.Errorf("IsProtectedDirectory(%q) name = %q, want %q", tt.dir, name, tt.wantName)
			}
		})
	}
}

func TestReadWriteCurrentTask(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, RipcordDir), 0o755); err != nil {
		t.Fatalf("failed to create .ripcord dir: %v", err)
	}
	t.Chdir(tmpDir)
	ClearWorkspaceRootCache()
	t.Cleanup(ClearWorkspaceRootCache)

	// Reading non-existent file returns empty string (not error)
	taskID, err := ReadCurrentTask()
	if err != nil {
		t.Errorf("ReadCurrentTask() on non-existent file error = %v, want nil", err)
	}
	if taskID != "" {
		t.Errorf("ReadCurrentTask() on non-existent file = %q, want empty string", taskID)
	}

	testTaskID := "a1b2c3d4e5f6"
	if err := WriteCurrentTask(testTaskID); err != nil {
		t.Fatalf("WriteCurrentTask() error = %v", err)
	}

	readTaskID, err := ReadCurrentTask()
	if err != nil {
		t.Errorf("ReadCurrentTask() error = %v, want nil", err)
	}
	if readTaskID != testTaskID {
		t.Errorf("ReadCurrentTask() = %q, want %q", readTaskID, testTaskID)
	}

	// Overwriting replaces the previous task
	newTaskID := "0f1e2d3c4b5a"
	if err := WriteCurrentTask(newTaskID); err != nil {
		t.Errorf("WriteCurrentTask() overwrite error = %v", err)
	}
	readTaskID, err = ReadCurrentTask()
	if err != nil {
		t.Errorf("ReadCurrentTask() after overwrite error = %v", err)
	}
	if readTaskID != newTaskID {
		t.Errorf("ReadCurrentTask() after overwrite = %q, want %q", readTaskID, newTaskID)
	}

	// Clearing removes the file; clearing again is not an error
	if err := ClearCurrentTask(); err != nil {
		t.Errorf("ClearCurrentTask() error = %v", err)
	}
	taskID, err = ReadCurrentTask()
	if err != nil || taskID != "" {
		t.Errorf("ReadCurrentTask() after clear = (%q, %v), want empty string and nil", taskID, err)
	}
	if err := ClearCurrentTask(); err != nil {
		t.Errorf("ClearCurrentTask() on missing file error = %v", err)
	}
}

func TestToRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		absPath string
		cwd     string
		want    string
	}{
		{"inside cwd", "/workspace/src/main.go", "/workspace", "src/main.go"},
		{"already relative", "src/main.go", "/workspace", "src/main.go"},
		{"outside cwd", "/elsewhere/file.go", "/workspace", ""},
		{"cwd itself", "/workspace", "/workspace", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToRelativePath(tt.absPath, tt.cwd)
			if got != tt.want {
				t.Errorf("ToRelativePath(%q, %q) = %q, want %q", tt.absPath, tt.cwd, got, tt.want)
			}
		})
	}
}
