//go:build integration

package integration

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
)

func TestNewTestEnv(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)

	if _, err := os.Stat(env.RepoDir); os.IsNotExist(err) {
		t.Error("RepoDir should exist")
	}
}

func TestTestEnv_WriteAndReadFile(t *testing.T) {
	t.Parallel()
	env := NewTestEnv(t)

	env.WriteFile("test.txt", "hello world")
	if got := env.ReadFile("test.txt"); got != "hello world" {
		t.Errorf("ReadFile = %q, want %q", got, "hello world")
	}

	env.WriteFile("src/main.go", "package main")
	if got := env.ReadFile("src/main.go"); got != "package main" {
		t.Errorf("ReadFile = %q, want %q", got, "package main")
	}

	if env.FileExists("missing.txt") {
		t.Error("FileExists should return false for a missing file")
	}
	if !env.FileExists("test.txt") {
		t.Error("FileExists should return true for an existing file")
	}
}

func TestNewWorkspaceEnv(t *testing.T) {
	t.Parallel()
	env := NewWorkspaceEnv(t)

	ripcordDir := filepath.Join(env.RepoDir, paths.RipcordDir)
	if _, err := os.Stat(ripcordDir); os.IsNotExist(err) {
		t.Error(".ripcord directory should exist after init")
	}

	taskID := env.CurrentTask()
	if taskID == "" {
		t.Fatal("init should record a current task")
	}
	if !env.TaskBranchExists(taskID) {
		t.Errorf("task %s should have a history branch", taskID)
	}

	subjects := env.TaskCommitSubjects(taskID)
	if len(subjects) != 1 || !strings.Contains(subjects[0], "Initial snapshot") {
		t.Errorf("fresh task history = %v, want just the base snapshot", subjects)
	}
}
