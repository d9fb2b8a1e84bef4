package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
)

func TestRunStatus_NotSetUp(t *testing.T) {
	t.Chdir(t.TempDir())
	paths.ClearWorkspaceRootCache()

	var out bytes.Buffer
	if err := runStatus(context.Background(), &out, ""); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), "not set up") {
		t.Errorf("expected not-set-up message, got %q", out.String())
	}
}

func TestRunStatus_Disabled(t *testing.T) {
	setupTestWorkspace(t)
	writeWorkspaceFile(t, paths.RipcordDir+"/"+paths.SettingsFileName, `{"enabled": false}`)

	var out bytes.Buffer
	if err := runStatus(context.Background(), &out, ""); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(out.String(), "Disabled") {
		t.Errorf("expected Disabled, got %q", out.String())
	}
}

func TestRunStatus_NoActiveTask(t *testing.T) {
	setupTestWorkspace(t)

	var out bytes.Buffer
	if err := runStatus(context.Background(), &out, ""); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	output := out.String()
	if !strings.Contains(output, "Enabled") {
		t.Errorf("expected Enabled, got %q", output)
	}
	if !strings.Contains(output, "No active task") {
		t.Errorf("expected no-active-task message, got %q", output)
	}
}

func TestRunStatus_ReportsChanges(t *testing.T) {
	setupTestWorkspace(t)
	writeWorkspaceFile(t, "a.txt", "one\n")
	taskID := startTask(t)

	var clean bytes.Buffer
	if err := runStatus(context.Background(), &clean, ""); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	output := clean.String()
	if !strings.Contains(output, "Task: "+taskID) {
		t.Errorf("expected task line, got %q", output)
	}
	if !strings.Contains(output, "Checkpoints: none yet") {
		t.Errorf("expected no checkpoints yet, got %q", output)
	}
	if !strings.Contains(output, "Changes: none since ") {
		t.Errorf("expected no changes line, got %q", output)
	}

	writeWorkspaceFile(t, "a.txt", "one\ntwo\n")
	writeWorkspaceFile(t, "b.txt", "new\n")

	var dirty bytes.Buffer
	if err := runStatus(context.Background(), &dirty, ""); err != nil {
		t.Fatalf("runStatus failed: %v", err)
	}
	if !strings.Contains(dirty.String(), "Changes: 2 file(s), +2 -0 since ") {
		t.Errorf("expected change summary, got %q", dirty.String())
	}
}
