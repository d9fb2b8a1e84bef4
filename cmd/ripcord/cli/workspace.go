package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/orchestrator"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"
)

// DisabledMessage is the message shown when Ripcord is disabled.
const DisabledMessage = "Ripcord is disabled. Set \"enabled\": true in .ripcord/settings.json to re-enable."

// errNoActiveTask is returned when neither --task nor the current-task file
// names a task to operate on.
var errNoActiveTask = errors.New("no active task: run 'ripcord init' first or pass --task")

// resolveTaskID picks the task a command operates on: the --task flag when
// given, otherwise the workspace's current task.
func resolveTaskID(taskFlag string) (string, error) {
	if taskFlag != "" {
		if err := validation.ValidateTaskID(taskFlag); err != nil {
			return "", fmt.Errorf("invalid --task value: %w", err)
		}
		return taskFlag, nil
	}
	taskID, err := paths.ReadCurrentTask()
	if err != nil {
		return "", fmt.Errorf("failed to read current task: %w", err)
	}
	if taskID == "" {
		return "", errNoActiveTask
	}
	return taskID, nil
}

// openOrchestrator builds the orchestrator for a task using the workspace's
// settings: history location and extra ignore rules come from there.
func openOrchestrator(root, taskID string) (*orchestrator.Orchestrator, error) {
	cfg, err := settings.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return orchestrator.New(root, taskID, orchestrator.Options{
		HistoryDir:    cfg.HistoryDirFor(root),
		ExtraExcludes: cfg.Exclude,
	}), nil
}

// printNotice surfaces a pending orchestrator notice, such as the missing-git
// explanation, exactly once.
func printNotice(w io.Writer, orch *orchestrator.Orchestrator) {
	if notice, ok := orch.TakeNotice(); ok {
		fmt.Fprintln(w, notice)
	}
}

// checkDisabledGuard prints the disabled message and returns true when
// Ripcord is turned off in settings.
func checkDisabledGuard(w io.Writer) bool {
	if !settings.IsEnabled() {
		fmt.Fprintln(w, DisabledMessage)
		return true
	}
	return false
}

// shortHash trims a checkpoint ID for display.
func shortHash(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

// timeAgo formats a time as a human-readable relative duration.
func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		m := int(d.Minutes())
		return fmt.Sprintf("%dm ago", m)
	case d < 24*time.Hour:
		h := int(d.Hours())
		return fmt.Sprintf("%dh ago", h)
	default:
		days := int(d.Hours() / 24)
		return fmt.Sprintf("%dd ago", days)
	}
}
