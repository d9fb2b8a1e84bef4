package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/orchestrator"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	var taskFlag string
	var historyDirFlag string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Start or resume a task's shadow history",
		Long: `Creates the .ripcord directory if needed, opens the task's shadow history,
and records the task as current. The first run snapshots the whole workspace
as the task's base, so there is always a state to fall back to.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), cmd.OutOrStdout(), taskFlag, historyDirFlag)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to open (default: current task, or a newly generated one)")
	cmd.Flags().StringVar(&historyDirFlag, "history-dir", "", "Override the shadow history location")

	return cmd
}

func runInit(ctx context.Context, w io.Writer, taskFlag, historyDirFlag string) error {
	// Workspace root is the nearest ancestor with a .ripcord directory.
	// Without one, the working directory becomes the workspace.
	root, err := paths.WorkspaceRoot()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			return fmt.Errorf("failed to get working directory: %w", cwdErr)
		}
		if protected, name := paths.IsProtectedDirectory(cwd); protected {
			return fmt.Errorf("%s looks like your %s folder; run ripcord inside a project directory", cwd, name)
		}
		if mkErr := os.MkdirAll(filepath.Join(cwd, paths.RipcordDir), 0o750); mkErr != nil {
			return fmt.Errorf("failed to create %s: %w", paths.RipcordDir, mkErr)
		}
		paths.ClearWorkspaceRootCache()
		root = cwd
		fmt.Fprintf(w, "Created %s in %s\n", paths.RipcordDir, root)
	}

	if checkDisabledGuard(w) {
		return nil
	}

	taskID := taskFlag
	if taskID == "" {
		current, readErr := paths.ReadCurrentTask()
		if readErr != nil {
			return fmt.Errorf("failed to read current task: %w", readErr)
		}
		taskID = current
	}
	if taskID == "" {
		taskID = paths.GenerateTaskID()
	}
	if err := validation.ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}

	cleanup := initTaskLogging(taskID)
	defer cleanup()

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	historyDir := historyDirFlag
	if historyDir == "" {
		historyDir = cfg.HistoryDirFor(root)
	}

	orch := orchestrator.New(root, taskID, orchestrator.Options{
		HistoryDir:    historyDir,
		ExtraExcludes: cfg.Exclude,
	})

	// Init emits the initialize event synchronously, so a subscription
	// registered first observes whether the history was created or reopened.
	var initEv *orchestrator.InitializeEvent
	unsubscribe := orch.Subscribe(func(ev orchestrator.Event) {
		if e, ok := ev.(orchestrator.InitializeEvent); ok {
			initEv = &e
		}
	})
	defer unsubscribe()

	initErr := orch.Init(ctx)
	printNotice(w, orch)
	if initErr != nil {
		if errors.Is(initErr, store.ErrProtectedDirectory) {
			return fmt.Errorf("refusing to track %s: %w", root, initErr)
		}
		return fmt.Errorf("failed to initialize task %s: %w", taskID, initErr)
	}

	if err := paths.WriteCurrentTask(taskID); err != nil {
		return fmt.Errorf("failed to record current task: %w", err)
	}

	switch {
	case initEv == nil:
		fmt.Fprintf(w, "Task %s ready\n", taskID)
	case initEv.Created:
		fmt.Fprintf(w, "Started task %s (base %s, took %s)\n",
			taskID, shortHash(initEv.BaseHash), initEv.Duration.Round(time.Millisecond))
	default:
		checkpoints, _ := orch.Checkpoints(ctx)
		fmt.Fprintf(w, "Resumed task %s (base %s, %d checkpoints)\n",
			taskID, shortHash(initEv.BaseHash), len(checkpoints))
	}
	return nil
}
