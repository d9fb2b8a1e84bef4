package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"

	"github.com/spf13/cobra"
)

func newSaveCmd() *cobra.Command {
	var taskFlag string
	var messageFlag string
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "save [files...]",
		Short: "Create a checkpoint of the working tree",
		Long: `Snapshots the workspace into the task's shadow history. With file arguments
only those paths are captured; everything else stays as the previous
checkpoint had it. When nothing changed no checkpoint is created unless
--force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			return runSave(cmd.Context(), cmd.OutOrStdout(), taskFlag, messageFlag, forceFlag, args)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")
	cmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Checkpoint message")
	cmd.Flags().BoolVar(&forceFlag, "force", false, "Create a checkpoint even when nothing changed")

	return cmd
}

func runSave(ctx context.Context, w io.Writer, taskFlag, message string, force bool, args []string) error {
	root, err := paths.WorkspaceRoot()
	if err != nil {
		return err
	}
	taskID, err := resolveTaskID(taskFlag)
	if err != nil {
		return err
	}
	cleanup := initTaskLogging(taskID)
	defer cleanup()

	orch, err := openOrchestrator(root, taskID)
	if err != nil {
		return err
	}
	initErr := orch.Init(ctx)
	printNotice(w, orch)
	if initErr != nil {
		return fmt.Errorf("failed to open task %s: %w", taskID, initErr)
	}

	files, err := workspaceRelative(root, args)
	if err != nil {
		return err
	}

	if message == "" {
		message = "Manual checkpoint"
	}

	res, err := orch.Save(ctx, message, store.SaveOptions{
		AllowEmpty: force,
		Files:      files,
	})
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if res == nil {
		fmt.Fprintln(w, "No changes since the last checkpoint.")
		return nil
	}

	fmt.Fprintf(w, "Saved checkpoint %s (took %s)\n", shortHash(res.Hash), res.Duration.Round(time.Millisecond))
	return nil
}

// workspaceRelative converts user-supplied paths, which may be relative to
// the working directory, into workspace-relative slash paths.
func workspaceRelative(root string, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	files := make([]string, 0, len(args))
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", arg, err)
		}
		rel := paths.ToRelativePath(abs, root)
		if rel == "" {
			return nil, fmt.Errorf("%s is outside the workspace", arg)
		}
		files = append(files, filepath.ToSlash(rel))
	}
	return files, nil
}
