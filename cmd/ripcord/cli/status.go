package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var taskFlag string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show Ripcord status",
		Long:  "Shows whether Ripcord is enabled, the active task, and a summary of its visible changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), taskFlag)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to inspect (default: current task)")

	return cmd
}

func runStatus(ctx context.Context, w io.Writer, taskFlag string) error {
	if _, err := paths.WorkspaceRoot(); err != nil {
		fmt.Fprintln(w, "○ not set up (run `ripcord init` to get started)")
		return nil //nolint:nilerr // An uninitialized directory is a valid status, not an error
	}

	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if !cfg.Enabled {
		fmt.Fprintln(w, "Disabled")
		return nil
	}
	fmt.Fprintln(w, "Enabled")

	if taskFlag == "" {
		current, readErr := paths.ReadCurrentTask()
		if readErr != nil {
			return fmt.Errorf("failed to read current task: %w", readErr)
		}
		if current == "" {
			fmt.Fprintln(w, "No active task (run `ripcord init`)")
			return nil
		}
	}

	v, err := openTaskView(ctx, w, taskFlag)
	if err != nil {
		return err
	}
	defer v.close()

	fmt.Fprintf(w, "Task: %s\n", v.taskID)

	infos, err := v.orch.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to read task history: %w", err)
	}
	checkpoints := len(infos) - 1
	if checkpoints <= 0 {
		fmt.Fprintln(w, "Checkpoints: none yet")
	} else {
		last := infos[len(infos)-1]
		fmt.Fprintf(w, "Checkpoints: %d (last saved %s)\n", checkpoints, timeAgo(last.When))
	}

	cs, err := v.refresh(ctx)
	if err != nil {
		return err
	}
	if len(cs.Files) == 0 {
		fmt.Fprintf(w, "Changes: none since %s\n", shortHash(cs.Baseline))
	} else {
		added, removed := 0, 0
		for _, f := range cs.Files {
			added += f.Added
			removed += f.Removed
		}
		fmt.Fprintf(w, "Changes: %d file(s), +%d -%d since %s\n",
			len(cs.Files), added, removed, shortHash(cs.Baseline))
	}

	if accepted := len(v.track.AcceptedBaselines()); accepted > 0 {
		fmt.Fprintf(w, "Accepted: %d file(s)\n", accepted)
	}
	return nil
}
