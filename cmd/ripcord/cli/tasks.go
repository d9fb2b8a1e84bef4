package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/taskstate"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"

	"github.com/spf13/cobra"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List and manage tasks",
		Long:  "Commands for viewing and deleting the tasks recorded in the shadow history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasksList(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksDeleteCmd())

	return cmd
}

func newTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tasks",
		Long:  "List every task with a history branch or cached state in this workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTasksList(cmd.Context(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func newTasksDeleteCmd() *cobra.Command {
	var yesFlag bool

	cmd := &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a task and its checkpoint history",
		Long: `Deletes a task's branch from the shadow history along with its cached state
and log file. The workspace's files are not touched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksDelete(cmd.Context(), cmd.OutOrStdout(), args[0], yesFlag)
		},
	}

	cmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runTasksList(ctx context.Context, w io.Writer) error {
	root, err := paths.WorkspaceRoot()
	if err != nil {
		fmt.Fprintln(w, "No tasks yet (run `ripcord init` to start one).")
		return nil //nolint:nilerr // An uninitialized directory simply has no tasks.
	}
	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Listing must not create anything, so the history is read in place
	// instead of through a task-bound orchestrator.
	ids, err := store.ListHistoryTasks(ctx, root, cfg.HistoryDirFor(root))
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	// A task can have cached state without a branch yet, or the other way
	// around; the listing shows the union.
	cached, err := taskstate.NewStore(root).List(ctx)
	if err != nil {
		cached = nil
	}
	stateByID := make(map[string]*taskstate.State, len(cached))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, st := range cached {
		stateByID[st.TaskID] = st
		seen[st.TaskID] = true
	}
	all := make([]string, 0, len(seen))
	for id := range seen {
		all = append(all, id)
	}
	sort.Strings(all)

	if len(all) == 0 {
		fmt.Fprintln(w, "No tasks yet (run `ripcord init` to start one).")
		return nil
	}

	current, err := paths.ReadCurrentTask()
	if err != nil {
		current = ""
	}

	fmt.Fprintf(w, "  %-12s  %s\n", "task-id", "Updated")
	fmt.Fprintf(w, "  %-12s  %s\n", "────────────", "───────────")
	for _, id := range all {
		marker := "  "
		if id == current {
			marker = "* "
		}
		updated := "-"
		if st, ok := stateByID[id]; ok && !st.UpdatedAt.IsZero() {
			updated = timeAgo(st.UpdatedAt)
		}
		fmt.Fprintf(w, "%s%-12s  %s\n", marker, id, updated)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Switch tasks: ripcord init --task <task-id>")

	return nil
}

func runTasksDelete(ctx context.Context, w io.Writer, taskID string, yes bool) error {
	root, err := paths.WorkspaceRoot()
	if err != nil {
		return err
	}
	if err := validation.ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}
	cfg, err := settings.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	ids, err := store.ListHistoryTasks(ctx, root, cfg.HistoryDirFor(root))
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	inHistory := slices.Contains(ids, taskID)
	states := taskstate.NewStore(root)
	cached, err := states.Load(ctx, taskID)
	if err != nil {
		cached = nil
	}
	if !inHistory && cached == nil {
		return fmt.Errorf("no such task: %s", taskID)
	}

	if !yes {
		description := fmt.Sprintf("This permanently discards the checkpoint history of task %s.\nThe workspace's files are not touched.", taskID)
		if !confirmAction("Delete task "+taskID+"?", description) {
			fmt.Fprintln(w, "Delete cancelled.")
			return nil
		}
	}

	// The log file is removed after the logger is closed, so cleanup is
	// called explicitly instead of deferred.
	cleanup := initTaskLogging(taskID)
	if inHistory {
		orch, err := openOrchestrator(root, taskID)
		if err != nil {
			cleanup()
			return err
		}
		initErr := orch.Init(ctx)
		printNotice(w, orch)
		if initErr != nil {
			cleanup()
			return fmt.Errorf("failed to open task %s: %w", taskID, initErr)
		}
		if !orch.DeleteTask(ctx) {
			cleanup()
			return fmt.Errorf("failed to delete the history of task %s", taskID)
		}
	}
	if err := states.Clear(ctx, taskID); err != nil {
		fmt.Fprintf(w, "Warning: could not clear cached state: %v\n", err)
	}
	cleanup()
	if err := os.Remove(paths.TaskLogFile(root, taskID)); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(w, "Warning: could not remove the task log: %v\n", err)
	}

	fmt.Fprintf(w, "Deleted task %s.\n", taskID)

	current, err := paths.ReadCurrentTask()
	if err != nil {
		current = ""
	}
	if current == taskID {
		if err := paths.ClearCurrentTask(); err != nil {
			return fmt.Errorf("failed to clear the active task: %w", err)
		}
		fmt.Fprintln(w, "It was the active task; run `ripcord init` to start a new one.")
	}

	return nil
}
