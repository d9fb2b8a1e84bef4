package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ripcordio/cli/cmd/ripcord/cli/gitver"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/taskstate"

	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment and history health",
		Long: `Checks everything a working setup needs: a usable git binary, the
workspace location, the settings files, the shadow history of every task,
and the task state cache. Exits non-zero when a check fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout())
		},
	}
	return cmd
}

func runDoctor(ctx context.Context, w io.Writer) error {
	failed := 0

	if version, err := gitver.Check(ctx); err != nil {
		failed++
		fmt.Fprintf(w, "✗ git: %v\n", err)
	} else {
		fmt.Fprintf(w, "✓ git %s\n", version)
	}

	root, err := paths.WorkspaceRoot()
	if err != nil {
		fmt.Fprintln(w, "○ no workspace here (run `ripcord init` to create one)")
		return doctorVerdict(w, failed)
	}
	fmt.Fprintf(w, "✓ workspace %s\n", root)

	if protected, name := paths.IsProtectedDirectory(root); protected {
		failed++
		fmt.Fprintf(w, "✗ workspace looks like your %s folder; snapshots of it are refused\n", name)
	}

	cfg, err := settings.Load()
	if err != nil {
		failed++
		fmt.Fprintf(w, "✗ settings: %v\n", err)
		return doctorVerdict(w, failed)
	}
	if settings.IsEnabled() {
		fmt.Fprintln(w, "✓ settings valid, Ripcord enabled")
	} else {
		fmt.Fprintln(w, "○ settings valid, Ripcord disabled")
	}

	historyDir := cfg.HistoryDirFor(root)
	ids, err := store.ListHistoryTasks(ctx, root, historyDir)
	if err != nil {
		failed++
		fmt.Fprintf(w, "✗ history: %v\n", err)
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
		if err := checkTaskHistory(ctx, w, root, historyDir, cfg.Exclude, id); err != nil {
			failed++
			fmt.Fprintf(w, "✗ task %s: %v\n", id, err)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "○ no task histories yet")
	}

	states, err := taskstate.NewStore(root).List(ctx)
	if err != nil {
		failed++
		fmt.Fprintf(w, "✗ task state cache: %v\n", err)
	} else if len(states) > 0 {
		fmt.Fprintf(w, "✓ task state cache: %d file(s)\n", len(states))
	}
	for _, st := range states {
		if !known[st.TaskID] {
			fmt.Fprintf(w, "○ state without history: %s (clean up with `ripcord tasks delete %s`)\n", st.TaskID, st.TaskID)
		}
	}

	current, err := paths.ReadCurrentTask()
	if err != nil {
		current = ""
	}
	switch {
	case current == "":
		fmt.Fprintln(w, "○ no active task")
	case known[current]:
		fmt.Fprintf(w, "✓ active task %s\n", current)
	default:
		failed++
		fmt.Fprintf(w, "✗ active task %s has no history (run `ripcord init` to recreate it)\n", current)
	}

	return doctorVerdict(w, failed)
}

// checkTaskHistory reopens a task's shadow history and reads its log, which
// exercises the branch ref, the base snapshot, and every commit on it.
func checkTaskHistory(ctx context.Context, w io.Writer, root, historyDir string, excludes []string, taskID string) error {
	st, err := store.Open(root, historyDir, taskID, excludes)
	if err != nil {
		return err
	}
	if _, err := st.Init(ctx); err != nil {
		return err
	}
	infos, err := st.History(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "✓ task %s: %d checkpoint(s)\n", taskID, len(infos)-1)
	return nil
}

func doctorVerdict(w io.Writer, failed int) error {
	if failed == 0 {
		fmt.Fprintln(w, "\nAll checks passed.")
		return nil
	}
	fmt.Fprintf(w, "\n%d check(s) failed.\n", failed)
	return NewSilentError(fmt.Errorf("%d doctor checks failed", failed))
}
