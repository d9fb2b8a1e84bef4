package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/taskstate"
	"github.com/ripcordio/cli/cmd/ripcord/cli/trailers"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	var taskFlag string
	var yesFlag bool

	cmd := &cobra.Command{
		Use:   "restore [checkpoint]",
		Short: "Roll the workspace back to a checkpoint",
		Long: `Restores every tracked file to the chosen checkpoint's state. Files created
after the checkpoint are deleted and the checkpoints recorded after it are
discarded from the task's history. Without an argument an interactive picker
lists the task's checkpoints, newest first. 'base' restores the state the
task started from.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runRestore(cmd.Context(), cmd.OutOrStdout(), taskFlag, target, yesFlag)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")
	cmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runRestore(ctx context.Context, w io.Writer, taskFlag, target string, yes bool) error {
	v, err := openTaskView(ctx, w, taskFlag)
	if err != nil {
		return err
	}
	defer v.close()

	infos, err := v.orch.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to read task history: %w", err)
	}
	if len(infos) < 2 && target == "" {
		fmt.Fprintln(w, "No checkpoints to restore yet.")
		return nil
	}

	var hash string
	if target == "" {
		hash, err = pickCheckpoint(infos)
		if err != nil {
			return err
		}
		if hash == "" {
			fmt.Fprintln(w, "Restore cancelled.")
			return nil
		}
	} else {
		hash, err = resolveCheckpointArg(target, infos)
		if err != nil {
			return err
		}
	}

	discarded := checkpointsAfter(infos, hash)
	subject := checkpointSubject(infos, hash)
	fmt.Fprintf(w, "Selected: %s %s\n", shortHash(hash), sanitizeForTerminal(subject))

	if !yes {
		description := fmt.Sprintf("Restoring to: %s\nThis discards %d checkpoint(s) made after it and any unsaved changes.",
			subject, discarded)
		if !confirmAction(fmt.Sprintf("Restore to %s?", shortHash(hash)), description) {
			fmt.Fprintln(w, "Restore cancelled.")
			return nil
		}
	}

	res, err := v.orch.Restore(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to restore: %w", err)
	}

	// The tree now equals the restored checkpoint, so it becomes the new
	// baseline and all per-file acceptance history is moot.
	if err := v.states.Save(ctx, &taskstate.State{TaskID: v.taskID, Baseline: res.Hash}); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}

	fmt.Fprintf(w, "Restored to %s (took %s)\n", shortHash(res.Hash), res.Duration.Round(time.Millisecond))
	if discarded > 0 {
		fmt.Fprintf(w, "Discarded %d checkpoint(s).\n", discarded)
	}
	return nil
}

// pickCheckpoint runs the interactive picker over the task's history, newest
// first. Returns the chosen hash, or empty when cancelled.
func pickCheckpoint(infos []store.CommitInfo) (string, error) {
	options := make([]huh.Option[string], 0, len(infos)+1)
	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		timestamp := info.When.Format("2006-01-02 15:04")
		subject := sanitizeForTerminal(trailers.Subject(info.Message))
		if i == 0 {
			subject += " [base]"
		}
		label := fmt.Sprintf("%s (%s) %s", shortHash(info.Hash), timestamp, subject)
		options = append(options, huh.NewOption(label, info.Hash))
	}
	options = append(options, huh.NewOption("Cancel", "cancel"))

	var selected string
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Select a checkpoint to restore").
				Description("Your workspace will be rolled back to this checkpoint's state").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("selection cancelled: %w", err)
	}
	if selected == "cancel" {
		return "", nil
	}
	return selected, nil
}

// resolveCheckpointArg expands a possibly shortened checkpoint id against the
// task's history. The literal "base" names the task's starting state.
func resolveCheckpointArg(arg string, infos []store.CommitInfo) (string, error) {
	if arg == "base" && len(infos) > 0 {
		return infos[0].Hash, nil
	}
	var matches []string
	for _, info := range infos {
		if strings.HasPrefix(info.Hash, arg) {
			matches = append(matches, info.Hash)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no checkpoint matches %s", arg)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%s is ambiguous: %d checkpoints match", arg, len(matches))
	}
}

// checkpointsAfter counts the checkpoints recorded after hash, which a
// restore to hash would discard.
func checkpointsAfter(infos []store.CommitInfo, hash string) int {
	for i, info := range infos {
		if info.Hash == hash {
			return len(infos) - 1 - i
		}
	}
	return 0
}

func checkpointSubject(infos []store.CommitInfo, hash string) string {
	for _, info := range infos {
		if info.Hash == hash {
			return trailers.Subject(info.Message)
		}
	}
	return ""
}
