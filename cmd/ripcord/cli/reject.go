package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newRejectCmd() *cobra.Command {
	var taskFlag string
	var allFlag bool
	var yesFlag bool

	cmd := &cobra.Command{
		Use:   "reject [paths...]",
		Short: "Reject changes, reverting the files",
		Long: `Reverts the named files to the state their changes are measured from and
hides them from the changeset. A file accepted earlier goes back to its
accepted state, not all the way to the baseline. --all rejects every
visible change.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			if !allFlag && len(args) == 0 {
				return errors.New("reject needs at least one path or --all")
			}
			if allFlag && len(args) > 0 {
				return errors.New("--all cannot be combined with paths")
			}
			return runReject(cmd.Context(), cmd.OutOrStdout(), taskFlag, allFlag, yesFlag, args)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "Reject every visible change")
	cmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "Skip the confirmation prompt for --all")

	return cmd
}

func runReject(ctx context.Context, w io.Writer, taskFlag string, all, yes bool, args []string) error {
	v, err := openTaskView(ctx, w, taskFlag)
	if err != nil {
		return err
	}
	defer v.close()

	cs, err := v.refresh(ctx)
	if err != nil {
		return err
	}

	var targets []string
	if all {
		if len(cs.Files) == 0 {
			fmt.Fprintln(w, "No changes to reject.")
			return nil
		}
		if !yes {
			description := fmt.Sprintf("This reverts %d file(s) and loses the edits made to them!", len(cs.Files))
			if !confirmAction("Reject all changes?", description) {
				fmt.Fprintln(w, "Reject cancelled.")
				return nil
			}
		}
		for _, f := range cs.Files {
			targets = append(targets, f.URI)
		}
	} else {
		targets, err = workspaceRelative(v.root, args)
		if err != nil {
			return err
		}
	}

	var failed []string
	rejected := 0
	for _, uri := range targets {
		if err := v.reject(ctx, uri); err != nil {
			fmt.Fprintf(w, "Failed to reject %s: %v\n", uri, err)
			failed = append(failed, uri)
			continue
		}
		rejected++
		fmt.Fprintf(w, "Reverted %s\n", uri)
	}
	if rejected > 0 {
		if err := v.persist(ctx); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return NewSilentError(fmt.Errorf("failed to reject %s", strings.Join(failed, ", ")))
	}
	return nil
}
