package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAcceptCmd() *cobra.Command {
	var taskFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "accept [paths...]",
		Short: "Accept changes, hiding them from the changeset",
		Long: `Marks changes as reviewed. Accepted files disappear from the changeset and
future diffs for them are measured from the accepted state, so only new
drift shows up. --all accepts every visible change at once and advances
the baseline.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			if !allFlag && len(args) == 0 {
				return errors.New("accept needs at least one path or --all")
			}
			if allFlag && len(args) > 0 {
				return errors.New("--all cannot be combined with paths")
			}
			return runAccept(cmd.Context(), cmd.OutOrStdout(), taskFlag, allFlag, args)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "Accept every visible change")

	return cmd
}

func runAccept(ctx context.Context, w io.Writer, taskFlag string, all bool, args []string) error {
	v, err := openTaskView(ctx, w, taskFlag)
	if err != nil {
		return err
	}
	defer v.close()

	if _, err := v.refresh(ctx); err != nil {
		return err
	}

	if all {
		count := v.track.Len()
		if count == 0 {
			fmt.Fprintln(w, "No changes to accept.")
			return nil
		}
		if err := v.acceptAll(ctx); err != nil {
			return err
		}
		if err := v.persist(ctx); err != nil {
			return err
		}
		fmt.Fprintf(w, "Accepted %d change(s); baseline is now %s\n", count, shortHash(v.track.Baseline()))
		return nil
	}

	uris, err := workspaceRelative(v.root, args)
	if err != nil {
		return err
	}

	var failed error
	accepted := 0
	for _, uri := range uris {
		if err := v.accept(ctx, uri); err != nil {
			failed = err
			break
		}
		accepted++
		fmt.Fprintf(w, "Accepted %s\n", uri)
	}
	if accepted > 0 {
		if err := v.persist(ctx); err != nil {
			return err
		}
	}
	return failed
}
