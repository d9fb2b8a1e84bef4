package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ripcordio/cli/cmd/ripcord/cli/diffstat"
	"github.com/ripcordio/cli/cmd/ripcord/cli/jsonutil"
	"github.com/ripcordio/cli/cmd/ripcord/cli/tracker"
	"github.com/ripcordio/cli/redact"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newDiffCmd() *cobra.Command {
	var taskFlag string
	var fromFlag string
	var toFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "diff [path]",
		Short: "Show what changed since the baseline",
		Long: `Without flags, lists the task's visible changeset: every file that drifted
from the baseline, rebased past the changes already accepted. With --from
(and optionally --to) the raw range between two checkpoints is shown
instead, ignoring acceptance state. A path argument prints that file's
diff body.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runDiff(cmd.Context(), cmd.OutOrStdout(), diffArgs{
				task: taskFlag,
				from: fromFlag,
				to:   toFlag,
				json: jsonFlag,
				path: path,
			})
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")
	cmd.Flags().StringVar(&fromFlag, "from", "", "Diff from this checkpoint instead of the baseline")
	cmd.Flags().StringVar(&toFlag, "to", "", "Diff to this checkpoint instead of the working tree (requires --from)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit the changeset as JSON")

	return cmd
}

type diffArgs struct {
	task string
	from string
	to   string
	json bool
	path string
}

func runDiff(ctx context.Context, w io.Writer, args diffArgs) error {
	if args.to != "" && args.from == "" {
		return errors.New("--to requires --from")
	}

	v, err := openTaskView(ctx, w, args.task)
	if err != nil {
		return err
	}
	defer v.close()

	var cs tracker.Changeset
	if args.from != "" {
		infos, histErr := v.orch.History(ctx)
		if histErr != nil {
			return fmt.Errorf("failed to read task history: %w", histErr)
		}
		fromHash, resolveErr := resolveCheckpointArg(args.from, infos)
		if resolveErr != nil {
			return resolveErr
		}
		toHash := tracker.WorkingTree
		if args.to != "" {
			toHash, resolveErr = resolveCheckpointArg(args.to, infos)
			if resolveErr != nil {
				return resolveErr
			}
		}
		cs, err = v.rangeChangeset(ctx, fromHash, toHash)
	} else {
		cs, err = v.refresh(ctx)
	}
	if err != nil {
		return err
	}

	if args.path != "" {
		rel, relErr := workspaceRelative(v.root, []string{args.path})
		if relErr != nil {
			return relErr
		}
		uri := rel[0]
		if args.json {
			return writeChangesetJSON(w, filterChangeset(cs, uri))
		}
		return printDiffBody(ctx, w, v, cs, uri)
	}

	if args.json {
		return writeChangesetJSON(w, cs)
	}
	printChangeList(w, cs)
	return nil
}

// printDiffBody renders one file's diff. Terminal output passes through
// secret redaction; piped output stays raw.
func printDiffBody(ctx context.Context, w io.Writer, v *taskView, cs tracker.Changeset, uri string) error {
	var entry *tracker.FileChange
	for i := range cs.Files {
		if cs.Files[i].URI == uri {
			entry = &cs.Files[i]
			break
		}
	}
	if entry == nil {
		return fmt.Errorf("no tracked change for %s", uri)
	}

	diffs, err := v.diffRange(ctx, entry.FromCheckpoint, entry.ToCheckpoint)
	if err != nil {
		return fmt.Errorf("failed to diff %s: %w", uri, err)
	}
	for _, d := range diffs {
		if d.Path != uri {
			continue
		}
		if d.Binary {
			fmt.Fprintf(w, "Binary file %s differs\n", uri)
			return nil
		}
		body := diffstat.Render(d.Before, d.After)
		if body == "" {
			fmt.Fprintf(w, "No textual changes in %s\n", uri)
			return nil
		}
		if isTerminal(w) {
			body = redact.DiffText(body)
		}
		fmt.Fprintf(w, "%s %s  +%d -%d\n", entry.Kind, uri, entry.Added, entry.Removed)
		fmt.Fprint(w, body)
		if !strings.HasSuffix(body, "\n") {
			fmt.Fprintln(w)
		}
		return nil
	}
	// The file converged between the changeset computation and this diff.
	return fmt.Errorf("no tracked change for %s", uri)
}

func printChangeList(w io.Writer, cs tracker.Changeset) {
	if len(cs.Files) == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}
	totalAdded, totalRemoved := 0, 0
	for _, f := range cs.Files {
		totalAdded += f.Added
		totalRemoved += f.Removed
		marker := ""
		if f.FromCheckpoint != cs.Baseline {
			marker = fmt.Sprintf("  (since %s)", shortHash(f.FromCheckpoint))
		}
		fmt.Fprintf(w, "%-7s %s  +%d -%d%s\n", f.Kind, f.URI, f.Added, f.Removed, marker)
	}
	fmt.Fprintf(w, "%d file(s) changed, +%d -%d from %s\n",
		len(cs.Files), totalAdded, totalRemoved, shortHash(cs.Baseline))
}

func writeChangesetJSON(w io.Writer, cs tracker.Changeset) error {
	data, err := jsonutil.MarshalIndentWithNewline(cs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal changeset: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func filterChangeset(cs tracker.Changeset, uri string) tracker.Changeset {
	filtered := tracker.Changeset{Baseline: cs.Baseline}
	for _, f := range cs.Files {
		if f.URI == uri {
			filtered.Files = append(filtered.Files, f)
		}
	}
	return filtered
}

// isTerminal reports whether w is a live terminal, which decides whether
// output passes through secret redaction. Piped output stays byte-exact so
// files can be recovered from it.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
