package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/redact"

	"github.com/spf13/cobra"
)

func newShowCmd() *cobra.Command {
	var taskFlag string

	cmd := &cobra.Command{
		Use:   "show <checkpoint> <path>",
		Short: "Print a file as it was at a checkpoint",
		Long: `Prints the checkpointed content of a file. Pipe the output to a file to
recover it without touching the rest of the workspace; piped output is
byte-exact, while terminal output has secrets redacted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			return runShow(cmd.Context(), cmd.OutOrStdout(), taskFlag, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")

	return cmd
}

func runShow(ctx context.Context, w io.Writer, taskFlag, checkpoint, path string) error {
	v, err := openTaskView(ctx, w, taskFlag)
	if err != nil {
		return err
	}
	defer v.close()

	infos, err := v.orch.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to read task history: %w", err)
	}
	hash, err := resolveCheckpointArg(checkpoint, infos)
	if err != nil {
		return err
	}
	rel, err := workspaceRelative(v.root, []string{path})
	if err != nil {
		return err
	}
	uri := rel[0]

	content, err := v.orch.Content(ctx, hash, uri)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			return fmt.Errorf("%s does not exist at checkpoint %s", uri, shortHash(hash))
		}
		return fmt.Errorf("failed to read %s at %s: %w", uri, shortHash(hash), err)
	}

	if isTerminal(w) {
		content = redact.Bytes(content)
	}
	_, err = w.Write(content)
	return err
}
