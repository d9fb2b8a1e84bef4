package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/jsonutil"
	"github.com/ripcordio/cli/cmd/ripcord/cli/trailers"

	"github.com/spf13/cobra"
)

func newLogCmd() *cobra.Command {
	var taskFlag string
	var jsonFlag bool

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List the task's checkpoints",
		Long:  "Lists the task's checkpoints newest first. The * marks the latest checkpoint, the state a plain restore would keep.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.OutOrStdout()) {
				return nil
			}
			return runLog(cmd.Context(), cmd.OutOrStdout(), taskFlag, jsonFlag)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")
	cmd.Flags().BoolVar(&jsonFlag, "json", false, "Emit the history as JSON")

	return cmd
}

// logEntry is the JSON shape of one history line.
type logEntry struct {
	Hash    string    `json:"hash"`
	Subject string    `json:"subject"`
	When    time.Time `json:"when"`
	Base    bool      `json:"base,omitempty"`
}

func runLog(ctx context.Context, w io.Writer, taskFlag string, jsonOut bool) error {
	v, err := openTaskView(ctx, w, taskFlag)
	if err != nil {
		return err
	}
	defer v.close()

	infos, err := v.orch.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to read task history: %w", err)
	}

	if jsonOut {
		entries := make([]logEntry, 0, len(infos))
		for i := len(infos) - 1; i >= 0; i-- {
			info := infos[i]
			entries = append(entries, logEntry{
				Hash:    info.Hash,
				Subject: trailers.Subject(info.Message),
				When:    info.When,
				Base:    i == 0,
			})
		}
		data, err := jsonutil.MarshalIndentWithNewline(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal history: %w", err)
		}
		_, err = w.Write(data)
		return err
	}

	for i := len(infos) - 1; i >= 0; i-- {
		info := infos[i]
		marker := " "
		if i == len(infos)-1 {
			marker = "*"
		}
		subject := sanitizeForTerminal(trailers.Subject(info.Message))
		if i == 0 {
			subject += " [base]"
		}
		fmt.Fprintf(w, "%s %s (%s, %s) %s\n",
			marker, shortHash(info.Hash), info.When.Format("2006-01-02 15:04"), timeAgo(info.When), subject)
	}
	return nil
}
