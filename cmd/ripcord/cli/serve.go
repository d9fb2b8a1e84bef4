package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ripcordio/cli/cmd/ripcord/cli/jsonutil"
	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/tracker"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// maxServeLineBytes bounds a single command line. Commands are tiny; a
// line this long means the client is not speaking the protocol.
const maxServeLineBytes = 1 << 20

// errClientClosed ends the session when the client closes stdin.
var errClientClosed = errors.New("client closed the command stream")

func newServeCmd() *cobra.Command {
	var taskFlag string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the reconciliation session over stdio",
		Long: `Runs a reconciliation session driven by newline-delimited JSON commands
on stdin, replying with events on stdout:

  {"command":"acceptFileChange","uri":"main.go"}
  {"command":"rejectFileChange","uri":"main.go"}
  {"command":"acceptAllFileChanges"}
  {"command":"rejectAllFileChanges","uris":["a.go","b.go"]}
  {"command":"viewDiff","uri":"main.go"}
  {"command":"filesChangedRequest"}
  {"command":"filesChangedBaselineUpdate","baseline":"<checkpoint>"}

Changeset updates stream as {"event":"filesChanged","changeset":{...}};
a null changeset clears the display. Intended to be driven by an editor
integration; humans want 'ripcord watch'.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.ErrOrStderr()) {
				return nil
			}
			return runServe(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), taskFlag)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")

	return cmd
}

func runServe(ctx context.Context, in io.Reader, out, human io.Writer, taskFlag string) error {
	emitter := newJSONEmitter(out)
	s, err := openWatchSession(ctx, human, taskFlag, func(cs *tracker.Changeset) {
		emitter.emit(filesChangedEvent{Event: "filesChanged", Changeset: cs})
	})
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintf(human, "Serving task %s on stdio.\n", s.taskID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pump(gctx) })
	g.Go(func() error { return s.serveLoop(gctx, in, emitter) })
	runErr := g.Wait()

	if err := s.shutdown(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, errClientClosed) {
		return runErr
	}
	return nil
}

// serveRequest is one decoded stdin command. Fields beyond Command are
// set by the commands that need them.
type serveRequest struct {
	Command  string   `json:"command"`
	URI      string   `json:"uri,omitempty"`
	URIs     []string `json:"uris,omitempty"`
	Baseline string   `json:"baseline,omitempty"`
}

// diffEvent is the reply to a viewDiff command. Content is omitted for
// binary files.
type diffEvent struct {
	Event  string           `json:"event"`
	URI    string           `json:"uri"`
	Kind   store.ChangeType `json:"kind"`
	Before string           `json:"before"`
	After  string           `json:"after"`
	Binary bool             `json:"binary"`
}

func newDiffEvent(uri string, d store.FileDiff) diffEvent {
	ev := diffEvent{Event: "diff", URI: uri, Kind: d.Type, Binary: d.Binary}
	if !d.Binary {
		ev.Before = d.Before
		ev.After = d.After
	}
	return ev
}

// errorEvent reports a failed or malformed command to the client.
type errorEvent struct {
	Event   string `json:"event"`
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// serveLoop reads commands until stdin closes or ctx is cancelled.
func (s *watchSession) serveLoop(ctx context.Context, in io.Reader, emitter *jsonEmitter) error {
	// Scan cannot be interrupted: on cancellation the reader goroutine
	// stays parked in Read until the process exits.
	lines := make(chan []byte)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxServeLineBytes)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logging.Warn(ctx, "failed to read commands", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return errClientClosed
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			var req serveRequest
			if err := jsonutil.UnmarshalStrict(line, &req); err != nil {
				emitter.emit(errorEvent{Event: "error", Message: fmt.Sprintf("bad request: %v", err)})
				continue
			}
			s.dispatch(ctx, emitter, req)
		}
	}
}

// dispatch runs one command. Mutations rely on the controller's own
// notifier for the resulting filesChanged event; only viewDiff and
// filesChangedRequest reply directly.
func (s *watchSession) dispatch(ctx context.Context, emitter *jsonEmitter, req serveRequest) {
	var err error
	switch req.Command {
	case "acceptFileChange", "rejectFileChange", "viewDiff":
		if req.URI == "" {
			err = errors.New("uri is required")
		}
	case "filesChangedBaselineUpdate":
		if req.Baseline == "" {
			err = errors.New("baseline is required")
		}
	}
	if err != nil {
		emitter.emit(errorEvent{Event: "error", Command: req.Command, Message: err.Error()})
		return
	}

	switch req.Command {
	case "acceptFileChange":
		err = s.ctrl.Accept(ctx, req.URI)
	case "rejectFileChange":
		err = s.ctrl.Reject(ctx, req.URI)
	case "acceptAllFileChanges":
		err = s.ctrl.AcceptAll(ctx)
	case "rejectAllFileChanges":
		err = s.ctrl.RejectAll(ctx, req.URIs)
	case "viewDiff":
		var diff store.FileDiff
		diff, err = s.ctrl.ViewDiff(ctx, req.URI)
		if err == nil {
			emitter.emit(newDiffEvent(req.URI, diff))
		}
	case "filesChangedRequest":
		var cs *tracker.Changeset
		cs, err = s.ctrl.Changeset(ctx)
		if err == nil {
			emitter.emit(filesChangedEvent{Event: "filesChanged", Changeset: cs})
		}
	case "filesChangedBaselineUpdate":
		err = s.ctrl.UpdateBaseline(ctx, req.Baseline)
	default:
		err = fmt.Errorf("unknown command %q", req.Command)
	}
	if err != nil {
		emitter.emit(errorEvent{Event: "error", Command: req.Command, Message: err.Error()})
	}
}
