package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/orchestrator"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/reconcile"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/taskstate"
	"github.com/ripcordio/cli/cmd/ripcord/cli/tracker"
	"github.com/ripcordio/cli/cmd/ripcord/cli/watcher"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newWatchCmd() *cobra.Command {
	var taskFlag string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the workspace and stream changeset updates",
		Long: `Attaches to the task, watches the workspace for edits, and prints the
reconciled changeset to stdout as newline-delimited JSON whenever it
settles. Runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if checkDisabledGuard(cmd.ErrOrStderr()) {
				return nil
			}
			return runWatch(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), taskFlag)
		},
	}

	cmd.Flags().StringVar(&taskFlag, "task", "", "Task ID to operate on (default: current task)")

	return cmd
}

func runWatch(ctx context.Context, out, human io.Writer, taskFlag string) error {
	emitter := newJSONEmitter(out)
	s, err := openWatchSession(ctx, human, taskFlag, func(cs *tracker.Changeset) {
		emitter.emit(filesChangedEvent{Event: "filesChanged", Changeset: cs})
	})
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintf(human, "Watching %s (task %s). Press Ctrl-C to stop.\n", s.root, s.taskID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pump(gctx) })
	runErr := g.Wait()

	if err := s.shutdown(); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	fmt.Fprintln(human, "Stopped.")
	return nil
}

// filesChangedEvent is the outbound notification carrying the current
// changeset. A null changeset tells the client to clear its display.
type filesChangedEvent struct {
	Event     string             `json:"event"`
	Changeset *tracker.Changeset `json:"changeset"`
}

// jsonEmitter serializes newline-delimited JSON writes. The notifier runs
// on the controller's goroutine while command replies come from the
// dispatch loop, so emits must not interleave.
type jsonEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONEmitter(w io.Writer) *jsonEmitter {
	return &jsonEmitter{enc: json.NewEncoder(w)}
}

func (e *jsonEmitter) emit(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(v); err != nil {
		logging.Warn(context.Background(), "failed to emit event", "error", err)
	}
}

// watchSession is a live reconciliation session: a controller attached to
// the task's orchestrator, fed by a filesystem watcher. Both watch and
// serve mode run one.
type watchSession struct {
	root    string
	taskID  string
	orch    *orchestrator.Orchestrator
	states  *taskstate.Store
	ctrl    *reconcile.Controller
	fsw     *watcher.Watcher
	cleanup func()
}

// initWatchLogging routes logs to the task's log file with rotation, since
// a session can run for days. Returns a cleanup function.
func initWatchLogging(taskID string) func() {
	logging.SetLogLevelGetter(settings.GetLogLevel)
	if err := logging.InitRotating(taskID); err != nil {
		// Init failed - logging will use stderr fallback
		return func() {}
	}
	return logging.Close
}

// openWatchSession resolves the task, attaches a controller carrying the
// cached reconciliation state, saves a session-start checkpoint, and
// starts the filesystem watcher. Human-readable notices go to human;
// changeset updates flow through notify.
func openWatchSession(ctx context.Context, human io.Writer, taskFlag string, notify reconcile.Notifier) (*watchSession, error) {
	root, err := paths.WorkspaceRoot()
	if err != nil {
		return nil, err
	}
	taskID, err := resolveTaskID(taskFlag)
	if err != nil {
		return nil, err
	}
	cleanup := initWatchLogging(taskID)

	cfg, err := settings.Load()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	orch, err := openOrchestrator(root, taskID)
	if err != nil {
		cleanup()
		return nil, err
	}
	initErr := orch.Init(ctx)
	printNotice(human, orch)
	if initErr != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open task %s: %w", taskID, initErr)
	}

	states := taskstate.NewStore(root)
	cached, err := states.Load(ctx, taskID)
	if err != nil {
		// The cache is rebuildable; an unreadable file must not block the
		// session.
		logging.Warn(ctx, "ignoring unreadable task state", "task_id", taskID, "error", err)
		cached = nil
	}
	baseline := ""
	if cached != nil {
		baseline = cached.Baseline
	}
	if baseline == "" {
		baseline, err = orch.BaseHash(ctx)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to resolve base snapshot: %w", err)
		}
	}

	ctrl := reconcile.Attach(ctx, orch, taskID, priorTaskState(cached), reconcile.Options{
		Debounce:    cfg.DebounceInterval(),
		MaxDebounce: cfg.MaxDebounceInterval(),
		Notify:      notify,
	})
	// The attachment starts out distrusting any earlier baseline. The CLI
	// owns the persisted one, so it is re-adopted explicitly; the one-shot
	// commands measure from the same anchor.
	if err := ctrl.UpdateBaseline(ctx, baseline); err != nil {
		ctrl.Close()
		cleanup()
		return nil, fmt.Errorf("failed to establish baseline: %w", err)
	}

	// Capture whatever changed since the last checkpoint before edits start
	// flowing, so the pre-session tree stays recoverable.
	if _, err := orch.Save(ctx, "Watch session started", store.SaveOptions{}); err != nil {
		ctrl.Close()
		cleanup()
		return nil, fmt.Errorf("failed to save the session start checkpoint: %w", err)
	}

	fsw, err := watcher.New(root, store.Excludes(root, cfg.Exclude))
	if err != nil {
		ctrl.Close()
		cleanup()
		return nil, err
	}
	if err := fsw.Start(); err != nil {
		ctrl.Close()
		cleanup()
		return nil, err
	}

	return &watchSession{
		root:    root,
		taskID:  taskID,
		orch:    orch,
		states:  states,
		ctrl:    ctrl,
		fsw:     fsw,
		cleanup: cleanup,
	}, nil
}

// pump feeds watcher events into the controller until the watcher closes
// or ctx is cancelled.
func (s *watchSession) pump(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-s.fsw.Events():
			if !ok {
				return nil
			}
			s.ctrl.NotifyEdit(ev.Path)
		case err, ok := <-s.fsw.Errors():
			if !ok {
				return nil
			}
			logging.Warn(ctx, "watch error", "error", err)
		}
	}
}

// shutdown stops the watcher, detaches the controller, and persists its
// state for the next attachment. The command context is usually already
// cancelled when shutdown runs, so persistence uses its own.
func (s *watchSession) shutdown() error {
	ctx := context.Background()
	if err := s.fsw.Stop(); err != nil {
		logging.Warn(ctx, "failed to stop watcher", "error", err)
	}
	state := s.ctrl.Close()
	if err := s.states.Save(ctx, cacheTaskState(state)); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}
	return nil
}

// close flushes the task log file.
func (s *watchSession) close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// priorTaskState rebuilds the controller handoff state from the cached
// task state, or returns nil to start fresh.
func priorTaskState(cached *taskstate.State) *reconcile.TaskState {
	if cached == nil {
		return nil
	}
	st := reconcile.NewTaskState(cached.TaskID)
	st.Tracker = tracker.NewWithAccepted(cached.Baseline, cached.AcceptedBaselines)
	for _, uri := range cached.QueuedPaths {
		st.Queued[uri] = struct{}{}
	}
	st.Waiting = cached.Waiting
	return st
}

// cacheTaskState converts a detached controller's state to the persisted
// form.
func cacheTaskState(st *reconcile.TaskState) *taskstate.State {
	queued := make([]string, 0, len(st.Queued))
	for uri := range st.Queued {
		queued = append(queued, uri)
	}
	sort.Strings(queued)
	return &taskstate.State{
		TaskID:            st.TaskID,
		Baseline:          st.Tracker.Baseline(),
		AcceptedBaselines: st.Tracker.AcceptedBaselines(),
		QueuedPaths:       queued,
		Waiting:           st.Waiting,
	}
}
