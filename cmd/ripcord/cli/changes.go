package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/ripcordio/cli/cmd/ripcord/cli/diffstat"
	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/orchestrator"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/settings"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/taskstate"
	"github.com/ripcordio/cli/cmd/ripcord/cli/tracker"
)

// initTaskLogging routes logs for a task-scoped command to the task's log
// file. Returns a cleanup function that should be deferred.
func initTaskLogging(taskID string) func() {
	logging.SetLogLevelGetter(settings.GetLogLevel)
	if err := logging.Init(taskID); err != nil {
		// Init failed - logging will use stderr fallback
		return func() {}
	}
	return logging.Close
}

// taskView bundles what a one-shot command needs to inspect or mutate a
// task's changeset: the orchestrator, a tracker rehydrated from the cached
// task state, and the state store for persisting mutations. Watch and serve
// mode run a live controller instead; one-shot commands recompute from the
// persisted baseline each invocation.
type taskView struct {
	root    string
	taskID  string
	orch    *orchestrator.Orchestrator
	states  *taskstate.Store
	track   *tracker.Tracker
	cleanup func()
}

// openTaskView resolves the task, opens its orchestrator, and rehydrates the
// tracker from the cached task state. The tracker's baseline is the cached
// one when present, otherwise the task's base snapshot. Orchestrator notices
// are printed to w before any error is returned.
func openTaskView(ctx context.Context, w io.Writer, taskFlag string) (*taskView, error) {
	root, err := paths.WorkspaceRoot()
	if err != nil {
		return nil, err
	}
	taskID, err := resolveTaskID(taskFlag)
	if err != nil {
		return nil, err
	}
	cleanup := initTaskLogging(taskID)

	orch, err := openOrchestrator(root, taskID)
	if err != nil {
		cleanup()
		return nil, err
	}
	initErr := orch.Init(ctx)
	printNotice(w, orch)
	if initErr != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open task %s: %w", taskID, initErr)
	}

	states := taskstate.NewStore(root)
	cached, err := states.Load(ctx, taskID)
	if err != nil {
		// The cache is rebuildable; an unreadable file must not block the
		// command.
		logging.Warn(ctx, "ignoring unreadable task state", "task_id", taskID, "error", err)
		cached = nil
	}

	baseline := ""
	var accepted map[string]string
	if cached != nil {
		baseline = cached.Baseline
		accepted = cached.AcceptedBaselines
	}
	if baseline == "" {
		baseline, err = orch.BaseHash(ctx)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to resolve base snapshot: %w", err)
		}
	}

	return &taskView{
		root:    root,
		taskID:  taskID,
		orch:    orch,
		states:  states,
		track:   tracker.NewWithAccepted(baseline, accepted),
		cleanup: cleanup,
	}, nil
}

// close flushes the task log file.
func (v *taskView) close() {
	if v.cleanup != nil {
		v.cleanup()
	}
}

// refresh recomputes the visible changeset: the cumulative drift from the
// tracker's baseline to the working tree, rebased onto each file's
// acceptance point.
func (v *taskView) refresh(ctx context.Context) (tracker.Changeset, error) {
	baseline := v.track.Baseline()
	diffs, err := v.diffRange(ctx, baseline, tracker.WorkingTree)
	if err != nil {
		return tracker.Changeset{}, fmt.Errorf("failed to diff against baseline %s: %w", shortHash(baseline), err)
	}
	candidates := make([]tracker.FileChange, 0, len(diffs))
	for _, d := range diffs {
		stats := diffstat.Compute(d.Before, d.After)
		candidates = append(candidates, tracker.FileChange{
			URI:            d.Path,
			Kind:           d.Type,
			Added:          stats.Added,
			Removed:        stats.Removed,
			FromCheckpoint: baseline,
			ToCheckpoint:   tracker.WorkingTree,
		})
	}
	return v.track.Set(ctx, candidates, v.diffRange, tracker.WorkingTree), nil
}

// diffRange adapts the orchestrator's diff to checkpoint-id space, where
// tracker.WorkingTree stands for the live tree.
func (v *taskView) diffRange(ctx context.Context, from, to string) ([]store.FileDiff, error) {
	opts := store.DiffOptions{From: from}
	if to != tracker.WorkingTree {
		opts.To = to
	}
	return v.orch.Diff(ctx, opts)
}

// rangeChangeset builds a raw changeset between two checkpoints, ignoring
// acceptance history. Used for explicit --from/--to ranges.
func (v *taskView) rangeChangeset(ctx context.Context, from, to string) (tracker.Changeset, error) {
	diffs, err := v.diffRange(ctx, from, to)
	if err != nil {
		return tracker.Changeset{}, fmt.Errorf("failed to diff %s..%s: %w", shortHash(from), shortHash(to), err)
	}
	files := make([]tracker.FileChange, 0, len(diffs))
	for _, d := range diffs {
		stats := diffstat.Compute(d.Before, d.After)
		files = append(files, tracker.FileChange{
			URI:            d.Path,
			Kind:           d.Type,
			Added:          stats.Added,
			Removed:        stats.Removed,
			FromCheckpoint: from,
			ToCheckpoint:   to,
		})
	}
	return tracker.Changeset{Baseline: from, Files: files}, nil
}

// accept hides uri from the changeset and records its acceptance baseline.
// Working-tree content is checkpointed first so the baseline names a real
// snapshot.
func (v *taskView) accept(ctx context.Context, uri string) error {
	entry, ok := v.track.Change(uri)
	if !ok {
		return fmt.Errorf("no tracked change for %s", uri)
	}
	at := entry.ToCheckpoint
	if at == tracker.WorkingTree {
		resolved, err := v.ensureCheckpoint(ctx, "Accept "+uri)
		if err != nil {
			return fmt.Errorf("failed to checkpoint accepted content: %w", err)
		}
		at = resolved
	}
	v.track.AcceptChangeAt(uri, at)
	return nil
}

// acceptAll advances the baseline to a checkpoint of the current tree,
// hiding every visible change at once.
func (v *taskView) acceptAll(ctx context.Context) error {
	if v.track.Len() == 0 {
		return nil
	}
	latest, err := v.ensureCheckpoint(ctx, "Accept all changes")
	if err != nil {
		return fmt.Errorf("failed to checkpoint accepted content: %w", err)
	}
	v.track.AcceptAll(latest)
	return nil
}

// reject reverts uri to its per-file baseline and hides it. On revert
// failure the change stays visible so the failure cannot hide an edit.
func (v *taskView) reject(ctx context.Context, uri string) error {
	entry, ok := v.track.Change(uri)
	if !ok {
		return fmt.Errorf("no tracked change for %s", uri)
	}
	if err := v.orch.RevertFile(ctx, entry.FromCheckpoint, uri); err != nil {
		return fmt.Errorf("failed to revert %s: %w", uri, err)
	}
	v.track.RejectChange(uri)
	return nil
}

// ensureCheckpoint resolves the live working tree to a concrete checkpoint
// id, saving one when the tree has drifted past the latest.
func (v *taskView) ensureCheckpoint(ctx context.Context, message string) (string, error) {
	res, err := v.orch.Save(ctx, message, store.SaveOptions{})
	if err != nil {
		return "", err
	}
	if res != nil {
		return res.Hash, nil
	}
	return v.orch.LatestCheckpoint(ctx)
}

// persist writes the tracker's baseline and acceptance history back to the
// task state cache so the next invocation continues from it.
func (v *taskView) persist(ctx context.Context) error {
	state := &taskstate.State{
		TaskID:            v.taskID,
		Baseline:          v.track.Baseline(),
		AcceptedBaselines: v.track.AcceptedBaselines(),
	}
	if err := v.states.Save(ctx, state); err != nil {
		return fmt.Errorf("failed to persist task state: %w", err)
	}
	logging.Debug(ctx, "task state persisted",
		"task_id", v.taskID, "baseline", state.Baseline, "accepted", len(state.AcceptedBaselines))
	return nil
}
