// Package reconcile drives a task's change reconciliation session. The
// controller subscribes to checkpoint lifecycle events, batches edit
// notifications into debounced whole-tree recomputes, and keeps the
// tracker's changeset consistent with the shadow history across saves,
// restores, and completed child tasks.
//
// Each attachment owns one goroutine. Every mutation funnels through its
// message channel, so accept/reject/baseline updates land in FIFO order,
// and Close joins the goroutine before returning.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/diffstat"
	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/orchestrator"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/tracker"
)

const (
	// DefaultDebounce is the quiet window after an edit before the
	// changeset is recomputed. Further edits inside the window extend it.
	DefaultDebounce = 250 * time.Millisecond

	// DefaultMaxDebounce caps how long a sustained burst can keep
	// extending the window, measured from the first pending edit.
	DefaultMaxDebounce = time.Second

	msgBuffer = 256
)

var (
	// ErrClosed reports a command issued against a closed controller.
	ErrClosed = errors.New("reconciliation controller closed")

	// ErrChangeNotFound reports an accept/reject/diff against a path with
	// no visible change.
	ErrChangeNotFound = errors.New("no tracked change")
)

// Checkpoints is the slice of the checkpoint orchestrator the controller
// drives. *orchestrator.Orchestrator satisfies it.
type Checkpoints interface {
	Subscribe(fn orchestrator.Subscriber) (unsubscribe func())
	Save(ctx context.Context, message string, opts store.SaveOptions) (*store.SaveResult, error)
	Diff(ctx context.Context, opts store.DiffOptions) ([]store.FileDiff, error)
	RevertFile(ctx context.Context, checkpointID, path string) error
	LatestCheckpoint(ctx context.Context) (string, error)
}

// Notifier receives changeset snapshots for display. A nil changeset means
// "clear the display", distinct from an empty one that would be rendered.
// Notifiers run on the controller's goroutine: they must return promptly
// and must not call back into the controller.
type Notifier func(cs *tracker.Changeset)

// Options configures an attachment.
type Options struct {
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
	// MaxDebounce overrides DefaultMaxDebounce when it is at least
	// Debounce.
	MaxDebounce time.Duration
	// Notify receives changeset updates. Optional.
	Notify Notifier
}

// Controller reconciles one task's changeset against its shadow history.
type Controller struct {
	cp    Checkpoints
	state *TaskState
	opts  Options
	ctx   context.Context

	msgs        chan message
	done        chan struct{}
	wg          sync.WaitGroup
	closeOnce   sync.Once
	unsubscribe func()

	phase atomic.Int32

	// Owned by the run goroutine.
	pending   map[string]struct{}
	firstEdit time.Time
	timer     *time.Timer
}

type message interface{ message() }

type editMsg struct{ uri string }

type wildcardMsg struct{}

type eventMsg struct{ ev orchestrator.Event }

type resultMsg struct {
	baseline   string
	to         string
	candidates []tracker.FileChange
	err        error
}

type commandMsg struct {
	ctx  context.Context
	run  func(ctx context.Context)
	done chan struct{}
}

func (editMsg) message()     {}
func (wildcardMsg) message() {}
func (eventMsg) message()    {}
func (resultMsg) message()   {}
func (commandMsg) message()  {}

// Attach starts reconciliation for a task. prior carries the TaskState
// from an earlier attachment of the same task; nil or a different task's
// state starts fresh. The controller never trusts a baseline from before
// the attachment: it begins in PhaseWaitingForBaseline and queues edits
// until the next checkpoint event, prior state included.
//
// ctx is the base context for background recomputes and logging; it is
// not a cancellation mechanism for the attachment itself, which ends only
// with Close.
func Attach(ctx context.Context, cp Checkpoints, taskID string, prior *TaskState, opts Options) *Controller {
	state := prior
	if state == nil || state.TaskID != taskID {
		state = NewTaskState(taskID)
	}
	if state.Tracker == nil {
		state.Tracker = tracker.New("")
	}
	if state.Queued == nil {
		state.Queued = make(map[string]struct{})
	}
	state.Waiting = true

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxDebounce < opts.Debounce {
		opts.MaxDebounce = DefaultMaxDebounce
	}

	c := &Controller{
		cp:      cp,
		state:   state,
		opts:    opts,
		ctx:     logging.WithComponent(logging.WithTask(ctx, taskID), "reconcile"),
		msgs:    make(chan message, msgBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]struct{}),
	}
	c.phase.Store(int32(PhaseWaitingForBaseline))

	c.unsubscribe = cp.Subscribe(c.observe)
	c.wg.Add(1)
	go c.run()

	logging.Debug(c.ctx, "reconciliation attached", "queued", len(state.Queued))
	return c
}

// TaskID returns the attached task's id.
func (c *Controller) TaskID() string { return c.state.TaskID }

// Phase reports the controller's current baseline trust state.
func (c *Controller) Phase() Phase { return Phase(c.phase.Load()) }

// Close detaches the controller: it unsubscribes from checkpoint events,
// cancels the debounce timer, joins the owning goroutine, and returns the
// TaskState for a later reattachment. No notifier or recompute runs after
// Close returns.
func (c *Controller) Close() *TaskState {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		close(c.done)
	})
	c.wg.Wait()
	return c.state
}

// NotifyEdit reports that a workspace file changed. uri is workspace
// relative. Bursts coalesce into a single recompute once they settle.
func (c *Controller) NotifyEdit(uri string) {
	c.post(editMsg{uri: uri})
}

// NotifyWildcard forces a full recompute against the current baseline,
// bypassing the debounce window.
func (c *Controller) NotifyWildcard() {
	c.post(wildcardMsg{})
}

// Accept settles uri's visible change: the file's current content enters a
// checkpoint and future diffs for it are measured from there.
func (c *Controller) Accept(ctx context.Context, uri string) error {
	var cmdErr error
	if err := c.command(ctx, func(ctx context.Context) {
		cmdErr = c.accept(ctx, uri)
	}); err != nil {
		return err
	}
	return cmdErr
}

// Reject discards uri's visible change by reverting the file to the
// checkpoint its diff was measured from. On revert failure the change
// stays visible rather than vanishing silently.
func (c *Controller) Reject(ctx context.Context, uri string) error {
	var cmdErr error
	if err := c.command(ctx, func(ctx context.Context) {
		cmdErr = c.reject(ctx, uri)
	}); err != nil {
		return err
	}
	return cmdErr
}

// AcceptAll settles every visible change and advances the global baseline
// to the latest checkpoint.
func (c *Controller) AcceptAll(ctx context.Context) error {
	var cmdErr error
	if err := c.command(ctx, func(ctx context.Context) {
		cmdErr = c.acceptAll(ctx)
	}); err != nil {
		return err
	}
	return cmdErr
}

// RejectAll rejects the named changes, or every visible change when uris
// is nil. Files whose revert fails stay visible and are reported together.
func (c *Controller) RejectAll(ctx context.Context, uris []string) error {
	var cmdErr error
	if err := c.command(ctx, func(ctx context.Context) {
		cmdErr = c.rejectAll(ctx, uris)
	}); err != nil {
		return err
	}
	return cmdErr
}

// ViewDiff returns the full before/after content for uri's visible change.
func (c *Controller) ViewDiff(ctx context.Context, uri string) (store.FileDiff, error) {
	var (
		diff   store.FileDiff
		cmdErr error
	)
	if err := c.command(ctx, func(ctx context.Context) {
		diff, cmdErr = c.viewDiff(ctx, uri)
	}); err != nil {
		return store.FileDiff{}, err
	}
	return diff, cmdErr
}

// Changeset returns the current displayable changeset, or nil when there
// is nothing to display.
func (c *Controller) Changeset(ctx context.Context) (*tracker.Changeset, error) {
	var snapshot *tracker.Changeset
	if err := c.command(ctx, func(context.Context) {
		if c.Phase() == PhaseMonitoring && c.state.Tracker.Len() > 0 {
			cs := c.state.Tracker.Changeset()
			snapshot = &cs
		}
	}); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// UpdateBaseline adopts a client-supplied baseline and starts monitoring
// against it immediately, skipping the wait for a checkpoint event.
func (c *Controller) UpdateBaseline(ctx context.Context, baseline string) error {
	return c.command(ctx, func(context.Context) {
		if c.Phase() == PhaseDetached {
			logging.Debug(c.ctx, "ignoring baseline update while detached", "baseline", baseline)
			return
		}
		logging.Info(c.ctx, "baseline updated by client", "baseline", baseline)
		c.state.Tracker.SetBaseline(baseline)
		c.setPhase(PhaseMonitoring)
		c.drainQueued()
		c.clearPending()
		c.recompute(tracker.WorkingTree)
	})
}

// ChildCompleted folds a finished child task's paths into this task's
// view. They travel the same queue as edits: held until a baseline is
// trusted, debounced into the next recompute otherwise. When the child
// tracked no paths, fallback recovers them by diffing the child's own
// store against its last baseline; call it before disposing the child.
func (c *Controller) ChildCompleted(ctx context.Context, uris []string, fallback func(context.Context) ([]string, error)) error {
	if len(uris) == 0 && fallback != nil {
		recovered, err := fallback(ctx)
		if err != nil {
			logging.Warn(ctx, "failed to recover completed child task changes", "error", err)
			return fmt.Errorf("failed to recover completed child task changes: %w", err)
		}
		uris = recovered
	}
	if len(uris) == 0 {
		return nil
	}
	return c.command(ctx, func(context.Context) {
		logging.Debug(c.ctx, "merging child task changes", "count", len(uris))
		for _, uri := range uris {
			c.noteEdit(uri)
		}
	})
}

// command runs fn on the controller goroutine and waits for it.
func (c *Controller) command(ctx context.Context, fn func(ctx context.Context)) error {
	m := commandMsg{ctx: ctx, run: fn, done: make(chan struct{})}
	select {
	case c.msgs <- m:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-m.done:
		return nil
	case <-c.done:
		select {
		case <-m.done:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (c *Controller) post(m message) {
	select {
	case c.msgs <- m:
	case <-c.done:
	}
}

// observe receives orchestrator events. A save issued from a command runs
// on the loop goroutine and emits its checkpoint event while the loop is
// busy, so a full channel hands off to a goroutine rather than blocking
// the emitter.
func (c *Controller) observe(ev orchestrator.Event) {
	m := eventMsg{ev: ev}
	select {
	case c.msgs <- m:
	case <-c.done:
	default:
		go c.post(m)
	}
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		var timerC <-chan time.Time
		if c.timer != nil {
			timerC = c.timer.C
		}
		select {
		case <-c.done:
			if c.timer != nil {
				c.timer.Stop()
				c.timer = nil
			}
			return
		case m := <-c.msgs:
			c.handle(m)
		case <-timerC:
			c.timer = nil
			c.flushEdits()
		}
	}
}

func (c *Controller) handle(m message) {
	switch m := m.(type) {
	case editMsg:
		c.noteEdit(m.uri)
	case wildcardMsg:
		c.noteWildcard()
	case eventMsg:
		c.handleEvent(m.ev)
	case resultMsg:
		c.applyResult(m)
	case commandMsg:
		m.run(m.ctx)
		close(m.done)
	}
}

func (c *Controller) setPhase(p Phase) {
	c.phase.Store(int32(p))
	c.state.Waiting = p != PhaseMonitoring
}

func (c *Controller) noteEdit(uri string) {
	switch c.Phase() {
	case PhaseWaitingForBaseline:
		c.state.Queued[uri] = struct{}{}
	case PhaseMonitoring:
		now := time.Now()
		if len(c.pending) == 0 {
			c.firstEdit = now
		}
		c.pending[uri] = struct{}{}
		c.armDebounce(now)
	case PhaseDetached:
	}
}

func (c *Controller) noteWildcard() {
	if c.Phase() != PhaseMonitoring {
		return
	}
	c.clearPending()
	c.recompute(tracker.WorkingTree)
}

func (c *Controller) armDebounce(now time.Time) {
	next := now.Add(c.opts.Debounce)
	if latest := c.firstEdit.Add(c.opts.MaxDebounce); next.After(latest) {
		next = latest
	}
	wait := next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	// Replace rather than Reset: the loop only reads the current timer's
	// channel, so a stale fire on an abandoned one is never seen.
	c.timer = time.NewTimer(wait)
}

func (c *Controller) clearPending() {
	c.pending = make(map[string]struct{})
	c.firstEdit = time.Time{}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) flushEdits() {
	if c.Phase() != PhaseMonitoring {
		return
	}
	logging.Debug(c.ctx, "recomputing after edit burst", "edits", len(c.pending))
	c.pending = make(map[string]struct{})
	c.firstEdit = time.Time{}
	c.recompute(tracker.WorkingTree)
}

func (c *Controller) handleEvent(ev orchestrator.Event) {
	switch ev := ev.(type) {
	case orchestrator.CheckpointEvent:
		c.handleCheckpoint(ev)
	case orchestrator.RestoreEvent:
		logging.Info(c.ctx, "restore observed, waiting for a fresh baseline", "checkpoint", ev.Hash)
		if c.Phase() == PhaseDetached {
			return
		}
		c.resetToWaiting()
	case orchestrator.ErrorEvent:
		if c.Phase() == PhaseDetached {
			return
		}
		logging.Warn(c.ctx, "checkpoints disabled for task, detaching reconciliation", "error", ev.Err)
		c.clearPending()
		c.state.Queued = make(map[string]struct{})
		c.state.Tracker.RejectAll(nil)
		c.setPhase(PhaseDetached)
		c.notifyClear()
	case orchestrator.InitializeEvent:
		// Baseline trust comes only from checkpoint events.
	}
}

func (c *Controller) handleCheckpoint(ev orchestrator.CheckpointEvent) {
	switch c.Phase() {
	case PhaseDetached:
	case PhaseWaitingForBaseline:
		logging.Info(c.ctx, "baseline established", "baseline", ev.From, "checkpoint", ev.To)
		c.state.Tracker.SetBaseline(ev.From)
		c.setPhase(PhaseMonitoring)
		c.drainQueued()
		c.clearPending()
		c.recompute(ev.To)
	case PhaseMonitoring:
		c.clearPending()
		c.recompute(ev.To)
	}
}

// drainQueued folds the paths queued while waiting into the recompute
// that follows. Recomputes diff the whole tree, so draining just empties
// the set; the queue's job was done the moment it deferred them.
func (c *Controller) drainQueued() {
	if len(c.state.Queued) == 0 {
		return
	}
	logging.Debug(c.ctx, "draining queued paths", "count", len(c.state.Queued))
	c.state.Queued = make(map[string]struct{})
}

func (c *Controller) resetToWaiting() {
	c.clearPending()
	c.state.Queued = make(map[string]struct{})
	c.state.Tracker.RejectAll(nil)
	c.setPhase(PhaseWaitingForBaseline)
	c.notifyClear()
}

// recompute diffs the whole tree from the current baseline on a worker
// goroutine and posts the result back to the loop. Results are tagged
// with the baseline; applyResult discards them once it moves.
func (c *Controller) recompute(to string) {
	baseline := c.state.Tracker.Baseline()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		candidates, err := c.buildCandidates(c.ctx, baseline, to)
		c.post(resultMsg{baseline: baseline, to: to, candidates: candidates, err: err})
	}()
}

func (c *Controller) applyResult(m resultMsg) {
	if c.Phase() != PhaseMonitoring || m.baseline != c.state.Tracker.Baseline() {
		// Computed for a baseline that is no longer current.
		return
	}
	if m.err != nil {
		if isBaselineUnresolvable(m.err) {
			logging.Warn(c.ctx, "baseline no longer resolves, waiting for the next checkpoint",
				"baseline", m.baseline, "error", m.err)
			c.resetToWaiting()
			return
		}
		logging.Warn(c.ctx, "changeset recompute failed", "baseline", m.baseline, "error", m.err)
		return
	}
	cs := c.state.Tracker.Set(c.ctx, m.candidates, c.diffRange, m.to)
	c.notify(cs)
}

func (c *Controller) buildCandidates(ctx context.Context, baseline, to string) ([]tracker.FileChange, error) {
	diffs, err := c.diffRange(ctx, baseline, to)
	if err != nil {
		return nil, err
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
			ToCheckpoint:   to,
		})
	}
	return candidates, nil
}

// diffRange adapts the orchestrator's diff to checkpoint-id space, where
// tracker.WorkingTree stands for the live tree. It doubles as the
// tracker's DiffFunc for incremental rebasing.
func (c *Controller) diffRange(ctx context.Context, from, to string) ([]store.FileDiff, error) {
	opts := store.DiffOptions{From: from}
	if to != tracker.WorkingTree {
		opts.To = to
	}
	return c.cp.Diff(ctx, opts)
}

func (c *Controller) accept(ctx context.Context, uri string) error {
	entry, ok := c.state.Tracker.Change(uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChangeNotFound, uri)
	}
	at := entry.ToCheckpoint
	if at == tracker.WorkingTree {
		resolved, err := c.ensureCheckpoint(ctx, "Accept "+uri)
		if err != nil {
			return fmt.Errorf("failed to checkpoint accepted content: %w", err)
		}
		at = resolved
	}
	c.state.Tracker.AcceptChangeAt(uri, at)
	c.notifyCurrent()
	return nil
}

func (c *Controller) reject(ctx context.Context, uri string) error {
	entry, ok := c.state.Tracker.Change(uri)
	if !ok {
		return fmt.Errorf("%w: %s", ErrChangeNotFound, uri)
	}
	if err := c.cp.RevertFile(ctx, entry.FromCheckpoint, uri); err != nil {
		// The change stays visible so the failure cannot hide an edit.
		logging.Error(ctx, "failed to revert rejected file",
			"uri", uri, "checkpoint", entry.FromCheckpoint, "error", err)
		return fmt.Errorf("failed to revert %s: %w", uri, err)
	}
	c.state.Tracker.RejectChange(uri)
	c.notifyCurrent()
	return nil
}

func (c *Controller) acceptAll(ctx context.Context) error {
	if c.state.Tracker.Len() == 0 {
		return nil
	}
	latest, err := c.ensureCheckpoint(ctx, "Accept all changes")
	if err != nil {
		return fmt.Errorf("failed to checkpoint accepted content: %w", err)
	}
	c.state.Tracker.AcceptAll(latest)
	c.notifyCurrent()
	return nil
}

func (c *Controller) rejectAll(ctx context.Context, uris []string) error {
	targets := uris
	if targets == nil {
		for _, change := range c.state.Tracker.Changes() {
			targets = append(targets, change.URI)
		}
	}
	var failed []string
	rejected := make([]string, 0, len(targets))
	for _, uri := range targets {
		entry, ok := c.state.Tracker.Change(uri)
		if !ok {
			continue
		}
		if err := c.cp.RevertFile(ctx, entry.FromCheckpoint, uri); err != nil {
			logging.Error(ctx, "failed to revert rejected file",
				"uri", uri, "checkpoint", entry.FromCheckpoint, "error", err)
			failed = append(failed, uri)
			continue
		}
		rejected = append(rejected, uri)
	}
	c.state.Tracker.RejectAll(rejected)
	c.notifyCurrent()
	if len(failed) > 0 {
		return fmt.Errorf("failed to revert %s", strings.Join(failed, ", "))
	}
	return nil
}

func (c *Controller) viewDiff(ctx context.Context, uri string) (store.FileDiff, error) {
	entry, ok := c.state.Tracker.Change(uri)
	if !ok {
		return store.FileDiff{}, fmt.Errorf("%w: %s", ErrChangeNotFound, uri)
	}
	diffs, err := c.diffRange(ctx, entry.FromCheckpoint, entry.ToCheckpoint)
	if err != nil {
		return store.FileDiff{}, fmt.Errorf("failed to diff %s: %w", uri, err)
	}
	for _, d := range diffs {
		if d.Path == uri {
			return d, nil
		}
	}
	// The file converged since the changeset was computed.
	return store.FileDiff{}, fmt.Errorf("%w: %s", ErrChangeNotFound, uri)
}

// ensureCheckpoint resolves the live working tree to a concrete
// checkpoint id, saving one when the tree has drifted past the latest.
func (c *Controller) ensureCheckpoint(ctx context.Context, message string) (string, error) {
	res, err := c.cp.Save(ctx, message, store.SaveOptions{})
	if err != nil {
		return "", err
	}
	if res != nil {
		return res.Hash, nil
	}
	// Nothing to commit: the tree already matches the latest checkpoint.
	return c.cp.LatestCheckpoint(ctx)
}

func (c *Controller) notify(cs tracker.Changeset) {
	if c.opts.Notify == nil {
		return
	}
	if len(cs.Files) == 0 {
		c.opts.Notify(nil)
		return
	}
	c.opts.Notify(&cs)
}

func (c *Controller) notifyCurrent() {
	if c.opts.Notify == nil {
		return
	}
	c.notify(c.state.Tracker.Changeset())
}

func (c *Controller) notifyClear() {
	if c.opts.Notify != nil {
		c.opts.Notify(nil)
	}
}

// isBaselineUnresolvable reports whether a diff failure means the baseline
// commit no longer exists, as opposed to a transient failure.
func isBaselineUnresolvable(err error) bool {
	if errors.Is(err, store.ErrCheckpointNotFound) {
		return true
	}
	msg := err.Error()
	for _, needle := range []string{"object not found", "reference not found", "unknown revision", "bad revision"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
