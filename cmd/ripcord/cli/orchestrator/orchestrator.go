// Package orchestrator owns the lifecycle of one task's shadow store:
// lazy initialization guarded by a git preflight, typed event fan-out to
// subscribers, and coalescing of concurrent identical saves.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/gitver"
	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"

	"golang.org/x/sync/singleflight"
)

// State describes where the orchestrator is in its lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const (
	initPollInterval = 250 * time.Millisecond
	initWaitTimeout  = 15 * time.Second
)

// ErrInitTimeout is returned when another caller's initialization did not
// finish within the wait window. Callers treat it as "checkpoints are
// unavailable right now", not as a store failure.
var ErrInitTimeout = errors.New("timed out waiting for store initialization")

// gitNotice is surfaced once when checkpoints were disabled because the
// git binary is missing or too old.
const gitNotice = "Checkpoints are disabled: Ripcord needs git " + gitver.MinVersion +
	" or newer on PATH. Install it and start a new task to re-enable. " +
	"See https://ripcord.io/docs/requirements"

// Subscriber receives events. Delivery is synchronous on the emitting
// goroutine; handlers that need to block should hand off to a channel.
type Subscriber func(Event)

// Options configures an Orchestrator. The zero value opens a git-backed
// store at the workspace's default history location.
type Options struct {
	// HistoryDir overrides the default .ripcord/history location, for
	// settings-driven shared histories.
	HistoryDir string

	// ExtraExcludes are additional ignore rules for the shadow history.
	ExtraExcludes []string

	// Backend replaces the git-backed store entirely. Used by tests.
	Backend store.Backend

	// Preflight replaces the git availability check. nil means
	// gitver.Check for the git backend and no check for an injected one.
	Preflight func(ctx context.Context) error
}

// Orchestrator manages exactly one task's store. All methods are safe for
// concurrent use; store operations are serialized internally so a restore
// can never overlap a save or diff.
type Orchestrator struct {
	workspaceDir string
	taskID       string
	opts         Options

	mu       sync.Mutex
	state    State
	store    *store.Store
	disabled error
	notice   string

	subMu   sync.Mutex
	nextSub int
	subs    map[int]Subscriber

	opMu  sync.Mutex
	saves singleflight.Group
}

// New returns an orchestrator for the given task. The store is not opened
// until the first operation or an explicit Init.
func New(workspaceDir, taskID string, opts Options) *Orchestrator {
	return &Orchestrator{
		workspaceDir: workspaceDir,
		taskID:       taskID,
		opts:         opts,
		subs:         make(map[int]Subscriber),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// TaskID returns the task this orchestrator serves.
func (o *Orchestrator) TaskID() string { return o.taskID }

// WorkspaceDir returns the workspace the store snapshots.
func (o *Orchestrator) WorkspaceDir() string { return o.workspaceDir }

// Subscribe registers fn for all future events and returns its remove
// function. Subscribers are invoked in registration order.
func (o *Orchestrator) Subscribe(fn Subscriber) (unsubscribe func()) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = fn
	return func() {
		o.subMu.Lock()
		defer o.subMu.Unlock()
		delete(o.subs, id)
	}
}

func (o *Orchestrator) emit(ev Event) {
	o.subMu.Lock()
	ids := make([]int, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Subscriber, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, o.subs[id])
	}
	o.subMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// TakeNotice returns the pending user-facing notice at most once. A
// notice is set when checkpoints were disabled for a reason the user can
// fix, such as a missing git installation.
func (o *Orchestrator) TakeNotice() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.notice == "" {
		return "", false
	}
	notice := o.notice
	o.notice = ""
	return notice, true
}

// Init forces initialization now instead of on the first operation.
func (o *Orchestrator) Init(ctx context.Context) error {
	_, err := o.ensureReady(ctx)
	return err
}

// ensureReady returns the initialized store, initializing it on first
// use. A caller that observes another initialization in flight polls
// until it settles; on timeout the feature is reported unavailable
// without touching the initializing goroutine.
func (o *Orchestrator) ensureReady(ctx context.Context) (*store.Store, error) {
	deadline := time.Now().Add(initWaitTimeout)
	for {
		o.mu.Lock()
		switch o.state {
		case StateReady:
			st := o.store
			o.mu.Unlock()
			return st, nil
		case StateDisabled:
			cause := o.disabled
			o.mu.Unlock()
			return nil, cause
		case StateUninitialized:
			o.state = StateInitializing
			o.mu.Unlock()
			return o.initialize(ctx)
		case StateInitializing:
			o.mu.Unlock()
		}

		if time.Now().After(deadline) {
			return nil, ErrInitTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(initPollInterval):
		}
	}
}

func (o *Orchestrator) initialize(ctx context.Context) (*store.Store, error) {
	start := time.Now()

	if err := o.preflight(ctx); err != nil {
		logging.Warn(ctx, "checkpoints disabled by preflight", "task_id", o.taskID, "error", err)
		o.disable(err)
		o.emit(ErrorEvent{Err: err})
		return nil, err
	}

	st, err := o.openStore()
	var res store.InitResult
	if err == nil {
		res, err = st.Init(ctx)
	}
	if err != nil {
		o.disable(err)
		o.emit(ErrorEvent{Err: err})
		return nil, err
	}

	o.mu.Lock()
	o.store = st
	o.state = StateReady
	o.mu.Unlock()

	o.emit(InitializeEvent{
		WorkspaceDir: o.workspaceDir,
		BaseHash:     res.BaseHash,
		Created:      res.Created,
		Duration:     time.Since(start),
	})
	return st, nil
}

func (o *Orchestrator) preflight(ctx context.Context) error {
	if o.opts.Preflight != nil {
		return o.opts.Preflight(ctx)
	}
	if o.opts.Backend != nil {
		return nil
	}
	version, err := gitver.Check(ctx)
	if err != nil {
		return err
	}
	logging.Debug(ctx, "git preflight passed", "version", version)
	return nil
}

func (o *Orchestrator) openStore() (*store.Store, error) {
	if o.opts.Backend != nil {
		return store.New(o.workspaceDir, o.taskID, o.opts.Backend), nil
	}
	historyDir := o.opts.HistoryDir
	if historyDir == "" {
		historyDir = paths.DefaultHistoryDir(o.workspaceDir)
	}
	return store.Open(o.workspaceDir, historyDir, o.taskID, o.opts.ExtraExcludes)
}

// disable marks the task terminally disabled. Idempotent; the first cause
// wins so later symptoms don't mask the original failure.
func (o *Orchestrator) disable(cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateDisabled {
		return
	}
	o.state = StateDisabled
	o.disabled = cause
	o.store = nil
	if errors.Is(cause, gitver.ErrGitNotFound) || errors.Is(cause, gitver.ErrGitTooOld) {
		o.notice = gitNotice
	}
}

// fail disables the task and tells subscribers why.
func (o *Orchestrator) fail(cause error) {
	o.disable(cause)
	o.emit(ErrorEvent{Err: cause})
}

// Save creates a checkpoint. Concurrent saves with the same force flag
// and file scope share one in-flight operation. A save that captured
// nothing returns (nil, nil) and emits no event.
func (o *Orchestrator) Save(ctx context.Context, message string, opts store.SaveOptions) (*store.SaveResult, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return nil, err
	}

	key := saveKey(opts.AllowEmpty, opts.Files)
	v, err, _ := o.saves.Do(key, func() (any, error) {
		o.opMu.Lock()
		res, saveErr := st.Save(ctx, message, opts)
		o.opMu.Unlock()
		if saveErr != nil {
			o.fail(saveErr)
			return nil, saveErr
		}
		if res != nil {
			o.emit(CheckpointEvent{From: res.FromHash, To: res.Hash, Duration: res.Duration})
		}
		return res, nil
	})
	if err != nil {
		return nil, err
	}
	res, _ := v.(*store.SaveResult)
	return res, nil
}

// saveKey coalesces saves: identical force flag plus file scope means the
// two requests would produce the same checkpoint.
func saveKey(allowEmpty bool, files []string) string {
	sorted := slices.Clone(files)
	slices.Sort(sorted)
	return strconv.FormatBool(allowEmpty) + "\x00" + strings.Join(sorted, "\x00")
}

// Restore rolls the workspace back to checkpointID. An unknown id is the
// caller's mistake and does not disable the task; any other failure does.
func (o *Orchestrator) Restore(ctx context.Context, checkpointID string) (store.RestoreResult, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return store.RestoreResult{}, err
	}

	o.opMu.Lock()
	res, err := st.Restore(ctx, checkpointID)
	o.opMu.Unlock()
	if err != nil {
		if errors.Is(err, store.ErrCheckpointNotFound) {
			return store.RestoreResult{}, err
		}
		o.fail(err)
		return store.RestoreResult{}, err
	}

	o.emit(RestoreEvent{Hash: res.Hash, Duration: res.Duration})
	return res, nil
}

// Diff returns the file diffs between two checkpoints, or against the
// working tree when To is empty. Diff failures propagate to the caller,
// who decides whether the baseline needs re-establishing; they do not
// disable the task.
func (o *Orchestrator) Diff(ctx context.Context, opts store.DiffOptions) ([]store.FileDiff, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.Diff(ctx, opts)
}

// Content returns a file's content at a checkpoint. Missing files report
// store.ErrFileNotFound.
func (o *Orchestrator) Content(ctx context.Context, checkpointID, path string) ([]byte, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.Content(ctx, checkpointID, path)
}

// RevertFile writes a single file's content at a checkpoint back into the
// working tree, removing the file when it did not exist there. Like Diff,
// failures propagate without disabling the task.
func (o *Orchestrator) RevertFile(ctx context.Context, checkpointID, path string) error {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.RevertFile(ctx, checkpointID, path)
}

// Timestamp returns a checkpoint's commit time in Unix milliseconds, or
// zero when it cannot be determined.
func (o *Orchestrator) Timestamp(ctx context.Context, checkpointID string) int64 {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return 0
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.Timestamp(ctx, checkpointID)
}

// BaseHash returns the task's root commit.
func (o *Orchestrator) BaseHash(ctx context.Context) (string, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return "", err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.BaseHash(), nil
}

// LatestCheckpoint returns the most recent checkpoint, or the base hash
// when none exist.
func (o *Orchestrator) LatestCheckpoint(ctx context.Context) (string, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return "", err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.LatestCheckpoint(), nil
}

// Checkpoints returns the checkpoint ids in creation order, excluding
// the base.
func (o *Orchestrator) Checkpoints(ctx context.Context) ([]string, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.Checkpoints(), nil
}

// HasCheckpoint reports whether id names the base or a known checkpoint.
func (o *Orchestrator) HasCheckpoint(ctx context.Context, id string) (bool, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return false, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.HasCheckpoint(id), nil
}

// History returns the full commit history, base first.
func (o *Orchestrator) History(ctx context.Context) ([]store.CommitInfo, error) {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.History(ctx)
}

// DeleteTask removes the task's shadow branch, reporting success as a
// boolean. A task that never initialized has nothing to delete.
func (o *Orchestrator) DeleteTask(ctx context.Context) bool {
	st, err := o.ensureReady(ctx)
	if err != nil {
		return false
	}
	o.opMu.Lock()
	defer o.opMu.Unlock()
	return st.DeleteTask(ctx)
}
