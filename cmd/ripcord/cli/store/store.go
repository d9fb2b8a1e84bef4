// Package store captures and restores point-in-time snapshots of a task's
// workspace. Snapshots live in a shadow git history under the workspace's
// .ripcord directory, on a branch per task, completely separate from any
// version control the workspace itself uses.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/diffstat"
	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/trailers"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"
)

const (
	initialCommitMessage = "Initial snapshot"

	// stagingRetryBackoff is the pause before the single staging retry when
	// lock contention is detected.
	stagingRetryBackoff = 200 * time.Millisecond
)

// Store records and restores snapshots of one task's workspace. A Store is
// not safe for concurrent use; the session layer serializes all calls.
type Store struct {
	workspaceDir string
	taskID       string
	backend      Backend
	hist         history
	initialized  bool
}

// New creates a Store over an already-opened backend. Most callers want Open.
func New(workspaceDir, taskID string, backend Backend) *Store {
	return &Store{
		workspaceDir: workspaceDir,
		taskID:       taskID,
		backend:      backend,
	}
}

// Open creates a Store over the git-backed history at historyDir, creating
// the history directory if needed. extraExcludes augments the built-in
// ignore rules and the workspace's .gitignore.
func Open(workspaceDir, historyDir, taskID string, extraExcludes []string) (*Store, error) {
	backend, err := OpenGitBackend(workspaceDir, historyDir, taskID, extraExcludes)
	if err != nil {
		return nil, err
	}
	return New(workspaceDir, taskID, backend), nil
}

// InitResult reports the outcome of Init.
type InitResult struct {
	Created  bool   // false when an existing history was reopened
	BaseHash string // the task's root commit
	Duration time.Duration
}

// Init prepares the task's history. A fresh history gets a root commit (the
// base) capturing the workspace as it stands; an existing one is reopened
// and the checkpoint list rebuilt from the commit log. The base itself is
// never a checkpoint.
func (s *Store) Init(ctx context.Context) (InitResult, error) {
	start := time.Now()

	if protected, name := paths.IsProtectedDirectory(s.workspaceDir); protected {
		return InitResult{}, fmt.Errorf("%w: %s", ErrProtectedDirectory, name)
	}

	infos, err := s.backend.Log(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("failed to read history log: %w", err)
	}

	if len(infos) > 0 {
		s.hist = history{baseHash: infos[0].Hash}
		for _, info := range infos[1:] {
			s.hist.append(info.Hash)
		}
		s.initialized = true
		logging.Debug(ctx, "reopened task history",
			slog.String("base", shortRev(s.hist.baseHash)),
			slog.Int("checkpoints", len(s.hist.checkpoints)),
		)
		return InitResult{BaseHash: s.hist.baseHash, Duration: time.Since(start)}, nil
	}

	// Fresh history: capture the workspace as the base. Allow-empty covers a
	// workspace with nothing to snapshot yet.
	if err := s.backend.Stage(ctx, nil); err != nil {
		return InitResult{}, fmt.Errorf("failed to stage initial snapshot: %w", err)
	}
	message := trailers.FormatCheckpoint(initialCommitMessage, s.taskID, "")
	res, err := s.backend.Commit(ctx, message, true)
	if err != nil {
		return InitResult{}, fmt.Errorf("failed to create base commit: %w", err)
	}

	s.hist = history{baseHash: res.Hash}
	s.initialized = true
	logging.LogDuration(ctx, slog.LevelInfo, "task history created", start,
		slog.String("base", shortRev(res.Hash)),
	)
	return InitResult{Created: true, BaseHash: res.Hash, Duration: time.Since(start)}, nil
}

// SaveOptions control a Save call.
type SaveOptions struct {
	// AllowEmpty forces a checkpoint even when nothing changed.
	AllowEmpty bool

	// Files limits staging to the given workspace-relative paths. Nil
	// stages everything.
	Files []string
}

// SaveResult describes a created checkpoint.
type SaveResult struct {
	Hash     string // the new checkpoint
	FromHash string // the previous checkpoint, or the base
	Duration time.Duration
}

// Save stages the workspace and commits a checkpoint. Returns (nil, nil)
// when nothing changed and AllowEmpty is false; a quiet no-op is the
// expected steady state, not an error.
func (s *Store) Save(ctx context.Context, message string, opts SaveOptions) (*SaveResult, error) {
	s.mustBeInitialized()
	start := time.Now()

	for _, file := range opts.Files {
		if err := validation.ValidateRelativePath(file); err != nil {
			return nil, fmt.Errorf("invalid save path: %w", err)
		}
	}

	if err := s.stageWithRetry(ctx, opts.Files); err != nil {
		// A checkpoint with partially staged content still beats losing the
		// checkpoint entirely. Only the commit decides success.
		logging.Warn(ctx, "staging failed, committing what was captured",
			slog.String("error", err.Error()),
		)
	}

	commitMsg := trailers.FormatCheckpoint(message, s.taskID, s.hist.baseHash)
	res, err := s.backend.Commit(ctx, commitMsg, opts.AllowEmpty)
	if err != nil {
		return nil, fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	if !res.Created {
		return nil, nil
	}

	fromHash := s.hist.current()
	s.hist.append(res.Hash)

	result := &SaveResult{Hash: res.Hash, FromHash: fromHash, Duration: time.Since(start)}
	logging.LogDuration(ctx, slog.LevelInfo, "checkpoint saved", start,
		slog.String("checkpoint", shortRev(res.Hash)),
		slog.String("from", shortRev(fromHash)),
	)
	return result, nil
}

// stageWithRetry retries once after a short backoff when staging hits lock
// contention, such as another git process holding a lock file in the history
// directory.
func (s *Store) stageWithRetry(ctx context.Context, files []string) error {
	err := s.backend.Stage(ctx, files)
	if err == nil || !isLockContention(err) {
		return err
	}

	logging.Debug(ctx, "staging hit lock contention, retrying",
		slog.String("error", err.Error()),
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(stagingRetryBackoff):
	}
	return s.backend.Stage(ctx, files)
}

// isLockContention reports whether err looks like transient lock contention
// rather than a permanent failure.
func isLockContention(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "index.lock") ||
		(strings.Contains(msg, ".lock") && strings.Contains(msg, "exists")) ||
		strings.Contains(msg, "resource temporarily unavailable")
}

// RestoreResult describes a completed restore.
type RestoreResult struct {
	Hash     string
	Duration time.Duration
}

// Restore rewinds the workspace to a checkpoint: tracked files are reset,
// files created since are removed, and checkpoints recorded after it are
// dropped from the task's history.
func (s *Store) Restore(ctx context.Context, checkpointID string) (RestoreResult, error) {
	s.mustBeInitialized()
	start := time.Now()

	if !s.hist.contains(checkpointID) {
		return RestoreResult{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, shortRev(checkpointID))
	}

	if err := s.backend.Reset(ctx, checkpointID); err != nil {
		return RestoreResult{}, fmt.Errorf("failed to reset to %s: %w", shortRev(checkpointID), err)
	}
	if err := s.backend.Clean(ctx); err != nil {
		return RestoreResult{}, fmt.Errorf("failed to remove files created after %s: %w", shortRev(checkpointID), err)
	}
	s.hist.truncate(checkpointID)

	result := RestoreResult{Hash: checkpointID, Duration: time.Since(start)}
	logging.LogDuration(ctx, slog.LevelInfo, "workspace restored", start,
		slog.String("checkpoint", shortRev(checkpointID)),
	)
	return result, nil
}

// ChangeType classifies a file difference.
type ChangeType string

const (
	ChangeTypeCreate ChangeType = "create"
	ChangeTypeDelete ChangeType = "delete"
	ChangeTypeEdit   ChangeType = "edit"
)

// FileDiff is one changed file between two snapshots. Binary files keep
// their entry but both content fields are emptied, so callers never feed
// binary bytes to a text diff.
type FileDiff struct {
	Path    string // workspace-relative, slash-separated
	AbsPath string
	Before  string
	After   string
	Type    ChangeType
	Binary  bool
}

// DiffOptions select the endpoints of a Diff. An empty From means the
// task's base; an empty To means the live working tree.
type DiffOptions struct {
	From string
	To   string
}

// Diff lists files that changed between two snapshots. When To is empty the
// workspace is staged first, so files created since the last checkpoint show
// up in the comparison.
func (s *Store) Diff(ctx context.Context, opts DiffOptions) ([]FileDiff, error) {
	s.mustBeInitialized()

	from := opts.From
	if from == "" {
		from = s.hist.baseHash
	}

	if opts.To == "" {
		if err := s.backend.Stage(ctx, nil); err != nil {
			return nil, fmt.Errorf("failed to stage working tree for diff: %w", err)
		}
	}

	changed, err := s.backend.DiffSummary(ctx, from, opts.To)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize changes: %w", err)
	}

	diffs := make([]FileDiff, 0, len(changed))
	for _, path := range changed {
		absPath := filepath.Join(s.workspaceDir, filepath.FromSlash(path))

		// Some summaries list directory entries; only files are diffable.
		if info, err := os.Stat(absPath); err == nil && info.IsDir() {
			continue
		}

		before, err := s.contentAt(ctx, from, path)
		if err != nil {
			return nil, err
		}
		after, err := s.contentAt(ctx, opts.To, path)
		if err != nil {
			return nil, err
		}

		diff := FileDiff{
			Path:    path,
			AbsPath: absPath,
			Before:  string(before),
			After:   string(after),
		}
		switch {
		case len(before) == 0 && len(after) > 0:
			diff.Type = ChangeTypeCreate
		case len(before) > 0 && len(after) == 0:
			diff.Type = ChangeTypeDelete
		default:
			diff.Type = ChangeTypeEdit
		}

		if diffstat.IsBinary(before) || diffstat.IsBinary(after) {
			diff.Binary = true
			diff.Before = ""
			diff.After = ""
		}

		diffs = append(diffs, diff)
	}
	return diffs, nil
}

// contentAt reads path at rev, treating absence as empty content.
func (s *Store) contentAt(ctx context.Context, rev, path string) ([]byte, error) {
	content, err := s.backend.Show(ctx, rev, path)
	if err != nil {
		if errors.Is(err, ErrFileNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return content, nil
}

// Content returns the contents of path at a checkpoint. ErrFileNotFound
// means the file did not exist there yet, which callers treat as "newly
// created" rather than a failure.
func (s *Store) Content(ctx context.Context, checkpointID, path string) ([]byte, error) {
	s.mustBeInitialized()
	return s.backend.Show(ctx, checkpointID, path)
}

// RevertFile writes path's content at checkpointID back into the working
// tree. A file that did not exist at that checkpoint is removed instead:
// the revert target is "not yet created".
func (s *Store) RevertFile(ctx context.Context, checkpointID, path string) error {
	s.mustBeInitialized()
	if err := validation.ValidateRelativePath(path); err != nil {
		return fmt.Errorf("invalid revert path: %w", err)
	}

	content, err := s.backend.Show(ctx, checkpointID, path)
	if errors.Is(err, ErrFileNotFound) {
		return s.removeWorkspaceFile(path)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s at %s: %w", path, checkpointID, err)
	}
	return s.writeWorkspaceFile(path, content)
}

func (s *Store) writeWorkspaceFile(path string, content []byte) error {
	if writer, ok := s.backend.(workspaceWriter); ok {
		return writer.WriteWorkspaceFile(path, content)
	}
	abs := filepath.Join(s.workspaceDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(abs), 0o750); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil { //nolint:gosec // workspace files keep default permissions
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) removeWorkspaceFile(path string) error {
	if writer, ok := s.backend.(workspaceWriter); ok {
		return writer.RemoveWorkspaceFile(path)
	}
	abs := filepath.Join(s.workspaceDir, filepath.FromSlash(path))
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// Timestamp returns the commit time of a checkpoint in Unix milliseconds.
// Unresolvable or malformed IDs yield zero; a missing timestamp only
// degrades display ordering and must never break the caller.
func (s *Store) Timestamp(ctx context.Context, checkpointID string) int64 {
	s.mustBeInitialized()
	if checkpointID == "" {
		return 0
	}

	hash, err := s.backend.RevParse(ctx, checkpointID)
	if err != nil {
		return 0
	}
	infos, err := s.backend.Log(ctx)
	if err != nil {
		return 0
	}
	for _, info := range infos {
		if info.Hash == hash {
			return info.When.UnixMilli()
		}
	}
	return 0
}

// DeleteTask removes the task's branch from the shadow history. Best effort:
// failures are logged and reported as false, never raised, because deletion
// runs during cleanup paths that must not fail.
func (s *Store) DeleteTask(ctx context.Context) bool {
	deleter, ok := s.backend.(branchDeleter)
	if !ok {
		logging.Warn(ctx, "backend cannot delete branches")
		return false
	}
	if err := deleter.DeleteBranch(ctx); err != nil {
		logging.Warn(ctx, "failed to delete task branch",
			slog.String("task_id", s.taskID),
			slog.String("error", err.Error()),
		)
		return false
	}
	logging.Info(ctx, "task branch deleted", slog.String("task_id", s.taskID))
	return true
}

// History returns the task's commits oldest first, including the base.
func (s *Store) History(ctx context.Context) ([]CommitInfo, error) {
	s.mustBeInitialized()
	infos, err := s.backend.Log(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}
	return infos, nil
}

// BaseHash returns the task's root commit hash.
func (s *Store) BaseHash() string {
	s.mustBeInitialized()
	return s.hist.baseHash
}

// Checkpoints returns the recorded checkpoint IDs, oldest first.
func (s *Store) Checkpoints() []string {
	s.mustBeInitialized()
	return slices.Clone(s.hist.checkpoints)
}

// LatestCheckpoint returns the most recent checkpoint, or the base when none
// have been recorded.
func (s *Store) LatestCheckpoint() string {
	s.mustBeInitialized()
	return s.hist.current()
}

// HasCheckpoint reports whether id is the base or a recorded checkpoint.
func (s *Store) HasCheckpoint(id string) bool {
	s.mustBeInitialized()
	return s.hist.contains(id)
}

// TaskID returns the task this store serves.
func (s *Store) TaskID() string { return s.taskID }

// WorkspaceDir returns the workspace root this store snapshots.
func (s *Store) WorkspaceDir() string { return s.workspaceDir }

// mustBeInitialized panics on use before Init. Calling an operation on an
// uninitialized store is a programming error, not a runtime condition.
func (s *Store) mustBeInitialized() {
	if !s.initialized {
		panic("store: Init must run before use")
	}
}
