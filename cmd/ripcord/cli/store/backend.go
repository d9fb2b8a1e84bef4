package store

import (
	"context"
	"time"
)

// Backend is the narrow surface the store needs from a version-control
// implementation. GitBackend is the production implementation; MemoryBackend
// stands in for it in tests.
//
// Revision arguments accept anything the backend can resolve, typically a
// full or abbreviated commit hash. An empty revision passed to Show or
// DiffSummary refers to the staged snapshot, so callers must Stage first.
type Backend interface {
	// Stage snapshots the working tree into the staging area. A nil paths
	// slice stages everything; otherwise only the named workspace-relative
	// paths are refreshed (created, updated, or removed) on top of the
	// current branch tip.
	Stage(ctx context.Context, paths []string) error

	// Commit writes the staged snapshot as a new commit on the task branch
	// and consumes the staging area. When the snapshot matches the branch
	// tip and allowEmpty is false, no commit is created and the result
	// reports Created false.
	Commit(ctx context.Context, message string, allowEmpty bool) (CommitResult, error)

	// DiffSummary returns the workspace-relative paths that differ between
	// two revisions, sorted. An empty to compares against the staged
	// snapshot.
	DiffSummary(ctx context.Context, from, to string) ([]string, error)

	// Show returns the contents of path at a revision. An empty revision
	// reads from the staged snapshot. Returns ErrFileNotFound when the path
	// does not exist there.
	Show(ctx context.Context, rev, path string) ([]byte, error)

	// Reset moves the task branch and the working tree to the given
	// revision, discarding tracked changes made since.
	Reset(ctx context.Context, rev string) error

	// Clean removes files from the working tree that are not part of the
	// current branch tip, honoring the ignore rules.
	Clean(ctx context.Context) error

	// Log returns the task branch's commits in chronological order, root
	// first. A branch with no commits yet yields an empty slice, not an
	// error.
	Log(ctx context.Context) ([]CommitInfo, error)

	// RevParse resolves a revision to a full commit hash. Returns
	// ErrCheckpointNotFound for revisions that do not resolve.
	RevParse(ctx context.Context, rev string) (string, error)
}

// CommitResult describes the outcome of a Commit call.
type CommitResult struct {
	Hash    string
	Created bool
}

// CommitInfo describes one commit on the task branch.
type CommitInfo struct {
	Hash    string
	When    time.Time
	Parents []string
	Message string
}

// branchDeleter is an optional capability for backends that can remove the
// task branch entirely. DeleteTask reports failure when the backend does not
// implement it.
type branchDeleter interface {
	DeleteBranch(ctx context.Context) error
}

// workspaceWriter is an optional capability for backends that manage their
// own view of the working tree. RevertFile prefers it over writing through
// the filesystem so the backend's view stays consistent.
type workspaceWriter interface {
	WriteWorkspaceFile(path string, content []byte) error
	RemoveWorkspaceFile(path string) error
}
