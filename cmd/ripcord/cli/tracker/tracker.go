// Package tracker maintains the set of file changes attributed to an agent
// session and the per-file acceptance baselines that rebase them.
//
// The tracker is pure state. Reading file contents, reverting rejected
// edits, and creating checkpoints are the session layer's job; the tracker
// only decides which changes are visible and which checkpoint each one is
// measured from.
package tracker

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/ripcordio/cli/cmd/ripcord/cli/diffstat"
	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
)

// WorkingTree is the sentinel checkpoint id for the live working tree.
// A FileChange whose ToCheckpoint is WorkingTree describes uncommitted
// drift; everything else names a saved checkpoint.
const WorkingTree = "working-tree"

// FileChange describes one file's drift between two checkpoints.
type FileChange struct {
	URI            string           `json:"uri"`
	Kind           store.ChangeType `json:"kind"`
	Added          int              `json:"added"`
	Removed        int              `json:"removed"`
	FromCheckpoint string           `json:"fromCheckpoint"`
	ToCheckpoint   string           `json:"toCheckpoint"`
}

// Changeset is the displayable snapshot sent to clients.
type Changeset struct {
	Baseline string       `json:"baseline"`
	Files    []FileChange `json:"files"`
}

// DiffFunc resolves the file diffs between two checkpoints. The tracker
// uses it to rebase accepted files onto their per-file baselines.
type DiffFunc func(ctx context.Context, from, to string) ([]store.FileDiff, error)

// Tracker holds the visible changeset and the acceptance history for one
// session. Methods are safe for concurrent use; the session layer still
// funnels mutations through a single goroutine so they land in FIFO order.
type Tracker struct {
	mu       sync.Mutex
	baseline string
	changes  map[string]FileChange
	accepted map[string]string
}

// New returns a tracker whose changes are measured from baseline.
func New(baseline string) *Tracker {
	return &Tracker{
		baseline: baseline,
		changes:  make(map[string]FileChange),
		accepted: make(map[string]string),
	}
}

// NewWithAccepted returns a tracker rehydrated from persisted state: the
// global baseline plus the per-file acceptance map. The map is copied.
// Visible changes start empty; the next Set rebuilds them and prunes any
// acceptance entries that went stale while no tracker was alive.
func NewWithAccepted(baseline string, accepted map[string]string) *Tracker {
	t := New(baseline)
	for uri, checkpointID := range accepted {
		t.accepted[uri] = checkpointID
	}
	return t
}

// Baseline returns the global checkpoint all unaccepted changes are
// measured from.
func (t *Tracker) Baseline() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseline
}

// SetBaseline moves the global baseline and discards the visible changes,
// which were measured against the old one. Acceptance history survives;
// stale entries are pruned on the next Set.
func (t *Tracker) SetBaseline(baseline string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseline = baseline
	t.changes = make(map[string]FileChange)
}

// Changes returns the visible file changes sorted by URI.
func (t *Tracker) Changes() []FileChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changesLocked()
}

func (t *Tracker) changesLocked() []FileChange {
	files := make([]FileChange, 0, len(t.changes))
	for _, change := range t.changes {
		files = append(files, change)
	}
	slices.SortFunc(files, func(a, b FileChange) int {
		return strings.Compare(a.URI, b.URI)
	})
	return files
}

// Changeset returns the displayable snapshot.
func (t *Tracker) Changeset() Changeset {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changesetLocked()
}

func (t *Tracker) changesetLocked() Changeset {
	return Changeset{Baseline: t.baseline, Files: t.changesLocked()}
}

// Change returns the visible entry for uri, if any.
func (t *Tracker) Change(uri string) (FileChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	change, ok := t.changes[uri]
	return change, ok
}

// Len returns the number of visible changes.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.changes)
}

// AcceptedBaseline returns the checkpoint uri was last accepted at, if any.
func (t *Tracker) AcceptedBaseline(uri string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	baseline, ok := t.accepted[uri]
	return baseline, ok
}

// AcceptedBaselines returns a copy of the full per-file acceptance map,
// for persisting across process exits.
func (t *Tracker) AcceptedBaselines() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	accepted := make(map[string]string, len(t.accepted))
	for uri, checkpointID := range t.accepted {
		accepted[uri] = checkpointID
	}
	return accepted
}

// Set replaces the visible changes with candidates rebased onto their
// per-file baselines. Candidates are the full cumulative drift from the
// global baseline; newCheckpointID names the snapshot they were measured
// against. Acceptance entries that became redundant are pruned first: an
// entry equal to the global baseline adds nothing, and an entry for a file
// absent from candidates describes a file that no longer differs at all.
func (t *Tracker) Set(ctx context.Context, candidates []FileChange, diffFn DiffFunc, newCheckpointID string) Changeset {
	t.mu.Lock()
	defer t.mu.Unlock()

	for uri, baseline := range t.accepted {
		if baseline == t.baseline {
			delete(t.accepted, uri)
			continue
		}
		if !slices.ContainsFunc(candidates, func(c FileChange) bool { return c.URI == uri }) {
			delete(t.accepted, uri)
		}
	}

	visible := t.applyLocked(ctx, candidates, diffFn, newCheckpointID)
	t.changes = make(map[string]FileChange, len(visible))
	for _, change := range visible {
		t.changes[change.URI] = change
	}
	return t.changesetLocked()
}

// Upsert rebases a single candidate and merges it into the visible set.
// A candidate that rebases to nothing removes the entry.
func (t *Tracker) Upsert(ctx context.Context, candidate FileChange, diffFn DiffFunc, newCheckpointID string) Changeset {
	t.mu.Lock()
	defer t.mu.Unlock()

	if baseline, ok := t.accepted[candidate.URI]; ok && baseline == t.baseline {
		delete(t.accepted, candidate.URI)
	}

	visible := t.applyLocked(ctx, []FileChange{candidate}, diffFn, newCheckpointID)
	if len(visible) == 0 {
		delete(t.changes, candidate.URI)
	} else {
		t.changes[candidate.URI] = visible[0]
	}
	return t.changesetLocked()
}

// Remove forgets everything about uri, both the visible entry and the
// acceptance history.
func (t *Tracker) Remove(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.changes, uri)
	delete(t.accepted, uri)
}

// ApplyPerFileBaselines rebases cumulative candidates onto their accepted
// baselines. Files without acceptance history pass through unchanged. For
// an accepted file the incremental diff from its acceptance point decides:
// no difference drops the file, otherwise the entry reports the incremental
// counts measured from the acceptance checkpoint. If the incremental diff
// cannot be computed the cumulative candidate is kept so the user never
// loses sight of a changed file.
func (t *Tracker) ApplyPerFileBaselines(ctx context.Context, candidates []FileChange, diffFn DiffFunc, newCheckpointID string) []FileChange {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.applyLocked(ctx, candidates, diffFn, newCheckpointID)
}

func (t *Tracker) applyLocked(ctx context.Context, candidates []FileChange, diffFn DiffFunc, newCheckpointID string) []FileChange {
	if len(candidates) == 0 {
		return nil
	}

	// Diff each baseline once, not once per file.
	diffCache := make(map[string][]store.FileDiff)

	visible := make([]FileChange, 0, len(candidates))
	for _, candidate := range candidates {
		baseline, ok := t.accepted[candidate.URI]
		if !ok {
			visible = append(visible, candidate)
			continue
		}

		diffs, cached := diffCache[baseline]
		if !cached {
			var err error
			diffs, err = diffFn(ctx, baseline, newCheckpointID)
			if err != nil {
				logging.Warn(ctx, "incremental diff failed, keeping cumulative change",
					"uri", candidate.URI, "baseline", baseline, "error", err)
				visible = append(visible, candidate)
				continue
			}
			diffCache[baseline] = diffs
		}

		incremental := findDiff(diffs, candidate.URI)
		if incremental == nil {
			// Unchanged since acceptance.
			continue
		}

		stats := diffstat.Compute(incremental.Before, incremental.After)
		visible = append(visible, FileChange{
			URI:            candidate.URI,
			Kind:           incremental.Type,
			Added:          stats.Added,
			Removed:        stats.Removed,
			FromCheckpoint: baseline,
			ToCheckpoint:   candidate.ToCheckpoint,
		})
	}
	return visible
}

// AcceptChange hides uri and records its current checkpoint as the file's
// acceptance baseline. Future changes to the file are measured from there.
func (t *Tracker) AcceptChange(uri string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	change, ok := t.changes[uri]
	if !ok {
		return false
	}
	t.accepted[uri] = change.ToCheckpoint
	delete(t.changes, uri)
	return true
}

// AcceptChangeAt hides uri and records checkpointID as its acceptance
// baseline. The session layer uses it when the visible entry's ToCheckpoint
// is the WorkingTree sentinel and it has resolved the live content to a
// real checkpoint first.
func (t *Tracker) AcceptChangeAt(uri, checkpointID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.changes[uri]; !ok {
		return false
	}
	t.accepted[uri] = checkpointID
	delete(t.changes, uri)
	return true
}

// RejectChange hides uri. Acceptance history is kept: rejecting a later
// edit must not forget an earlier acceptance point.
func (t *Tracker) RejectChange(uri string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.changes[uri]; !ok {
		return false
	}
	delete(t.changes, uri)
	return true
}

// AcceptAll advances the global baseline to latestCheckpoint and clears
// all per-file state, which the new baseline subsumes.
func (t *Tracker) AcceptAll(latestCheckpoint string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.baseline = latestCheckpoint
	t.changes = make(map[string]FileChange)
	t.accepted = make(map[string]string)
}

// RejectAll hides the given uris, or every visible change when uris is nil.
func (t *Tracker) RejectAll(uris []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if uris == nil {
		t.changes = make(map[string]FileChange)
		return
	}
	for _, uri := range uris {
		delete(t.changes, uri)
	}
}

func findDiff(diffs []store.FileDiff, path string) *store.FileDiff {
	for i := range diffs {
		if diffs[i].Path == path {
			return &diffs[i]
		}
	}
	return nil
}
