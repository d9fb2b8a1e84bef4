package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/reconcile"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"
	"github.com/ripcordio/cli/cmd/ripcord/cli/taskstate"
	"github.com/ripcordio/cli/cmd/ripcord/cli/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestSession opens a watch session on the current workspace with
// notifications buffered on a channel. Shutdown is registered as cleanup
// and is safe to run again explicitly from the test body.
func openTestSession(t *testing.T, taskFlag string) (*watchSession, <-chan *tracker.Changeset) {
	t.Helper()
	notes := make(chan *tracker.Changeset, 64)
	var human bytes.Buffer
	s, err := openWatchSession(context.Background(), &human, taskFlag, func(cs *tracker.Changeset) {
		select {
		case notes <- cs:
		default:
		}
	})
	require.NoError(t, err, "openWatchSession: %s", human.String())
	t.Cleanup(func() {
		if err := s.shutdown(); err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
		s.close()
	})
	return s, notes
}

// waitForChangeset receives notifications until ok accepts one, failing
// the test if none arrives in time. Recomputes run on worker goroutines,
// so tests wait for the session to settle instead of assuming it has.
func waitForChangeset(t *testing.T, notes <-chan *tracker.Changeset, ok func(*tracker.Changeset) bool) *tracker.Changeset {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cs := <-notes:
			if ok(cs) {
				return cs
			}
		case <-deadline:
			t.Fatal("timed out waiting for a changeset notification")
			return nil
		}
	}
}

func changesetHas(uri string) func(*tracker.Changeset) bool {
	return func(cs *tracker.Changeset) bool {
		if cs == nil {
			return false
		}
		for _, fc := range cs.Files {
			if fc.URI == uri {
				return true
			}
		}
		return false
	}
}

// taskBaseHash reads the current task's base snapshot hash from the log.
func taskBaseHash(t *testing.T) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runLog(context.Background(), &out, "", true))
	var entries []logEntry
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.NotEmpty(t, entries)
	base := entries[len(entries)-1]
	require.True(t, base.Base, "the oldest log entry is the base snapshot")
	return base.Hash
}

func TestPriorTaskState_NilForFreshTask(t *testing.T) {
	assert.Nil(t, priorTaskState(nil))
}

func TestCacheTaskState_RoundTrip(t *testing.T) {
	st := reconcile.NewTaskState("task-cache")
	st.Tracker = tracker.NewWithAccepted("baseline-1", map[string]string{"a.txt": "cp-2"})
	st.Queued["b.txt"] = struct{}{}
	st.Queued["a.txt"] = struct{}{}
	st.Waiting = true

	cached := cacheTaskState(st)
	assert.Equal(t, "task-cache", cached.TaskID)
	assert.Equal(t, "baseline-1", cached.Baseline)
	assert.Equal(t, map[string]string{"a.txt": "cp-2"}, cached.AcceptedBaselines)
	assert.Equal(t, []string{"a.txt", "b.txt"}, cached.QueuedPaths, "queued paths are sorted for a stable cache file")
	assert.True(t, cached.Waiting)

	back := priorTaskState(cached)
	require.NotNil(t, back)
	assert.Equal(t, "task-cache", back.TaskID)
	assert.Equal(t, "baseline-1", back.Tracker.Baseline())
	got, ok := back.Tracker.AcceptedBaseline("a.txt")
	assert.True(t, ok)
	assert.Equal(t, "cp-2", got)
	_, queued := back.Queued["b.txt"]
	assert.True(t, queued)
	assert.True(t, back.Waiting)
}

func TestOpenWatchSession_CapturesPreSessionDrift(t *testing.T) {
	root := setupTestWorkspace(t)
	writeWorkspaceFile(t, "a.txt", "one\n")
	taskID := startTask(t)
	base := taskBaseHash(t)
	writeWorkspaceFile(t, "a.txt", "one\ntwo\n")

	s, notes := openTestSession(t, "")
	cs := waitForChangeset(t, notes, changesetHas("a.txt"))

	require.Len(t, cs.Files, 1)
	fc := cs.Files[0]
	assert.Equal(t, store.ChangeTypeEdit, fc.Kind)
	assert.Equal(t, 1, fc.Added)
	assert.Equal(t, 0, fc.Removed)
	assert.Equal(t, base, cs.Baseline, "drift is measured from the task base, not the session start")

	// The drift itself went into a checkpoint before edits started flowing.
	var log bytes.Buffer
	require.NoError(t, runLog(context.Background(), &log, "", false))
	assert.Contains(t, log.String(), "Watch session started")

	require.NoError(t, s.shutdown())
	st, err := taskstate.NewStore(root).Load(context.Background(), taskID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, base, st.Baseline)
	assert.False(t, st.Waiting)
	assert.Empty(t, st.AcceptedBaselines)
}

func TestWatchSession_StreamsFilesystemEdits(t *testing.T) {
	root := setupTestWorkspace(t)
	writeWorkspaceFile(t, ".ripcord/settings.json", `{"debounce_ms": 25}`)
	writeWorkspaceFile(t, "base.txt", "one\n")
	taskID := startTask(t)
	base := taskBaseHash(t)

	s, notes := openTestSession(t, "")

	pumpCtx, cancelPump := context.WithCancel(context.Background())
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- s.pump(pumpCtx) }()

	writeWorkspaceFile(t, "edited.txt", "hello\n")
	cs := waitForChangeset(t, notes, changesetHas("edited.txt"))
	fc := changesetFile(t, cs, "edited.txt")
	assert.Equal(t, store.ChangeTypeCreate, fc.Kind)
	assert.Equal(t, 1, fc.Added)
	assert.Equal(t, tracker.WorkingTree, fc.ToCheckpoint)

	// A later edit recomputes the whole tree, so both files show up.
	writeWorkspaceFile(t, "base.txt", "one\ntwo\n")
	cs = waitForChangeset(t, notes, changesetHas("base.txt"))
	assert.Len(t, cs.Files, 2)
	fc = changesetFile(t, cs, "base.txt")
	assert.Equal(t, store.ChangeTypeEdit, fc.Kind)

	cancelPump()
	require.ErrorIs(t, <-pumpDone, context.Canceled)

	require.NoError(t, s.shutdown())
	st, err := taskstate.NewStore(root).Load(context.Background(), taskID)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, base, st.Baseline, "unreviewed edits do not move the baseline")
	assert.False(t, st.Waiting)
	assert.Empty(t, st.QueuedPaths)
}

func changesetFile(t *testing.T, cs *tracker.Changeset, uri string) tracker.FileChange {
	t.Helper()
	require.NotNil(t, cs)
	for _, fc := range cs.Files {
		if fc.URI == uri {
			return fc
		}
	}
	t.Fatalf("changeset has no entry for %s", uri)
	return tracker.FileChange{}
}
