package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTaskID = "a1b2c3d4e5f6"

func newTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	return New(t.TempDir(), testTaskID, backend), backend
}

func initTestStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	st, backend := newTestStore(t)
	_, err := st.Init(context.Background())
	require.NoError(t, err)
	return st, backend
}

func TestInit_CreatesBaseFromWorkspace(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t)
	backend.WriteFile("main.go", "package main\n")

	res, err := st.Init(ctx)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.BaseHash)
	assert.Empty(t, st.Checkpoints())

	content, err := st.Content(ctx, res.BaseHash, "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
}

func TestInit_EmptyWorkspace(t *testing.T) {
	st, _ := newTestStore(t)

	res, err := st.Init(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Created, "an empty workspace still gets a base commit")
	assert.NotEmpty(t, res.BaseHash)
}

func TestInit_RefusesProtectedDirectory(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	st := New(home, testTaskID, NewMemoryBackend())
	_, err := st.Init(context.Background())
	require.ErrorIs(t, err, ErrProtectedDirectory)
}

func TestInit_ReopenRebuildsHistory(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t)
	first, err := st.Init(ctx)
	require.NoError(t, err)

	backend.WriteFile("a.txt", "one")
	cp1, err := st.Save(ctx, "first", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp1)

	backend.WriteFile("a.txt", "two")
	cp2, err := st.Save(ctx, "second", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp2)

	reopened := New(st.WorkspaceDir(), testTaskID, backend)
	res, err := reopened.Init(ctx)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, first.BaseHash, res.BaseHash)
	assert.Equal(t, []string{cp1.Hash, cp2.Hash}, reopened.Checkpoints())
}

func TestSave_NoChangesReturnsNil(t *testing.T) {
	st, _ := initTestStore(t)

	res, err := st.Save(context.Background(), "nothing", SaveOptions{})
	require.NoError(t, err)
	assert.Nil(t, res, "an unchanged workspace yields no checkpoint and no error")
	assert.Empty(t, st.Checkpoints())
}

func TestSave_AllowEmptyForcesCheckpoint(t *testing.T) {
	st, _ := initTestStore(t)

	res, err := st.Save(context.Background(), "forced", SaveOptions{AllowEmpty: true})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, []string{res.Hash}, st.Checkpoints())
}

func TestSave_CapturesNewFile(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)
	backend.WriteFile("hello.txt", "hi")

	res, err := st.Save(ctx, "add hello", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, st.BaseHash(), res.FromHash)

	content, err := st.Content(ctx, res.Hash, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
}

func TestSave_CheckpointsChain(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("f.txt", "v1")
	cp1, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp1)

	backend.WriteFile("f.txt", "v2")
	cp2, err := st.Save(ctx, "two", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp2)

	assert.Equal(t, cp1.Hash, cp2.FromHash, "each checkpoint chains from the previous one")
	assert.Equal(t, cp2.Hash, st.LatestCheckpoint())
}

func TestSave_ScopedToFiles(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)
	backend.WriteFile("a.txt", "a")
	backend.WriteFile("b.txt", "b")

	res, err := st.Save(ctx, "only a", SaveOptions{Files: []string{"a.txt"}})
	require.NoError(t, err)
	require.NotNil(t, res)

	_, err = st.Content(ctx, res.Hash, "a.txt")
	require.NoError(t, err)

	_, err = st.Content(ctx, res.Hash, "b.txt")
	require.ErrorIs(t, err, ErrFileNotFound, "unlisted files stay out of a scoped checkpoint")
}

func TestSave_ScopedDeletion(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t)
	backend.WriteFile("doomed.txt", "bye")
	_, err := st.Init(ctx)
	require.NoError(t, err)

	backend.RemoveFile("doomed.txt")
	res, err := st.Save(ctx, "remove", SaveOptions{Files: []string{"doomed.txt"}})
	require.NoError(t, err)
	require.NotNil(t, res)

	_, err = st.Content(ctx, res.Hash, "doomed.txt")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestSave_RejectsTraversalPaths(t *testing.T) {
	st, _ := initTestStore(t)

	_, err := st.Save(context.Background(), "evil", SaveOptions{Files: []string{"../outside.txt"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid save path")
}

func TestSave_RetriesStagingOnLockContention(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)
	backend.WriteFile("hello.txt", "hi")
	backend.FailNext("stage", errors.New("unable to create '/tmp/history/index.lock': File exists"))

	res, err := st.Save(ctx, "retried", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, res, "a single lock collision must not lose the checkpoint")

	content, err := st.Content(ctx, res.Hash, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
}

func TestRestore_RevertsAndTruncates(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("f.txt", "v1")
	cp1, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)

	backend.WriteFile("f.txt", "v2")
	cp2, err := st.Save(ctx, "two", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp2)

	_, err = st.Restore(ctx, cp1.Hash)
	require.NoError(t, err)

	content, ok := backend.ReadFile("f.txt")
	require.True(t, ok)
	assert.Equal(t, "v1", content)
	assert.Equal(t, []string{cp1.Hash}, st.Checkpoints(), "checkpoints after the restore target are dropped")
	assert.Equal(t, cp1.Hash, st.LatestCheckpoint())
}

func TestRestore_RemovesFilesCreatedAfter(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("new.txt", "created later")
	cp, err := st.Save(ctx, "add new", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)

	_, err = st.Restore(ctx, st.BaseHash())
	require.NoError(t, err)

	_, ok := backend.ReadFile("new.txt")
	assert.False(t, ok, "files that did not exist at the checkpoint are removed")
	assert.Empty(t, st.Checkpoints())
}

func TestRestore_UnknownCheckpoint(t *testing.T) {
	st, _ := initTestStore(t)

	_, err := st.Restore(context.Background(), "feedfacefeedfacefeedfacefeedfacefeedface")
	require.ErrorIs(t, err, ErrCheckpointNotFound)
}

func TestRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t)
	backend.WriteFile("keep.txt", "original")
	backend.WriteFile("gone.txt", "will be deleted")
	_, err := st.Init(ctx)
	require.NoError(t, err)

	backend.WriteFile("keep.txt", "mutated")
	backend.RemoveFile("gone.txt")
	backend.WriteFile("fresh.txt", "brand new")
	cp, err := st.Save(ctx, "mutations", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)

	_, err = st.Restore(ctx, st.BaseHash())
	require.NoError(t, err)

	assert.Equal(t, []string{"gone.txt", "keep.txt"}, backend.WorkspaceFiles())
	keep, _ := backend.ReadFile("keep.txt")
	gone, _ := backend.ReadFile("gone.txt")
	assert.Equal(t, "original", keep)
	assert.Equal(t, "will be deleted", gone)
}

func TestRevertFile_RestoresCheckpointContent(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("f.txt", "v1")
	cp, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)

	backend.WriteFile("f.txt", "v2")
	require.NoError(t, st.RevertFile(ctx, cp.Hash, "f.txt"))

	content, ok := backend.ReadFile("f.txt")
	require.True(t, ok)
	assert.Equal(t, "v1", content)
	assert.Equal(t, []string{cp.Hash}, st.Checkpoints(), "reverting one file keeps history intact")
}

func TestRevertFile_RemovesFileAbsentAtCheckpoint(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("new.txt", "created later")
	require.NoError(t, st.RevertFile(ctx, st.BaseHash(), "new.txt"))

	_, ok := backend.ReadFile("new.txt")
	assert.False(t, ok)
}

func TestRevertFile_RecreatesDeletedFile(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t)
	backend.WriteFile("gone.txt", "still here")
	_, err := st.Init(ctx)
	require.NoError(t, err)

	backend.RemoveFile("gone.txt")
	require.NoError(t, st.RevertFile(ctx, st.BaseHash(), "gone.txt"))

	content, ok := backend.ReadFile("gone.txt")
	require.True(t, ok)
	assert.Equal(t, "still here", content)
}

func TestRevertFile_RejectsTraversalPaths(t *testing.T) {
	st, _ := initTestStore(t)

	err := st.RevertFile(context.Background(), st.BaseHash(), "../outside.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid revert path")
}

func TestDiff_WorkingTreeIncludesNewFiles(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)
	backend.WriteFile("new.txt", "hello")

	diffs, err := st.Diff(ctx, DiffOptions{})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "new.txt", diffs[0].Path)
	assert.Equal(t, ChangeTypeCreate, diffs[0].Type)
	assert.Empty(t, diffs[0].Before)
	assert.Equal(t, "hello", diffs[0].After)
}

func TestDiff_Classifications(t *testing.T) {
	ctx := context.Background()
	st, backend := newTestStore(t)
	backend.WriteFile("edit.txt", "before")
	backend.WriteFile("gone.txt", "doomed")
	backend.WriteFile("same.txt", "stable")
	_, err := st.Init(ctx)
	require.NoError(t, err)

	backend.WriteFile("edit.txt", "after")
	backend.RemoveFile("gone.txt")
	backend.WriteFile("fresh.txt", "new")

	diffs, err := st.Diff(ctx, DiffOptions{})
	require.NoError(t, err)
	require.Len(t, diffs, 3)

	byPath := make(map[string]FileDiff, len(diffs))
	for _, d := range diffs {
		byPath[d.Path] = d
	}
	assert.Equal(t, ChangeTypeEdit, byPath["edit.txt"].Type)
	assert.Equal(t, "before", byPath["edit.txt"].Before)
	assert.Equal(t, "after", byPath["edit.txt"].After)
	assert.Equal(t, ChangeTypeDelete, byPath["gone.txt"].Type)
	assert.Equal(t, ChangeTypeCreate, byPath["fresh.txt"].Type)
}

func TestDiff_BetweenCheckpoints(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("f.txt", "v1")
	cp1, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)

	backend.WriteFile("f.txt", "v2")
	cp2, err := st.Save(ctx, "two", SaveOptions{})
	require.NoError(t, err)

	diffs, err := st.Diff(ctx, DiffOptions{From: cp1.Hash, To: cp2.Hash})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "v1", diffs[0].Before)
	assert.Equal(t, "v2", diffs[0].After)
	assert.Equal(t, ChangeTypeEdit, diffs[0].Type)
}

func TestDiff_BinaryContentCleared(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)
	backend.WriteFile("blob.bin", "\x00\x01\x02binary")

	diffs, err := st.Diff(ctx, DiffOptions{})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Binary)
	assert.Equal(t, ChangeTypeCreate, diffs[0].Type, "type reflects the real contents, not the cleared ones")
	assert.Empty(t, diffs[0].Before)
	assert.Empty(t, diffs[0].After)
}

func TestContent_MissingFileIsTyped(t *testing.T) {
	st, _ := initTestStore(t)

	_, err := st.Content(context.Background(), st.BaseHash(), "never-existed.txt")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestTimestamp(t *testing.T) {
	ctx := context.Background()
	st, backend := initTestStore(t)

	backend.WriteFile("f.txt", "v1")
	cp, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)

	infos, err := st.History(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)

	assert.Equal(t, infos[1].When.UnixMilli(), st.Timestamp(ctx, cp.Hash))
	assert.Zero(t, st.Timestamp(ctx, "not-a-hash"), "garbage IDs degrade to zero, never an error")
	assert.Zero(t, st.Timestamp(ctx, ""))
}

func TestDeleteTask(t *testing.T) {
	ctx := context.Background()
	st, _ := initTestStore(t)

	assert.True(t, st.DeleteTask(ctx))
	assert.False(t, st.DeleteTask(ctx), "deleting an already-deleted task reports failure, not panic")
}

func TestUninitializedStorePanics(t *testing.T) {
	st, _ := newTestStore(t)

	require.Panics(t, func() {
		_, _ = st.Save(context.Background(), "too early", SaveOptions{})
	})
}
