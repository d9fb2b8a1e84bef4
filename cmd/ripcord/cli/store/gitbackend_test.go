package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireGit skips tests that shell out for reset and clean.
func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func writeWorkspaceFile(t *testing.T, workspace, name, content string) {
	t.Helper()
	path := filepath.Join(workspace, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func openGitStore(t *testing.T, workspace string) *Store {
	t.Helper()
	historyDir := filepath.Join(workspace, ".ripcord", "history")
	st, err := Open(workspace, historyDir, testTaskID, nil)
	require.NoError(t, err)
	_, err = st.Init(context.Background())
	require.NoError(t, err)
	return st
}

func TestGitStore_InitCapturesExistingFiles(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "main.go", "package main\n")
	writeWorkspaceFile(t, workspace, "pkg/util/util.go", "package util\n")

	st := openGitStore(t, workspace)

	content, err := st.Content(ctx, st.BaseHash(), "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))

	content, err = st.Content(ctx, st.BaseHash(), "pkg/util/util.go")
	require.NoError(t, err)
	assert.Equal(t, "package util\n", string(content))
}

func TestGitStore_SaveDeduplicatesUnchangedTrees(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "f.txt", "v1")
	st := openGitStore(t, workspace)

	writeWorkspaceFile(t, workspace, "f.txt", "v2")
	cp, err := st.Save(ctx, "edit", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)

	again, err := st.Save(ctx, "no change", SaveOptions{})
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Equal(t, []string{cp.Hash}, st.Checkpoints())
}

func TestGitStore_HistorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "f.txt", "v1")
	st := openGitStore(t, workspace)

	writeWorkspaceFile(t, workspace, "f.txt", "v2")
	cp1, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)

	writeWorkspaceFile(t, workspace, "f.txt", "v3")
	cp2, err := st.Save(ctx, "two", SaveOptions{})
	require.NoError(t, err)

	historyDir := filepath.Join(workspace, ".ripcord", "history")
	reopened, err := Open(workspace, historyDir, testTaskID, nil)
	require.NoError(t, err)
	res, err := reopened.Init(ctx)
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, st.BaseHash(), res.BaseHash)
	assert.Equal(t, []string{cp1.Hash, cp2.Hash}, reopened.Checkpoints())
}

func TestGitStore_RestoreRevertsWorkspace(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "f.txt", "v1")
	st := openGitStore(t, workspace)

	writeWorkspaceFile(t, workspace, "f.txt", "v2")
	cp, err := st.Save(ctx, "edit", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)

	writeWorkspaceFile(t, workspace, "f.txt", "v3 never saved")
	writeWorkspaceFile(t, workspace, "loose.txt", "never saved")

	_, err = st.Restore(ctx, cp.Hash)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(workspace, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(content))

	_, err = os.Stat(filepath.Join(workspace, "loose.txt"))
	assert.True(t, os.IsNotExist(err), "files created after the checkpoint are removed")

	_, err = os.Stat(filepath.Join(workspace, ".ripcord", "history"))
	assert.NoError(t, err, "the history itself must survive a restore")
}

func TestGitStore_RestorePreservesExecutableBit(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	workspace := t.TempDir()
	scriptPath := filepath.Join(workspace, "run.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho v1\n"), 0o755)) //nolint:gosec // the executable bit is the point
	st := openGitStore(t, workspace)

	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho v2\n"), 0o755)) //nolint:gosec // same
	cp, err := st.Save(ctx, "edit script", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)

	_, err = st.Restore(ctx, st.BaseHash())
	require.NoError(t, err)

	info, err := os.Stat(scriptPath)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111, "restore keeps scripts executable")
}

func TestGitStore_IgnoredFilesStayOut(t *testing.T) {
	requireGit(t)
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, ".gitignore", "secret.txt\n")
	writeWorkspaceFile(t, workspace, "secret.txt", "do not snapshot")
	writeWorkspaceFile(t, workspace, "app.go", "package app\n")
	st := openGitStore(t, workspace)

	_, err := st.Content(ctx, st.BaseHash(), "secret.txt")
	require.ErrorIs(t, err, ErrFileNotFound, "ignored files are not captured")

	_, err = st.Content(ctx, st.BaseHash(), "app.go")
	require.NoError(t, err)

	// An ignored file must also survive a restore: it is invisible to the
	// history, so clean has no business deleting it.
	writeWorkspaceFile(t, workspace, "app.go", "package app // edited\n")
	cp, err := st.Save(ctx, "edit", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)
	_, err = st.Restore(ctx, st.BaseHash())
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(workspace, "secret.txt"))
	require.NoError(t, err)
	assert.Equal(t, "do not snapshot", string(content))
}

func TestGitStore_DiffSeesUntrackedFiles(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	st := openGitStore(t, workspace)

	writeWorkspaceFile(t, workspace, "brand-new.txt", "hello")

	diffs, err := st.Diff(ctx, DiffOptions{})
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.Equal(t, "brand-new.txt", diffs[0].Path)
	assert.Equal(t, ChangeTypeCreate, diffs[0].Type)
	assert.Equal(t, "hello", diffs[0].After)
	assert.Equal(t, filepath.Join(workspace, "brand-new.txt"), diffs[0].AbsPath)
}

func TestGitStore_DeleteTaskRemovesBranch(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "f.txt", "v1")
	st := openGitStore(t, workspace)

	require.True(t, st.DeleteTask(ctx))

	// With the branch gone the same task starts over with a fresh base.
	historyDir := filepath.Join(workspace, ".ripcord", "history")
	fresh, err := Open(workspace, historyDir, testTaskID, nil)
	require.NoError(t, err)
	res, err := fresh.Init(ctx)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestListHistoryTasks_SeesEveryBranchInHistoryDir(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	writeWorkspaceFile(t, workspace, "f.txt", "v1")
	historyDir := filepath.Join(workspace, ".ripcord", "history")

	tasks, err := ListHistoryTasks(ctx, workspace, historyDir)
	require.NoError(t, err)
	assert.Empty(t, tasks, "a missing history should list no tasks")
	_, err = os.Stat(historyDir)
	assert.True(t, os.IsNotExist(err), "listing must not create the history")

	first, err := Open(workspace, historyDir, "task-aaa", nil)
	require.NoError(t, err)
	_, err = first.Init(ctx)
	require.NoError(t, err)

	second, err := Open(workspace, historyDir, "task-bbb", nil)
	require.NoError(t, err)
	_, err = second.Init(ctx)
	require.NoError(t, err)

	tasks, err = ListHistoryTasks(ctx, workspace, historyDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-aaa", "task-bbb"}, tasks)

	require.True(t, second.DeleteTask(ctx))
	tasks, err = ListHistoryTasks(ctx, workspace, historyDir)
	require.NoError(t, err)
	assert.Equal(t, []string{"task-aaa"}, tasks)
}

func TestGitStore_TimestampMatchesCommitTime(t *testing.T) {
	ctx := context.Background()
	workspace := t.TempDir()
	st := openGitStore(t, workspace)

	writeWorkspaceFile(t, workspace, "f.txt", "v1")
	cp, err := st.Save(ctx, "one", SaveOptions{})
	require.NoError(t, err)
	require.NotNil(t, cp)

	ts := st.Timestamp(ctx, cp.Hash)
	assert.Positive(t, ts)
	assert.Zero(t, st.Timestamp(ctx, "0000000000000000000000000000000000000001"))
}
