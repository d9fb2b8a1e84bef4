//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/store"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// TestEnv manages an isolated workspace for integration tests.
//
// Note: the working directory is never changed and no env vars are set on
// the test process itself, so tests can run in parallel. CLI commands get
// their working directory and environment via exec.Cmd.
type TestEnv struct {
	T       *testing.T
	RepoDir string
}

// NewTestEnv creates an isolated workspace directory.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	// Resolve symlinks on macOS where /var -> /private/var, so the CLI
	// subprocess and the test agree on paths.
	repoDir := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(repoDir); err == nil {
		repoDir = resolved
	}

	return &TestEnv{T: t, RepoDir: repoDir}
}

// NewWorkspaceEnv creates a TestEnv and starts a task in it with
// 'ripcord init'.
func NewWorkspaceEnv(t *testing.T) *TestEnv {
	t.Helper()
	env := NewTestEnv(t)
	env.MustRun("init")
	return env
}

// RunCommand executes the CLI with the given arguments in the workspace
// and returns its combined output.
func (env *TestEnv) RunCommand(args ...string) (string, error) {
	env.T.Helper()

	cmd := exec.Command(getTestBinary(), args...)
	cmd.Dir = env.RepoDir
	cmd.Env = append(os.Environ(), "RIPCORD_METRICS_OPTOUT=1")
	output, err := cmd.CombinedOutput()
	return string(output), err
}

// MustRun executes the CLI and fails the test if the command fails.
func (env *TestEnv) MustRun(args ...string) string {
	env.T.Helper()

	output, err := env.RunCommand(args...)
	if err != nil {
		env.T.Fatalf("ripcord %s failed: %v\nOutput: %s", strings.Join(args, " "), err, output)
	}
	return output
}

// WriteFile creates a file with the given content in the workspace.
// It creates parent directories as needed.
func (env *TestEnv) WriteFile(path, content string) {
	env.T.Helper()

	fullPath := filepath.Join(env.RepoDir, path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		env.T.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		env.T.Fatalf("failed to write file %s: %v", path, err)
	}
}

// ReadFile reads a file from the workspace.
func (env *TestEnv) ReadFile(path string) string {
	env.T.Helper()

	data, err := os.ReadFile(filepath.Join(env.RepoDir, path))
	if err != nil {
		env.T.Fatalf("failed to read file %s: %v", path, err)
	}
	return string(data)
}

// FileExists checks if a file exists in the workspace.
func (env *TestEnv) FileExists(path string) bool {
	env.T.Helper()

	_, err := os.Stat(filepath.Join(env.RepoDir, path))
	return err == nil
}

// CurrentTask returns the task recorded as current, or "" when none is.
func (env *TestEnv) CurrentTask() string {
	env.T.Helper()

	data, err := os.ReadFile(filepath.Join(env.RepoDir, paths.CurrentTaskFile))
	if os.IsNotExist(err) {
		return ""
	}
	if err != nil {
		env.T.Fatalf("failed to read current task: %v", err)
	}
	return strings.TrimSpace(string(data))
}

// LogEntry is one row of 'ripcord log --json'.
type LogEntry struct {
	Hash    string `json:"hash"`
	Subject string `json:"subject"`
	Base    bool   `json:"base"`
}

// LogEntries returns the current task's history via the CLI, newest first.
func (env *TestEnv) LogEntries() []LogEntry {
	env.T.Helper()

	out := env.MustRun("log", "--json")
	var entries []LogEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		env.T.Fatalf("failed to parse log --json: %v\nOutput: %s", err, out)
	}
	return entries
}

// openHistory opens the shadow history repository the same way the store
// does: the history directory is the git dir, the workspace the work tree.
func (env *TestEnv) openHistory() *git.Repository {
	env.T.Helper()

	historyDir := filepath.Join(env.RepoDir, paths.HistoryDir)
	storer := filesystem.NewStorage(osfs.New(historyDir), cache.NewObjectLRUDefault())
	repo, err := git.Open(storer, osfs.New(env.RepoDir))
	if err != nil {
		env.T.Fatalf("failed to open history repo: %v", err)
	}
	return repo
}

// TaskBranchExists reports whether the task has a branch in the history.
func (env *TestEnv) TaskBranchExists(taskID string) bool {
	env.T.Helper()

	repo := env.openHistory()
	_, err := repo.Reference(plumbing.NewBranchReferenceName(store.TaskBranchPrefix+taskID), true)
	return err == nil
}

// TaskCommitSubjects returns the task branch commit subjects, newest first.
// The last entry is always the base snapshot.
func (env *TestEnv) TaskCommitSubjects(taskID string) []string {
	env.T.Helper()

	repo := env.openHistory()
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(store.TaskBranchPrefix+taskID), true)
	if err != nil {
		env.T.Fatalf("failed to resolve branch for task %s: %v", taskID, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		env.T.Fatalf("failed to read task history: %v", err)
	}

	var subjects []string
	err = iter.ForEach(func(c *object.Commit) error {
		subject, _, _ := strings.Cut(c.Message, "\n")
		subjects = append(subjects, subject)
		return nil
	})
	if err != nil {
		env.T.Fatalf("failed to iterate commits: %v", err)
	}
	return subjects
}
