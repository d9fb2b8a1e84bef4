package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is a fully in-memory Backend for tests. The working tree is
// a map of file contents and commits are immutable snapshots of that map,
// which keeps store tests hermetic and fast. It follows the same staging,
// dedup, and reset semantics as GitBackend.
type MemoryBackend struct {
	mu sync.Mutex

	workspace map[string]string
	staged    map[string]string
	commits   map[string]*memCommit
	tip       string // hash of the branch tip, empty while unborn
	seq       int
	clock     time.Time

	// failures maps an operation name to an error returned once on its next
	// call, for exercising retry and fallback paths.
	failures map[string]error
}

type memCommit struct {
	hash    string
	message string
	when    time.Time
	parents []string
	tree    map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		workspace: make(map[string]string),
		commits:   make(map[string]*memCommit),
		failures:  make(map[string]error),
		clock:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// WriteFile puts a file into the fake working tree.
func (m *MemoryBackend) WriteFile(path, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspace[path] = content
}

// RemoveFile deletes a file from the fake working tree.
func (m *MemoryBackend) RemoveFile(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workspace, path)
}

// ReadFile reads a file from the fake working tree.
func (m *MemoryBackend) ReadFile(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.workspace[path]
	return content, ok
}

// WorkspaceFiles returns the sorted paths currently in the fake working tree.
func (m *MemoryBackend) WorkspaceFiles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	files := slices.Collect(maps.Keys(m.workspace))
	sort.Strings(files)
	return files
}

// WriteWorkspaceFile applies reverted content to the fake working tree.
func (m *MemoryBackend) WriteWorkspaceFile(path string, content []byte) error {
	m.WriteFile(path, string(content))
	return nil
}

// RemoveWorkspaceFile removes a reverted file from the fake working tree.
func (m *MemoryBackend) RemoveWorkspaceFile(path string) error {
	m.RemoveFile(path)
	return nil
}

// FailNext makes the named operation (stage, commit, diff, show, reset,
// clean, log, revparse) fail once with err.
func (m *MemoryBackend) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *MemoryBackend) failNext(op string) error {
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

func (m *MemoryBackend) Stage(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("stage"); err != nil {
		return err
	}

	if paths == nil {
		m.staged = maps.Clone(m.workspace)
		return nil
	}

	staged := make(map[string]string)
	if tip := m.commits[m.tip]; tip != nil {
		staged = maps.Clone(tip.tree)
	}
	for _, path := range paths {
		if content, ok := m.workspace[path]; ok {
			staged[path] = content
		} else {
			delete(staged, path)
		}
	}
	m.staged = staged
	return nil
}

func (m *MemoryBackend) Commit(ctx context.Context, message string, allowEmpty bool) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("commit"); err != nil {
		return CommitResult{}, err
	}
	if m.staged == nil {
		return CommitResult{}, errors.New("nothing staged: Stage must run before Commit")
	}

	if m.tip != "" && maps.Equal(m.staged, m.commits[m.tip].tree) && !allowEmpty {
		m.staged = nil
		return CommitResult{Hash: m.tip, Created: false}, nil
	}

	m.seq++
	m.clock = m.clock.Add(time.Second)
	hash := fmt.Sprintf("%040x", m.seq)

	var parents []string
	if m.tip != "" {
		parents = []string{m.tip}
	}
	m.commits[hash] = &memCommit{
		hash:    hash,
		message: message,
		when:    m.clock,
		parents: parents,
		tree:    maps.Clone(m.staged),
	}
	m.tip = hash
	m.staged = nil
	return CommitResult{Hash: hash, Created: true}, nil
}

func (m *MemoryBackend) DiffSummary(ctx context.Context, from, to string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("diff"); err != nil {
		return nil, err
	}

	fromCommit, err := m.resolve(from)
	if err != nil {
		return nil, err
	}
	fromTree := fromCommit.tree

	var toTree map[string]string
	if to == "" {
		if m.staged == nil {
			return nil, errors.New("nothing staged: Stage must run before diffing the working tree")
		}
		toTree = m.staged
	} else {
		toCommit, err := m.resolve(to)
		if err != nil {
			return nil, err
		}
		toTree = toCommit.tree
	}

	changed := make(map[string]struct{})
	for path, content := range fromTree {
		if other, ok := toTree[path]; !ok || other != content {
			changed[path] = struct{}{}
		}
	}
	for path := range toTree {
		if _, ok := fromTree[path]; !ok {
			changed[path] = struct{}{}
		}
	}

	paths := slices.Collect(maps.Keys(changed))
	sort.Strings(paths)
	return paths, nil
}

func (m *MemoryBackend) Show(ctx context.Context, rev, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("show"); err != nil {
		return nil, err
	}

	if rev == "" {
		if m.staged == nil {
			return nil, errors.New("nothing staged: Stage must run before reading the working tree")
		}
		content, ok := m.staged[path]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return []byte(content), nil
	}

	commit, err := m.resolve(rev)
	if err != nil {
		return nil, err
	}
	content, ok := commit.tree[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s at %s", ErrFileNotFound, path, shortRev(rev))
	}
	return []byte(content), nil
}

// Reset moves the tip and replaces tracked files in the fake working tree.
// Files untracked at the current tip survive until Clean, matching git
// reset --hard semantics.
func (m *MemoryBackend) Reset(ctx context.Context, rev string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("reset"); err != nil {
		return err
	}

	target, err := m.resolve(rev)
	if err != nil {
		return err
	}

	if cur := m.commits[m.tip]; cur != nil {
		for path := range cur.tree {
			if _, ok := target.tree[path]; !ok {
				delete(m.workspace, path)
			}
		}
	}
	for path, content := range target.tree {
		m.workspace[path] = content
	}

	m.tip = target.hash
	m.staged = nil
	return nil
}

func (m *MemoryBackend) Clean(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("clean"); err != nil {
		return err
	}

	var tipTree map[string]string
	if tip := m.commits[m.tip]; tip != nil {
		tipTree = tip.tree
	}
	for path := range m.workspace {
		if _, ok := tipTree[path]; !ok {
			delete(m.workspace, path)
		}
	}
	return nil
}

func (m *MemoryBackend) Log(ctx context.Context) ([]CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("log"); err != nil {
		return nil, err
	}

	var infos []CommitInfo
	hash := m.tip
	for hash != "" {
		commit := m.commits[hash]
		infos = append(infos, CommitInfo{
			Hash:    commit.hash,
			When:    commit.when,
			Parents: slices.Clone(commit.parents),
			Message: commit.message,
		})
		if len(commit.parents) == 0 {
			break
		}
		hash = commit.parents[0]
	}

	slices.Reverse(infos)
	return infos, nil
}

func (m *MemoryBackend) RevParse(ctx context.Context, rev string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext("revparse"); err != nil {
		return "", err
	}

	commit, err := m.resolve(rev)
	if err != nil {
		return "", err
	}
	return commit.hash, nil
}

// DeleteBranch drops the branch and every commit on it.
func (m *MemoryBackend) DeleteBranch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tip == "" {
		return fmt.Errorf("%w: no commits", ErrBranchNotFound)
	}
	m.commits = make(map[string]*memCommit)
	m.tip = ""
	m.staged = nil
	return nil
}

// resolve looks up a commit by full hash or unique prefix. Callers hold mu.
func (m *MemoryBackend) resolve(rev string) (*memCommit, error) {
	if rev == "" {
		return nil, fmt.Errorf("%w: empty revision", ErrCheckpointNotFound)
	}
	if commit, ok := m.commits[rev]; ok {
		return commit, nil
	}

	var match *memCommit
	for hash, commit := range m.commits {
		if strings.HasPrefix(hash, rev) {
			if match != nil {
				return nil, fmt.Errorf("ambiguous revision %q", rev)
			}
			match = commit
		}
	}
	if match == nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, shortRev(rev))
	}
	return match, nil
}
