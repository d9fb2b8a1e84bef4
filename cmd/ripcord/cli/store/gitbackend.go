package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/logging"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	// TaskBranchPrefix namespaces per-task refs inside the shadow history.
	TaskBranchPrefix = "tasks/"

	// committerName and committerEmail identify snapshot commits. The shadow
	// history is never pushed, so a fixed identity keeps snapshots
	// independent of the user's git config.
	committerName  = "Ripcord"
	committerEmail = "ripcord@localhost"

	headSwitchPoll    = 50 * time.Millisecond
	headSwitchTimeout = 5 * time.Second
)

// voidBranchRef is where HEAD is parked while the task branch is deleted.
// Pointing HEAD at an unborn ref means the deletion never drags the working
// tree along.
var voidBranchRef = plumbing.NewBranchReferenceName("ripcord/void")

// GitBackend implements Backend on a real git object database. The history
// lives under its own git directory, separate from any .git the workspace may
// have, and treats the workspace as its working tree. Snapshots are written
// straight into the object database rather than through an index file, so the
// user's own git state is never touched.
//
// Reset and Clean shell out to the git CLI. go-git's HardReset incorrectly
// deletes untracked directories even when they are covered by ignore rules,
// and its checkout paths have the same class of bug.
type GitBackend struct {
	workspaceDir string
	historyDir   string
	branch       plumbing.ReferenceName
	repo         *git.Repository
	ignore       gitignore.Matcher

	// staged is the pending snapshot produced by Stage, keyed by
	// slash-separated workspace-relative path. Commit consumes it.
	staged map[string]object.TreeEntry
}

// OpenGitBackend opens the shadow history at historyDir, creating it if
// needed, and binds it to the task's branch. extraExcludes augments the
// built-in ignore rules and the workspace's .gitignore.
func OpenGitBackend(workspaceDir, historyDir, taskID string, extraExcludes []string) (*GitBackend, error) {
	if err := validation.ValidateTaskID(taskID); err != nil {
		return nil, fmt.Errorf("invalid task ID: %w", err)
	}

	workspaceDir, err := filepath.Abs(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace dir: %w", err)
	}
	historyDir, err = filepath.Abs(historyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history dir: %w", err)
	}

	storer := filesystem.NewStorage(osfs.New(historyDir), cache.NewObjectLRUDefault())
	worktree := osfs.New(workspaceDir)

	repo, err := git.Open(storer, worktree)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.Init(storer, worktree)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open history at %s: %w", historyDir, err)
	}

	b := &GitBackend{
		workspaceDir: workspaceDir,
		historyDir:   historyDir,
		branch:       plumbing.NewBranchReferenceName(TaskBranchPrefix + taskID),
		repo:         repo,
	}

	if err := b.bindWorkspace(); err != nil {
		return nil, err
	}
	if err := b.refreshIgnoreRules(extraExcludes); err != nil {
		return nil, err
	}
	if err := b.checkoutBranch(); err != nil {
		return nil, err
	}

	return b, nil
}

// bindWorkspace records the workspace path in the history's config. A
// history created for a different workspace is logged but still usable; the
// workspace may simply have been moved or is reached through a symlink.
func (b *GitBackend) bindWorkspace() error {
	cfg, err := b.repo.Config()
	if err != nil {
		return fmt.Errorf("failed to read history config: %w", err)
	}

	recorded := cfg.Core.Worktree
	if recorded != "" && filepath.Clean(recorded) != filepath.Clean(b.workspaceDir) {
		logging.Warn(context.Background(), "history was created for a different workspace",
			slog.String("recorded", recorded),
			slog.String("workspace", b.workspaceDir),
		)
	}
	if filepath.Clean(recorded) == filepath.Clean(b.workspaceDir) {
		return nil
	}

	cfg.Core.Worktree = b.workspaceDir
	if err := b.repo.SetConfig(cfg); err != nil {
		return fmt.Errorf("failed to write history config: %w", err)
	}
	return nil
}

func (b *GitBackend) refreshIgnoreRules(extra []string) error {
	rules := loadIgnoreRules(b.workspaceDir, extra)
	if err := writeExcludeFile(b.historyDir, rules); err != nil {
		return err
	}
	b.ignore = newIgnoreMatcher(rules)
	return nil
}

// checkoutBranch points HEAD at the task branch so CLI reset and clean
// operate on it. The branch ref may not exist yet; a symbolic HEAD to an
// unborn branch is valid and the first commit creates the ref.
func (b *GitBackend) checkoutBranch() error {
	head := plumbing.NewSymbolicReference(plumbing.HEAD, b.branch)
	if err := b.repo.Storer.SetReference(head); err != nil {
		return fmt.Errorf("failed to point HEAD at %s: %w", b.branch.Short(), err)
	}
	return nil
}

func (b *GitBackend) Stage(ctx context.Context, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if paths == nil {
		return b.stageAll()
	}
	return b.stagePaths(paths)
}

func (b *GitBackend) stageAll() error {
	files, err := collectWorkspaceFiles(b.workspaceDir, b.ignore)
	if err != nil {
		return err
	}

	entries := make(map[string]object.TreeEntry, len(files))
	for _, file := range files {
		absPath := filepath.Join(b.workspaceDir, filepath.FromSlash(file))
		blobHash, mode, err := createBlobFromFile(b.repo, absPath)
		if err != nil {
			// The file may have vanished between the walk and the read.
			continue
		}
		entries[file] = object.TreeEntry{Name: file, Mode: mode, Hash: blobHash}
	}

	b.staged = entries
	return nil
}

// stagePaths refreshes only the named paths on top of the branch tip, so a
// scoped save cannot accidentally capture unrelated edits.
func (b *GitBackend) stagePaths(paths []string) error {
	entries, err := b.tipEntries()
	if err != nil {
		return err
	}

	for _, file := range paths {
		file = filepath.ToSlash(file)
		absPath := filepath.Join(b.workspaceDir, filepath.FromSlash(file))
		if !fileExists(absPath) {
			delete(entries, file)
			continue
		}

		blobHash, mode, err := createBlobFromFile(b.repo, absPath)
		if err != nil {
			// Deleted since detection.
			continue
		}
		entries[file] = object.TreeEntry{Name: file, Mode: mode, Hash: blobHash}
	}

	b.staged = entries
	return nil
}

// tipEntries returns the flattened tree of the branch tip, or an empty map
// for an unborn branch.
func (b *GitBackend) tipEntries() (map[string]object.TreeEntry, error) {
	entries := make(map[string]object.TreeEntry)

	ref, err := b.repo.Reference(b.branch, true)
	if err != nil {
		return entries, nil //nolint:nilerr // Unborn branch means an empty base tree
	}
	commit, err := b.repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get tip commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tip tree: %w", err)
	}
	if err := flattenTree(b.repo, tree, "", entries); err != nil {
		return nil, fmt.Errorf("failed to flatten tip tree: %w", err)
	}
	return entries, nil
}

func (b *GitBackend) Commit(ctx context.Context, message string, allowEmpty bool) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	if b.staged == nil {
		return CommitResult{}, errors.New("nothing staged: Stage must run before Commit")
	}

	treeHash, err := buildTreeFromEntries(b.repo, b.staged)
	if err != nil {
		return CommitResult{}, fmt.Errorf("failed to build tree: %w", err)
	}

	parentHash := plumbing.ZeroHash
	parentTree := plumbing.ZeroHash
	if ref, err := b.repo.Reference(b.branch, true); err == nil {
		parentHash = ref.Hash()
		if parent, err := b.repo.CommitObject(parentHash); err == nil {
			parentTree = parent.TreeHash
		}
	}

	// An identical tree means nothing changed since the tip.
	if parentHash != plumbing.ZeroHash && treeHash == parentTree && !allowEmpty {
		b.staged = nil
		return CommitResult{Hash: parentHash.String(), Created: false}, nil
	}

	commitHash, err := b.writeCommit(treeHash, parentHash, message)
	if err != nil {
		return CommitResult{}, err
	}

	ref := plumbing.NewHashReference(b.branch, commitHash)
	if err := b.repo.Storer.SetReference(ref); err != nil {
		return CommitResult{}, fmt.Errorf("failed to update branch reference: %w", err)
	}

	b.staged = nil
	return CommitResult{Hash: commitHash.String(), Created: true}, nil
}

func (b *GitBackend) writeCommit(treeHash, parentHash plumbing.Hash, message string) (plumbing.Hash, error) {
	sig := object.Signature{
		Name:  committerName,
		Email: committerEmail,
		When:  time.Now(),
	}

	commit := &object.Commit{
		TreeHash:  treeHash,
		Author:    sig,
		Committer: sig,
		Message:   message,
	}
	if parentHash != plumbing.ZeroHash {
		commit.ParentHashes = []plumbing.Hash{parentHash}
	}

	obj := b.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode commit: %w", err)
	}
	hash, err := b.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store commit: %w", err)
	}
	return hash, nil
}

func (b *GitBackend) DiffSummary(ctx context.Context, from, to string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fromEntries, err := b.revEntries(from)
	if err != nil {
		return nil, err
	}

	var toEntries map[string]object.TreeEntry
	if to == "" {
		if b.staged == nil {
			return nil, errors.New("nothing staged: Stage must run before diffing the working tree")
		}
		toEntries = b.staged
	} else {
		toEntries, err = b.revEntries(to)
		if err != nil {
			return nil, err
		}
	}

	changed := make(map[string]struct{})
	for path, entry := range fromEntries {
		other, ok := toEntries[path]
		if !ok || other.Hash != entry.Hash || other.Mode != entry.Mode {
			changed[path] = struct{}{}
		}
	}
	for path := range toEntries {
		if _, ok := fromEntries[path]; !ok {
			changed[path] = struct{}{}
		}
	}

	paths := make([]string, 0, len(changed))
	for path := range changed {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// revEntries resolves rev to a commit and returns its flattened tree.
func (b *GitBackend) revEntries(rev string) (map[string]object.TreeEntry, error) {
	commit, err := b.resolveCommit(rev)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree for %s: %w", rev, err)
	}
	entries := make(map[string]object.TreeEntry)
	if err := flattenTree(b.repo, tree, "", entries); err != nil {
		return nil, fmt.Errorf("failed to flatten tree for %s: %w", rev, err)
	}
	return entries, nil
}

func (b *GitBackend) resolveCommit(rev string) (*object.Commit, error) {
	hash, err := b.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, rev)
	}
	commit, err := b.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %s: %w", rev, err)
	}
	return commit, nil
}

func (b *GitBackend) Show(ctx context.Context, rev, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path = filepath.ToSlash(path)

	if rev == "" {
		if b.staged == nil {
			return nil, errors.New("nothing staged: Stage must run before reading the working tree")
		}
		entry, ok := b.staged[path]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return b.blobContent(entry.Hash)
	}

	commit, err := b.resolveCommit(rev)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}
	file, err := tree.File(path)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%w: %s at %s", ErrFileNotFound, path, shortRev(rev))
		}
		return nil, fmt.Errorf("failed to look up %s at %s: %w", path, shortRev(rev), err)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s at %s: %w", path, shortRev(rev), err)
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", path, shortRev(rev), err)
	}
	return content, nil
}

func (b *GitBackend) blobContent(hash plumbing.Hash) ([]byte, error) {
	blob, err := b.repo.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer func() { _ = reader.Close() }()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return content, nil
}

// Reset moves the branch and working tree to rev with git reset --hard.
func (b *GitBackend) Reset(ctx context.Context, rev string) error {
	hash, err := b.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrCheckpointNotFound, rev)
	}
	if err := b.runGit(ctx, "reset", "--hard", hash.String()); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	return nil
}

// Clean removes files that are untracked at the branch tip. The rules in
// info/exclude keep the workspace's own git state and the history directory
// out of reach.
func (b *GitBackend) Clean(ctx context.Context) error {
	if err := b.runGit(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("clean failed: %w", err)
	}
	return nil
}

func (b *GitBackend) runGit(ctx context.Context, args ...string) error {
	full := append([]string{"--git-dir", b.historyDir, "--work-tree", b.workspaceDir}, args...)
	cmd := exec.CommandContext(ctx, "git", full...) //nolint:gosec // args are internal paths and resolved hashes, not user input
	cmd.Dir = b.workspaceDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(output)), err)
	}
	return nil
}

func (b *GitBackend) Log(ctx context.Context) ([]CommitInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ref, err := b.repo.Reference(b.branch, true)
	if err != nil {
		return nil, nil //nolint:nilerr // Unborn branch means no history yet
	}

	var infos []CommitInfo
	hash := ref.Hash()
	for {
		commit, err := b.repo.CommitObject(hash)
		if err != nil {
			return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
		}

		parents := make([]string, 0, len(commit.ParentHashes))
		for _, parent := range commit.ParentHashes {
			parents = append(parents, parent.String())
		}
		infos = append(infos, CommitInfo{
			Hash:    hash.String(),
			When:    commit.Committer.When,
			Parents: parents,
			Message: commit.Message,
		})

		if len(commit.ParentHashes) == 0 {
			break
		}
		// Snapshot history is linear; follow the first parent.
		hash = commit.ParentHashes[0]
	}

	// Walked tip to root; callers expect root first.
	for i, j := 0, len(infos)-1; i < j; i, j = i+1, j-1 {
		infos[i], infos[j] = infos[j], infos[i]
	}
	return infos, nil
}

func (b *GitBackend) RevParse(ctx context.Context, rev string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if rev == "" {
		return "", fmt.Errorf("%w: empty revision", ErrCheckpointNotFound)
	}
	hash, err := b.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrCheckpointNotFound, rev)
	}
	return hash.String(), nil
}

// DeleteBranch removes the task branch from the shadow history. When HEAD
// points at the branch it is first parked on an unborn ref, and the move is
// confirmed by reading it back, so the deletion can never be interpreted as
// a checkout that touches the workspace's files.
func (b *GitBackend) DeleteBranch(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := b.repo.Reference(b.branch, false); err != nil {
		return fmt.Errorf("%w: %s", ErrBranchNotFound, b.branch.Short())
	}

	head, err := b.repo.Reference(plumbing.HEAD, false)
	if err == nil && head.Type() == plumbing.SymbolicReference && head.Target() == b.branch {
		parked := plumbing.NewSymbolicReference(plumbing.HEAD, voidBranchRef)
		if err := b.repo.Storer.SetReference(parked); err != nil {
			return fmt.Errorf("failed to park HEAD: %w", err)
		}
		if err := b.waitForHead(ctx, voidBranchRef); err != nil {
			return err
		}
	}

	if err := b.repo.Storer.RemoveReference(b.branch); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", b.branch.Short(), err)
	}
	return nil
}

// ListTasks returns the IDs of every task with a branch in this history
// location, sorted. The history directory is shared per workspace, so the
// result covers tasks beyond the one this backend was opened for.
func (b *GitBackend) ListTasks(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	refs, err := b.repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to read references: %w", err)
	}
	defer refs.Close()

	var tasks []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsBranch() {
			return nil
		}
		short := ref.Name().Short()
		if !strings.HasPrefix(short, TaskBranchPrefix) {
			return nil
		}
		tasks = append(tasks, strings.TrimPrefix(short, TaskBranchPrefix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate references: %w", err)
	}
	sort.Strings(tasks)
	return tasks, nil
}

// ListHistoryTasks reads the task IDs recorded at a history location without
// binding to any task. A history that does not exist yet yields an empty
// list rather than being created.
func ListHistoryTasks(ctx context.Context, workspaceDir, historyDir string) ([]string, error) {
	historyDir, err := filepath.Abs(historyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve history dir: %w", err)
	}
	if _, err := os.Stat(historyDir); os.IsNotExist(err) {
		return nil, nil
	}

	storer := filesystem.NewStorage(osfs.New(historyDir), cache.NewObjectLRUDefault())
	repo, err := git.Open(storer, osfs.New(workspaceDir))
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history at %s: %w", historyDir, err)
	}

	b := &GitBackend{repo: repo}
	return b.ListTasks(ctx)
}

// waitForHead polls until HEAD observably points at target. Ref updates go
// through the filesystem and may be served from packed-refs, so a read
// immediately after a write can still see the old target.
func (b *GitBackend) waitForHead(ctx context.Context, target plumbing.ReferenceName) error {
	deadline := time.Now().Add(headSwitchTimeout)
	for {
		head, err := b.repo.Reference(plumbing.HEAD, false)
		if err == nil && head.Type() == plumbing.SymbolicReference && head.Target() == target {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("HEAD did not move to %s within %s", target.Short(), headSwitchTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(headSwitchPoll):
		}
	}
}

// shortRev trims a revision for error messages.
func shortRev(rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
