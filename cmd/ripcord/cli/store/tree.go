package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// flattenTree recursively flattens a tree into a map of full slash-separated
// paths to entries.
func flattenTree(repo *git.Repository, tree *object.Tree, prefix string, entries map[string]object.TreeEntry) error {
	for _, entry := range tree.Entries {
		fullPath := entry.Name
		if prefix != "" {
			fullPath = prefix + "/" + entry.Name
		}

		if entry.Mode == filemode.Dir {
			subtree, err := repo.TreeObject(entry.Hash)
			if err != nil {
				return fmt.Errorf("failed to get subtree %s: %w", fullPath, err)
			}
			if err := flattenTree(repo, subtree, fullPath, entries); err != nil {
				return err
			}
		} else {
			entries[fullPath] = object.TreeEntry{
				Name: fullPath,
				Mode: entry.Mode,
				Hash: entry.Hash,
			}
		}
	}
	return nil
}

// collectWorkspaceFiles walks the workspace and returns every snapshot-able
// file as a workspace-relative, slash-separated path, skipping anything the
// ignore rules exclude.
func collectWorkspaceFiles(workspaceDir string, ignore gitignore.Matcher) ([]string, error) {
	var files []string
	err := filepath.Walk(workspaceDir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // Skip filesystem errors during walk
		}

		relPath, err := filepath.Rel(workspaceDir, path)
		if err != nil {
			return nil //nolint:nilerr // Skip paths we can't make relative
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		parts := strings.Split(relPath, "/")

		if info.IsDir() {
			if ignore.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore.Match(parts, false) {
			return nil
		}

		// Sockets, pipes and devices are not representable in a tree.
		if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
			return nil
		}

		files = append(files, relPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk workspace: %w", err)
	}

	return files, nil
}

// fileExists checks if a file exists at the given path without following
// symlinks.
func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// createBlobFromFile writes the file at absPath into the object database and
// returns its hash and git file mode. Symlinks are stored as link entries
// whose content is the target path.
func createBlobFromFile(repo *git.Repository, absPath string) (plumbing.Hash, filemode.FileMode, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to stat file: %w", err)
	}

	mode := filemode.Regular
	var content []byte
	if info.Mode()&os.ModeSymlink != 0 {
		mode = filemode.Symlink
		target, err := os.Readlink(absPath)
		if err != nil {
			return plumbing.ZeroHash, 0, fmt.Errorf("failed to read symlink: %w", err)
		}
		content = []byte(target)
	} else {
		if info.Mode()&0o111 != 0 {
			mode = filemode.Executable
		}
		content, err = os.ReadFile(absPath) //nolint:gosec // absPath comes from walking the workspace
		if err != nil {
			return plumbing.ZeroHash, 0, fmt.Errorf("failed to read file: %w", err)
		}
	}

	return createBlobFromContent(repo, content, mode)
}

// createBlobFromContent writes raw bytes into the object database.
func createBlobFromContent(repo *git.Repository, content []byte, mode filemode.FileMode) (plumbing.Hash, filemode.FileMode, error) {
	obj := repo.Storer.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(content)))

	writer, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to get object writer: %w", err)
	}
	if _, err = writer.Write(content); err != nil {
		_ = writer.Close()
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to write blob content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to close blob writer: %w", err)
	}

	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, 0, fmt.Errorf("failed to store blob object: %w", err)
	}

	return hash, mode, nil
}

// treeNode represents a node in our tree structure.
type treeNode struct {
	entries map[string]*treeNode // subdirectories
	files   []object.TreeEntry   // files in this directory
}

// buildTreeFromEntries builds a proper git tree structure from flattened file
// entries and returns the root tree hash.
func buildTreeFromEntries(repo *git.Repository, entries map[string]object.TreeEntry) (plumbing.Hash, error) {
	root := &treeNode{
		entries: make(map[string]*treeNode),
		files:   []object.TreeEntry{},
	}

	for fullPath, entry := range entries {
		parts := strings.Split(fullPath, "/")
		insertIntoTree(root, parts, entry)
	}

	// Build tree objects from the bottom up.
	return buildTreeObject(repo, root)
}

// insertIntoTree inserts a file entry into the tree structure.
func insertIntoTree(node *treeNode, pathParts []string, entry object.TreeEntry) {
	if len(pathParts) == 1 {
		node.files = append(node.files, object.TreeEntry{
			Name: pathParts[0],
			Mode: entry.Mode,
			Hash: entry.Hash,
		})
		return
	}

	dirName := pathParts[0]
	if node.entries[dirName] == nil {
		node.entries[dirName] = &treeNode{
			entries: make(map[string]*treeNode),
			files:   []object.TreeEntry{},
		}
	}
	insertIntoTree(node.entries[dirName], pathParts[1:], entry)
}

// buildTreeObject recursively builds tree objects from a treeNode.
func buildTreeObject(repo *git.Repository, node *treeNode) (plumbing.Hash, error) {
	var treeEntries []object.TreeEntry

	treeEntries = append(treeEntries, node.files...)

	for name, subnode := range node.entries {
		subHash, err := buildTreeObject(repo, subnode)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		treeEntries = append(treeEntries, object.TreeEntry{
			Name: name,
			Mode: filemode.Dir,
			Hash: subHash,
		})
	}

	sortTreeEntries(treeEntries)

	tree := &object.Tree{Entries: treeEntries}

	obj := repo.Storer.NewEncodedObject()
	if err := tree.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}

	hash, err := repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to store tree: %w", err)
	}

	return hash, nil
}

// sortTreeEntries sorts tree entries in git's required order: by name, with
// directories compared as if they had a trailing slash.
func sortTreeEntries(entries []object.TreeEntry) {
	sort.Slice(entries, func(i, j int) bool {
		nameI := entries[i].Name
		nameJ := entries[j].Name
		if entries[i].Mode == filemode.Dir {
			nameI += "/"
		}
		if entries[j].Mode == filemode.Dir {
			nameJ += "/"
		}
		return nameI < nameJ
	})
}
