package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

const gitignoreFileName = ".gitignore"

// builtinExcludes are applied regardless of the workspace's .gitignore.
// From the shadow history's point of view the workspace's real .git is just
// an untracked directory, so without these rules a clean would delete it.
var builtinExcludes = []string{
	".git/",
	paths.RipcordDir + "/",
}

// loadIgnoreRules composes the exclusion rules for a workspace: the built-in
// excludes, then extra patterns from settings, then the workspace's own
// top-level .gitignore.
func loadIgnoreRules(workspaceDir string, extra []string) []string {
	rules := make([]string, 0, len(builtinExcludes)+len(extra))
	rules = append(rules, builtinExcludes...)
	rules = append(rules, extra...)

	data, err := os.ReadFile(filepath.Join(workspaceDir, gitignoreFileName))
	if err != nil {
		// No workspace .gitignore is the common case.
		return rules
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rules = append(rules, line)
	}
	return rules
}

// writeExcludeFile persists the rules to the history's info/exclude file so
// that git CLI operations (reset, clean) honor the same exclusions as the
// snapshot walk.
func writeExcludeFile(gitDir string, rules []string) error {
	excludePath := filepath.Join(gitDir, "info", "exclude")
	if err := os.MkdirAll(filepath.Dir(excludePath), 0o750); err != nil {
		return fmt.Errorf("failed to create info dir: %w", err)
	}
	content := strings.Join(rules, "\n") + "\n"
	if err := os.WriteFile(excludePath, []byte(content), 0o644); err != nil { //nolint:gosec // exclude rules are not sensitive
		return fmt.Errorf("failed to write exclude file: %w", err)
	}
	return nil
}

// newIgnoreMatcher compiles the rules for the in-process workspace walk.
func newIgnoreMatcher(rules []string) gitignore.Matcher {
	patterns := make([]gitignore.Pattern, 0, len(rules))
	for _, rule := range rules {
		patterns = append(patterns, gitignore.ParsePattern(rule, nil))
	}
	return gitignore.NewMatcher(patterns)
}

// Excludes returns the snapshot exclusion predicate for a workspace, for
// callers that apply the same rules outside the store. rel is a
// workspace-relative slash path.
func Excludes(workspaceDir string, extra []string) func(rel string, isDir bool) bool {
	matcher := newIgnoreMatcher(loadIgnoreRules(workspaceDir, extra))
	return func(rel string, isDir bool) bool {
		return matcher.Match(strings.Split(rel, "/"), isDir)
	}
}
