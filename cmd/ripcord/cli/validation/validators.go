// Package validation provides input validation functions for the Ripcord CLI.
// This package has no dependencies to avoid import cycles.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// pathSafeRegex matches alphanumeric characters, underscores, and hyphens only.
// Used to validate IDs that will be used in file paths and ref names.
var pathSafeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// hexRegex matches lowercase hex strings, the shape of commit hashes.
var hexRegex = regexp.MustCompile(`^[0-9a-f]+$`)

// ValidateTaskID validates that a task ID contains only safe characters for
// file paths and branch names. This prevents path traversal and ref injection
// when task IDs are used to build history paths and branch refs.
func ValidateTaskID(id string) error {
	if id == "" {
		return errors.New("task ID cannot be empty")
	}
	if !pathSafeRegex.MatchString(id) {
		return fmt.Errorf("invalid task ID %q: must be alphanumeric with underscores/hyphens only", id)
	}
	return nil
}

// ValidateCheckpointID validates that a checkpoint ID looks like a commit hash
// or an abbreviated one. Empty is allowed (optional field meaning "base" or
// "working tree" depending on context).
func ValidateCheckpointID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 64 {
		return fmt.Errorf("invalid checkpoint ID %q: too long", id)
	}
	if !hexRegex.MatchString(strings.ToLower(id)) {
		return fmt.Errorf("invalid checkpoint ID %q: must be hexadecimal", id)
	}
	return nil
}

// ValidateRelativePath validates that a workspace-relative path stays inside
// the workspace: no absolute paths, no backslashes, no ".." traversal.
func ValidateRelativePath(p string) error {
	if p == "" {
		return errors.New("path cannot be empty")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return fmt.Errorf("invalid path %q: must be workspace-relative with forward slashes", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("invalid path %q: contains parent traversal", p)
		}
	}
	return nil
}
