// Package trailers provides parsing and formatting for Ripcord commit message
// trailers. Trailers are key-value metadata appended to shadow commit messages
// following the git trailer convention (key: value format after a blank line).
package trailers

import (
	"fmt"
	"regexp"
	"strings"
)

// Trailer key constants used in shadow commit messages.
const (
	// TaskTrailerKey identifies which task created a checkpoint.
	TaskTrailerKey = "Ripcord-Task"

	// BaseTrailerKey records the history base hash a checkpoint belongs to.
	// All checkpoints of one task chain back to the same base commit, so the
	// trailer lets a reopened task verify it is reading its own history.
	BaseTrailerKey = "Ripcord-Base"

	// ParentTaskTrailerKey records the parent task for checkpoints created by
	// a subtask. Present only on subtask checkpoints.
	ParentTaskTrailerKey = "Ripcord-Parent-Task"
)

// Pre-compiled regexes for trailer parsing.
var (
	taskTrailerRegex       = regexp.MustCompile(TaskTrailerKey + `:\s*([a-zA-Z0-9_\-]+)`)
	baseTrailerRegex       = regexp.MustCompile(BaseTrailerKey + `:\s*([a-f0-9]{40})`)
	parentTaskTrailerRegex = regexp.MustCompile(ParentTaskTrailerKey + `:\s*([a-zA-Z0-9_\-]+)`)
)

// ParseTask extracts the task ID from a commit message.
// Returns the task ID and true if found, empty string and false otherwise.
func ParseTask(commitMessage string) (string, bool) {
	matches := taskTrailerRegex.FindStringSubmatch(commitMessage)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1]), true
	}
	return "", false
}

// ParseBase extracts the base hash from a commit message.
// Returns the full SHA and true if found, empty string and false otherwise.
func ParseBase(commitMessage string) (string, bool) {
	matches := baseTrailerRegex.FindStringSubmatch(commitMessage)
	if len(matches) > 1 {
		return matches[1], true
	}
	return "", false
}

// ParseParentTask extracts the parent task ID from a commit message.
// Returns the parent task ID and true if found, empty string and false otherwise.
func ParseParentTask(commitMessage string) (string, bool) {
	matches := parentTaskTrailerRegex.FindStringSubmatch(commitMessage)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1]), true
	}
	return "", false
}

// FormatCheckpoint creates a checkpoint commit message with task and base trailers.
func FormatCheckpoint(message, taskID, baseHash string) string {
	var sb strings.Builder
	sb.WriteString(message)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n", TaskTrailerKey, taskID))
	if baseHash != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", BaseTrailerKey, baseHash))
	}
	return sb.String()
}

// FormatSubtaskCheckpoint creates a checkpoint commit message for a subtask,
// including the parent task trailer.
func FormatSubtaskCheckpoint(message, taskID, parentTaskID, baseHash string) string {
	var sb strings.Builder
	sb.WriteString(message)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("%s: %s\n", TaskTrailerKey, taskID))
	if parentTaskID != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", ParentTaskTrailerKey, parentTaskID))
	}
	if baseHash != "" {
		sb.WriteString(fmt.Sprintf("%s: %s\n", BaseTrailerKey, baseHash))
	}
	return sb.String()
}

// Subject returns the first line of a commit message, with trailers and body
// stripped. Used when showing checkpoint history to users.
func Subject(commitMessage string) string {
	if idx := strings.IndexByte(commitMessage, '\n'); idx >= 0 {
		return strings.TrimSpace(commitMessage[:idx])
	}
	return strings.TrimSpace(commitMessage)
}
