// Package taskstate persists per-task reconciliation state between CLI
// invocations.
//
// The shadow history is the durable record; a state file only carries the
// pieces that cannot be rebuilt from it: the baseline the changeset is
// measured from, the per-file acceptance checkpoints, and the paths queued
// while no baseline was trusted. Deleting a state file loses acceptance
// marks and nothing else, so callers treat a missing or corrupted file as
// a fresh start.
package taskstate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ripcordio/cli/cmd/ripcord/cli/jsonutil"
	"github.com/ripcordio/cli/cmd/ripcord/cli/paths"
	"github.com/ripcordio/cli/cmd/ripcord/cli/validation"
)

// State is the reconciliation cache for one task, stored in
// .ripcord/state/<task-id>.json.
type State struct {
	// TaskID is the task this state belongs to.
	TaskID string `json:"task_id"`

	// Baseline is the checkpoint the visible changeset is measured from.
	// Empty means no baseline was established.
	Baseline string `json:"baseline,omitempty"`

	// AcceptedBaselines maps workspace-relative paths to the checkpoint
	// each file's changes were accepted at.
	AcceptedBaselines map[string]string `json:"accepted_baselines,omitempty"`

	// QueuedPaths are edit paths noted while no baseline was trusted,
	// waiting to be folded into the first recompute.
	QueuedPaths []string `json:"queued_paths,omitempty"`

	// Waiting reports whether the task was still waiting for a baseline
	// when the state was written.
	Waiting bool `json:"waiting"`

	// UpdatedAt is when the state was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store provides low-level operations on task state files.
//
// Store is a persistence primitive. It does not interpret the state: the
// session layer decides what a cached baseline means and when acceptance
// entries are stale.
type Store struct {
	// stateDir is the directory where task state files are stored
	stateDir string
}

// NewStore returns a store over the workspace's .ripcord/state directory.
func NewStore(workspaceRoot string) *Store {
	return &Store{stateDir: filepath.Join(workspaceRoot, paths.StateDir)}
}

// NewStoreWithDir returns a store over a custom directory.
// This is useful for testing.
func NewStoreWithDir(stateDir string) *Store {
	return &Store{stateDir: stateDir}
}

// Load loads the state for the given task ID.
// Returns (nil, nil) when no state file exists (not an error condition).
func (s *Store) Load(ctx context.Context, taskID string) (*State, error) {
	_ = ctx // Reserved for future use

	if err := validation.ValidateTaskID(taskID); err != nil {
		return nil, fmt.Errorf("invalid task ID: %w", err)
	}

	stateFile := s.stateFilePath(taskID)

	data, err := os.ReadFile(stateFile) //nolint:gosec // stateFile is derived from a validated taskID
	if os.IsNotExist(err) {
		return nil, nil //nolint:nilnil // nil,nil indicates no cached state (expected case)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task state: %w", err)
	}
	return &state, nil
}

// Save writes the state atomically and stamps UpdatedAt.
func (s *Store) Save(ctx context.Context, state *State) error {
	_ = ctx // Reserved for future use

	if err := validation.ValidateTaskID(state.TaskID); err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}

	if err := os.MkdirAll(s.stateDir, 0o750); err != nil {
		return fmt.Errorf("failed to create task state directory: %w", err)
	}

	state.UpdatedAt = time.Now().UTC()

	data, err := jsonutil.MarshalIndentWithNewline(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task state: %w", err)
	}

	stateFile := s.stateFilePath(state.TaskID)

	// Atomic write: write to temp file, then rename
	tmpFile := stateFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write task state: %w", err)
	}
	if err := os.Rename(tmpFile, stateFile); err != nil {
		return fmt.Errorf("failed to rename task state file: %w", err)
	}
	return nil
}

// Clear removes the state file for the given task ID.
func (s *Store) Clear(ctx context.Context, taskID string) error {
	_ = ctx // Reserved for future use

	if err := validation.ValidateTaskID(taskID); err != nil {
		return fmt.Errorf("invalid task ID: %w", err)
	}

	if err := os.Remove(s.stateFilePath(taskID)); err != nil {
		if os.IsNotExist(err) {
			return nil // Already gone, not an error
		}
		return fmt.Errorf("failed to remove task state file: %w", err)
	}
	return nil
}

// RemoveAll removes the entire task state directory.
func (s *Store) RemoveAll() error {
	if err := os.RemoveAll(s.stateDir); err != nil {
		return fmt.Errorf("failed to remove task state directory: %w", err)
	}
	return nil
}

// List returns the states of all tasks with a state file, skipping
// corrupted files.
func (s *Store) List(ctx context.Context) ([]*State, error) {
	entries, err := os.ReadDir(s.stateDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task state directory: %w", err)
	}

	var states []*State
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		taskID := strings.TrimSuffix(entry.Name(), ".json")
		state, err := s.Load(ctx, taskID)
		if err != nil {
			continue // Skip corrupted state files
		}
		if state == nil {
			continue
		}

		states = append(states, state)
	}
	return states, nil
}

// stateFilePath returns the path to a task state file.
func (s *Store) stateFilePath(taskID string) string {
	return filepath.Join(s.stateDir, taskID+".json")
}
