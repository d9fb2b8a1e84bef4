package store

import "errors"

var (
	// ErrCheckpointNotFound is returned when a checkpoint ID does not resolve
	// to a commit in the task's history.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrFileNotFound is returned by Content and Show when the path does not
	// exist at the requested checkpoint. Callers treat this as "the file was
	// created later", not as a failure.
	ErrFileNotFound = errors.New("file not found at checkpoint")

	// ErrProtectedDirectory is returned by Init when the workspace resolves
	// to the user's home directory or another protected location that must
	// never be snapshotted wholesale.
	ErrProtectedDirectory = errors.New("workspace is a protected directory")

	// ErrBranchNotFound is returned when the task branch does not exist,
	// allowing callers to use errors.Is for idempotent deletion patterns.
	ErrBranchNotFound = errors.New("task branch not found")
)
