package logging

import (
	"context"
)

// Context keys for logging values.
// Using private types to avoid key collisions.
type contextKey int

const (
	taskIDKey contextKey = iota
	parentTaskIDKey
	checkpointKey
	componentKey
)

// WithTask adds a task ID to the context.
// If the context already has a different task ID, it becomes the parent task ID.
// This happens when a subtask's changes are reconciled into its parent.
func WithTask(ctx context.Context, taskID string) context.Context {
	// If there's an existing task, it becomes the parent
	existing := TaskIDFromContext(ctx)
	if existing != "" && existing != taskID {
		ctx = context.WithValue(ctx, parentTaskIDKey, existing)
	}
	return context.WithValue(ctx, taskIDKey, taskID)
}

// WithParentTask explicitly sets the parent task ID.
// Use this when you need to set the parent explicitly rather than
// having it inferred from an existing task.
func WithParentTask(ctx context.Context, parentTaskID string) context.Context {
	return context.WithValue(ctx, parentTaskIDKey, parentTaskID)
}

// WithCheckpoint adds a checkpoint hash to the context.
func WithCheckpoint(ctx context.Context, checkpoint string) context.Context {
	return context.WithValue(ctx, checkpointKey, checkpoint)
}

// WithComponent adds a component name to the context.
// Component names identify the subsystem generating logs (e.g., "store", "tracker", "reconcile").
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// TaskIDFromContext extracts the task ID from the context.
// Returns empty string if not set.
func TaskIDFromContext(ctx context.Context) string {
	if v := ctx.Value(taskIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ParentTaskIDFromContext extracts the parent task ID from the context.
// Returns empty string if not set.
func ParentTaskIDFromContext(ctx context.Context) string {
	if v := ctx.Value(parentTaskIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CheckpointFromContext extracts the checkpoint hash from the context.
// Returns empty string if not set.
func CheckpointFromContext(ctx context.Context) string {
	if v := ctx.Value(checkpointKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// ComponentFromContext extracts the component name from the context.
// Returns empty string if not set.
func ComponentFromContext(ctx context.Context) string {
	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
