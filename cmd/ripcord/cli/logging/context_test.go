package logging

import (
	"context"
	"testing"
)

// testTaskID and testComponent are defined in logger_test.go

func TestWithTask(t *testing.T) {
	ctx := context.Background()

	ctx = WithTask(ctx, testTaskID)

	got := TaskIDFromContext(ctx)
	if got != testTaskID {
		t.Errorf("TaskIDFromContext() = %q, want %q", got, testTaskID)
	}
}

func TestWithTask_SetsParentFromExisting(t *testing.T) {
	ctx := context.Background()
	parentTaskID := "aaaaaaaaaaaa"
	childTaskID := "bbbbbbbbbbbb"

	// Set parent task
	ctx = WithTask(ctx, parentTaskID)

	// Set child task - should automatically set parent
	ctx = WithTask(ctx, childTaskID)

	gotTask := TaskIDFromContext(ctx)
	gotParent := ParentTaskIDFromContext(ctx)

	if gotTask != childTaskID {
		t.Errorf("TaskIDFromContext() = %q, want %q", gotTask, childTaskID)
	}
	if gotParent != parentTaskID {
		t.Errorf("ParentTaskIDFromContext() = %q, want %q", gotParent, parentTaskID)
	}
}

func TestWithParentTask(t *testing.T) {
	ctx := context.Background()
	parentTaskID := "cccccccccccc"

	ctx = WithParentTask(ctx, parentTaskID)

	got := ParentTaskIDFromContext(ctx)
	if got != parentTaskID {
		t.Errorf("ParentTaskIDFromContext() = %q, want %q", got, parentTaskID)
	}
}

func TestWithCheckpoint(t *testing.T) {
	ctx := context.Background()
	checkpoint := "f736da47b2ca"

	ctx = WithCheckpoint(ctx, checkpoint)

	got := CheckpointFromContext(ctx)
	if got != checkpoint {
		t.Errorf("CheckpointFromContext() = %q, want %q", got, checkpoint)
	}
}

func TestWithComponent(t *testing.T) {
	ctx := context.Background()

	ctx = WithComponent(ctx, testComponent)

	got := ComponentFromContext(ctx)
	if got != testComponent {
		t.Errorf("ComponentFromContext() = %q, want %q", got, testComponent)
	}
}

func TestContextValues_Empty(t *testing.T) {
	ctx := context.Background()

	// All should return empty strings for unset context
	if got := TaskIDFromContext(ctx); got != "" {
		t.Errorf("TaskIDFromContext() on empty = %q, want empty", got)
	}
	if got := ParentTaskIDFromContext(ctx); got != "" {
		t.Errorf("ParentTaskIDFromContext() on empty = %q, want empty", got)
	}
	if got := CheckpointFromContext(ctx); got != "" {
		t.Errorf("CheckpointFromContext() on empty = %q, want empty", got)
	}
	if got := ComponentFromContext(ctx); got != "" {
		t.Errorf("ComponentFromContext() on empty = %q, want empty", got)
	}
}

func TestAttrsFromContext(t *testing.T) {
	ctx := context.Background()
	ctx = WithTask(ctx, "aaaaaaaaaaaa")
	ctx = WithParentTask(ctx, "bbbbbbbbbbbb")
	ctx = WithCheckpoint(ctx, "f736da47b2ca")
	ctx = WithComponent(ctx, testComponent)

	// Pass empty string for globalTaskID to include context task_id
	attrs := attrsFromContext(ctx, "")

	if len(attrs) != 4 {
		t.Errorf("attrsFromContext() returned %d attrs, want 4", len(attrs))
	}

	attrMap := make(map[string]string)
	for _, attr := range attrs {
		attrMap[attr.Key] = attr.Value.String()
	}

	if attrMap["task_id"] != "aaaaaaaaaaaa" {
		t.Errorf("task_id = %q, want 'aaaaaaaaaaaa'", attrMap["task_id"])
	}
	if attrMap["parent_task_id"] != "bbbbbbbbbbbb" {
		t.Errorf("parent_task_id = %q, want 'bbbbbbbbbbbb'", attrMap["parent_task_id"])
	}
	if attrMap["checkpoint"] != "f736da47b2ca" {
		t.Errorf("checkpoint = %q, want 'f736da47b2ca'", attrMap["checkpoint"])
	}
	if attrMap["component"] != testComponent {
		t.Errorf("component = %q, want %q", attrMap["component"], testComponent)
	}
}

func TestAttrsFromContext_SkipsTaskWhenGlobalSet(t *testing.T) {
	ctx := context.Background()
	ctx = WithTask(ctx, "context-task")
	ctx = WithCheckpoint(ctx, "f736da47b2ca")

	// Pass a global task ID - context task_id should be skipped
	attrs := attrsFromContext(ctx, "global-task")

	if len(attrs) != 1 {
		t.Errorf("attrsFromContext() returned %d attrs, want 1 (task_id should be skipped)", len(attrs))
	}

	if attrs[0].Key != "checkpoint" || attrs[0].Value.String() != "f736da47b2ca" {
		t.Errorf("Expected checkpoint='f736da47b2ca', got %s=%s", attrs[0].Key, attrs[0].Value.String())
	}
}
