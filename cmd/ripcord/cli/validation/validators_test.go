package validation

import (
	"strings"
	"testing"
)

func TestValidateTaskID(t *testing.T) {
	tests := []struct {
		name    string
		taskID  string
		wantErr bool
		errMsg  string
	}{
		// Valid cases
		{
			name:    "valid hex task ID",
			taskID:  "a1b2c3d4e5f6",
			wantErr: false,
		},
		{
			name:    "valid task ID with hyphens",
			taskID:  "task-2026-01-25",
			wantErr: false,
		},
		{
			name:    "valid task ID with underscores",
			taskID:  "task_test_123",
			wantErr: false,
		},
		// Empty string (security-critical)
		{
			name:    "empty task ID",
			taskID:  "",
			wantErr: true,
			errMsg:  "task ID cannot be empty",
		},
		// Path separators (security-critical - path traversal prevention)
		{
			name:    "task ID with forward slash",
			taskID:  "task/123",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
		{
			name:    "task ID with backslash",
			taskID:  "task\\123",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
		{
			name:    "path traversal attempt",
			taskID:  "../../etc/passwd",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
		{
			name:    "absolute unix path",
			taskID:  "/etc/passwd",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
		// Other unsafe characters
		{
			name:    "dot rejected",
			taskID:  "task.123",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
		{
			name:    "space rejected",
			taskID:  "task 123",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
		{
			name:    "null byte rejected",
			taskID:  "task\x00123",
			wantErr: true,
			errMsg:  "must be alphanumeric with underscores/hyphens only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTaskID(tt.taskID)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ValidateTaskID(%q) expected error containing %q, got nil", tt.taskID, tt.errMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("ValidateTaskID(%q) error = %q, want error containing %q", tt.taskID, err.Error(), tt.errMsg)
				}
			} else if err != nil {
				t.Errorf("ValidateTaskID(%q) unexpected error: %v", tt.taskID, err)
			}
		})
	}
}

func TestValidateCheckpointID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		// Valid cases
		{name: "valid full sha", id: "f736da47b2ca4f86bb32a1bbe582e464f736da47", wantErr: false},
		{name: "valid short sha", id: "f736da4", wantErr: false},
		{name: "empty is allowed", id: "", wantErr: false},
		// Invalid - not hex
		{name: "uppercase rejected", id: "F736DA47", wantErr: true},
		{name: "non-hex characters", id: "notahash", wantErr: true},
		{name: "revision expression", id: "HEAD~1", wantErr: true},
		// Invalid - path traversal
		{name: "path traversal", id: "../../../etc/passwd", wantErr: true},
		{name: "forward slash", id: "refs/heads/main", wantErr: true},
		// Invalid - too long
		{name: "over 64 characters", id: strings.Repeat("a", 65), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCheckpointID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCheckpointID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRelativePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		// Valid cases
		{name: "simple file", path: "main.go", wantErr: false},
		{name: "nested file", path: "internal/store/store.go", wantErr: false},
		{name: "file with dots in name", path: "config.local.json", wantErr: false},
		// Invalid - empty
		{name: "empty rejected", path: "", wantErr: true},
		// Invalid - absolute
		{name: "absolute path", path: "/etc/passwd", wantErr: true},
		// Invalid - traversal
		{name: "parent traversal", path: "../secrets.txt", wantErr: true},
		{name: "embedded traversal", path: "a/../../b", wantErr: true},
		// Invalid - backslash
		{name: "backslash path", path: "a\\b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRelativePath(tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelativePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}
