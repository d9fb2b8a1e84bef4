package reconcile

import "github.com/ripcordio/cli/cmd/ripcord/cli/tracker"

// Phase is the controller's baseline trust state.
type Phase int

const (
	// PhaseDetached means no attachment owns the task, or checkpoints were
	// disabled for it after an unrecoverable store failure.
	PhaseDetached Phase = iota
	// PhaseWaitingForBaseline means the working tree may have diverged
	// while reconciliation was inactive, so edits are queued until the
	// next checkpoint event establishes a trusted baseline.
	PhaseWaitingForBaseline
	// PhaseMonitoring means the baseline is trusted: edits trigger
	// debounced changeset recomputes.
	PhaseMonitoring
)

func (p Phase) String() string {
	switch p {
	case PhaseDetached:
		return "detached"
	case PhaseWaitingForBaseline:
		return "waiting-for-baseline"
	case PhaseMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// TaskState is the reconciliation state that outlives an attachment: the
// tracker with its changeset and acceptance history, the paths queued
// while no baseline was trusted, and the waiting flag. Reattaching the
// same task hands the struct to the new controller instead of rebuilding
// it, so nothing queued is lost across the handoff.
//
// The fields belong to the owning controller while one is attached.
type TaskState struct {
	TaskID  string
	Tracker *tracker.Tracker
	Queued  map[string]struct{}
	Waiting bool
}

// NewTaskState returns state for a task that has never been attached.
func NewTaskState(taskID string) *TaskState {
	return &TaskState{
		TaskID:  taskID,
		Tracker: tracker.New(""),
		Queued:  make(map[string]struct{}),
		Waiting: true,
	}
}
