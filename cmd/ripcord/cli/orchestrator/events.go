package orchestrator

import "time"

// Event is a notification fanned out to subscribers. The variant set is
// closed: InitializeEvent, CheckpointEvent, RestoreEvent and ErrorEvent.
type Event interface {
	event()
}

// InitializeEvent reports that the task's shadow history was opened or,
// when Created is true, built from scratch.
type InitializeEvent struct {
	WorkspaceDir string
	BaseHash     string
	Created      bool
	Duration     time.Duration
}

// CheckpointEvent reports a save that produced a real commit. Saves that
// found nothing to capture emit no event.
type CheckpointEvent struct {
	From     string
	To       string
	Duration time.Duration
}

// RestoreEvent reports a completed rollback.
type RestoreEvent struct {
	Hash     string
	Duration time.Duration
}

// ErrorEvent reports an unrecoverable store failure. The orchestrator is
// Disabled by the time subscribers see it.
type ErrorEvent struct {
	Err error
}

func (InitializeEvent) event() {}
func (CheckpointEvent) event() {}
func (RestoreEvent) event()    {}
func (ErrorEvent) event()      {}
