package store

import "slices"

// history tracks the ordered checkpoint IDs of one task, oldest first. The
// base hash is the task's root commit and never appears in the list.
type history struct {
	baseHash    string
	checkpoints []string
}

// current returns the most recent checkpoint, or the base when none have
// been recorded.
func (h *history) current() string {
	if len(h.checkpoints) == 0 {
		return h.baseHash
	}
	return h.checkpoints[len(h.checkpoints)-1]
}

// contains reports whether id is the base or a recorded checkpoint.
func (h *history) contains(id string) bool {
	return id == h.baseHash || slices.Contains(h.checkpoints, id)
}

// truncate drops every checkpoint recorded after id, so the list ends at id.
// Truncating to the base empties the list. Returns false when id is unknown.
func (h *history) truncate(id string) bool {
	if id == h.baseHash {
		h.checkpoints = h.checkpoints[:0]
		return true
	}
	for i, checkpoint := range h.checkpoints {
		if checkpoint == id {
			h.checkpoints = h.checkpoints[:i+1]
			return true
		}
	}
	return false
}

func (h *history) append(id string) {
	h.checkpoints = append(h.checkpoints, id)
}
