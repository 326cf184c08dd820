// Package session holds the per-conversation state carried between turns and
// the store that keeps it for the hosts.
package session

import "github.com/teemow/calagent/internal/calendar"

// State is the memory of a conversation between turns.
//
// PendingConflict and CancelCandidates are independent slots; resolving
// one never touches the other.
type State struct {
	// PendingConflict is the creation payload that was held back because it
	// overlapped existing events.
	PendingConflict *calendar.EventInput

	// CancelCandidates are the events offered for disambiguation by the
	// last cancel request. Nil when no choice is outstanding.
	CancelCandidates []calendar.Event
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	var out State
	if s.PendingConflict != nil {
		p := s.PendingConflict.Clone()
		out.PendingConflict = &p
	}
	if s.CancelCandidates != nil {
		out.CancelCandidates = make([]calendar.Event, len(s.CancelCandidates))
		for i, e := range s.CancelCandidates {
			out.CancelCandidates[i] = e.Clone()
		}
	}
	return out
}

// HasPendingConflict reports whether a held-back creation is waiting.
func (s State) HasPendingConflict() bool {
	return s.PendingConflict != nil
}

// HasCandidates reports whether a cancel disambiguation is outstanding.
func (s State) HasCandidates() bool {
	return len(s.CancelCandidates) > 0
}
