package intent

import "time"

// Kind is the classified purpose of an utterance.
type Kind string

// Intent kinds. The string values are the wire names used by the classifier.
const (
	List         Kind = "LIST_EVENTS"
	Create       Kind = "CREATE_EVENT"
	Cancel       Kind = "CANCEL_EVENT"
	SelectOption Kind = "SELECT_OPTION"
	Unknown      Kind = "UNKNOWN"
)

// ParseKind maps a wire name to a Kind. Unrecognized names map to Unknown.
func ParseKind(s string) Kind {
	switch k := Kind(s); k {
	case List, Create, Cancel, SelectOption:
		return k
	default:
		return Unknown
	}
}

// Attendee is an invitee address.
type Attendee struct {
	Email string `json:"email"`
}

// Record is the structured reading of one utterance.
type Record struct {
	Kind Kind `json:"intent"`
	// Summary is the event title, or for SelectOption the raw selection phrase.
	Summary   string     `json:"summary,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	// Attendees keeps the order the model returned; duplicates are allowed.
	Attendees []Attendee `json:"attendees,omitempty"`
	Location  string     `json:"location,omitempty"`
	// ForceOverride asks to proceed despite a known conflict.
	ForceOverride bool `json:"ignoreConflicts,omitempty"`
}

// HasWindow reports whether both StartTime and EndTime are set.
func (r Record) HasWindow() bool {
	return r.StartTime != nil && r.EndTime != nil
}

// ValidWindow reports whether both times are set and StartTime is before EndTime.
func (r Record) ValidWindow() bool {
	return r.HasWindow() && r.StartTime.Before(*r.EndTime)
}
