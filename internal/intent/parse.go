package intent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// wireRecord is the loosely typed document the model returns.
type wireRecord struct {
	Intent          string            `json:"intent"`
	Summary         string            `json:"summary"`
	StartTime       string            `json:"startTime"`
	EndTime         string            `json:"endTime"`
	Attendees       []json.RawMessage `json:"attendees"`
	Location        string            `json:"location"`
	IgnoreConflicts flexBool          `json:"ignoreConflicts"`
}

// flexBool accepts true/false as well as their quoted forms.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch strings.ToLower(strings.Trim(string(data), `"`)) {
	case "true":
		*b = true
	case "false", "null", "":
		*b = false
	default:
		return fmt.Errorf("invalid boolean %s", data)
	}
	return nil
}

// offsetless layouts are interpreted in the classifier's time zone.
var offsetlessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
}

// ParseResponse decodes a model answer into a Record. Timestamps without an
// offset are read as UTC. It returns an error when no JSON object can be
// recovered from text.
func ParseResponse(text string) (Record, error) {
	return parseResponse(text, time.UTC)
}

func parseResponse(text string, loc *time.Location) (Record, error) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return Record{Kind: Unknown}, fmt.Errorf("empty classifier response")
	}

	var wire wireRecord
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return Record{Kind: Unknown}, fmt.Errorf("failed to repair classifier response: %w", repairErr)
		}
		wire = wireRecord{}
		if err := json.Unmarshal([]byte(repaired), &wire); err != nil {
			return Record{Kind: Unknown}, fmt.Errorf("failed to decode classifier response: %w", err)
		}
	}

	rec := Record{
		Kind:          ParseKind(strings.TrimSpace(strings.ToUpper(wire.Intent))),
		Summary:       strings.TrimSpace(wire.Summary),
		StartTime:     parseTimestamp(wire.StartTime, loc),
		EndTime:       parseTimestamp(wire.EndTime, loc),
		Location:      strings.TrimSpace(wire.Location),
		ForceOverride: bool(wire.IgnoreConflicts),
	}
	for _, raw := range wire.Attendees {
		if email := attendeeEmail(raw); email != "" {
			rec.Attendees = append(rec.Attendees, Attendee{Email: email})
		}
	}
	return rec, nil
}

// stripFences removes markdown code fences the model sometimes wraps JSON in.
func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// parseTimestamp returns nil for empty or unparsable values.
func parseTimestamp(s string, loc *time.Location) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return &t
	}
	for _, layout := range offsetlessLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}

// attendeeEmail accepts {"email": "..."} objects and bare strings.
func attendeeEmail(raw json.RawMessage) string {
	var obj struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return strings.TrimSpace(obj.Email)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}
