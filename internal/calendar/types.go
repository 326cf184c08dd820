package calendar

import (
	"time"

	calendar "google.golang.org/api/calendar/v3"
)

// DefaultListLimit caps how many events a single listing returns.
const DefaultListLimit = 10

// Reminder is a notification override on a created event.
type Reminder struct {
	Method  string // "email" or "popup"
	Minutes int64
}

// DefaultReminders are attached to every created event: an email a day
// ahead and a popup ten minutes before.
var DefaultReminders = []Reminder{
	{Method: "email", Minutes: 24 * 60},
	{Method: "popup", Minutes: 10},
}

// EventInput is the payload for creating an event.
type EventInput struct {
	Summary   string
	Location  string
	Start     time.Time
	End       time.Time
	TimeZone  string // IANA name; the client's zone when empty
	Attendees []string
	Reminders []Reminder
}

// Clone returns a deep copy of the input.
func (in EventInput) Clone() EventInput {
	out := in
	out.Attendees = append([]string(nil), in.Attendees...)
	out.Reminders = append([]Reminder(nil), in.Reminders...)
	return out
}

// Event is a read-only view of a calendar event.
type Event struct {
	ID        string
	Summary   string
	Location  string
	Start     time.Time
	End       time.Time
	AllDay    bool
	Attendees []Attendee
	HTMLLink  string
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	out.Attendees = append([]Attendee(nil), e.Attendees...)
	return out
}

// Attendee is an invitee of an existing event.
type Attendee struct {
	Email       string
	DisplayName string
}

// Name returns the display name, falling back to the email address.
func (a Attendee) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Email
}

// Availability is the outcome of a conflict check.
type Availability struct {
	Available bool
	Conflicts []Event
}

// toEvent converts a Google Calendar event. Date-only (all-day) times are
// read in loc.
func toEvent(event *calendar.Event, loc *time.Location) Event {
	if event == nil {
		return Event{}
	}

	out := Event{
		ID:       event.Id,
		Summary:  event.Summary,
		Location: event.Location,
		HTMLLink: event.HtmlLink,
	}
	out.Start, out.AllDay = parseEventDateTime(event.Start, loc)
	out.End, _ = parseEventDateTime(event.End, loc)

	for _, att := range event.Attendees {
		if att == nil {
			continue
		}
		out.Attendees = append(out.Attendees, Attendee{
			Email:       att.Email,
			DisplayName: att.DisplayName,
		})
	}
	return out
}

func parseEventDateTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t, false
		}
	}
	if dt.Date != "" {
		if t, err := time.ParseInLocation("2006-01-02", dt.Date, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toGoogleEvent builds the API payload for in, using tz for both ends.
func toGoogleEvent(in EventInput, tz string) *calendar.Event {
	event := &calendar.Event{
		Summary:  in.Summary,
		Location: in.Location,
		Start: &calendar.EventDateTime{
			DateTime: in.Start.Format(time.RFC3339),
			TimeZone: tz,
		},
		End: &calendar.EventDateTime{
			DateTime: in.End.Format(time.RFC3339),
			TimeZone: tz,
		},
	}

	for _, email := range in.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	reminders := &calendar.EventReminders{
		UseDefault:      false,
		ForceSendFields: []string{"UseDefault"},
	}
	for _, r := range in.Reminders {
		reminders.Overrides = append(reminders.Overrides, &calendar.EventReminder{
			Method:  r.Method,
			Minutes: r.Minutes,
		})
	}
	event.Reminders = reminders

	return event
}
