package dialogue

import (
	"context"
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/intent"
)

// testNow is a Monday morning.
var testNow = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 1, day, hour, minute, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

// scriptedClassifier answers from a fixed utterance table.
type scriptedClassifier struct {
	records  map[string]intent.Record
	contacts []map[string]string
	calls    int
}

func (s *scriptedClassifier) Classify(_ context.Context, utterance string, _ time.Time, contacts map[string]string) intent.Record {
	s.calls++
	s.contacts = append(s.contacts, contacts)
	if rec, ok := s.records[utterance]; ok {
		return rec
	}
	return intent.Record{Kind: intent.Unknown}
}

type listCall struct {
	min, max time.Time
	limit    int64
}

// fakeGateway records every call and answers from canned data.
type fakeGateway struct {
	events    []calendar.Event
	conflicts []calendar.Event

	listErr   error
	checkErr  error
	createErr error
	deleteErr error

	lists   []listCall
	checks  int
	created []calendar.EventInput
	deleted []string
}

func (f *fakeGateway) ListEvents(_ context.Context, timeMin, timeMax time.Time, limit int64) ([]calendar.Event, error) {
	f.lists = append(f.lists, listCall{min: timeMin, max: timeMax, limit: limit})
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

func (f *fakeGateway) CheckAvailability(_ context.Context, _, _ time.Time) (calendar.Availability, error) {
	f.checks++
	if f.checkErr != nil {
		return calendar.Availability{}, f.checkErr
	}
	return calendar.Availability{Available: len(f.conflicts) == 0, Conflicts: f.conflicts}, nil
}

func (f *fakeGateway) CreateEvent(_ context.Context, input calendar.EventInput) (*calendar.Event, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, input.Clone())
	return &calendar.Event{
		ID:       "created-1",
		Summary:  input.Summary,
		Start:    input.Start,
		End:      input.End,
		HTMLLink: "https://calendar.google.com/event?eid=created-1",
	}, nil
}

func (f *fakeGateway) DeleteEvent(_ context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeGateway) calls() int {
	return len(f.lists) + f.checks + len(f.created) + len(f.deleted)
}

type staticContacts struct {
	contacts map[string]string
	err      error
}

func (s staticContacts) All(context.Context) (map[string]string, error) {
	return s.contacts, s.err
}
