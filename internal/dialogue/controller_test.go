package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/session"
)

const (
	scheduleSync   = "Schedule sync with bob@example.com tomorrow at 3pm"
	scheduleAnyway = "schedule anyway"
)

var syncRecord = intent.Record{
	Kind:      intent.Create,
	Summary:   "sync",
	StartTime: ptr(at(7, 15, 0)),
	EndTime:   ptr(at(7, 15, 30)),
	Attendees: []intent.Attendee{{Email: "bob@example.com"}},
}

func newTestController(records map[string]intent.Record, gw *fakeGateway) (*Controller, *scriptedClassifier) {
	cls := &scriptedClassifier{records: records}
	c := NewController(cls, gw, staticContacts{contacts: map[string]string{"bob": "bob@example.com"}}, Config{
		Now:    func() time.Time { return testNow },
		Logger: logging.Discard(),
	})
	return c, cls
}

func TestHandleTurn_ScheduleWithoutConflict(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(map[string]intent.Record{scheduleSync: syncRecord}, gw)

	prior := session.State{PendingConflict: &calendar.EventInput{Summary: "stale"}}
	turn, err := c.HandleTurn(context.Background(), scheduleSync, prior)
	require.NoError(t, err)

	assert.Contains(t, turn.Response, "I've scheduled that for you")
	assert.Contains(t, turn.Response, "Event created: https://calendar.google.com/event?eid=created-1")
	assert.Equal(t, TransitionCreateChecked, turn.Transition)
	assert.Equal(t, syncRecord, turn.Intent)
	assert.Nil(t, turn.State.PendingConflict, "a successful create clears the pending conflict")

	require.Len(t, gw.created, 1)
	assert.Equal(t, []string{"bob@example.com"}, gw.created[0].Attendees)
	assert.Equal(t, "sync", gw.created[0].Summary)
	assert.Equal(t, at(7, 15, 0), gw.created[0].Start)
	assert.Equal(t, at(7, 15, 30), gw.created[0].End)
	assert.Equal(t, calendar.DefaultReminders, gw.created[0].Reminders)
	assert.Equal(t, 1, gw.checks)

	assert.NotNil(t, prior.PendingConflict, "input state is not mutated")
}

func TestHandleTurn_ConflictThenScheduleAnyway(t *testing.T) {
	gw := &fakeGateway{conflicts: []calendar.Event{
		{ID: "e1", Summary: "Dentist", Start: at(7, 15, 0), End: at(7, 16, 0)},
		{ID: "e2", Summary: "1:1 with Alice", Start: at(7, 15, 15), End: at(7, 15, 45)},
	}}
	c, _ := newTestController(map[string]intent.Record{
		scheduleSync:   syncRecord,
		scheduleAnyway: {Kind: intent.Unknown, ForceOverride: true},
	}, gw)
	ctx := context.Background()

	turn, err := c.HandleTurn(ctx, scheduleSync, session.State{})
	require.NoError(t, err)

	assert.Contains(t, turn.Response, "found a conflict")
	assert.Contains(t, turn.Response, "Dentist")
	assert.Contains(t, turn.Response, "1:1 with Alice")
	assert.Equal(t,
		`I found a conflict with: Dentist, 1:1 with Alice. Do you want to schedule anyway? (Reply "schedule anyway" to override)`,
		turn.Response)
	assert.Empty(t, gw.created, "nothing is created on conflict")
	require.NotNil(t, turn.State.PendingConflict)
	assert.Equal(t, payloadFromIntent(syncRecord), *turn.State.PendingConflict)

	turn, err = c.HandleTurn(ctx, scheduleAnyway, turn.State)
	require.NoError(t, err)

	assert.Equal(t, TransitionForceCatchAll, turn.Transition)
	assert.True(t, strings.HasPrefix(turn.Response, "I've forced that schedule for you."))
	require.Len(t, gw.created, 1)
	assert.Equal(t, payloadFromIntent(syncRecord), gw.created[0])
	assert.Nil(t, turn.State.PendingConflict)
}

func TestHandleTurn_ForcedCreateUsesPendingPayload(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(map[string]intent.Record{
		"force it": {
			Kind:          intent.Create,
			Summary:       "something else",
			StartTime:     ptr(at(8, 9, 0)),
			EndTime:       ptr(at(8, 9, 30)),
			ForceOverride: true,
		},
	}, gw)

	pending := payloadFromIntent(syncRecord)
	turn, err := c.HandleTurn(context.Background(), "force it", session.State{PendingConflict: &pending})
	require.NoError(t, err)

	assert.Equal(t, TransitionForcePending, turn.Transition)
	require.Len(t, gw.created, 1)
	assert.Equal(t, "sync", gw.created[0].Summary, "the pending payload wins over the reparsed one")
	assert.Nil(t, turn.State.PendingConflict)
	assert.Zero(t, gw.checks)
}

func TestHandleTurn_ForcedCreateWithoutPending(t *testing.T) {
	gw := &fakeGateway{conflicts: []calendar.Event{{Summary: "Busy"}}}
	forced := syncRecord
	forced.ForceOverride = true
	c, _ := newTestController(map[string]intent.Record{"book sync no matter what": forced}, gw)

	turn, err := c.HandleTurn(context.Background(), "book sync no matter what", session.State{})
	require.NoError(t, err)

	assert.Equal(t, TransitionForceImmediate, turn.Transition)
	assert.Contains(t, turn.Response, "I've forced that schedule for you. Event created:")
	assert.Len(t, gw.created, 1)
	assert.Zero(t, gw.checks, "forced creates skip the availability check")
}

func TestHandleTurn_ReconfirmationIsIdempotent(t *testing.T) {
	tests := []struct {
		name   string
		record intent.Record
	}{
		{"unknown with override", intent.Record{Kind: intent.Unknown, ForceOverride: true}},
		{"create with override and no times", intent.Record{Kind: intent.Create, ForceOverride: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			c, _ := newTestController(map[string]intent.Record{scheduleAnyway: tt.record}, gw)
			ctx := context.Background()

			pending := payloadFromIntent(syncRecord)
			first, err := c.HandleTurn(ctx, scheduleAnyway, session.State{PendingConflict: &pending})
			require.NoError(t, err)
			require.Len(t, gw.created, 1)

			second, err := c.HandleTurn(ctx, scheduleAnyway, first.State)
			require.NoError(t, err)
			assert.Len(t, gw.created, 1, "no second create")
			assert.Equal(t, FallbackResponse, second.Response)
		})
	}
}

func TestHandleTurn_CancelWithDisambiguation(t *testing.T) {
	gw := &fakeGateway{events: []calendar.Event{
		{ID: "a", Summary: "Standup", Start: at(7, 9, 0)},
		{ID: "b", Summary: "Design Review", Start: at(7, 11, 30),
			Attendees: []calendar.Attendee{{Email: "alice@example.com", DisplayName: "Alice"}, {Email: "bob@example.com"}}},
		{ID: "c", Summary: "Planning", Start: at(7, 15, 0)},
	}}
	c, _ := newTestController(map[string]intent.Record{
		"Cancel my meetings tomorrow": {Kind: intent.Cancel, StartTime: ptr(at(7, 0, 0)), EndTime: ptr(at(8, 0, 0))},
		"2":                           {Kind: intent.SelectOption, Summary: "2"},
	}, gw)
	ctx := context.Background()

	turn, err := c.HandleTurn(ctx, "Cancel my meetings tomorrow", session.State{})
	require.NoError(t, err)

	assert.Equal(t, strings.Join([]string{
		`I found multiple matching events. Please specify which one to cancel (e.g., "1" or "the first one"):`,
		"1. Tue, Jan 7, 9:00 AM - Standup",
		"2. Tue, Jan 7, 11:30 AM - Design Review With Alice, bob@example.com",
		"3. Tue, Jan 7, 3:00 PM - Planning",
	}, "\n"), turn.Response)
	assert.Len(t, turn.State.CancelCandidates, 3)
	assert.Empty(t, gw.deleted)
	require.Len(t, gw.lists, 1)
	assert.Equal(t, at(7, 0, 0), gw.lists[0].min)
	assert.Equal(t, at(8, 0, 0), gw.lists[0].max)

	turn, err = c.HandleTurn(ctx, "2", turn.State)
	require.NoError(t, err)

	assert.Equal(t, TransitionSelectOption, turn.Transition)
	assert.Equal(t, []string{"b"}, gw.deleted)
	assert.Equal(t, `I've canceled the event: "Design Review" at Tue, Jan 7, 11:30 AM`, turn.Response)
	assert.Nil(t, turn.State.CancelCandidates)
}

func TestHandleTurn_SelectOptionUnresolvedKeepsCandidates(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(map[string]intent.Record{
		"7": {Kind: intent.SelectOption, Summary: "7"},
	}, gw)

	state := session.State{CancelCandidates: []calendar.Event{
		{ID: "a", Summary: "Standup"},
		{ID: "b", Summary: "Design Review"},
	}}
	turn, err := c.HandleTurn(context.Background(), "7", state)
	require.NoError(t, err)

	assert.Equal(t, UnresolvedSelectionResponse, turn.Response)
	assert.Equal(t, state, turn.State)
	assert.Empty(t, gw.deleted)
}

func TestHandleTurn_SelectOptionWithoutCandidatesFallsBack(t *testing.T) {
	gw := &fakeGateway{}
	c, _ := newTestController(map[string]intent.Record{
		"the first one": {Kind: intent.SelectOption, Summary: "the first one"},
	}, gw)

	turn, err := c.HandleTurn(context.Background(), "the first one", session.State{})
	require.NoError(t, err)
	assert.Equal(t, FallbackResponse, turn.Response)
	assert.Zero(t, gw.calls())
}

func TestHandleTurn_CancelSingleMatch(t *testing.T) {
	gw := &fakeGateway{events: []calendar.Event{
		{ID: "a", Summary: "Standup", Start: at(7, 9, 0)},
		{ID: "b", Summary: "Design Review", Start: at(7, 11, 30)},
	}}
	c, _ := newTestController(map[string]intent.Record{
		"cancel the design review": {Kind: intent.Cancel, Summary: "the design review meeting"},
	}, gw)

	stale := []calendar.Event{{ID: "x", Summary: "Old"}, {ID: "y", Summary: "Older"}}
	turn, err := c.HandleTurn(context.Background(), "cancel the design review", session.State{CancelCandidates: stale})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, gw.deleted, "query containing the summary matches")
	assert.Equal(t, `I've canceled the event: "Design Review" at Tue, Jan 7, 11:30 AM`, turn.Response)
	assert.Equal(t, stale, turn.State.CancelCandidates, "existing candidates are left untouched")
}

func TestHandleTurn_CancelNoMatch(t *testing.T) {
	gw := &fakeGateway{events: []calendar.Event{{ID: "a", Summary: "Standup"}}}
	c, _ := newTestController(map[string]intent.Record{
		"cancel lunch": {Kind: intent.Cancel, Summary: "lunch"},
	}, gw)

	turn, err := c.HandleTurn(context.Background(), "cancel lunch", session.State{})
	require.NoError(t, err)
	assert.Equal(t, NoCancelMatchResponse, turn.Response)
	assert.Empty(t, gw.deleted)
	assert.Equal(t, session.State{}, turn.State)
}

func TestHandleTurn_List(t *testing.T) {
	tests := []struct {
		name     string
		events   []calendar.Event
		record   intent.Record
		wantMin  time.Time
		wantMax  time.Time
		wantText string
	}{
		{
			name:     "default window and empty calendar",
			record:   intent.Record{Kind: intent.List},
			wantMin:  testNow,
			wantMax:  testNow.Add(24 * time.Hour),
			wantText: NoEventsResponse,
		},
		{
			name: "explicit window",
			events: []calendar.Event{
				{Summary: "Standup", Start: at(7, 9, 0)},
				{Start: at(7, 13, 0)},
			},
			record:  intent.Record{Kind: intent.List, StartTime: ptr(at(7, 0, 0)), EndTime: ptr(at(8, 0, 0))},
			wantMin: at(7, 0, 0),
			wantMax: at(8, 0, 0),
			wantText: "Here are your upcoming events:\n" +
				"Tue, Jan 7, 9:00 AM - Standup\n" +
				"Tue, Jan 7, 1:00 PM - (no title)",
		},
		{
			name:     "start only",
			record:   intent.Record{Kind: intent.List, StartTime: ptr(at(10, 0, 0))},
			wantMin:  at(10, 0, 0),
			wantMax:  at(11, 0, 0),
			wantText: NoEventsResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{events: tt.events}
			c, _ := newTestController(map[string]intent.Record{"what's on": tt.record}, gw)

			turn, err := c.HandleTurn(context.Background(), "what's on", session.State{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantText, turn.Response)
			assert.Equal(t, TransitionList, turn.Transition)
			require.Len(t, gw.lists, 1)
			assert.Equal(t, tt.wantMin, gw.lists[0].min)
			assert.Equal(t, tt.wantMax, gw.lists[0].max)
			assert.Equal(t, int64(calendar.DefaultListLimit), gw.lists[0].limit)
		})
	}
}

func TestHandleTurn_FallbackMakesNoCalls(t *testing.T) {
	tests := []struct {
		name   string
		record intent.Record
	}{
		{"unknown", intent.Record{Kind: intent.Unknown}},
		{"create without times", intent.Record{Kind: intent.Create, Summary: "sync"}},
		{"create with inverted window", intent.Record{Kind: intent.Create, StartTime: ptr(at(7, 16, 0)), EndTime: ptr(at(7, 15, 0))}},
		{"override with nothing pending", intent.Record{Kind: intent.Unknown, ForceOverride: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			c, _ := newTestController(map[string]intent.Record{"blah": tt.record}, gw)

			turn, err := c.HandleTurn(context.Background(), "blah", session.State{})
			require.NoError(t, err)
			assert.Equal(t, FallbackResponse, turn.Response)
			assert.Equal(t, TransitionFallback, turn.Transition)
			assert.Zero(t, gw.calls())
		})
	}
}

func TestHandleTurn_GatewayFailureCommitsNothing(t *testing.T) {
	boom := errors.New("backend unavailable")
	pending := payloadFromIntent(syncRecord)

	tests := []struct {
		name      string
		gateway   *fakeGateway
		record    intent.Record
		state     session.State
		wantTrans Transition
	}{
		{
			name:      "availability check",
			gateway:   &fakeGateway{checkErr: boom},
			record:    syncRecord,
			wantTrans: TransitionCreateChecked,
		},
		{
			name:      "forced create from pending",
			gateway:   &fakeGateway{createErr: boom},
			record:    intent.Record{Kind: intent.Unknown, ForceOverride: true},
			state:     session.State{PendingConflict: &pending},
			wantTrans: TransitionForceCatchAll,
		},
		{
			name:    "select delete",
			gateway: &fakeGateway{deleteErr: boom},
			record:  intent.Record{Kind: intent.SelectOption, Summary: "1"},
			state: session.State{CancelCandidates: []calendar.Event{
				{ID: "a", Summary: "Standup"}, {ID: "b", Summary: "Review"},
			}},
			wantTrans: TransitionSelectOption,
		},
		{
			name:    "create after free slot",
			gateway: &fakeGateway{createErr: boom},
			record:  syncRecord,
			state: session.State{CancelCandidates: []calendar.Event{
				{ID: "a", Summary: "Standup"}, {ID: "b", Summary: "Review"},
			}},
			wantTrans: TransitionCreateChecked,
		},
		{
			name: "single cancel match delete",
			gateway: &fakeGateway{
				events:    []calendar.Event{{ID: "b", Summary: "Design Review", Start: at(7, 11, 30)}},
				deleteErr: boom,
			},
			record:    intent.Record{Kind: intent.Cancel, Summary: "review"},
			state:     session.State{PendingConflict: &pending},
			wantTrans: TransitionCancel,
		},
		{
			name:      "list",
			gateway:   &fakeGateway{listErr: boom},
			record:    intent.Record{Kind: intent.List},
			wantTrans: TransitionList,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController(map[string]intent.Record{"go": tt.record}, tt.gateway)

			turn, err := c.HandleTurn(context.Background(), "go", tt.state)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrOperationFailed)
			assert.ErrorIs(t, err, boom)

			assert.Equal(t, FailureResponse, turn.Response)
			if diff := cmp.Diff(tt.state, turn.State); diff != "" {
				t.Errorf("state changed on failure (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.wantTrans, turn.Transition)
			assert.Equal(t, tt.record, turn.Intent)
		})
	}
}

func TestHandleTurn_IndependentSlots(t *testing.T) {
	pending := payloadFromIntent(syncRecord)
	candidates := []calendar.Event{
		{ID: "a", Summary: "Standup", Start: at(7, 9, 0)},
		{ID: "b", Summary: "Design Review", Start: at(7, 11, 30)},
	}

	tests := []struct {
		name           string
		record         intent.Record
		wantTrans      Transition
		wantCreated    int
		wantDeleted    []string
		wantPending    *calendar.EventInput
		wantCandidates []calendar.Event
	}{
		{
			name:           "override creates pending and keeps candidates",
			record:         intent.Record{Kind: intent.Unknown, ForceOverride: true},
			wantTrans:      TransitionForceCatchAll,
			wantCreated:    1,
			wantCandidates: candidates,
		},
		{
			name:        "selection by title keeps pending",
			record:      intent.Record{Kind: intent.SelectOption, Summary: "review"},
			wantTrans:   TransitionSelectOption,
			wantDeleted: []string{"b"},
			wantPending: &pending,
		},
		{
			name:        "selection by ordinal keeps pending",
			record:      intent.Record{Kind: intent.SelectOption, Summary: "the second one"},
			wantTrans:   TransitionSelectOption,
			wantDeleted: []string{"b"},
			wantPending: &pending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{}
			c, _ := newTestController(map[string]intent.Record{"go": tt.record}, gw)

			state := session.State{PendingConflict: &pending, CancelCandidates: candidates}
			before := state.Clone()

			turn, err := c.HandleTurn(context.Background(), "go", state)
			require.NoError(t, err)

			assert.Equal(t, tt.wantTrans, turn.Transition)
			assert.Len(t, gw.created, tt.wantCreated)
			assert.Equal(t, tt.wantDeleted, gw.deleted)
			if diff := cmp.Diff(tt.wantPending, turn.State.PendingConflict); diff != "" {
				t.Errorf("pending conflict (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantCandidates, turn.State.CancelCandidates); diff != "" {
				t.Errorf("cancel candidates (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(before, state); diff != "" {
				t.Errorf("input state mutated (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHandleTurn_PassesContactsToClassifier(t *testing.T) {
	gw := &fakeGateway{}
	c, cls := newTestController(nil, gw)

	_, err := c.HandleTurn(context.Background(), "hello", session.State{})
	require.NoError(t, err)
	require.Len(t, cls.contacts, 1)
	assert.Equal(t, map[string]string{"bob": "bob@example.com"}, cls.contacts[0])

	failing := NewController(cls, gw, staticContacts{err: errors.New("db locked")}, Config{Logger: logging.Discard()})
	_, err = failing.HandleTurn(context.Background(), "hello", session.State{})
	require.NoError(t, err, "contact lookup failures do not fail the turn")
	assert.Empty(t, cls.contacts[1])
}

func TestPayloadFromIntent(t *testing.T) {
	rec := intent.Record{
		Kind:      intent.Create,
		Summary:   "Lunch",
		Location:  "Cafe",
		StartTime: ptr(at(7, 12, 0)),
		EndTime:   ptr(at(7, 13, 0)),
		Attendees: []intent.Attendee{{Email: "a@example.com"}, {}, {Email: "a@example.com"}},
	}

	got := payloadFromIntent(rec)
	assert.Equal(t, calendar.EventInput{
		Summary:   "Lunch",
		Location:  "Cafe",
		Start:     at(7, 12, 0),
		End:       at(7, 13, 0),
		Attendees: []string{"a@example.com", "a@example.com"},
		Reminders: calendar.DefaultReminders,
	}, got)

	got.Reminders[0].Minutes = 1
	assert.Equal(t, int64(24*60), calendar.DefaultReminders[0].Minutes)
}
