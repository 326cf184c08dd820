package dialogue

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/session"
)

// Transition names the rule that handled a turn.
type Transition string

// Transitions in priority order.
const (
	TransitionList           Transition = "list"
	TransitionForcePending   Transition = "force_pending"
	TransitionForceImmediate Transition = "force_immediate"
	TransitionCreateChecked  Transition = "create_checked"
	TransitionCancel         Transition = "cancel"
	TransitionSelectOption   Transition = "select_option"
	TransitionForceCatchAll  Transition = "force_catchall"
	TransitionFallback       Transition = "fallback"
)

type turnInput struct {
	intent intent.Record
	// state is a private copy the rule may modify and return.
	state session.State
	now   time.Time
}

type turnOutput struct {
	response string
	state    session.State
}

type rule struct {
	transition Transition
	match      func(in turnInput) bool
	apply      func(ctx context.Context, in turnInput) (turnOutput, error)
}

func (c *Controller) buildRules() []rule {
	return []rule{
		{
			transition: TransitionList,
			match:      func(in turnInput) bool { return in.intent.Kind == intent.List },
			apply:      c.listEvents,
		},
		{
			transition: TransitionForcePending,
			match: func(in turnInput) bool {
				return in.intent.Kind == intent.Create && in.intent.ForceOverride && in.state.HasPendingConflict()
			},
			apply: c.createPending,
		},
		{
			transition: TransitionForceImmediate,
			match: func(in turnInput) bool {
				return in.intent.Kind == intent.Create && in.intent.ForceOverride && in.intent.ValidWindow()
			},
			apply: c.createImmediate,
		},
		{
			transition: TransitionCreateChecked,
			match: func(in turnInput) bool {
				return in.intent.Kind == intent.Create && !in.intent.ForceOverride && in.intent.ValidWindow()
			},
			apply: c.createChecked,
		},
		{
			transition: TransitionCancel,
			match:      func(in turnInput) bool { return in.intent.Kind == intent.Cancel },
			apply:      c.cancelEvents,
		},
		{
			transition: TransitionSelectOption,
			match: func(in turnInput) bool {
				return in.intent.Kind == intent.SelectOption && in.state.HasCandidates()
			},
			apply: c.selectOption,
		},
		{
			transition: TransitionForceCatchAll,
			match: func(in turnInput) bool {
				return in.intent.ForceOverride && in.state.HasPendingConflict()
			},
			apply: c.createPending,
		},
		{
			transition: TransitionFallback,
			match:      func(turnInput) bool { return true },
			apply: func(_ context.Context, in turnInput) (turnOutput, error) {
				return turnOutput{response: FallbackResponse, state: in.state}, nil
			},
		},
	}
}

func (c *Controller) listEvents(ctx context.Context, in turnInput) (turnOutput, error) {
	start, end := c.window(in.intent, in.now)
	events, err := c.gateway.ListEvents(ctx, start, end, c.listLimit)
	if err != nil {
		return turnOutput{}, err
	}
	return turnOutput{response: c.formatList(events), state: in.state}, nil
}

// createPending creates the payload held back by an earlier conflict.
func (c *Controller) createPending(ctx context.Context, in turnInput) (turnOutput, error) {
	created, err := c.gateway.CreateEvent(ctx, *in.state.PendingConflict)
	if err != nil {
		return turnOutput{}, err
	}
	in.state.PendingConflict = nil
	return turnOutput{response: forcedResponse(created), state: in.state}, nil
}

func (c *Controller) createImmediate(ctx context.Context, in turnInput) (turnOutput, error) {
	created, err := c.gateway.CreateEvent(ctx, payloadFromIntent(in.intent))
	if err != nil {
		return turnOutput{}, err
	}
	return turnOutput{response: forcedResponse(created), state: in.state}, nil
}

func (c *Controller) createChecked(ctx context.Context, in turnInput) (turnOutput, error) {
	payload := payloadFromIntent(in.intent)

	availability, err := c.gateway.CheckAvailability(ctx, payload.Start, payload.End)
	if err != nil {
		return turnOutput{}, err
	}
	if !availability.Available {
		in.state.PendingConflict = &payload
		return turnOutput{response: conflictResponse(availability.Conflicts), state: in.state}, nil
	}

	created, err := c.gateway.CreateEvent(ctx, payload)
	if err != nil {
		return turnOutput{}, err
	}
	in.state.PendingConflict = nil
	return turnOutput{response: scheduledResponse(created), state: in.state}, nil
}

func (c *Controller) cancelEvents(ctx context.Context, in turnInput) (turnOutput, error) {
	start, end := c.window(in.intent, in.now)
	events, err := c.gateway.ListEvents(ctx, start, end, c.listLimit)
	if err != nil {
		return turnOutput{}, err
	}

	matches := filterBySummary(events, in.intent.Summary)
	switch len(matches) {
	case 0:
		return turnOutput{response: NoCancelMatchResponse, state: in.state}, nil
	case 1:
		// Existing candidates are left as they are.
		if err := c.gateway.DeleteEvent(ctx, matches[0].ID); err != nil {
			return turnOutput{}, err
		}
		return turnOutput{response: c.canceledResponse(matches[0]), state: in.state}, nil
	default:
		in.state.CancelCandidates = matches
		return turnOutput{response: c.formatCandidates(matches), state: in.state}, nil
	}
}

func (c *Controller) selectOption(ctx context.Context, in turnInput) (turnOutput, error) {
	idx, ok := resolveSelection(in.intent.Summary, in.state.CancelCandidates)
	if !ok {
		return turnOutput{response: UnresolvedSelectionResponse, state: in.state}, nil
	}

	selected := in.state.CancelCandidates[idx]
	if err := c.gateway.DeleteEvent(ctx, selected.ID); err != nil {
		return turnOutput{}, fmt.Errorf("deleting candidate %d: %w", idx+1, err)
	}
	in.state.CancelCandidates = nil
	return turnOutput{response: c.canceledResponse(selected), state: in.state}, nil
}

func filterBySummary(events []calendar.Event, query string) []calendar.Event {
	if query == "" {
		return events
	}
	var out []calendar.Event
	for _, e := range events {
		if summaryMatches(e.Summary, query) {
			out = append(out, e)
		}
	}
	return out
}
