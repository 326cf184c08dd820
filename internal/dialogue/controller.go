package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/logging"
	"github.com/teemow/calagent/internal/session"
)

// ErrOperationFailed wraps every calendar failure surfaced by HandleTurn.
var ErrOperationFailed = errors.New("calendar operation failed")

// Gateway is the calendar the controller acts on.
type Gateway interface {
	ListEvents(ctx context.Context, timeMin, timeMax time.Time, limit int64) ([]calendar.Event, error)
	CheckAvailability(ctx context.Context, start, end time.Time) (calendar.Availability, error)
	CreateEvent(ctx context.Context, input calendar.EventInput) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// ContactLister supplies the address book handed to the classifier.
type ContactLister interface {
	All(ctx context.Context) (map[string]string, error)
}

// Turn is the outcome of one utterance.
type Turn struct {
	Response   string
	Intent     intent.Record
	State      session.State
	Transition Transition
}

// Config holds the optional settings of a Controller.
type Config struct {
	// Location is used to compute default windows and render dates
	// (default: UTC).
	Location *time.Location
	// ListLimit caps listings (default: calendar.DefaultListLimit).
	ListLimit int64
	// Now overrides the clock, for tests.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// Controller runs dialogue turns. It holds no per-session data and is safe
// for concurrent use; serializing turns of one session is the host's job.
type Controller struct {
	classifier intent.Classifier
	gateway    Gateway
	contacts   ContactLister

	loc       *time.Location
	listLimit int64
	now       func() time.Time
	logger    *slog.Logger
	metrics   *instrumentation.Metrics

	rules []rule
}

// NewController creates a controller. contacts may be nil.
func NewController(classifier intent.Classifier, gateway Gateway, contacts ContactLister, cfg Config) *Controller {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = calendar.DefaultListLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		classifier: classifier,
		gateway:    gateway,
		contacts:   contacts,
		loc:        cfg.Location,
		listLimit:  cfg.ListLimit,
		now:        cfg.Now,
		logger:     logging.WithService(cfg.Logger, "dialogue"),
		metrics:    cfg.Metrics,
	}
	c.rules = c.buildRules()
	return c
}

// HandleTurn classifies utterance and applies the first matching rule.
//
// On a calendar failure the returned Turn still carries a reply and the
// unchanged input state, and the error wraps ErrOperationFailed.
func (c *Controller) HandleTurn(ctx context.Context, utterance string, state session.State) (Turn, error) {
	ctx, span := instrumentation.StartTurnSpan(ctx)
	defer span.End()

	now := c.now().In(c.loc)
	rec := c.classifier.Classify(ctx, utterance, now, c.lookupContacts(ctx))

	in := turnInput{intent: rec, state: state.Clone(), now: now}
	r := c.match(in)

	span.SetAttributes(
		attribute.String(instrumentation.SpanAttrIntent, string(rec.Kind)),
		attribute.String(instrumentation.SpanAttrTransition, string(r.transition)),
	)

	out, err := r.apply(ctx, in)
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrOperationFailed, r.transition, err)
		instrumentation.SetSpanError(span, err)
		c.metrics.RecordDialogueTurn(ctx, string(r.transition), instrumentation.StatusError)
		c.logger.WarnContext(ctx, "Turn failed",
			logging.Intent(string(rec.Kind)),
			logging.Transition(string(r.transition)),
			logging.Err(err))
		return Turn{
			Response:   FailureResponse,
			Intent:     rec,
			State:      state,
			Transition: r.transition,
		}, err
	}

	instrumentation.SetSpanSuccess(span)
	c.metrics.RecordDialogueTurn(ctx, string(r.transition), instrumentation.StatusSuccess)
	c.logger.DebugContext(ctx, "Turn handled",
		logging.Intent(string(rec.Kind)),
		logging.Transition(string(r.transition)),
		slog.Bool("pending_conflict", out.state.HasPendingConflict()),
		slog.Int("cancel_candidates", len(out.state.CancelCandidates)))

	return Turn{
		Response:   out.response,
		Intent:     rec,
		State:      out.state,
		Transition: r.transition,
	}, nil
}

func (c *Controller) match(in turnInput) rule {
	for _, r := range c.rules {
		if r.match(in) {
			return r
		}
	}
	// The fallback rule matches everything; this is unreachable.
	return c.rules[len(c.rules)-1]
}

// lookupContacts returns the address book, or an empty one when it cannot
// be read. Contacts only help the classifier, so a failure does not fail
// the turn.
func (c *Controller) lookupContacts(ctx context.Context) map[string]string {
	if c.contacts == nil {
		return map[string]string{}
	}
	all, err := c.contacts.All(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to load contacts", logging.Err(err))
		return map[string]string{}
	}
	return all
}

// window returns the time range a list or cancel request covers.
func (c *Controller) window(rec intent.Record, now time.Time) (time.Time, time.Time) {
	start := now
	if rec.StartTime != nil {
		start = *rec.StartTime
	}
	end := start.Add(24 * time.Hour)
	if rec.EndTime != nil && rec.EndTime.After(start) {
		end = *rec.EndTime
	}
	return start, end
}

// payloadFromIntent maps a create intent onto the calendar's creation
// payload. The caller guarantees a valid window.
func payloadFromIntent(rec intent.Record) calendar.EventInput {
	in := calendar.EventInput{
		Summary:   rec.Summary,
		Location:  rec.Location,
		Start:     *rec.StartTime,
		End:       *rec.EndTime,
		Reminders: append([]calendar.Reminder(nil), calendar.DefaultReminders...),
	}
	for _, a := range rec.Attendees {
		if a.Email == "" {
			continue
		}
		in.Attendees = append(in.Attendees, a.Email)
	}
	return in
}
