package calendar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/logging"
)

// DefaultCalendarID is the signed-in user's main calendar.
const DefaultCalendarID = "primary"

// Options configures a Client.
type Options struct {
	// CalendarID selects the calendar (default: primary).
	CalendarID string
	// TimeZone is the IANA zone sent with created events (default: UTC).
	TimeZone string
	Metrics  *instrumentation.Metrics
	Logger   *slog.Logger
}

// Client wraps the Google Calendar service
type Client struct {
	svc        *calendar.Service
	calendarID string
	timeZone   string
	loc        *time.Location
	metrics    *instrumentation.Metrics
	logger     *slog.Logger
}

// NewClient creates a Calendar client authenticated by ts.
func NewClient(ctx context.Context, ts oauth2.TokenSource, opts Options) (*Client, error) {
	if ts == nil {
		return nil, fmt.Errorf("token source cannot be nil")
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(google.NewHTTPClient(ctx, ts)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return NewClientFromService(svc, opts)
}

// NewClientForAccountWithProvider creates a Calendar client for a stored
// account token. conf refreshes the token when it expires.
func NewClientForAccountWithProvider(ctx context.Context, account string, provider google.TokenProvider, conf *oauth2.Config, opts Options) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("token provider cannot be nil")
	}

	token, err := provider.GetTokenForAccount(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get Google OAuth token for account %s: %w", account, err)
	}

	return NewClient(ctx, conf.TokenSource(ctx, token), opts)
}

// NewClientFromService wraps an existing service. Used by tests to point the
// client at a fake endpoint.
func NewClientFromService(svc *calendar.Service, opts Options) (*Client, error) {
	if opts.CalendarID == "" {
		opts.CalendarID = DefaultCalendarID
	}
	if opts.TimeZone == "" {
		opts.TimeZone = "UTC"
	}
	loc, err := time.LoadLocation(opts.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", opts.TimeZone, err)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		svc:        svc,
		calendarID: opts.CalendarID,
		timeZone:   opts.TimeZone,
		loc:        loc,
		metrics:    opts.Metrics,
		logger:     logging.WithService(opts.Logger, instrumentation.ServiceCalendar),
	}, nil
}

// CalendarID returns the calendar this client operates on.
func (c *Client) CalendarID() string {
	return c.calendarID
}

// ListEvents lists single events starting in [timeMin, timeMax) ordered by
// start time. A zero timeMax leaves the window open-ended; a non-positive
// limit means DefaultListLimit.
func (c *Client) ListEvents(ctx context.Context, timeMin, timeMax time.Time, limit int64) (events []Event, err error) {
	ctx, done := c.observe(ctx, instrumentation.OperationList)
	defer func() { done(err) }()

	items, err := c.list(ctx, timeMin, timeMax, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events = make([]Event, 0, len(items))
	for _, item := range items {
		events = append(events, toEvent(item, c.loc))
	}
	return events, nil
}

// CheckAvailability reports whether [start, end) is free. Any event
// overlapping the window is a conflict; at most DefaultListLimit conflicts
// are returned.
func (c *Client) CheckAvailability(ctx context.Context, start, end time.Time) (availability Availability, err error) {
	ctx, done := c.observe(ctx, instrumentation.OperationFreeBusy)
	defer func() { done(err) }()

	items, err := c.list(ctx, start, end, DefaultListLimit)
	if err != nil {
		return Availability{}, fmt.Errorf("failed to check availability: %w", err)
	}

	for _, item := range items {
		availability.Conflicts = append(availability.Conflicts, toEvent(item, c.loc))
	}
	availability.Available = len(availability.Conflicts) == 0
	return availability, nil
}

// CreateEvent inserts a new event and returns it as stored by Google.
func (c *Client) CreateEvent(ctx context.Context, input EventInput) (created *Event, err error) {
	ctx, done := c.observe(ctx, instrumentation.OperationCreate)
	defer func() { done(err) }()

	if !input.Start.Before(input.End) {
		return nil, fmt.Errorf("failed to create event: start %s is not before end %s",
			input.Start.Format(time.RFC3339), input.End.Format(time.RFC3339))
	}

	tz := input.TimeZone
	if tz == "" {
		tz = c.timeZone
	}

	item, err := c.svc.Events.Insert(c.calendarID, toGoogleEvent(input, tz)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	event := toEvent(item, c.loc)
	c.logger.DebugContext(ctx, "event created", slog.String("event_id", event.ID))
	return &event, nil
}

// DeleteEvent removes an event. An event Google reports as already deleted
// counts as success.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) (err error) {
	ctx, done := c.observe(ctx, instrumentation.OperationDelete,
		attribute.String(instrumentation.SpanAttrEventID, eventID))
	defer func() { done(err) }()

	if eventID == "" {
		return fmt.Errorf("failed to delete event: empty event id")
	}

	err = c.svc.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if isAlreadyDeleted(err) {
		c.logger.DebugContext(ctx, "event already deleted", slog.String("event_id", eventID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (c *Client) list(ctx context.Context, timeMin, timeMax time.Time, limit int64) ([]*calendar.Event, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	call := c.svc.Events.List(c.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		MaxResults(limit).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if !timeMax.IsZero() {
		call = call.TimeMax(timeMax.Format(time.RFC3339))
	}

	resp, err := call.Do()
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// observe starts a client span and returns a func that ends it and records
// the operation metric.
func (c *Client) observe(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append(attrs, attribute.String(instrumentation.SpanAttrCalendarID, c.calendarID))
	ctx, span := instrumentation.StartGoogleAPISpan(ctx, instrumentation.ServiceCalendar, operation, attrs...)

	return ctx, func(err error) {
		status := instrumentation.StatusSuccess
		if err != nil {
			status = instrumentation.StatusError
			c.logger.WarnContext(ctx, "calendar call failed", logging.Operation(operation), logging.Err(err))
		}
		c.metrics.RecordGoogleAPIOperation(ctx, instrumentation.ServiceCalendar, operation, status, time.Since(start))
		instrumentation.EndSpan(span, err)
	}
}

// isAlreadyDeleted reports whether err is Google's answer for an event
// that no longer exists.
func isAlreadyDeleted(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusGone {
		return true
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "deleted" {
			return true
		}
	}
	return false
}
