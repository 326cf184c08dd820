package dialogue

import (
	"fmt"
	"strings"

	"github.com/teemow/calagent/internal/calendar"
)

// Fixed replies.
const (
	FallbackResponse            = "I didn't quite catch that. Could you rephrase?"
	NoEventsResponse            = "No upcoming events found."
	NoCancelMatchResponse       = "I couldn't find any matching events to cancel."
	UnresolvedSelectionResponse = "I couldn't identify which event you meant. Please say the number (e.g., '1')."
	FailureResponse             = "Sorry, I couldn't reach your calendar. Please try again."

	listHeader       = "Here are your upcoming events:"
	candidatesHeader = `I found multiple matching events. Please specify which one to cancel (e.g., "1" or "the first one"):`
)

// DateLayout renders event times in replies, e.g. "Mon, Jan 6, 3:00 PM".
const DateLayout = "Mon, Jan 2, 3:04 PM"

const untitled = "(no title)"

func (c *Controller) formatDate(e calendar.Event) string {
	return e.Start.In(c.loc).Format(DateLayout)
}

func (c *Controller) formatList(events []calendar.Event) string {
	if len(events) == 0 {
		return NoEventsResponse
	}
	lines := make([]string, 0, len(events)+1)
	lines = append(lines, listHeader)
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("%s - %s", c.formatDate(e), title(e)))
	}
	return strings.Join(lines, "\n")
}

func (c *Controller) formatCandidates(events []calendar.Event) string {
	lines := make([]string, 0, len(events)+1)
	lines = append(lines, candidatesHeader)
	for i, e := range events {
		line := fmt.Sprintf("%d. %s - %s", i+1, c.formatDate(e), title(e))
		if len(e.Attendees) > 0 {
			names := make([]string, len(e.Attendees))
			for j, a := range e.Attendees {
				names[j] = a.Name()
			}
			line += " With " + strings.Join(names, ", ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (c *Controller) canceledResponse(e calendar.Event) string {
	return fmt.Sprintf(`I've canceled the event: "%s" at %s`, title(e), c.formatDate(e))
}

func scheduledResponse(created *calendar.Event) string {
	return "I've scheduled that for you. " + createdReference(created)
}

func forcedResponse(created *calendar.Event) string {
	return "I've forced that schedule for you. " + createdReference(created)
}

func createdReference(created *calendar.Event) string {
	if created == nil || created.HTMLLink == "" {
		return "Event created."
	}
	return "Event created: " + created.HTMLLink
}

func conflictResponse(conflicts []calendar.Event) string {
	names := make([]string, len(conflicts))
	for i, e := range conflicts {
		names[i] = title(e)
	}
	return fmt.Sprintf(`I found a conflict with: %s. Do you want to schedule anyway? (Reply "schedule anyway" to override)`,
		strings.Join(names, ", "))
}

func title(e calendar.Event) string {
	if e.Summary == "" {
		return untitled
	}
	return e.Summary
}
