package intent

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const promptTemplate = `Current Time: %s
Saved Contacts: %s

You are a smart calendar assistant. Analyze the user's input and extract the intent and details into a strict JSON format.

Possible Intents: "LIST_EVENTS", "CREATE_EVENT", "CANCEL_EVENT", "SELECT_OPTION", "UNKNOWN"

Rules:
1. If intent is "CREATE_EVENT", calculate start and end times (default duration 30 mins) based on "Current Time".
2. Format times in ISO 8601 (YYYY-MM-DDTHH:mm:ss.sss+HH:mm) WITH the timezone offset shown in "Current Time".
3. Extract attendees carefully. Always capture any email address mentioned in the input (e.g., "with user@example.com"). If a name matches a "Saved Contact", use that email. Return as an array of objects: [{"email": "..."}].
4. If intent is "LIST_EVENTS" or "CANCEL_EVENT" and user specifies a time range (e.g. "today", "tomorrow"), set startTime and endTime covering that range. If no time specified, default to next 24 hours.
5. If user says "schedule anyway", "ignore conflict", or "force", set "ignoreConflicts": true.
6. If the user is selecting an item from a list (e.g. "first one", "option 2", "the 10am one"), set intent to "SELECT_OPTION" and put the selection detail in "summary".

User Input: %q

Output JSON Schema:
{
    "intent": "LIST_EVENTS" | "CREATE_EVENT" | "CANCEL_EVENT" | "SELECT_OPTION" | "UNKNOWN",
    "summary": "Meeting Title",
    "startTime": "ISO String",
    "endTime": "ISO String",
    "attendees": [{"email": "example@test.com"}],
    "location": "Location or Link",
    "ignoreConflicts": boolean
}

Respond ONLY with the JSON string.
`

// nowLayout shows the weekday so relative dates ("next Tuesday") resolve correctly.
const nowLayout = "Monday, January 2, 2006 15:04:05 MST (UTC-07:00)"

// BuildPrompt renders the classification prompt.
func BuildPrompt(utterance string, now time.Time, contacts map[string]string) string {
	return fmt.Sprintf(promptTemplate, now.Format(nowLayout), formatContacts(contacts), utterance)
}

// formatContacts renders "name: email" pairs sorted by name.
func formatContacts(contacts map[string]string) string {
	if len(contacts) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(contacts))
	for name := range contacts {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+": "+contacts[name])
	}
	return strings.Join(pairs, ", ")
}
