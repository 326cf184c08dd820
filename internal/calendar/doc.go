// Package calendar is the gateway to the Google Calendar API.
//
// It exposes the four operations the dialogue needs (list, availability
// check, create, delete) with typed inputs and outputs, records a metric and
// a client span per API call, and treats an already deleted event as gone.
//
// Example usage:
//
//	client, err := calendar.NewClient(ctx, tokenSource, calendar.Options{TimeZone: "Europe/Berlin"})
//	if err != nil {
//	    return err
//	}
//	events, err := client.ListEvents(ctx, time.Now(), time.Now().Add(24*time.Hour), 10)
package calendar
