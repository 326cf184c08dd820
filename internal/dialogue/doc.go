// Package dialogue turns one classified utterance plus the session's state
// into calendar operations and a reply.
//
// A turn is decided by an ordered rule list. The first rule whose guard
// matches the (intent, state) pair handles the turn:
//
//  1. list: list events in the requested window (default: the next 24h)
//  2. force_pending: forced create while a conflicting payload is pending;
//     the pending payload is created, not the reparsed one
//  3. force_immediate: forced create with nothing pending
//  4. create_checked: availability check, then create or hold as pending
//  5. cancel: find matching events, delete one or offer a numbered choice
//  6. select_option: pick one of the offered cancel candidates
//  7. force_catchall: any forced turn while a payload is pending, since a
//     bare "schedule anyway" often classifies as unknown
//  8. fallback: ask the user to rephrase
//
// The controller never mutates the state it is given; the returned Turn
// carries the state the host should store. When a calendar call fails
// nothing is committed: the input state is returned with an error wrapping
// ErrOperationFailed.
package dialogue
