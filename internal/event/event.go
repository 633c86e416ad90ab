// Package event implements the tagged event model and stream combinators
// of spec §4.2: a per-source event stream is the universal return type of
// every long-running operation in the engine.
//
// Event streams are modeled as <-chan Event (spec §9 "Coroutine event
// streams"): the producer goroutine is the sender, a combinator is the
// receiver, and cancellation is a channel close driven by context
// cancellation — never an explicit "stop" event.
//
// Grounded on original_source/libnix/update/events.py.
package event

import "github.com/google/uuid"

// Kind is the tag on an Event.
type Kind string

const (
	KindStatus       Kind = "status"
	KindCommandStart Kind = "command-start"
	KindLine         Kind = "line"
	KindCommandEnd   Kind = "command-end"
	KindValue        Kind = "value"
	KindResult       Kind = "result"
	KindError        Kind = "error"
)

// Event is the tagged union described in spec §4.2. Only the fields
// relevant to Kind are populated; the rest are zero values.
type Event struct {
	// RunID correlates every event emitted during one orchestrator
	// invocation (spec's DOMAIN STACK addition; not in the original
	// Python model, which relied on a single in-process event loop).
	RunID uuid.UUID

	Source  string
	Kind    Kind
	Message string

	// StreamLabel names the named sub-stream this event came from, used
	// by GatherEventStreams to key its result map.
	StreamLabel string

	// Payload carries kind-specific data: a CommandResult for
	// command-end, an arbitrary value for value/result, an error for
	// error.
	Payload any
}

// Status builds a KindStatus event.
func Status(runID uuid.UUID, source, message string) Event {
	return Event{RunID: runID, Source: source, Kind: KindStatus, Message: message}
}

// Value builds a KindValue event carrying payload.
func Value(runID uuid.UUID, source string, payload any) Event {
	return Event{RunID: runID, Source: source, Kind: KindValue, Payload: payload}
}

// Result builds a KindResult event. payload is nil for "up to date, no
// change" results (spec §4.4 step 3).
func Result(runID uuid.UUID, source string, payload any) Event {
	return Event{RunID: runID, Source: source, Kind: KindResult, Payload: payload}
}

// Error builds a KindError event.
func Error(runID uuid.UUID, source string, err error) Event {
	return Event{RunID: runID, Source: source, Kind: KindError, Payload: err, Message: err.Error()}
}

// CommandResult is the payload of a command-end event.
type CommandResult struct {
	Args         []string
	ReturnCode   int
	Stdout       string
	Stderr       string
	AllowFailure bool
	TailLines    []string
}
