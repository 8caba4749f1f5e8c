package handlers

import "github.com/bhandras/delight/relay/shared/wire"

// Emission is a single event the transport adapter should send back to the
// calling connection.
type Emission struct {
	event   string
	payload any
}

func newErrorEmission(message string) Emission {
	return Emission{event: wire.EventError, payload: wire.ErrorPayload{Message: message}}
}

// Event returns the event name.
func (e Emission) Event() string { return e.event }

// Payload returns the event payload.
func (e Emission) Payload() any { return e.payload }

// EventResult is the output of a handler invocation.
type EventResult struct {
	ack   any
	emits []Emission
}

// NewEventResult constructs a handler result.
func NewEventResult(ack any, emits []Emission) EventResult {
	return EventResult{ack: ack, emits: emits}
}

// Ack returns the ACK payload to send to the caller.
func (r EventResult) Ack() any { return r.ack }

// Emits returns the events to send back to the caller.
func (r EventResult) Emits() []Emission { return r.emits }
