package events

import "sessionvault/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Raw adapts a plain types.Event to the Event interface.
type Raw struct {
	Evt *types.Event
}

func (r Raw) EventType() string {
	if r.Evt == nil {
		return ""
	}
	return r.Evt.Type
}

func (r Raw) Event() *types.Event { return r.Evt }

// Recorder keeps every emitted event in order. Tests use it to assert on the
// notifications produced by a transaction.
type Recorder struct {
	Events []*types.Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.Events = append(r.Events, evt.Event().Clone())
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []*types.Event {
	var out []*types.Event
	for _, evt := range r.Events {
		if evt != nil && evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}
