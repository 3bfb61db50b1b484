package events

// Event is a state change published by the order engine or the access layer.
type Event interface {
	EventType() string
}

// Emitter receives events after the change they describe has been committed.
// Implementations must not block the caller for long.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter drops every event. Engines start with it until a real emitter is
// attached.
type NoopEmitter struct{}

// Emit implements Emitter.
func (NoopEmitter) Emit(Event) {}
