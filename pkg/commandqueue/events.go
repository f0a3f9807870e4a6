package commandqueue

// Event types emitted by the proxy.
const (
	EventTrackerCreated = "tracker_created"
	EventDispatched     = "dispatched"
	EventFailed         = "failed"
	EventDeprecated     = "deprecated"
	EventDropped        = "dropped"
)

// EventHandler is a function that handles proxy events
type EventHandler func(event Event)

// Event describes one step of dispatch.
type Event struct {
	Type      string
	Namespace string
	Operation string
	Err       error
	Data      map[string]interface{}
}

// On registers an event handler for a specific event type
func (p *Proxy) On(eventType string, handler EventHandler) {
	if handler == nil {
		return
	}

	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	p.eventHandlers[eventType] = append(p.eventHandlers[eventType], handler)
}

// Off removes all handlers for the event type
func (p *Proxy) Off(eventType string) {
	p.eventMu.Lock()
	defer p.eventMu.Unlock()

	delete(p.eventHandlers, eventType)
}

// emit calls handlers synchronously on the dispatching goroutine.
func (p *Proxy) emit(event Event) {
	p.eventMu.RLock()
	handlers := append([]EventHandler(nil), p.eventHandlers[event.Type]...)
	p.eventMu.RUnlock()

	if p.onEvent != nil {
		handlers = append(handlers, p.onEvent)
	}

	for _, handler := range handlers {
		p.notify(handler, event)
	}
}

func (p *Proxy) notify(handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("event", event.Type).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	handler(event)
}
