package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEventEmitter is a simple implementation of the EventEmitter interface
// that stores registered handlers in memory and dispatches events to them.
type InMemoryEventEmitter struct {
	handlers []EventHandler
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewInMemoryEventEmitter creates a new instance of InMemoryEventEmitter.
func NewInMemoryEventEmitter(logger *slog.Logger) *InMemoryEventEmitter {
	if logger == nil {
		logger = slog.Default()
	}

	return &InMemoryEventEmitter{
		handlers: make([]EventHandler, 0),
		logger:   logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a new event handler to receive events.
func (e *InMemoryEventEmitter) RegisterHandler(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
	e.logger.Debug("registered new event handler", "handler_count", len(e.handlers))
}

// EmitEvent publishes the given event to all registered handlers.
// If any handler returns an error, the event will still be sent to all other handlers,
// and the first error encountered will be returned.
func (e *InMemoryEventEmitter) EmitEvent(ctx context.Context, event *TaskEvent) error {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	e.logger.Debug("emitting event",
		"event_id", event.ID,
		"event_type", event.Type,
		"task_id", event.TaskID,
		"handler_count", len(handlers))

	var firstErr error
	for i, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			e.logger.Error("handler failed to process event",
				"error", err,
				"handler_index", i,
				"event_id", event.ID,
				"event_type", event.Type)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// ChannelHandler bridges events onto a buffered channel for pull-style
// subscribers. A full buffer drops the event rather than blocking the
// emitting loop; subscribers that care about completeness must drain
// promptly or poll the queue.
type ChannelHandler struct {
	ch      chan TaskEvent
	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChannelHandler creates a handler delivering events into a channel
// with the given buffer size.
func NewChannelHandler(buffer int) *ChannelHandler {
	return &ChannelHandler{
		ch: make(chan TaskEvent, buffer),
	}
}

// Ensure ChannelHandler implements EventHandler interface
var _ EventHandler = (*ChannelHandler)(nil)

// HandleEvent delivers the event to the channel without blocking.
func (h *ChannelHandler) HandleEvent(ctx context.Context, event *TaskEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	select {
	case h.ch <- *event:
	default:
		h.dropped++
	}
	return nil
}

// Events returns the channel subscribers receive on.
func (h *ChannelHandler) Events() <-chan TaskEvent {
	return h.ch
}

// Dropped returns how many events were discarded because the buffer
// was full.
func (h *ChannelHandler) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close stops delivery and closes the channel. Safe to call more than
// once.
func (h *ChannelHandler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.ch)
}
