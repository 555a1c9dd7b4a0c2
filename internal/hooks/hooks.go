// Package hooks dispatches chat lifecycle events (sessions starting and
// ending, messages received, replies sent) to registered handlers.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/supportchat/internal/logging"
)

// Event names for the hook system.
const (
	EventSessionStart    = "session_start"
	EventSessionEnd      = "session_end"
	EventSessionCleared  = "session_cleared"
	EventMessageReceived = "message_received"
	EventReplySent       = "reply_sent"
	EventReplyFailed     = "reply_failed"
	EventFollowUpSent    = "follow_up_sent"
	EventServerStart     = "server_start"
	EventServerStop      = "server_stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventSessionStart,
	EventSessionEnd,
	EventSessionCleared,
	EventMessageReceived,
	EventReplySent,
	EventReplyFailed,
	EventFollowUpSent,
	EventServerStart,
	EventServerStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event     string         `json:"event"`
	SessionID string         `json:"sessionId,omitempty"`
	At        time.Time      `json:"at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Handler handles a hook event. Returning an error logs the failure but
// does not stop other handlers.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	wg       sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers handler for every known event.
func (m *Manager) OnAll(name string, handler Handler) {
	for _, e := range AllEvents {
		m.On(e, name, handler)
	}
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handlers := make([]namedHandler, len(m.handlers[event]))
	copy(handlers, m.handlers[event])
	return handlers
}

// Emit dispatches an event synchronously in registration order.
func (m *Manager) Emit(ctx context.Context, event, sessionID string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, SessionID: sessionID, At: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		m.run(ctx, h, payload)
	}
}

// EmitAsync dispatches an event to all handlers concurrently and returns
// immediately. Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event, sessionID string, data map[string]any) {
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, SessionID: sessionID, At: time.Now().UTC(), Data: data}
	for _, h := range handlers {
		m.wg.Add(1)
		go func(h namedHandler) {
			defer m.wg.Done()
			m.run(ctx, h, payload)
		}(h)
	}
}

func (m *Manager) run(ctx context.Context, h namedHandler, p Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Interface("panic", r).Str("event", p.Event).Str("handler", h.name).Msg("hook handler panicked")
		}
	}()
	if err := h.handler(ctx, p); err != nil {
		m.log.Warn().
			Err(err).
			Str("event", p.Event).
			Str("handler", h.name).
			Msg("hook handler error")
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}

// AuditHandler writes every event to log at info level.
func AuditHandler(log *logging.Logger) Handler {
	audit := log.Sub("audit")
	return func(_ context.Context, p Payload) error {
		ev := audit.Info().Str("event", p.Event)
		if p.SessionID != "" {
			ev = ev.Str("sessionId", p.SessionID)
		}
		for k, v := range p.Data {
			ev = ev.Interface(k, v)
		}
		ev.Msg("chat event")
		return nil
	}
}
