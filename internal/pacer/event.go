package pacer

import (
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
)

// EventType names a client-visible pacing event.
type EventType string

const (
	EventConnecting EventType = "connecting"
	EventStaffed    EventType = "staffed"
	EventTyping     EventType = "typing"
	EventReply      EventType = "reply"
	EventFollowUp   EventType = "followup"
	EventEnded      EventType = "ended"
)

// Event is pushed to subscribers of a session.
type Event struct {
	Type      EventType         `json:"type"`
	SessionID string            `json:"sessionId"`
	Text      string            `json:"text,omitempty"`
	Agent     *domain.AgentView `json:"agent,omitempty"`
	DelayMs   int64             `json:"delayMs,omitempty"`
	At        time.Time         `json:"at"`
}

// Notifier receives pacing events. Implementations must not block.
type Notifier interface {
	Notify(e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(e Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Fanout delivers each event to every non-nil notifier in order.
func Fanout(ns ...Notifier) Notifier {
	return NotifierFunc(func(e Event) {
		for _, n := range ns {
			if n != nil {
				n.Notify(e)
			}
		}
	})
}
