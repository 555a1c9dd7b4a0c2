package domain

import "time"

// SessionStatus is the lifecycle state of a visitor conversation.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionIdle   SessionStatus = "idle" // follow-up sent, waiting for the visitor
	SessionEnded  SessionStatus = "ended"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionIdle, SessionEnded:
		return true
	}
	return false
}

// Session is one visitor conversation keyed by a client-generated identifier.
// AgentID is fixed at creation and empty when the fallback persona was used.
type Session struct {
	ID             string        `json:"id"`
	AgentID        string        `json:"agentId,omitempty"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
	LastReadSeq    int64         `json:"lastReadSeq"`
}

// SessionSummary is a row of the admin inbox.
type SessionSummary struct {
	Session
	AgentName   string   `json:"agentName"`
	UnreadCount int      `json:"unreadCount"`
	LastMessage *Message `json:"lastMessage,omitempty"`
}
