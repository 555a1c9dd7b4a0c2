package domain

import "time"

// Role is the author side of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Kind is the payload type of a message.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindVoice Kind = "voice"
)

// ParseKind maps a wire type to a Kind. Empty means text.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case "", KindText:
		return KindText, true
	case KindImage:
		return KindImage, true
	case KindVoice:
		return KindVoice, true
	}
	return "", false
}

// Source records what produced an assistant message.
type Source string

const (
	SourceVisitor  Source = "visitor"
	SourceAI       Source = "ai"
	SourceCanned   Source = "canned"
	SourceFollowUp Source = "followup"
	SourceAdmin    Source = "admin"
)

// Message is one immutable turn of a conversation. Seq is assigned by the
// store and strictly increases within a session.
type Message struct {
	SessionID       string    `json:"sessionId"`
	Seq             int64     `json:"seq"`
	Role            Role      `json:"role"`
	Kind            Kind      `json:"type"`
	Content         string    `json:"content"`
	MediaURL        string    `json:"mediaUrl,omitempty"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
	Source          Source    `json:"source"`
	CreatedAt       time.Time `json:"createdAt"`
}
