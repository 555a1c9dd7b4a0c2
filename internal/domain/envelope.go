package domain

import (
	"strings"
	"time"
)

// Envelope limits.
const (
	MaxSessionIDLength = 128
	MaxMessageLength   = 4000
)

// InboundMessage is the widget's chat request.
type InboundMessage struct {
	SessionID       string  `json:"sessionId"`
	Message         string  `json:"message"`
	Type            string  `json:"type,omitempty"`
	MediaURL        string  `json:"mediaUrl,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	AgentID         string  `json:"agentId,omitempty"`
}

// Validate checks the envelope and returns its kind.
func (m InboundMessage) Validate() (Kind, error) {
	id := strings.TrimSpace(m.SessionID)
	if id == "" {
		return "", &ValidationError{Field: "sessionId", Message: "is required"}
	}
	if len(id) > MaxSessionIDLength {
		return "", &ValidationError{Field: "sessionId", Message: "is too long"}
	}
	kind, ok := ParseKind(m.Type)
	if !ok {
		return "", &ValidationError{Field: "type", Message: "must be text, image or voice"}
	}
	if len(m.Message) > MaxMessageLength {
		return "", &ValidationError{Field: "message", Message: "is too long"}
	}
	switch kind {
	case KindText:
		if strings.TrimSpace(m.Message) == "" {
			return "", &ValidationError{Field: "message", Message: "must not be empty"}
		}
	case KindImage:
		if m.MediaURL == "" {
			return "", &ValidationError{Field: "mediaUrl", Message: "is required for images"}
		}
	case KindVoice:
		if m.MediaURL == "" && m.DurationSeconds <= 0 {
			return "", &ValidationError{Field: "mediaUrl", Message: "voice notes need media or a duration"}
		}
		if m.DurationSeconds < 0 {
			return "", &ValidationError{Field: "durationSeconds", Message: "must not be negative"}
		}
	}
	return kind, nil
}

// Reply is the single response shape of the router boundary.
type Reply struct {
	SessionID   string        `json:"sessionId"`
	Text        string        `json:"reply"`
	Agent       AgentView     `json:"agent"`
	ErrorTag    string        `json:"error,omitempty"`
	NewSession  bool          `json:"newSession,omitempty"`
	TypingDelay time.Duration `json:"-"`
	QueueWait   time.Duration `json:"-"`
}
