// Package widget turns local widget interactions (typed text, picked
// images, recorded voice notes) into inbound chat envelopes.
package widget

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
)

// Media limits.
const (
	MaxImageURLLength = 8 << 20
	MaxVoiceDuration  = 5 * time.Minute
)

// Widget normalizes widget events. Voice captures are tracked per session
// so a stop can be matched with its start.
type Widget struct {
	now func() time.Time

	mu       sync.Mutex
	captures map[string]time.Time
}

// New creates a Widget. A nil clock uses time.Now.
func New(now func() time.Time) *Widget {
	if now == nil {
		now = time.Now
	}
	return &Widget{now: now, captures: make(map[string]time.Time)}
}

// SendText builds a text envelope.
func (w *Widget) SendText(sessionID, agentID, text string) (domain.InboundMessage, error) {
	return finish(domain.InboundMessage{
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      string(domain.KindText),
		Message:   text,
	})
}

// SendImage builds an image envelope. The URL must be a data:image URL or
// an http(s) link.
func (w *Widget) SendImage(sessionID, agentID, imageURL string) (domain.InboundMessage, error) {
	if err := checkImageURL(imageURL); err != nil {
		return domain.InboundMessage{}, err
	}
	return finish(domain.InboundMessage{
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      string(domain.KindImage),
		MediaURL:  imageURL,
	})
}

// StartVoiceCapture marks the beginning of a recording. Starting again
// restarts the clock.
func (w *Widget) StartVoiceCapture(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &domain.ValidationError{Field: "sessionId", Message: "is required"}
	}
	w.mu.Lock()
	w.captures[sessionID] = w.now()
	w.mu.Unlock()
	return nil
}

// StopVoiceCapture ends a recording and builds the voice envelope. A
// non-positive duration is replaced by the time since the capture started.
func (w *Widget) StopVoiceCapture(sessionID, agentID string, durationSeconds float64, mediaURL string) (domain.InboundMessage, error) {
	w.mu.Lock()
	started, ok := w.captures[sessionID]
	delete(w.captures, sessionID)
	w.mu.Unlock()
	if !ok {
		return domain.InboundMessage{}, &domain.ValidationError{Field: "voice", Message: "no recording in progress"}
	}

	if durationSeconds <= 0 {
		elapsed := w.now().Sub(started)
		if elapsed > MaxVoiceDuration {
			elapsed = MaxVoiceDuration
		}
		durationSeconds = elapsed.Seconds()
	}
	if durationSeconds <= 0 {
		// Zero-length stop: still a voice note, just a very short one.
		durationSeconds = 0.1
	}

	return finish(domain.InboundMessage{
		SessionID:       sessionID,
		AgentID:         agentID,
		Type:            string(domain.KindVoice),
		MediaURL:        mediaURL,
		DurationSeconds: durationSeconds,
	})
}

// CancelVoiceCapture drops a recording without sending it.
func (w *Widget) CancelVoiceCapture(sessionID string) {
	w.mu.Lock()
	delete(w.captures, sessionID)
	w.mu.Unlock()
}

// Recording reports whether a capture is in progress for the session.
func (w *Widget) Recording(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.captures[sessionID]
	return ok
}

func finish(m domain.InboundMessage) (domain.InboundMessage, error) {
	m.SessionID = strings.TrimSpace(m.SessionID)
	if _, err := m.Validate(); err != nil {
		return domain.InboundMessage{}, err
	}
	return m, nil
}

func checkImageURL(raw string) error {
	if raw == "" {
		return &domain.ValidationError{Field: "mediaUrl", Message: "is required for images"}
	}
	if len(raw) > MaxImageURLLength {
		return &domain.ValidationError{Field: "mediaUrl", Message: "image is too large"}
	}
	if strings.HasPrefix(raw, "data:") {
		meta, _, ok := strings.Cut(raw[len("data:"):], ",")
		if !ok || !strings.HasPrefix(strings.ToLower(meta), "image/") {
			return &domain.ValidationError{Field: "mediaUrl", Message: "must be an image data URL"}
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &domain.ValidationError{Field: "mediaUrl", Message: "must be a data:image or http(s) URL"}
	}
	return nil
}
