package widget

import (
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func newClock() *clock                   { return &clock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)} }

func TestSendText(t *testing.T) {
	w := New(nil)

	m, err := w.SendText(" s1 ", "a1", "Where is my order?")
	require.NoError(t, err)
	assert.Equal(t, "s1", m.SessionID)
	assert.Equal(t, "a1", m.AgentID)
	assert.Equal(t, "text", m.Type)

	_, err = w.SendText("s1", "", "   ")
	assert.True(t, domain.IsValidation(err))
	_, err = w.SendText("", "", "hi")
	assert.True(t, domain.IsValidation(err))
}

func TestSendImage(t *testing.T) {
	w := New(nil)

	tests := []struct {
		name string
		url  string
		ok   bool
	}{
		{"png data url", "data:image/png;base64,iVBORw0KGgo=", true},
		{"jpeg data url upper", "data:IMAGE/JPEG;base64,/9j/4AAQ", true},
		{"https link", "https://cdn.example.com/a.png", true},
		{"http link", "http://example.com/a.gif", true},
		{"empty", "", false},
		{"pdf data url", "data:application/pdf;base64,JVBERi0=", false},
		{"data url without payload", "data:image/png;base64", false},
		{"ftp", "ftp://example.com/a.png", false},
		{"relative", "/uploads/a.png", false},
		{"too large", "data:image/png;base64," + strings.Repeat("A", MaxImageURLLength), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := w.SendImage("s1", "", tt.url)
			if !tt.ok {
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "image", m.Type)
			assert.Equal(t, tt.url, m.MediaURL)
			kind, err := m.Validate()
			require.NoError(t, err)
			assert.Equal(t, domain.KindImage, kind)
		})
	}
}

func TestVoiceCapture_ClientDuration(t *testing.T) {
	c := newClock()
	w := New(c.Now)

	require.NoError(t, w.StartVoiceCapture("s1"))
	assert.True(t, w.Recording("s1"))
	c.Advance(10 * time.Second)

	m, err := w.StopVoiceCapture("s1", "", 4.5, "data:audio/webm;base64,GkXf")
	require.NoError(t, err)
	assert.Equal(t, "voice", m.Type)
	assert.Equal(t, 4.5, m.DurationSeconds)
	assert.False(t, w.Recording("s1"))
}

func TestVoiceCapture_WallClockFallback(t *testing.T) {
	c := newClock()
	w := New(c.Now)

	require.NoError(t, w.StartVoiceCapture("s1"))
	c.Advance(7 * time.Second)
	m, err := w.StopVoiceCapture("s1", "", 0, "")
	require.NoError(t, err)
	assert.InDelta(t, 7.0, m.DurationSeconds, 0.001)

	require.NoError(t, w.StartVoiceCapture("s1"))
	c.Advance(time.Hour)
	m, err = w.StopVoiceCapture("s1", "", -1, "")
	require.NoError(t, err)
	assert.InDelta(t, MaxVoiceDuration.Seconds(), m.DurationSeconds, 0.001)
}

func TestVoiceCapture_StopWithoutStart(t *testing.T) {
	w := New(nil)

	_, err := w.StopVoiceCapture("s1", "", 3, "")
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "voice", ve.Field)

	require.NoError(t, w.StartVoiceCapture("s1"))
	w.CancelVoiceCapture("s1")
	_, err = w.StopVoiceCapture("s1", "", 3, "")
	assert.True(t, domain.IsValidation(err))
}

func TestVoiceCapture_PerSession(t *testing.T) {
	c := newClock()
	w := New(c.Now)

	require.NoError(t, w.StartVoiceCapture("a"))
	c.Advance(2 * time.Second)
	require.NoError(t, w.StartVoiceCapture("b"))
	c.Advance(3 * time.Second)

	mb, err := w.StopVoiceCapture("b", "", 0, "")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, mb.DurationSeconds, 0.001)
	assert.True(t, w.Recording("a"))

	ma, err := w.StopVoiceCapture("a", "", 0, "")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, ma.DurationSeconds, 0.001)

	assert.True(t, domain.IsValidation(w.StartVoiceCapture(" ")))
}
