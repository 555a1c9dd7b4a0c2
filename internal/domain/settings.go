package domain

import (
	"strings"
	"time"
)

// Setting keys read by the chat engine. The store accepts any key.
const (
	SettingAIEnabled       = "ai_enabled"
	SettingAIAPIKey        = "ai_api_key"
	SettingAIModel         = "ai_model"
	SettingSiteURL         = "site_url"
	SettingSupportEmail    = "support_email"
	SettingQueueWaitTime   = "queue_wait_time"
	SettingTypingDelay     = "typing_delay"
	SettingReplySpeed      = "reply_speed"
	SettingFollowUpTimeout = "follow_up_timeout"
	SettingEndChatTimeout  = "end_chat_timeout"
	SettingTrainingURL     = "training_url"
)

// SettingType is the stored type tag of a setting value.
type SettingType string

const (
	SettingString  SettingType = "string"
	SettingNumber  SettingType = "number"
	SettingBoolean SettingType = "boolean"
)

// SettingRecord is the persisted (key, value, type) triple.
type SettingRecord struct {
	Key   string      `json:"key"`
	Value string      `json:"value"`
	Type  SettingType `json:"type"`
}

// Settings is a coerced snapshot: values are string, float64 or bool.
// Unset keys are absent; accessors take the caller's default.
type Settings map[string]any

// String returns the string value of key, or def when unset or empty.
func (s Settings) String(key, def string) string {
	switch v := s[key].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return def
}

// Number returns the numeric value of key, or def when unset.
func (s Settings) Number(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Bool returns the boolean value of key, or def when unset.
func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// Seconds reads a number of seconds as a duration. Negative values clamp to zero.
func (s Settings) Seconds(key string, def float64) time.Duration {
	n := s.Number(key, def)
	if n < 0 {
		n = 0
	}
	return time.Duration(n * float64(time.Second))
}

// AIReady reports whether AI replies are enabled and a credential is present.
func (s Settings) AIReady() bool {
	return s.Bool(SettingAIEnabled, false) && s.String(SettingAIAPIKey, "") != ""
}

// Timing is the pacing block derived from settings.
type Timing struct {
	QueueWait       time.Duration `json:"queueWait"`
	TypingDelay     time.Duration `json:"typingDelay"`
	ReplySpeed      time.Duration `json:"replySpeed"` // per word
	FollowUpTimeout time.Duration `json:"followUpTimeout"`
	EndChatTimeout  time.Duration `json:"endChatTimeout"`
}

// Default pacing values in seconds.
const (
	DefaultQueueWait       = 3
	DefaultTypingDelay     = 1.5
	DefaultReplySpeed      = 0.2
	DefaultFollowUpTimeout = 60
	DefaultEndChatTimeout  = 120
)

// Timing derives pacing parameters with defaults applied.
func (s Settings) Timing() Timing {
	return Timing{
		QueueWait:       s.Seconds(SettingQueueWaitTime, DefaultQueueWait),
		TypingDelay:     s.Seconds(SettingTypingDelay, DefaultTypingDelay),
		ReplySpeed:      s.Seconds(SettingReplySpeed, DefaultReplySpeed),
		FollowUpTimeout: s.Seconds(SettingFollowUpTimeout, DefaultFollowUpTimeout),
		EndChatTimeout:  s.Seconds(SettingEndChatTimeout, DefaultEndChatTimeout),
	}
}
