package store

import (
	"context"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
)

// AgentStore persists the persona roster.
type AgentStore interface {
	// ListAgents returns every agent ordered by sort order, then name.
	ListAgents(ctx context.Context) ([]domain.Agent, error)
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	// UpsertAgent inserts or replaces by ID. CreatedAt is preserved on update.
	UpsertAgent(ctx context.Context, a domain.Agent) (*domain.Agent, error)
	DeleteAgent(ctx context.Context, id string) error
}

// SettingsStore persists the flat (key, value, type) settings table.
type SettingsStore interface {
	AllSettings(ctx context.Context) ([]domain.SettingRecord, error)
	// PutSettings upserts each record; the last write for a key wins.
	PutSettings(ctx context.Context, recs []domain.SettingRecord) error
	// SeedSettings writes only the records whose key has never been set.
	SeedSettings(ctx context.Context, recs []domain.SettingRecord) error
}

// ConversationStore persists sessions and their append-only message logs.
// Message Seq values are assigned on append and strictly increase per session.
type ConversationStore interface {
	// CreateSession stores s unless a session with the same ID exists, in
	// which case the stored one is returned and created is false.
	CreateSession(ctx context.Context, s domain.Session) (sess *domain.Session, created bool, err error)
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	ListSessions(ctx context.Context) ([]domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	SetStatus(ctx context.Context, id string, status domain.SessionStatus) error
	DeleteSession(ctx context.Context, id string) error

	AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error)
	// RecentMessages returns the last n messages oldest-first. n <= 0 means all.
	RecentMessages(ctx context.Context, sessionID string, n int) ([]domain.Message, error)

	// MarkRead moves the read marker to the newest message.
	MarkRead(ctx context.Context, sessionID string) error
	// UnreadCount counts visitor messages newer than the read marker.
	UnreadCount(ctx context.Context, sessionID string) (int, error)
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02 15:04:05.000000"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		t, _ = time.Parse(time.DateTime, s)
	}
	return t
}

func now() time.Time {
	return time.Now().UTC()
}
