package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
)

// MemoryAgentStore is an in-process AgentStore.
type MemoryAgentStore struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
}

// NewMemoryAgentStore creates an empty agent store.
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{agents: make(map[string]domain.Agent)}
}

func (s *MemoryAgentStore) ListAgents(_ context.Context) ([]domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryAgentStore) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	return &a, nil
}

func (s *MemoryAgentStore) UpsertAgent(_ context.Context, a domain.Agent) (*domain.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	if prev, ok := s.agents[a.ID]; ok {
		a.CreatedAt = prev.CreatedAt
	} else if a.CreatedAt.IsZero() {
		a.CreatedAt = ts
	}
	a.UpdatedAt = ts
	s.agents[a.ID] = a
	return &a, nil
}

func (s *MemoryAgentStore) DeleteAgent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	delete(s.agents, id)
	return nil
}

// MemorySettingsStore is an in-process SettingsStore.
type MemorySettingsStore struct {
	mu   sync.RWMutex
	recs map[string]domain.SettingRecord
}

// NewMemorySettingsStore creates an empty settings store.
func NewMemorySettingsStore() *MemorySettingsStore {
	return &MemorySettingsStore{recs: make(map[string]domain.SettingRecord)}
}

func (s *MemorySettingsStore) AllSettings(_ context.Context) ([]domain.SettingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SettingRecord, 0, len(s.recs))
	for _, r := range s.recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemorySettingsStore) PutSettings(_ context.Context, recs []domain.SettingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.recs[r.Key] = r
	}
	return nil
}

func (s *MemorySettingsStore) SeedSettings(_ context.Context, recs []domain.SettingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if _, ok := s.recs[r.Key]; !ok {
			s.recs[r.Key] = r
		}
	}
	return nil
}

// MemoryConversationStore is an in-process ConversationStore. Contents are
// lost on restart.
type MemoryConversationStore struct {
	mu       sync.RWMutex
	seq      int64
	sessions map[string]*domain.Session
	messages map[string][]domain.Message
}

// NewMemoryConversationStore creates an empty conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		sessions: make(map[string]*domain.Session),
		messages: make(map[string][]domain.Message),
	}
}

func (s *MemoryConversationStore) CreateSession(_ context.Context, sess domain.Session) (*domain.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sess.ID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now()
	}
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = domain.SessionActive
	}
	sess.LastReadSeq = 0
	s.sessions[sess.ID] = &sess
	cp := sess
	return &cp, true, nil
}

func (s *MemoryConversationStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryConversationStore) ListSessions(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastActivityAt.Equal(b.LastActivityAt) {
			return a.LastActivityAt.After(b.LastActivityAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *MemoryConversationStore) update(id string, fn func(*domain.Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return notFound(id)
	}
	fn(sess)
	return nil
}

func (s *MemoryConversationStore) Touch(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(sess *domain.Session) { sess.LastActivityAt = at.UTC() })
}

func (s *MemoryConversationStore) SetStatus(_ context.Context, id string, status domain.SessionStatus) error {
	return s.update(id, func(sess *domain.Session) { sess.Status = status })
}

func (s *MemoryConversationStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return notFound(id)
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryConversationStore) AppendMessage(_ context.Context, m domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[m.SessionID]; !ok {
		return m, notFound(m.SessionID)
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	s.seq++
	m.Seq = s.seq
	s.messages[m.SessionID] = append(s.messages[m.SessionID], m)
	return m, nil
}

func (s *MemoryConversationStore) RecentMessages(_ context.Context, sessionID string, n int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryConversationStore) MarkRead(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return notFound(sessionID)
	}
	if msgs := s.messages[sessionID]; len(msgs) > 0 {
		sess.LastReadSeq = msgs[len(msgs)-1].Seq
	}
	return nil
}

func (s *MemoryConversationStore) UnreadCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return 0, notFound(sessionID)
	}
	return countUnread(s.messages[sessionID], sess.LastReadSeq), nil
}

func countUnread(msgs []domain.Message, lastRead int64) int {
	n := 0
	for _, m := range msgs {
		if m.Role == domain.RoleUser && m.Seq > lastRead {
			n++
		}
	}
	return n
}
