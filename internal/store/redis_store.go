package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soyeahso/supportchat/internal/domain"
)

const defaultRedisTTL = 30 * 24 * time.Hour

// RedisConversationStore implements ConversationStore on Redis. Each session
// is a JSON string, its log is a list of JSON messages, and a sorted set
// indexes sessions by last activity. Keys expire after ttl without writes.
type RedisConversationStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return client, nil
}

// NewRedisConversationStore creates a store whose keys all start with prefix.
func NewRedisConversationStore(client *redis.Client, prefix string, ttl time.Duration) *RedisConversationStore {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisConversationStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisConversationStore) sessionKey(id string) string  { return s.prefix + "session:" + id }
func (s *RedisConversationStore) messagesKey(id string) string { return s.prefix + "messages:" + id }
func (s *RedisConversationStore) seqKey() string               { return s.prefix + "seq" }
func (s *RedisConversationStore) indexKey() string             { return s.prefix + "sessions" }

func activityScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (s *RedisConversationStore) CreateSession(ctx context.Context, sess domain.Session) (*domain.Session, bool, error) {
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

	val, err := json.Marshal(sess)
	if err != nil {
		return nil, false, err
	}
	created, err := s.client.SetNX(ctx, s.sessionKey(sess.ID), val, s.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("creating session %q: %w", sess.ID, err)
	}
	if !created {
		stored, err := s.GetSession(ctx, sess.ID)
		return stored, false, err
	}

	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  activityScore(sess.LastActivityAt),
		Member: sess.ID,
	}).Err()
	if err != nil {
		return nil, false, fmt.Errorf("indexing session %q: %w", sess.ID, err)
	}
	return &sess, true, nil
}

func (s *RedisConversationStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	val, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", id, err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", id, err)
	}
	return &sess, nil
}

// ListSessions walks the activity index newest first. Index entries whose
// session key has expired are pruned.
func (s *RedisConversationStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	var out []domain.Session
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			s.client.ZRem(ctx, s.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, nil
}

// update applies fn to the stored session under WATCH so concurrent
// writers retry instead of overwriting each other.
func (s *RedisConversationStore) update(ctx context.Context, id string, fn func(tx *redis.Tx, sess *domain.Session) error) error {
	key := s.sessionKey(id)
	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(val), &sess); err != nil {
			return err
		}
		if err := fn(tx, &sess); err != nil {
			return err
		}
		newVal, err := json.Marshal(sess)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newVal, s.ttl)
			pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: activityScore(sess.LastActivityAt), Member: id})
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
	return fmt.Errorf("updating session %q: too much contention", id)
}

func (s *RedisConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, func(_ *redis.Tx, sess *domain.Session) error {
		sess.LastActivityAt = at.UTC()
		return nil
	})
}

func (s *RedisConversationStore) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	return s.update(ctx, id, func(_ *redis.Tx, sess *domain.Session) error {
		sess.Status = status
		return nil
	})
}

func (s *RedisConversationStore) DeleteSession(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("deleting session %q: %w", id, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.messagesKey(id))
		pipe.ZRem(ctx, s.indexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting messages of %q: %w", id, err)
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

// appendScript pushes a message onto a session's log only while the session
// exists. The seq is drawn and stamped into the payload in the same step, so
// log order and seq order agree. The session key is only read, so updates
// running under WATCH on it are not disturbed.
//
// KEYS: session, messages, seq. ARGV: message JSON, ttl in milliseconds.
// Returns the assigned seq, or -1 when the session is missing.
var appendScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
local seq = redis.call("INCR", KEYS[3])
local msg = cjson.decode(ARGV[1])
msg["seq"] = seq
redis.call("RPUSH", KEYS[2], cjson.encode(msg))
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return seq
`)

func (s *RedisConversationStore) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}
	m.Seq = 0

	val, err := json.Marshal(m)
	if err != nil {
		return m, fmt.Errorf("encoding message for %q: %w", m.SessionID, err)
	}
	keys := []string{s.sessionKey(m.SessionID), s.messagesKey(m.SessionID), s.seqKey()}
	seq, err := appendScript.Run(ctx, s.client, keys, val, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return m, fmt.Errorf("appending message to %q: %w", m.SessionID, err)
	}
	if seq < 0 {
		return m, notFound(m.SessionID)
	}
	m.Seq = seq
	return m, nil
}

func (s *RedisConversationStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]domain.Message, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}
	vals, err := s.client.LRange(ctx, s.messagesKey(sessionID), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("loading messages of %q: %w", sessionID, err)
	}

	msgs := make([]domain.Message, 0, len(vals))
	for _, v := range vals {
		var m domain.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decoding message of %q: %w", sessionID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisConversationStore) MarkRead(ctx context.Context, sessionID string) error {
	return s.update(ctx, sessionID, func(tx *redis.Tx, sess *domain.Session) error {
		last, err := tx.LIndex(ctx, s.messagesKey(sessionID), -1).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		var m domain.Message
		if err := json.Unmarshal([]byte(last), &m); err != nil {
			return err
		}
		sess.LastReadSeq = m.Seq
		return nil
	})
}

func (s *RedisConversationStore) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	msgs, err := s.RecentMessages(ctx, sessionID, 0)
	if err != nil {
		return 0, err
	}
	return countUnread(msgs, sess.LastReadSeq), nil
}
