package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/supportchat/internal/config"
	"github.com/soyeahso/supportchat/internal/store"
)

// backends bundles the persistence layer selected by the storage config.
type backends struct {
	Agents        store.AgentStore
	Settings      store.SettingsStore
	Conversations store.ConversationStore

	closers []func() error
}

// Close releases every opened connection in reverse order.
func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// openBackends opens the configured agent, settings and conversation stores.
// Conversations may be moved to Redis independently of the main driver.
func openBackends(ctx context.Context, cfg config.StorageConfig) (*backends, error) {
	b := &backends{}

	switch cfg.Driver {
	case "memory":
		b.Agents = store.NewMemoryAgentStore()
		b.Settings = store.NewMemorySettingsStore()
		b.Conversations = store.NewMemoryConversationStore()
		log.Info().Msg("using in-memory stores")
	case "sqlite", "":
		dbPath := paths.DatabasePath(cfg)
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.Agents = store.NewSQLiteAgentStore(db)
		b.Settings = store.NewSQLiteSettingsStore(db)
		b.Conversations = store.NewSQLiteConversationStore(db)
		log.Info().Str("path", dbPath).Msg("using SQLite stores")
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}

	if cfg.Conversations == "redis" {
		client, err := store.DialRedis(ctx, cfg.Redis.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		ttl := time.Duration(cfg.Redis.TTLHours) * time.Hour
		b.Conversations = store.NewRedisConversationStore(client, cfg.Redis.KeyPrefix, ttl)
		log.Info().Str("prefix", cfg.Redis.KeyPrefix).Dur("ttl", ttl).Msg("using Redis conversation store")
	}

	return b, nil
}
