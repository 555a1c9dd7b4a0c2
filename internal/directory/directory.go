// Package directory manages the roster of support personas and picks one
// for each new visitor session.
package directory

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/supportchat/internal/domain"
	"github.com/soyeahso/supportchat/internal/logging"
	"github.com/soyeahso/supportchat/internal/store"
)

// Directory reads and edits the agent roster. Reads are unlocked point
// reads against the store; only the random source is guarded.
type Directory struct {
	store store.AgentStore
	log   *logging.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a directory. A nil rng is replaced by a time-seeded source.
func New(s store.AgentStore, rng *rand.Rand, log *logging.Logger) *Directory {
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Directory{store: s, rng: rng, log: log.Sub("directory")}
}

// List returns every agent, active or not.
func (d *Directory) List(ctx context.Context) ([]domain.Agent, error) {
	return d.store.ListAgents(ctx)
}

// ListActive returns the agents eligible for assignment.
func (d *Directory) ListActive(ctx context.Context) ([]domain.Agent, error) {
	all, err := d.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]domain.Agent, 0, len(all))
	for _, a := range all {
		if a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}

// Get returns one agent by ID.
func (d *Directory) Get(ctx context.Context, id string) (*domain.Agent, error) {
	return d.store.GetAgent(ctx, id)
}

// PickRandom returns a uniformly chosen active agent, or nil when the
// roster has no active agents.
func (d *Directory) PickRandom(ctx context.Context) (*domain.Agent, error) {
	active, err := d.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active agents: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	i := d.rng.IntN(len(active))
	d.mu.Unlock()

	picked := active[i]
	return &picked, nil
}

// Pick returns the requested agent when it exists and is active, otherwise
// a random active agent.
func (d *Directory) Pick(ctx context.Context, agentID string) (*domain.Agent, error) {
	if agentID != "" {
		a, err := d.store.GetAgent(ctx, agentID)
		switch {
		case err == nil && a.Active:
			return a, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, err
		}
		d.log.Debug().Str("agentId", agentID).Msg("requested agent unavailable, picking at random")
	}
	return d.PickRandom(ctx)
}

// Upsert creates or updates an agent. Only administrators may edit the roster.
func (d *Directory) Upsert(ctx context.Context, p domain.Principal, a domain.Agent) (*domain.Agent, error) {
	if !p.Admin {
		return nil, domain.ErrUnauthorized
	}
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return nil, &domain.ValidationError{Field: "name", Message: "is required"}
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}

	saved, err := d.store.UpsertAgent(ctx, a)
	if err != nil {
		return nil, err
	}
	d.log.Info().Str("agentId", saved.ID).Str("name", saved.Name).Bool("active", saved.Active).
		Str("by", p.Subject).Msg("agent saved")
	return saved, nil
}

// Delete removes an agent. Sessions bound to it fall back to the generic persona.
func (d *Directory) Delete(ctx context.Context, p domain.Principal, id string) error {
	if !p.Admin {
		return domain.ErrUnauthorized
	}
	if err := d.store.DeleteAgent(ctx, id); err != nil {
		return err
	}
	d.log.Info().Str("agentId", id).Str("by", p.Subject).Msg("agent deleted")
	return nil
}
