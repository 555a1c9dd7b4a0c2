package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/soyeahso/supportchat/internal/domain"
)

// SQLiteAgentStore implements AgentStore backed by SQLite.
type SQLiteAgentStore struct {
	db *DB
}

// NewSQLiteAgentStore creates an agent store using the given database.
func NewSQLiteAgentStore(db *DB) *SQLiteAgentStore {
	return &SQLiteAgentStore{db: db}
}

const agentColumns = `id, name, role, avatar, personality, active, sort_order, created_at, updated_at`

func scanAgent(row interface{ Scan(...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var active int
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.Name, &a.Role, &a.Avatar, &a.Personality,
		&active, &a.SortOrder, &createdAt, &updatedAt)
	if err != nil {
		return a, err
	}
	a.Active = active != 0
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)
	return a, nil
}

// ListAgents returns all agents ordered by sort order, then name.
func (s *SQLiteAgentStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY sort_order, name, id`)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	defer rows.Close()

	var agents []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// GetAgent returns one agent or domain.ErrNotFound.
func (s *SQLiteAgentStore) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	a, err := scanAgent(s.db.sql.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading agent %q: %w", id, err)
	}
	return &a, nil
}

// UpsertAgent inserts or updates an agent by ID.
func (s *SQLiteAgentStore) UpsertAgent(ctx context.Context, a domain.Agent) (*domain.Agent, error) {
	ts := now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = ts
	}
	a.UpdatedAt = ts

	active := 0
	if a.Active {
		active = 1
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   role = excluded.role,
		   avatar = excluded.avatar,
		   personality = excluded.personality,
		   active = excluded.active,
		   sort_order = excluded.sort_order,
		   updated_at = excluded.updated_at`,
		a.ID, a.Name, a.Role, a.Avatar, a.Personality, active, a.SortOrder,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("saving agent %q: %w", a.ID, err)
	}
	return s.GetAgent(ctx, a.ID)
}

// DeleteAgent removes an agent. Sessions that reference it keep the ID and
// fall back to the generic persona.
func (s *SQLiteAgentStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting agent %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %q: %w", id, domain.ErrNotFound)
	}
	return nil
}
