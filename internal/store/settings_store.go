package store

import (
	"context"
	"fmt"

	"github.com/soyeahso/supportchat/internal/domain"
)

// SQLiteSettingsStore implements SettingsStore backed by SQLite.
type SQLiteSettingsStore struct {
	db *DB
}

// NewSQLiteSettingsStore creates a settings store using the given database.
func NewSQLiteSettingsStore(db *DB) *SQLiteSettingsStore {
	return &SQLiteSettingsStore{db: db}
}

// AllSettings returns every stored record ordered by key.
func (s *SQLiteSettingsStore) AllSettings(ctx context.Context) ([]domain.SettingRecord, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT key, value, type FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	defer rows.Close()

	var recs []domain.SettingRecord
	for rows.Next() {
		var r domain.SettingRecord
		if err := rows.Scan(&r.Key, &r.Value, &r.Type); err != nil {
			return nil, fmt.Errorf("scanning setting: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// PutSettings upserts all records in one transaction.
func (s *SQLiteSettingsStore) PutSettings(ctx context.Context, recs []domain.SettingRecord) error {
	return s.write(ctx, recs, `
		INSERT INTO settings (key, value, type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		  value = excluded.value,
		  type = excluded.type,
		  updated_at = excluded.updated_at`)
}

// SeedSettings inserts records whose key is absent.
func (s *SQLiteSettingsStore) SeedSettings(ctx context.Context, recs []domain.SettingRecord) error {
	return s.write(ctx, recs, `
		INSERT INTO settings (key, value, type, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`)
}

func (s *SQLiteSettingsStore) write(ctx context.Context, recs []domain.SettingRecord, stmt string) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings write: %w", err)
	}
	ts := formatTime(now())
	for _, r := range recs {
		if _, err := tx.ExecContext(ctx, stmt, r.Key, r.Value, string(r.Type), ts); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing setting %q: %w", r.Key, err)
		}
	}
	return tx.Commit()
}
