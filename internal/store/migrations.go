package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents, sessions and messages",
		SQL: `
			CREATE TABLE agents (
				id          TEXT PRIMARY KEY,
				name        TEXT NOT NULL,
				role        TEXT NOT NULL DEFAULT '',
				avatar      TEXT NOT NULL DEFAULT '',
				personality TEXT NOT NULL DEFAULT '',
				active      INTEGER NOT NULL DEFAULT 1,
				sort_order  INTEGER NOT NULL DEFAULT 0,
				created_at  TEXT NOT NULL,
				updated_at  TEXT NOT NULL
			);

			CREATE INDEX idx_agents_order ON agents (sort_order, name);

			CREATE TABLE sessions (
				id               TEXT PRIMARY KEY,
				agent_id         TEXT NOT NULL DEFAULT '',
				status           TEXT NOT NULL DEFAULT 'active',
				created_at       TEXT NOT NULL,
				last_activity_at TEXT NOT NULL,
				last_read_seq    INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_sessions_activity ON sessions (last_activity_at);

			CREATE TABLE messages (
				seq              INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id       TEXT NOT NULL,
				role             TEXT NOT NULL,
				kind             TEXT NOT NULL DEFAULT 'text',
				content          TEXT NOT NULL DEFAULT '',
				media_url        TEXT NOT NULL DEFAULT '',
				duration_seconds REAL NOT NULL DEFAULT 0,
				source           TEXT NOT NULL DEFAULT '',
				created_at       TEXT NOT NULL,
				FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
			);

			CREATE INDEX idx_messages_session ON messages (session_id, seq);
		`,
	},
	{
		Version: 2,
		Name:    "create settings",
		SQL: `
			CREATE TABLE settings (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				type       TEXT NOT NULL DEFAULT 'string',
				updated_at TEXT NOT NULL
			);
		`,
	},
}
