package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RunMigrations executes the schema migrations in order.
func RunMigrations(ctx context.Context, db *pgxpool.Pool) error {
	migrations := []string{
		createUsersTable,
		createSessionsTable,
		createMatchesTable,
		createTournamentTables,
		createChatTables,
		createStatsTables,
		createIndexes,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(ctx, migration); err != nil {
			return fmt.Errorf("store: migration %d failed: %w", i+1, err)
		}
	}
	return nil
}

const createUsersTable = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES users(id),
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const createMatchesTable = `
CREATE TABLE IF NOT EXISTS matches (
	id TEXT PRIMARY KEY,
	tournament_id TEXT,
	p1_id TEXT NOT NULL,
	p2_id TEXT NOT NULL,
	p1_score INT NOT NULL DEFAULT 0 CHECK (p1_score >= 0),
	p2_score INT NOT NULL DEFAULT 0 CHECK (p2_score >= 0),
	winner_id TEXT,
	state TEXT NOT NULL DEFAULT 'waiting',
	paused_by TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	ended_at TIMESTAMPTZ,
	CHECK (p1_id <> p2_id)
);`

const createTournamentTables = `
CREATE TABLE IF NOT EXISTS tournaments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS tournament_players (
	id TEXT PRIMARY KEY,
	tournament_id TEXT NOT NULL REFERENCES tournaments(id),
	alias TEXT NOT NULL,
	user_id TEXT,
	queued_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tournament_id, alias)
);
CREATE TABLE IF NOT EXISTS tournament_matches (
	id TEXT PRIMARY KEY,
	tournament_id TEXT NOT NULL REFERENCES tournaments(id),
	p1_id TEXT NOT NULL,
	p2_id TEXT NOT NULL,
	match_order INT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	winner_id TEXT,
	p1_score INT,
	p2_score INT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	announced_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);`

const createChatTables = `
CREATE TABLE IF NOT EXISTS chat_channels (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	title TEXT NOT NULL,
	visibility TEXT NOT NULL DEFAULT 'public',
	created_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chat_memberships (
	channel_id TEXT NOT NULL REFERENCES chat_channels(id),
	user_id TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (channel_id, user_id)
);
CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	channel_id TEXT,
	sender_id TEXT NOT NULL,
	content TEXT NOT NULL CHECK (char_length(content) <= 2000),
	type TEXT NOT NULL,
	dm_target_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS chat_blocks (
	blocker_id TEXT NOT NULL,
	blocked_id TEXT NOT NULL,
	reason TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (blocker_id, blocked_id),
	CHECK (blocker_id <> blocked_id)
);`

const createStatsTables = `
CREATE TABLE IF NOT EXISTS user_stats (
	user_id TEXT PRIMARY KEY,
	wins INT NOT NULL DEFAULT 0,
	losses INT NOT NULL DEFAULT 0,
	streak INT NOT NULL DEFAULT 0,
	last_result TEXT,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS user_recent_matches (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	opponent_user_id TEXT,
	match_id TEXT NOT NULL,
	p1_score INT NOT NULL,
	p2_score INT NOT NULL,
	outcome TEXT NOT NULL,
	played_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, match_id)
);`

const createIndexes = `
CREATE INDEX IF NOT EXISTS idx_matches_participants ON matches (p1_id, p2_id);
CREATE INDEX IF NOT EXISTS idx_matches_ended ON matches (ended_at) WHERE state IN ('ended','forfeited');
CREATE INDEX IF NOT EXISTS idx_tournament_matches_tournament ON tournament_matches (tournament_id, match_order);
CREATE INDEX IF NOT EXISTS idx_chat_messages_channel ON chat_messages (channel_id, created_at);
CREATE INDEX IF NOT EXISTS idx_recent_matches_user ON user_recent_matches (user_id, played_at DESC);`
