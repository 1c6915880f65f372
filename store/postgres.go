package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPostgres connects a pool, runs migrations and returns a Store backed by
// Postgres.
func NewPostgres(ctx context.Context, databaseURL string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connecting: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return &Store{
		Matches:     &pgMatchRepo{db: pool},
		Tournaments: &pgTournamentRepo{db: pool},
		Chat:        &pgChatRepo{db: pool},
		Sessions:    &pgSessionRepo{db: pool},
		Stats:       &pgStatsRepo{db: pool},
	}, pool, nil
}

// --- matches ---

type pgMatchRepo struct {
	db *pgxpool.Pool
}

func (r *pgMatchRepo) Create(ctx context.Context, m *Match) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO matches (id, tournament_id, p1_id, p2_id, p1_score, p2_score, state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TournamentID, m.P1ID, m.P2ID, m.P1Score, m.P2Score, m.State, m.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *pgMatchRepo) Get(ctx context.Context, id string) (*Match, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, tournament_id, p1_id, p2_id, p1_score, p2_score, winner_id,
		       state, paused_by, created_at, started_at, ended_at
		FROM matches WHERE id = $1`, id)
	m := &Match{}
	err := row.Scan(&m.ID, &m.TournamentID, &m.P1ID, &m.P2ID, &m.P1Score, &m.P2Score,
		&m.WinnerID, &m.State, &m.PausedBy, &m.CreatedAt, &m.StartedAt, &m.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *pgMatchRepo) SetState(ctx context.Context, id string, state MatchState, pausedBy *string, startedAt *time.Time) error {
	// Terminal rows are frozen; the state filter makes replays harmless.
	tag, err := r.db.Exec(ctx, `
		UPDATE matches
		SET state = $2, paused_by = $3, started_at = COALESCE(started_at, $4)
		WHERE id = $1 AND state NOT IN ('ended','forfeited')`,
		id, state, pausedBy, startedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgMatchRepo) Complete(ctx context.Context, id string, state MatchState, winnerID string, p1Score, p2Score int, endedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE matches
		SET state = $2, winner_id = $3, p1_score = $4, p2_score = $5, ended_at = $6, paused_by = NULL
		WHERE id = $1 AND state NOT IN ('ended','forfeited')`,
		id, state, winnerID, p1Score, p2Score, endedAt)
	return err
}

// --- tournaments ---

type pgTournamentRepo struct {
	db *pgxpool.Pool
}

func (r *pgTournamentRepo) Create(ctx context.Context, t *Tournament) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tournaments (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		t.ID, t.Name, t.Status, t.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *pgTournamentRepo) Get(ctx context.Context, id string) (*Tournament, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, status, created_at, started_at, completed_at
		FROM tournaments WHERE id = $1`, id)
	t := &Tournament{}
	err := row.Scan(&t.ID, &t.Name, &t.Status, &t.CreatedAt, &t.StartedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *pgTournamentRepo) SetStatus(ctx context.Context, id string, status TournamentStatus, at time.Time) error {
	var started, completed *time.Time
	switch status {
	case TournamentRunning:
		started = &at
	case TournamentCompleted:
		completed = &at
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE tournaments
		SET status = $2, started_at = COALESCE(started_at, $3), completed_at = COALESCE(completed_at, $4)
		WHERE id = $1`,
		id, status, started, completed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgTournamentRepo) AddPlayer(ctx context.Context, p *TournamentPlayer) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tournament_players (id, tournament_id, alias, user_id, queued_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.TournamentID, p.Alias, p.UserID, p.QueuedAt, p.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *pgTournamentRepo) Players(ctx context.Context, tournamentID string) ([]*TournamentPlayer, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tournament_id, alias, user_id, queued_at, created_at
		FROM tournament_players WHERE tournament_id = $1 ORDER BY created_at`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TournamentPlayer
	for rows.Next() {
		p := &TournamentPlayer{}
		if err := rows.Scan(&p.ID, &p.TournamentID, &p.Alias, &p.UserID, &p.QueuedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *pgTournamentRepo) SetQueued(ctx context.Context, playerID string, queuedAt *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE tournament_players SET queued_at = $2 WHERE id = $1`, playerID, queuedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgTournamentRepo) CreateMatch(ctx context.Context, m *TournamentMatch) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO tournament_matches (id, tournament_id, p1_id, p2_id, match_order, status, created_at, announced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.TournamentID, m.P1ID, m.P2ID, m.Order, m.Status, m.CreatedAt, m.AnnouncedAt)
	if err != nil && isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *pgTournamentRepo) Matches(ctx context.Context, tournamentID string) ([]*TournamentMatch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tournament_id, p1_id, p2_id, match_order, status, winner_id,
		       p1_score, p2_score, created_at, announced_at, completed_at
		FROM tournament_matches WHERE tournament_id = $1 ORDER BY match_order`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TournamentMatch
	for rows.Next() {
		m := &TournamentMatch{}
		if err := rows.Scan(&m.ID, &m.TournamentID, &m.P1ID, &m.P2ID, &m.Order, &m.Status,
			&m.WinnerID, &m.P1Score, &m.P2Score, &m.CreatedAt, &m.AnnouncedAt, &m.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *pgTournamentRepo) SetMatchStatus(ctx context.Context, matchID string, status TournamentMatchStatus, at time.Time) error {
	var announced *time.Time
	if status == TMatchAnnounced {
		announced = &at
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE tournament_matches
		SET status = $2, announced_at = COALESCE(announced_at, $3)
		WHERE id = $1`, matchID, status, announced)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgTournamentRepo) CompleteMatch(ctx context.Context, matchID, winnerID string, p1Score, p2Score int, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE tournament_matches
		SET status = 'completed', winner_id = $2, p1_score = $3, p2_score = $4, completed_at = $5
		WHERE id = $1 AND status = 'announced'`,
		matchID, winnerID, p1Score, p2Score, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// --- chat ---

type pgChatRepo struct {
	db *pgxpool.Pool
}

func (r *pgChatRepo) ChannelBySlug(ctx context.Context, slug string) (*ChatChannel, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, slug, title, visibility, created_by, created_at
		FROM chat_channels WHERE slug = $1`, slug)
	c := &ChatChannel{}
	err := row.Scan(&c.ID, &c.Slug, &c.Title, &c.Visibility, &c.CreatedBy, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *pgChatRepo) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_memberships WHERE channel_id = $1 AND user_id = $2)`,
		channelID, userID).Scan(&exists)
	return exists, err
}

func (r *pgChatRepo) SaveMessage(ctx context.Context, m *ChatMessage) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_messages (id, channel_id, sender_id, content, type, dm_target_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ChannelID, m.SenderID, m.Content, m.Type, m.DMTargetID, m.CreatedAt)
	return err
}

func (r *pgChatRepo) AddBlock(ctx context.Context, b *Block) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO chat_blocks (blocker_id, blocked_id, reason, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (blocker_id, blocked_id) DO NOTHING`,
		b.BlockerID, b.BlockedID, b.Reason, b.CreatedAt)
	return err
}

func (r *pgChatRepo) RemoveBlock(ctx context.Context, blockerID, blockedID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM chat_blocks WHERE blocker_id = $1 AND blocked_id = $2`, blockerID, blockedID)
	return err
}

func (r *pgChatRepo) Blocks(ctx context.Context) ([]*Block, error) {
	rows, err := r.db.Query(ctx,
		`SELECT blocker_id, blocked_id, reason, created_at FROM chat_blocks`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Block
	for rows.Next() {
		b := &Block{}
		if err := rows.Scan(&b.BlockerID, &b.BlockedID, &b.Reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// --- sessions ---

type pgSessionRepo struct {
	db *pgxpool.Pool
}

func (r *pgSessionRepo) Create(ctx context.Context, s *Session) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, created_at) VALUES ($1, $2, $3, $4)`,
		s.ID, s.UserID, s.ExpiresAt, s.CreatedAt)
	return err
}

func (r *pgSessionRepo) Get(ctx context.Context, id string) (*Session, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, user_id, expires_at, revoked_at, created_at FROM sessions WHERE id = $1`, id)
	s := &Session{}
	err := row.Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *pgSessionRepo) Revoke(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- stats ---

type pgStatsRepo struct {
	db *pgxpool.Pool
}

func (r *pgStatsRepo) CompletedMatchesFor(ctx context.Context, userID string) ([]*Match, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, tournament_id, p1_id, p2_id, p1_score, p2_score, winner_id,
		       state, paused_by, created_at, started_at, ended_at
		FROM matches
		WHERE state IN ('ended','forfeited') AND (p1_id = $1 OR p2_id = $1)
		ORDER BY ended_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m := &Match{}
		if err := rows.Scan(&m.ID, &m.TournamentID, &m.P1ID, &m.P2ID, &m.P1Score, &m.P2Score,
			&m.WinnerID, &m.State, &m.PausedBy, &m.CreatedAt, &m.StartedAt, &m.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Rewrite replaces the user's stats row and recent-match list in one
// transaction so a crash cannot leave them disagreeing.
func (r *pgStatsRepo) Rewrite(ctx context.Context, stats *UserStats, recent []*RecentMatch) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO user_stats (user_id, wins, losses, streak, last_result, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE
		SET wins = $2, losses = $3, streak = $4, last_result = $5, updated_at = $6`,
		stats.UserID, stats.Wins, stats.Losses, stats.Streak, stats.LastResult, stats.UpdatedAt)
	if err != nil {
		return err
	}

	if _, err = tx.Exec(ctx,
		`DELETE FROM user_recent_matches WHERE user_id = $1`, stats.UserID); err != nil {
		return err
	}
	for _, rm := range recent {
		_, err = tx.Exec(ctx, `
			INSERT INTO user_recent_matches (id, user_id, opponent_user_id, match_id, p1_score, p2_score, outcome, played_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			rm.ID, rm.UserID, rm.OpponentUserID, rm.MatchID, rm.P1Score, rm.P2Score, rm.Outcome, rm.PlayedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *pgStatsRepo) Stats(ctx context.Context, userID string) (*UserStats, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, wins, losses, streak, last_result, updated_at
		FROM user_stats WHERE user_id = $1`, userID)
	s := &UserStats{}
	err := row.Scan(&s.UserID, &s.Wins, &s.Losses, &s.Streak, &s.LastResult, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *pgStatsRepo) RecentMatches(ctx context.Context, userID string) ([]*RecentMatch, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, opponent_user_id, match_id, p1_score, p2_score, outcome, played_at
		FROM user_recent_matches WHERE user_id = $1 ORDER BY played_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RecentMatch
	for rows.Next() {
		rm := &RecentMatch{}
		if err := rows.Scan(&rm.ID, &rm.UserID, &rm.OpponentUserID, &rm.MatchID,
			&rm.P1Score, &rm.P2Score, &rm.Outcome, &rm.PlayedAt); err != nil {
			return nil, err
		}
		out = append(out, rm)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
