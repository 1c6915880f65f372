// Package stats rebuilds per-user win/loss aggregates from completed
// matches. The rebuild is a pure function of the match history, so rerunning
// it is always safe.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/pongarena/server/store"
)

const recentMatchLimit = 10

// Aggregator recomputes user statistics on match completion.
type Aggregator struct {
	repo store.StatsRepo
	log  *zap.Logger
	now  func() time.Time
}

// NewAggregator builds an aggregator over the stats repository.
func NewAggregator(repo store.StatsRepo, log *zap.Logger) *Aggregator {
	return &Aggregator{repo: repo, log: log, now: time.Now}
}

// OnMatchComplete recomputes both participants of a completed match.
func (a *Aggregator) OnMatchComplete(ctx context.Context, m *store.Match) error {
	for _, userID := range []string{m.P1ID, m.P2ID} {
		if err := a.Recompute(ctx, userID); err != nil {
			return fmt.Errorf("stats: recompute %s: %w", userID, err)
		}
	}
	return nil
}

// Recompute walks the user's completed matches in chronological order and
// rewrites the stats row and recent-match list. Idempotent: the output is a
// function of the match history alone (UpdatedAt aside).
func (a *Aggregator) Recompute(ctx context.Context, userID string) error {
	matches, err := a.repo.CompletedMatchesFor(ctx, userID)
	if err != nil {
		return err
	}

	var wins, losses, streak int
	var lastResult *string
	recent := make([]*store.RecentMatch, 0, recentMatchLimit)

	for _, m := range matches {
		if m.WinnerID == nil || m.EndedAt == nil {
			a.log.Warn("completed match missing winner or end time, skipping",
				zap.String("matchId", m.ID))
			continue
		}
		won := *m.WinnerID == userID
		outcome := "loss"
		if won {
			wins++
			streak++
			outcome = "win"
		} else {
			losses++
			streak = 0
		}
		lastResult = &outcome

		opponent := m.P1ID
		if m.P1ID == userID {
			opponent = m.P2ID
		}
		recent = append(recent, &store.RecentMatch{
			ID:             ksuid.New().String(),
			UserID:         userID,
			OpponentUserID: &opponent,
			MatchID:        m.ID,
			P1Score:        m.P1Score,
			P2Score:        m.P2Score,
			Outcome:        outcome,
			PlayedAt:       *m.EndedAt,
		})
	}

	if len(recent) > recentMatchLimit {
		recent = recent[len(recent)-recentMatchLimit:]
	}

	return a.repo.Rewrite(ctx, &store.UserStats{
		UserID:     userID,
		Wins:       wins,
		Losses:     losses,
		Streak:     streak,
		LastResult: lastResult,
		UpdatedAt:  a.now(),
	}, recent)
}
