package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ladder-tracker/internal/domain"

	"github.com/rs/zerolog"
)

type MatchRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewMatchRepository(sqlDB *sql.DB, logger zerolog.Logger) *MatchRepository {
	return &MatchRepository{db: sqlDB, logger: logger}
}

const selectMatchColumns = `
    id, season_id, player1_id, player2_id, winner_id,
    player1_score, player2_score, player1_rating_change, player2_rating_change,
    played_at, created_at, updated_at`

// Schedule records a match with no result yet and returns its id, which is
// assigned in strictly increasing order.
func (r *MatchRepository) Schedule(ctx context.Context, match *domain.Match) (int64, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx, `
INSERT INTO matches (season_id, player1_id, player2_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`,
		match.SeasonID, match.Player1ID, match.Player2ID, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read match id: %w", err)
	}
	match.ID = id
	match.CreatedAt = now
	match.UpdatedAt = now
	return id, nil
}

// Complete records the outcome of a scheduled match.
func (r *MatchRepository) Complete(ctx context.Context, matchID, winnerID int64, winnerScore, loserScore int, playedAt time.Time) error {
	match, err := r.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if winnerID != match.Player1ID && winnerID != match.Player2ID {
		return fmt.Errorf("winner %d is not a participant of match %d", winnerID, matchID)
	}

	p1Score, p2Score := winnerScore, loserScore
	if winnerID == match.Player2ID {
		p1Score, p2Score = loserScore, winnerScore
	}

	_, err = r.db.ExecContext(ctx, `
UPDATE matches
SET winner_id = ?, player1_score = ?, player2_score = ?, played_at = ?, updated_at = ?
WHERE id = ?`,
		winnerID, p1Score, p2Score, playedAt, time.Now(), matchID)
	if err != nil {
		return fmt.Errorf("failed to complete match %d: %w", matchID, err)
	}

	r.logger.Debug().Int64("match_id", matchID).Int64("winner_id", winnerID).Msg("match completed")
	return nil
}

func (r *MatchRepository) Get(ctx context.Context, matchID int64) (*domain.Match, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectMatchColumns+` FROM matches WHERE id = ?`, matchID)
	match, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("match %d not found", matchID)
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// ListCompletedBySeason returns a season's completed matches ascending by id,
// the chronological replay order.
func (r *MatchRepository) ListCompletedBySeason(ctx context.Context, seasonID int64) ([]domain.Match, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+selectMatchColumns+`
FROM matches
WHERE season_id = ? AND winner_id IS NOT NULL
ORDER BY id ASC`, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to list completed matches: %w", err)
	}
	defer rows.Close()

	var matches []domain.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *match)
	}
	return matches, rows.Err()
}

// LaterCompletedParticipants returns which of the given players appear in a
// completed match with an id greater than matchID. A non-empty result means
// matchID is load-bearing for later ratings.
func (r *MatchRepository) LaterCompletedParticipants(ctx context.Context, db DBTX, matchID int64, playerIDs ...int64) ([]int64, error) {
	var blocking []int64
	for _, playerID := range playerIDs {
		var n int64
		err := db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM matches
WHERE id > ? AND winner_id IS NOT NULL AND (player1_id = ? OR player2_id = ?)`,
			matchID, playerID, playerID).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to check later matches for player %d: %w", playerID, err)
		}
		if n > 0 {
			blocking = append(blocking, playerID)
		}
	}
	return blocking, nil
}

// RevertToScheduled clears a match's result, scores and cached deltas.
func (r *MatchRepository) RevertToScheduled(ctx context.Context, db DBTX, matchID int64) error {
	_, err := db.ExecContext(ctx, `
UPDATE matches
SET winner_id = NULL, player1_score = 0, player2_score = 0,
    player1_rating_change = NULL, player2_rating_change = NULL,
    played_at = NULL, updated_at = ?
WHERE id = ?`, time.Now(), matchID)
	if err != nil {
		return fmt.Errorf("failed to revert match %d to scheduled: %w", matchID, err)
	}
	return nil
}

// UpdateRatingChanges backfills the legacy per-match delta columns.
func (r *MatchRepository) UpdateRatingChanges(ctx context.Context, db DBTX, matchID int64, p1Change, p2Change *float64) error {
	_, err := db.ExecContext(ctx, `
UPDATE matches
SET player1_rating_change = ?, player2_rating_change = ?, updated_at = ?
WHERE id = ?`, nullFloat(p1Change), nullFloat(p2Change), time.Now(), matchID)
	if err != nil {
		return fmt.Errorf("failed to update rating changes for match %d: %w", matchID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*domain.Match, error) {
	var match domain.Match
	var winnerID sql.NullInt64
	var p1Change, p2Change sql.NullFloat64
	var playedAt sql.NullTime

	err := row.Scan(
		&match.ID, &match.SeasonID, &match.Player1ID, &match.Player2ID, &winnerID,
		&match.Player1Score, &match.Player2Score, &p1Change, &p2Change,
		&playedAt, &match.CreatedAt, &match.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan match: %w", err)
	}

	match.WinnerID = intPtr(winnerID)
	match.Player1RatingChange = floatPtr(p1Change)
	match.Player2RatingChange = floatPtr(p2Change)
	match.PlayedAt = timePtr(playedAt)
	return &match, nil
}
