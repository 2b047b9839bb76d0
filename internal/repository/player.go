package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ladder-tracker/internal/domain"
	"ladder-tracker/internal/glicko"

	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(sqlDB *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: sqlDB, logger: logger}
}

const selectPlayerColumns = `
    id, name, handle, rating, deviation, volatility, match_count,
    last_match_at, peak_rating, peak_rating_at, active, created_at, updated_at`

func (r *PlayerRepository) Create(ctx context.Context, player *domain.Player) (int64, error) {
	now := time.Now()
	if player.Rating == 0 {
		def := glicko.NewDefaultRating()
		player.Rating = def.Rating
		player.Deviation = def.Deviation
		player.Volatility = def.Volatility
		player.PeakRating = def.Rating
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO players (name, handle, rating, deviation, volatility, match_count,
                     peak_rating, active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		player.Name, player.Handle, player.Rating, player.Deviation,
		player.Volatility, player.PeakRating, player.Active, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create player %s: %w", player.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read player id: %w", err)
	}
	player.ID = id
	player.CreatedAt = now
	player.UpdatedAt = now
	return id, nil
}

func (r *PlayerRepository) Get(ctx context.Context, playerID int64) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectPlayerColumns+` FROM players WHERE id = ?`, playerID)
	player, err := scanPlayer(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("player %d not found", playerID)
	}
	if err != nil {
		return nil, err
	}
	return player, nil
}

// ListActive returns every player participating in the current season.
func (r *PlayerRepository) ListActive(ctx context.Context) ([]domain.Player, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectPlayerColumns+` FROM players WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *player)
	}
	return players, rows.Err()
}

// Projection is the denormalized per-player view derived from the ledger.
type Projection struct {
	PlayerID     int64
	Rating       float64
	Deviation    float64
	Volatility   float64
	MatchCount   int
	LastMatchAt  *time.Time
	PeakRating   float64
	PeakRatingAt *time.Time
}

// ApplyProjections writes the derived fields for each player. These columns
// are never hand-edited: they always mirror the latest ledger entry.
func (r *PlayerRepository) ApplyProjections(ctx context.Context, db DBTX, projections []Projection) error {
	now := time.Now()
	for _, p := range projections {
		_, err := db.ExecContext(ctx, `
UPDATE players
SET rating = ?, deviation = ?, volatility = ?, match_count = ?,
    last_match_at = ?, peak_rating = ?, peak_rating_at = ?, updated_at = ?
WHERE id = ?`,
			p.Rating, p.Deviation, p.Volatility, p.MatchCount,
			nullTime(p.LastMatchAt), p.PeakRating, nullTime(p.PeakRatingAt), now,
			p.PlayerID)
		if err != nil {
			return fmt.Errorf("failed to project player %d: %w", p.PlayerID, err)
		}
	}
	return nil
}

func scanPlayer(row rowScanner) (*domain.Player, error) {
	var player domain.Player
	var lastMatchAt, peakRatingAt sql.NullTime

	err := row.Scan(
		&player.ID, &player.Name, &player.Handle, &player.Rating,
		&player.Deviation, &player.Volatility, &player.MatchCount,
		&lastMatchAt, &player.PeakRating, &peakRatingAt, &player.Active,
		&player.CreatedAt, &player.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan player: %w", err)
	}

	player.LastMatchAt = timePtr(lastMatchAt)
	player.PeakRatingAt = timePtr(peakRatingAt)
	return &player, nil
}
