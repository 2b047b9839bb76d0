package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ladder-tracker/internal/domain"

	"github.com/rs/zerolog"
)

type SeasonRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSeasonRepository(sqlDB *sql.DB, logger zerolog.Logger) *SeasonRepository {
	return &SeasonRepository{db: sqlDB, logger: logger}
}

const selectSeasonColumns = `id, name, active, started_at, ended_at, created_at, updated_at`

// Create inserts a season. Activating it deactivates every other season:
// at most one season is active at a time.
func (r *SeasonRepository) Create(ctx context.Context, season *domain.Season) (int64, error) {
	now := time.Now()
	if season.StartedAt.IsZero() {
		season.StartedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if season.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE seasons SET active = 0, updated_at = ? WHERE active = 1`, now); err != nil {
			return 0, fmt.Errorf("failed to archive previous seasons: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO seasons (name, active, started_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)`, season.Name, season.Active, season.StartedAt, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create season %s: %w", season.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read season id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit season create: %w", err)
	}

	season.ID = id
	season.CreatedAt = now
	season.UpdatedAt = now
	r.logger.Info().Int64("season_id", id).Str("name", season.Name).Bool("active", season.Active).Msg("season created")
	return id, nil
}

func (r *SeasonRepository) Get(ctx context.Context, seasonID int64) (*domain.Season, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectSeasonColumns+` FROM seasons WHERE id = ?`, seasonID)
	season, err := scanSeason(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("season %d not found", seasonID)
	}
	if err != nil {
		return nil, err
	}
	return season, nil
}

// GetActive returns the single active season.
func (r *SeasonRepository) GetActive(ctx context.Context) (*domain.Season, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectSeasonColumns+` FROM seasons WHERE active = 1`)
	season, err := scanSeason(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active season")
	}
	if err != nil {
		return nil, err
	}
	return season, nil
}

// Archive marks a season ended and read-only.
func (r *SeasonRepository) Archive(ctx context.Context, seasonID int64) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
UPDATE seasons SET active = 0, ended_at = ?, updated_at = ? WHERE id = ?`, now, now, seasonID)
	if err != nil {
		return fmt.Errorf("failed to archive season %d: %w", seasonID, err)
	}
	return nil
}

func scanSeason(row rowScanner) (*domain.Season, error) {
	var season domain.Season
	var endedAt sql.NullTime

	err := row.Scan(&season.ID, &season.Name, &season.Active, &season.StartedAt, &endedAt, &season.CreatedAt, &season.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan season: %w", err)
	}

	season.EndedAt = timePtr(endedAt)
	return &season, nil
}
