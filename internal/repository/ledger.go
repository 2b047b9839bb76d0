package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"ladder-tracker/internal/constants"
	"ladder-tracker/internal/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// LedgerRepository owns the rating_ledger table. Entries are append-only:
// the only deletions are a whole-season clear before recalculation and the
// targeted removal of one match's entries during rollback.
type LedgerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewLedgerRepository(sqlDB *sql.DB, logger zerolog.Logger) *LedgerRepository {
	return &LedgerRepository{db: sqlDB, logger: logger}
}

const insertEntrySQL = `
INSERT INTO rating_ledger
    (id, player_id, season_id, match_id, kind, rating, deviation, volatility,
     rating_change, opponent_id, result, seq, reason, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AppendEntries inserts entries in their given order inside one transaction
// per bounded-size batch. Entries without an id get a fresh nanoid.
func (r *LedgerRepository) AppendEntries(ctx context.Context, entries []domain.RatingLedgerEntry) error {
	for i := 0; i < len(entries); i += constants.DBBatchSize {
		end := i + constants.DBBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := r.appendBatch(ctx, r.db, entries[i:end]); err != nil {
			return fmt.Errorf("failed to append ledger batch at %d: %w", i, err)
		}
	}
	return nil
}

// AppendEntriesTx is AppendEntries inside a caller-owned transaction, in a
// single pass since the caller controls commit boundaries.
func (r *LedgerRepository) AppendEntriesTx(ctx context.Context, tx *sql.Tx, entries []domain.RatingLedgerEntry) error {
	return r.insertAll(ctx, tx, entries)
}

func (r *LedgerRepository) appendBatch(ctx context.Context, db *sql.DB, entries []domain.RatingLedgerEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := r.insertAll(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *LedgerRepository) insertAll(ctx context.Context, tx *sql.Tx, entries []domain.RatingLedgerEntry) error {
	for _, entry := range entries {
		id := entry.ID
		if id == "" {
			var err error
			id, err = gonanoid.New()
			if err != nil {
				return fmt.Errorf("failed to generate nanoid: %w", err)
			}
		}

		var result *string
		if entry.Result != nil {
			s := string(*entry.Result)
			result = &s
		}

		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}

		_, err := tx.ExecContext(ctx, insertEntrySQL,
			id, entry.PlayerID, entry.SeasonID, nullInt(entry.MatchID),
			string(entry.Kind), entry.Rating, entry.Deviation, entry.Volatility,
			nullFloat(entry.RatingChange), nullInt(entry.OpponentID),
			nullString(result), entry.Seq, entry.Reason, createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert ledger entry for player %d: %w", entry.PlayerID, err)
		}
	}
	return nil
}

// ClearSeason removes every ledger entry for one season. Entries for other
// seasons are never touched.
func (r *LedgerRepository) ClearSeason(ctx context.Context, db DBTX, seasonID int64) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM rating_ledger WHERE season_id = ?`, seasonID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear ledger for season %d: %w", seasonID, err)
	}
	n, _ := res.RowsAffected()
	r.logger.Debug().Int64("season_id", seasonID).Int64("deleted", n).Msg("cleared season ledger")
	return n, nil
}

// DeleteForMatch removes the ledger entries tied to one match.
func (r *LedgerRepository) DeleteForMatch(ctx context.Context, db DBTX, matchID int64) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM rating_ledger WHERE match_id = ?`, matchID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete ledger entries for match %d: %w", matchID, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const selectEntryColumns = `
    id, player_id, season_id, match_id, kind, rating, deviation, volatility,
    rating_change, opponent_id, result, seq, reason, created_at`

// LatestBySeason returns, per player, the entry with the greatest seq in the
// season. This projection defines "current rating".
func (r *LedgerRepository) LatestBySeason(ctx context.Context, db DBTX, seasonID int64) (map[int64]domain.RatingLedgerEntry, error) {
	rows, err := db.QueryContext(ctx, `
SELECT `+selectEntryColumns+`
FROM rating_ledger
WHERE season_id = ?
  AND seq = (SELECT MAX(seq) FROM rating_ledger l2
             WHERE l2.player_id = rating_ledger.player_id AND l2.season_id = ?)`,
		seasonID, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest ledger entries: %w", err)
	}
	defer rows.Close()

	latest := make(map[int64]domain.RatingLedgerEntry)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		latest[entry.PlayerID] = entry
	}
	return latest, rows.Err()
}

// HistoryForPlayer returns a player's full rating trajectory for a season in
// chronological order.
func (r *LedgerRepository) HistoryForPlayer(ctx context.Context, playerID, seasonID int64) ([]domain.RatingLedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+selectEntryColumns+`
FROM rating_ledger
WHERE player_id = ? AND season_id = ?
ORDER BY seq ASC`, playerID, seasonID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger history for player %d: %w", playerID, err)
	}
	defer rows.Close()

	var entries []domain.RatingLedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PlayerPeak is the peak projection input for one player.
type PlayerPeak struct {
	PlayerID int64
	Rating   float64
	At       *time.Time
}

// PeaksBySeason returns each player's highest match-entry rating and when it
// was reached. Reset entries do not count as peaks. Aggregation happens in
// Go: SQLite aggregates lose the timestamp decltype the driver needs.
func (r *LedgerRepository) PeaksBySeason(ctx context.Context, db DBTX, seasonID int64) (map[int64]PlayerPeak, error) {
	rows, err := db.QueryContext(ctx, `
SELECT l.player_id, l.rating, m.played_at
FROM rating_ledger l
JOIN matches m ON m.id = l.match_id
WHERE l.season_id = ? AND l.kind = ?
ORDER BY l.seq ASC`, seasonID, string(domain.LedgerKindMatch))
	if err != nil {
		return nil, fmt.Errorf("failed to query season peaks: %w", err)
	}
	defer rows.Close()

	peaks := make(map[int64]PlayerPeak)
	for rows.Next() {
		var playerID int64
		var rating float64
		var at sql.NullTime
		if err := rows.Scan(&playerID, &rating, &at); err != nil {
			return nil, fmt.Errorf("failed to scan season peak: %w", err)
		}
		if best, ok := peaks[playerID]; !ok || rating > best.Rating {
			peaks[playerID] = PlayerPeak{PlayerID: playerID, Rating: rating, At: timePtr(at)}
		}
	}
	return peaks, rows.Err()
}

// MatchStats aggregates match-kind ledger entries for projection.
type MatchStats struct {
	PlayerID    int64
	MatchCount  int
	LastMatchAt *time.Time
}

// MatchStatsBySeason returns per-player match counts and last match dates
// derived from the ledger.
func (r *LedgerRepository) MatchStatsBySeason(ctx context.Context, db DBTX, seasonID int64) (map[int64]MatchStats, error) {
	rows, err := db.QueryContext(ctx, `
SELECT l.player_id, m.played_at
FROM rating_ledger l
JOIN matches m ON m.id = l.match_id
WHERE l.season_id = ? AND l.kind = ?
ORDER BY l.seq ASC`, seasonID, string(domain.LedgerKindMatch))
	if err != nil {
		return nil, fmt.Errorf("failed to query season match stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[int64]MatchStats)
	for rows.Next() {
		var playerID int64
		var at sql.NullTime
		if err := rows.Scan(&playerID, &at); err != nil {
			return nil, fmt.Errorf("failed to scan match stats: %w", err)
		}
		s := stats[playerID]
		s.PlayerID = playerID
		s.MatchCount++
		if t := timePtr(at); t != nil && (s.LastMatchAt == nil || t.After(*s.LastMatchAt)) {
			s.LastMatchAt = t
		}
		stats[playerID] = s
	}
	return stats, rows.Err()
}

// CountBySeason returns how many ledger entries exist for a season.
func (r *LedgerRepository) CountBySeason(ctx context.Context, seasonID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rating_ledger WHERE season_id = ?`, seasonID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return n, nil
}

func scanEntry(rows *sql.Rows) (domain.RatingLedgerEntry, error) {
	var entry domain.RatingLedgerEntry
	var matchID, opponentID sql.NullInt64
	var ratingChange sql.NullFloat64
	var result sql.NullString
	var kind string

	err := rows.Scan(
		&entry.ID, &entry.PlayerID, &entry.SeasonID, &matchID, &kind,
		&entry.Rating, &entry.Deviation, &entry.Volatility,
		&ratingChange, &opponentID, &result, &entry.Seq, &entry.Reason,
		&entry.CreatedAt,
	)
	if err != nil {
		return entry, fmt.Errorf("failed to scan ledger entry: %w", err)
	}

	entry.Kind = domain.LedgerKind(kind)
	entry.MatchID = intPtr(matchID)
	entry.OpponentID = intPtr(opponentID)
	entry.RatingChange = floatPtr(ratingChange)
	if result.Valid {
		res := domain.MatchResult(result.String)
		entry.Result = &res
	}
	return entry, nil
}
