package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"ladder-tracker/internal/config"
	"ladder-tracker/internal/constants"
	"ladder-tracker/internal/domain"
	"ladder-tracker/internal/glicko"
	"ladder-tracker/internal/replay"
	"ladder-tracker/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// RecalcStatus is the orchestrator's current step.
type RecalcStatus string

const (
	StatusIdle       RecalcStatus = "idle"
	StatusFetching   RecalcStatus = "fetching"
	StatusResetting  RecalcStatus = "resetting"
	StatusReplaying  RecalcStatus = "replaying"
	StatusPersisting RecalcStatus = "persisting"
	StatusProjecting RecalcStatus = "projecting"
	StatusComplete   RecalcStatus = "complete"
	StatusError      RecalcStatus = "error"
)

// RecalcProgress is one report delivered to the caller while a
// recalculation runs.
type RecalcProgress struct {
	SeasonID         int64
	Status           RecalcStatus
	TotalMatches     int
	ProcessedMatches int
	CurrentMatchID   int64
}

// RecalcResult summarizes a completed recalculation.
type RecalcResult struct {
	RunID          string
	SeasonID       int64
	EntriesCreated int
	SkippedUpdates int
	SkippedMatches int
}

// RecalcService rebuilds a season's rating ledger from scratch: clear the
// season's entries, emit one reset entry per player, replay every completed
// match in chronological order, persist the resulting entries, and project
// the latest entry per player back onto the denormalized player rows.
//
// Running it twice on unchanged data produces identical ratings: the ledger
// is fully regenerated each time and the replay is deterministic.
type RecalcService struct {
	db         *sql.DB
	cfg        *config.Config
	playerRepo *repository.PlayerRepository
	matchRepo  *repository.MatchRepository
	ledgerRepo *repository.LedgerRepository
	seasonRepo *repository.SeasonRepository
	logger     zerolog.Logger

	mu       sync.Mutex
	inFlight map[int64]bool
}

func NewRecalcService(
	sqlDB *sql.DB,
	cfg *config.Config,
	playerRepo *repository.PlayerRepository,
	matchRepo *repository.MatchRepository,
	ledgerRepo *repository.LedgerRepository,
	seasonRepo *repository.SeasonRepository,
	logger zerolog.Logger,
) *RecalcService {
	return &RecalcService{
		db:         sqlDB,
		cfg:        cfg,
		playerRepo: playerRepo,
		matchRepo:  matchRepo,
		ledgerRepo: ledgerRepo,
		seasonRepo: seasonRepo,
		logger:     logger,
		inFlight:   make(map[int64]bool),
	}
}

// RecalculateSeason runs the full rebuild for one season. reason is recorded
// on the reset entries. onProgress may be nil.
//
// Only one recalculation may run per season at a time; a second request for
// the same season is rejected with ScopeStateError. The write path (clear,
// append, project) runs inside a single transaction, so a failure mid-run
// leaves the previous ledger generation intact.
func (s *RecalcService) RecalculateSeason(ctx context.Context, seasonID int64, reason string, onProgress func(RecalcProgress)) (*RecalcResult, error) {
	if err := s.acquire(seasonID); err != nil {
		return nil, err
	}
	defer s.release(seasonID)

	ctx, cancel := context.WithTimeout(ctx, constants.RecalcTimeout)
	defer cancel()

	runID := uuid.New().String()
	logger := s.logger.With().Str("run_id", runID).Int64("season_id", seasonID).Logger()

	report := func(status RecalcStatus, total, processed int, currentMatchID int64) {
		if onProgress != nil {
			onProgress(RecalcProgress{
				SeasonID:         seasonID,
				Status:           status,
				TotalMatches:     total,
				ProcessedMatches: processed,
				CurrentMatchID:   currentMatchID,
			})
		}
	}

	fail := func(step string, err error) (*RecalcResult, error) {
		logger.Error().Err(err).Str("step", step).Msg("recalculation failed")
		report(StatusError, 0, 0, 0)
		return nil, fmt.Errorf("recalculation of season %d failed at %s: %w", seasonID, step, err)
	}

	logger.Info().Str("reason", reason).Msg("starting season recalculation")

	// fetching
	report(StatusFetching, 0, 0, 0)
	players, matches, err := s.fetch(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	logger.Info().Int("players", len(players)).Int("matches", len(matches)).Msg("fetched season data")

	playerIDs := make([]int64, len(players))
	for i, p := range players {
		playerIDs[i] = p.ID
	}

	// resetting
	report(StatusResetting, len(matches), 0, 0)
	resets := resetEntries(playerIDs, seasonID, reason)

	// replaying, off this goroutine so progress stays responsive
	report(StatusReplaying, len(matches), 0, 0)
	engine := replay.NewEngine(replay.Config{
		DecayEnabled:     s.cfg.DecayEnabled,
		DecayC:           s.cfg.DecayC,
		DecayPeriod:      time.Duration(s.cfg.DecayPeriodDays * 24 * float64(time.Hour)),
		ProgressInterval: constants.ProgressInterval,
	}, logger)

	job := engine.Start(ctx, playerIDs, matches, seasonID, int64(len(resets)))
	for p := range job.Progress {
		report(StatusReplaying, p.TotalMatches, p.ProcessedMatches, p.CurrentMatchID)
	}
	outcome := <-job.Done
	if outcome.Err != nil {
		return fail("replaying", outcome.Err)
	}

	entries := append(resets, outcome.Result.Entries...)

	// persisting + projecting, one transaction, retried as a unit
	report(StatusPersisting, len(matches), len(matches), 0)
	if err := s.persistAndProject(ctx, seasonID, entries, matches, func() {
		report(StatusProjecting, len(matches), len(matches), 0)
	}); err != nil {
		return fail("persisting", err)
	}

	result := &RecalcResult{
		RunID:          runID,
		SeasonID:       seasonID,
		EntriesCreated: len(entries),
		SkippedUpdates: outcome.Result.SkippedUpdates,
		SkippedMatches: outcome.Result.SkippedMatches,
	}

	report(StatusComplete, len(matches), len(matches), 0)
	logger.Info().
		Int("entries_created", result.EntriesCreated).
		Int("skipped_updates", result.SkippedUpdates).
		Int("skipped_matches", result.SkippedMatches).
		Msg("season recalculation complete")
	return result, nil
}

func (s *RecalcService) acquire(seasonID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[seasonID] {
		return &domain.ScopeStateError{SeasonID: seasonID}
	}
	s.inFlight[seasonID] = true
	return nil
}

func (s *RecalcService) release(seasonID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, seasonID)
}

func (s *RecalcService) fetch(ctx context.Context, seasonID int64) ([]domain.Player, []domain.Match, error) {
	if _, err := s.seasonRepo.Get(ctx, seasonID); err != nil {
		return nil, nil, fmt.Errorf("recalculation of season %d failed at fetching: %w", seasonID, err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	var players []domain.Player
	var matches []domain.Match

	g.Go(func() error {
		var err error
		players, err = s.playerRepo.ListActive(gCtx)
		return err
	})
	g.Go(func() error {
		var err error
		matches, err = s.matchRepo.ListCompletedBySeason(gCtx, seasonID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("recalculation of season %d failed at fetching: %w", seasonID, err)
	}
	return players, matches, nil
}

func resetEntries(playerIDs []int64, seasonID int64, reason string) []domain.RatingLedgerEntry {
	def := glicko.NewDefaultRating()
	entries := make([]domain.RatingLedgerEntry, len(playerIDs))
	for i, id := range playerIDs {
		entries[i] = domain.RatingLedgerEntry{
			PlayerID:   id,
			SeasonID:   seasonID,
			Kind:       domain.LedgerKindReset,
			Rating:     def.Rating,
			Deviation:  def.Deviation,
			Volatility: def.Volatility,
			Seq:        int64(i + 1),
			Reason:     reason,
			CreatedAt:  time.Now(),
		}
	}
	return entries
}

// persistAndProject clears the season ledger, appends the new generation in
// bounded batches and rewrites the player projection, all inside one
// transaction. The transaction is retried as a whole on transient failures;
// a final failure carries the batch index for diagnosis.
func (s *RecalcService) persistAndProject(ctx context.Context, seasonID int64, entries []domain.RatingLedgerEntry, matches []domain.Match, onProjecting func()) error {
	backoff := retry.WithMaxRetries(constants.PersistMaxRetries, retry.NewConstant(constants.PersistRetryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return retry.RetryableError(&domain.PersistenceError{Step: "persisting", Err: err})
		}
		defer tx.Rollback()

		if _, err := s.ledgerRepo.ClearSeason(ctx, tx, seasonID); err != nil {
			return retry.RetryableError(&domain.PersistenceError{Step: "persisting", Err: err})
		}

		for i := 0; i < len(entries); i += constants.DBBatchSize {
			end := i + constants.DBBatchSize
			if end > len(entries) {
				end = len(entries)
			}
			if err := s.ledgerRepo.AppendEntriesTx(ctx, tx, entries[i:end]); err != nil {
				return retry.RetryableError(&domain.PersistenceError{
					Step:           "persisting",
					BatchIndex:     i / constants.DBBatchSize,
					EntriesWritten: i,
					Err:            err,
				})
			}
		}

		onProjecting()
		if err := s.project(ctx, tx, seasonID, entries, matches); err != nil {
			return retry.RetryableError(&domain.PersistenceError{Step: "projecting", EntriesWritten: len(entries), Err: err})
		}

		if err := tx.Commit(); err != nil {
			return retry.RetryableError(&domain.PersistenceError{Step: "persisting", EntriesWritten: len(entries), Err: err})
		}
		return nil
	})
}

// project recomputes the denormalized player view from the season's ledger
// and backfills the legacy per-match rating-change columns.
func (s *RecalcService) project(ctx context.Context, tx *sql.Tx, seasonID int64, entries []domain.RatingLedgerEntry, matches []domain.Match) error {
	latest, err := s.ledgerRepo.LatestBySeason(ctx, tx, seasonID)
	if err != nil {
		return err
	}
	peaks, err := s.ledgerRepo.PeaksBySeason(ctx, tx, seasonID)
	if err != nil {
		return err
	}
	stats, err := s.ledgerRepo.MatchStatsBySeason(ctx, tx, seasonID)
	if err != nil {
		return err
	}

	projections := make([]repository.Projection, 0, len(latest))
	for playerID, entry := range latest {
		p := repository.Projection{
			PlayerID:   playerID,
			Rating:     entry.Rating,
			Deviation:  entry.Deviation,
			Volatility: entry.Volatility,
			PeakRating: entry.Rating,
		}
		if peak, ok := peaks[playerID]; ok {
			p.PeakRating = peak.Rating
			p.PeakRatingAt = peak.At
		}
		if st, ok := stats[playerID]; ok {
			p.MatchCount = st.MatchCount
			p.LastMatchAt = st.LastMatchAt
		}
		projections = append(projections, p)
	}
	if err := s.playerRepo.ApplyProjections(ctx, tx, projections); err != nil {
		return err
	}

	return s.backfillMatchChanges(ctx, tx, entries, matches)
}

func (s *RecalcService) backfillMatchChanges(ctx context.Context, tx *sql.Tx, entries []domain.RatingLedgerEntry, matches []domain.Match) error {
	player1ByMatch := make(map[int64]int64, len(matches))
	for _, m := range matches {
		player1ByMatch[m.ID] = m.Player1ID
	}

	type changes struct {
		p1, p2 *float64
	}
	byMatch := make(map[int64]changes)
	order := make([]int64, 0)

	for _, entry := range entries {
		if entry.Kind != domain.LedgerKindMatch || entry.MatchID == nil || entry.RatingChange == nil {
			continue
		}
		c, seen := byMatch[*entry.MatchID]
		if !seen {
			order = append(order, *entry.MatchID)
		}
		if entry.PlayerID == player1ByMatch[*entry.MatchID] {
			c.p1 = entry.RatingChange
		} else {
			c.p2 = entry.RatingChange
		}
		byMatch[*entry.MatchID] = c
	}

	for _, matchID := range order {
		c := byMatch[matchID]
		if err := s.matchRepo.UpdateRatingChanges(ctx, tx, matchID, c.p1, c.p2); err != nil {
			return err
		}
	}
	return nil
}
