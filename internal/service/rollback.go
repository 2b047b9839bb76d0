package service

import (
	"context"
	"database/sql"
	"fmt"

	"ladder-tracker/internal/domain"
	"ladder-tracker/internal/repository"

	"github.com/rs/zerolog"
)

// Eligibility is the answer to "may this match be retracted?".
type Eligibility struct {
	Allowed         bool
	Reason          string
	BlockingPlayers []int64
}

// RollbackService retracts a single completed match. Ratings form a linear
// chain, so a match may only be rolled back when no completed match with a
// later chronological key exists for either participant: later ratings
// depend on this one's outcome.
type RollbackService struct {
	db        *sql.DB
	matchRepo *repository.MatchRepository
	ledger    *repository.LedgerRepository
	recalc    *RecalcService
	logger    zerolog.Logger
}

func NewRollbackService(
	sqlDB *sql.DB,
	matchRepo *repository.MatchRepository,
	ledger *repository.LedgerRepository,
	recalc *RecalcService,
	logger zerolog.Logger,
) *RollbackService {
	return &RollbackService{db: sqlDB, matchRepo: matchRepo, ledger: ledger, recalc: recalc, logger: logger}
}

// CanRollback reports whether a match may be safely retracted, naming the
// participants with later completed matches when it may not.
func (s *RollbackService) CanRollback(ctx context.Context, matchID int64) (Eligibility, error) {
	match, err := s.matchRepo.Get(ctx, matchID)
	if err != nil {
		return Eligibility{}, err
	}
	if !match.Completed() {
		return Eligibility{Allowed: false, Reason: "match is not completed"}, nil
	}

	blocking, err := s.matchRepo.LaterCompletedParticipants(ctx, s.db, matchID, match.Player1ID, match.Player2ID)
	if err != nil {
		return Eligibility{}, err
	}
	if len(blocking) > 0 {
		ineligible := &domain.RollbackIneligibleError{MatchID: matchID, BlockingPlayers: blocking}
		return Eligibility{Allowed: false, Reason: ineligible.Error(), BlockingPlayers: blocking}, nil
	}
	return Eligibility{Allowed: true}, nil
}

// Rollback deletes the ledger entries tied to matchID, reverts the match to
// scheduled and recalculates its season. Eligibility is re-validated inside
// the same transaction that mutates history: the CanRollback check alone has
// a race window against concurrently recorded matches.
func (s *RollbackService) Rollback(ctx context.Context, matchID int64) error {
	match, err := s.matchRepo.Get(ctx, matchID)
	if err != nil {
		return err
	}
	if !match.Completed() {
		return fmt.Errorf("match %d is not completed, nothing to roll back", matchID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rollback transaction: %w", err)
	}
	defer tx.Rollback()

	blocking, err := s.matchRepo.LaterCompletedParticipants(ctx, tx, matchID, match.Player1ID, match.Player2ID)
	if err != nil {
		return err
	}
	if len(blocking) > 0 {
		return &domain.RollbackIneligibleError{MatchID: matchID, BlockingPlayers: blocking}
	}

	deleted, err := s.ledger.DeleteForMatch(ctx, tx, matchID)
	if err != nil {
		return err
	}
	if err := s.matchRepo.RevertToScheduled(ctx, tx, matchID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rollback of match %d: %w", matchID, err)
	}

	s.logger.Info().
		Int64("match_id", matchID).
		Int64("ledger_entries_deleted", deleted).
		Msg("match rolled back, recalculating season")

	// Full recalculation is the simplest correct repair given the linear
	// dependency chain.
	_, err = s.recalc.RecalculateSeason(ctx, match.SeasonID, fmt.Sprintf("rollback of match %d", matchID), nil)
	if err != nil {
		return fmt.Errorf("rollback of match %d succeeded but recalculation failed: %w", matchID, err)
	}
	return nil
}
