package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ConvergenceError reports that the Glicko-2 volatility root-find failed to
// bracket or converge within its iteration bounds, or produced a non-finite
// result. The prior rating is never overwritten when this is returned.
type ConvergenceError struct {
	Stage      string
	Iterations int
}

func (e *ConvergenceError) Error() string {
	return fmt.Sprintf("glicko-2 volatility solve failed to converge (%s after %d iterations)", e.Stage, e.Iterations)
}

// MissingParticipantError reports a match referencing a player that is not
// part of the replayed player set.
type MissingParticipantError struct {
	MatchID  int64
	PlayerID int64
}

func (e *MissingParticipantError) Error() string {
	return fmt.Sprintf("match %d references unknown player %d", e.MatchID, e.PlayerID)
}

// ScopeStateError reports a recalculation request for a season that already
// has a recalculation in flight.
type ScopeStateError struct {
	SeasonID int64
}

func (e *ScopeStateError) Error() string {
	return fmt.Sprintf("recalculation already in progress for season %d", e.SeasonID)
}

// RollbackIneligibleError reports that a match cannot be retracted because
// later completed matches depend on its outcome.
type RollbackIneligibleError struct {
	MatchID         int64
	BlockingPlayers []int64
}

func (e *RollbackIneligibleError) Error() string {
	players := make([]string, len(e.BlockingPlayers))
	for i, id := range e.BlockingPlayers {
		players[i] = strconv.FormatInt(id, 10)
	}
	return fmt.Sprintf("match %d cannot be rolled back: players [%s] have later completed matches", e.MatchID, strings.Join(players, " "))
}

// PersistenceError wraps a storage failure with enough context to retry the
// failed step: which orchestration step, which batch, and how many ledger
// entries were written before the failure.
type PersistenceError struct {
	Step           string
	BatchIndex     int
	EntriesWritten int
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed at step %q batch %d (%d entries written): %v", e.Step, e.BatchIndex, e.EntriesWritten, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
