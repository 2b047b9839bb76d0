// Package replay rebuilds per-player rating trajectories by re-applying
// completed matches in chronological order.
package replay

import (
	"context"
	"time"

	"ladder-tracker/internal/domain"
	"ladder-tracker/internal/glicko"

	"github.com/rs/zerolog"
)

// Config controls inactivity decay and progress reporting.
type Config struct {
	DecayEnabled bool
	DecayC       float64
	DecayPeriod  time.Duration
	// ProgressInterval is how many matches elapse between progress
	// callbacks. Zero disables intermediate reports.
	ProgressInterval int
}

// Progress is one coarse progress report during a replay.
type Progress struct {
	TotalMatches     int
	ProcessedMatches int
	CurrentMatchID   int64
	Status           string
}

// PlayerState is the engine's in-memory view of one player mid-replay.
type PlayerState struct {
	Rating      glicko.Rating
	MatchCount  int
	LastMatchAt *time.Time
}

// Result is the output of a full replay run.
type Result struct {
	Entries []domain.RatingLedgerEntry
	// Final in-memory state per player, for projection.
	States map[int64]PlayerState
	// SkippedUpdates counts participant updates dropped because the
	// volatility solve did not converge.
	SkippedUpdates int
	// SkippedMatches counts matches dropped because a participant was
	// missing from the player set.
	SkippedMatches int
}

// Engine walks an ordered match list, maintaining an in-memory map of
// per-player rating state and emitting one ledger entry per (player, match)
// pair. It is single-threaded with respect to its state map: matches must be
// processed strictly in order because each update depends on the cumulative
// state left by all prior matches.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
}

func NewEngine(cfg Config, logger zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, logger: logger}
}

// Replay runs the engine over matches, which must be pre-filtered to
// completed matches and pre-sorted ascending by match id. Every player in
// playerIDs starts at the default rating. Entries are numbered from startSeq
// so the caller can put reset entries ahead of them. onProgress may be nil.
//
// Replay has no side effects: cancelling the context abandons the run with
// nothing persisted.
func (e *Engine) Replay(ctx context.Context, playerIDs []int64, matches []domain.Match, seasonID, startSeq int64, onProgress func(Progress)) (*Result, error) {
	states := make(map[int64]PlayerState, len(playerIDs))
	for _, id := range playerIDs {
		states[id] = PlayerState{Rating: glicko.NewDefaultRating()}
	}

	result := &Result{
		Entries: make([]domain.RatingLedgerEntry, 0, len(matches)*2),
		States:  states,
	}
	seq := startSeq

	report := func(processed int, matchID int64, status string) {
		if onProgress != nil {
			onProgress(Progress{
				TotalMatches:     len(matches),
				ProcessedMatches: processed,
				CurrentMatchID:   matchID,
				Status:           status,
			})
		}
	}

	for i, match := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p1, ok1 := states[match.Player1ID]
		p2, ok2 := states[match.Player2ID]
		if !ok1 || !ok2 {
			missing := match.Player1ID
			if ok1 {
				missing = match.Player2ID
			}
			merr := &domain.MissingParticipantError{MatchID: match.ID, PlayerID: missing}
			e.logger.Warn().Err(merr).Int64("match_id", match.ID).Msg("skipping match with unknown participant")
			result.SkippedMatches++
			continue
		}

		// Grow uncertainty for time idle since each player's own last
		// match. Asymmetric: only players with a prior match decay, and
		// the growth folds into this match's entry rather than a
		// standalone decay event.
		p1.Rating = e.decayed(p1, match.PlayedAt)
		p2.Rating = e.decayed(p2, match.PlayedAt)

		s1, s2 := scores(&match)

		// Both participants see the other's pre-update rating.
		new1, err1 := glicko.ComputeUpdate(p1.Rating, []glicko.MatchOutcome{{Opponent: p2.Rating, Score: s1}})
		new2, err2 := glicko.ComputeUpdate(p2.Rating, []glicko.MatchOutcome{{Opponent: p1.Rating, Score: s2}})

		if err1 != nil {
			e.logger.Warn().Err(err1).Int64("match_id", match.ID).Int64("player_id", match.Player1ID).Msg("rating update did not converge, skipping participant")
			result.SkippedUpdates++
		} else {
			result.Entries = append(result.Entries, e.entry(&match, match.Player1ID, match.Player2ID, p1.Rating, new1, s1, seasonID, &seq))
			p1 = advance(p1, new1, match.PlayedAt)
		}
		if err2 != nil {
			e.logger.Warn().Err(err2).Int64("match_id", match.ID).Int64("player_id", match.Player2ID).Msg("rating update did not converge, skipping participant")
			result.SkippedUpdates++
		} else {
			result.Entries = append(result.Entries, e.entry(&match, match.Player2ID, match.Player1ID, p2.Rating, new2, s2, seasonID, &seq))
			p2 = advance(p2, new2, match.PlayedAt)
		}

		// Commit both participants together so the next match never sees
		// a half-applied step.
		states[match.Player1ID] = p1
		states[match.Player2ID] = p2

		processed := i + 1
		if e.cfg.ProgressInterval > 0 && (processed%e.cfg.ProgressInterval == 0 || processed == len(matches)) {
			report(processed, match.ID, "replaying")
		}
	}

	report(len(matches), 0, "complete")

	if result.SkippedUpdates > 0 || result.SkippedMatches > 0 {
		e.logger.Warn().
			Int("skipped_updates", result.SkippedUpdates).
			Int("skipped_matches", result.SkippedMatches).
			Msg("replay finished with skipped work")
	}
	return result, nil
}

func (e *Engine) decayed(p PlayerState, playedAt *time.Time) glicko.Rating {
	if !e.cfg.DecayEnabled || p.LastMatchAt == nil || playedAt == nil {
		return p.Rating
	}
	elapsed := playedAt.Sub(*p.LastMatchAt)
	if elapsed <= 0 || e.cfg.DecayPeriod <= 0 {
		return p.Rating
	}
	periods := float64(elapsed) / float64(e.cfg.DecayPeriod)
	return glicko.ApplyDecay(p.Rating, periods, e.cfg.DecayC)
}

func (e *Engine) entry(match *domain.Match, playerID, opponentID int64, before, after glicko.Rating, score float64, seasonID int64, seq *int64) domain.RatingLedgerEntry {
	*seq++
	change := after.Rating - before.Rating
	result := domain.ResultLoss
	switch score {
	case 1:
		result = domain.ResultWin
	case 0.5:
		result = domain.ResultDraw
	}
	matchID := match.ID
	return domain.RatingLedgerEntry{
		PlayerID:     playerID,
		SeasonID:     seasonID,
		MatchID:      &matchID,
		Kind:         domain.LedgerKindMatch,
		Rating:       after.Rating,
		Deviation:    after.Deviation,
		Volatility:   after.Volatility,
		RatingChange: &change,
		OpponentID:   &opponentID,
		Result:       &result,
		Seq:          *seq,
		CreatedAt:    time.Now(),
	}
}

func advance(p PlayerState, r glicko.Rating, playedAt *time.Time) PlayerState {
	p.Rating = r
	p.MatchCount++
	if playedAt != nil {
		t := *playedAt
		p.LastMatchAt = &t
	}
	return p
}

// scores derives per-player scores from the winner: 1 for the winner, 0 for
// the loser. Draws never arise from a winner id but stay representable.
func scores(match *domain.Match) (float64, float64) {
	if match.WinnerID == nil {
		return 0.5, 0.5
	}
	if *match.WinnerID == match.Player1ID {
		return 1, 0
	}
	return 0, 1
}
