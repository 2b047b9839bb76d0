package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"ladder-tracker/internal/database"
	"ladder-tracker/internal/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "ladder.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	db      *sql.DB
	players *PlayerRepository
	matches *MatchRepository
	ledger  *LedgerRepository
	seasons *SeasonRepository

	seasonID int64
	alice    int64
	bob      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := zerolog.Nop()
	f := &fixture{
		db:      db,
		players: NewPlayerRepository(db, log),
		matches: NewMatchRepository(db, log),
		ledger:  NewLedgerRepository(db, log),
		seasons: NewSeasonRepository(db, log),
	}

	ctx := context.Background()
	var err error
	f.seasonID, err = f.seasons.Create(ctx, &domain.Season{Name: "season 1", Active: true})
	require.NoError(t, err)
	f.alice, err = f.players.Create(ctx, &domain.Player{Name: "alice", Active: true})
	require.NoError(t, err)
	f.bob, err = f.players.Create(ctx, &domain.Player{Name: "bob", Active: true})
	require.NoError(t, err)
	return f
}

// playMatch schedules and completes a match, returning its id.
func (f *fixture) playMatch(t *testing.T, winner, loser int64, playedAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()
	id, err := f.matches.Schedule(ctx, &domain.Match{SeasonID: f.seasonID, Player1ID: winner, Player2ID: loser})
	require.NoError(t, err)
	require.NoError(t, f.matches.Complete(ctx, id, winner, 11, 7, playedAt))
	return id
}

func matchEntry(playerID, seasonID, matchID, opponentID, seq int64, rating float64, result domain.MatchResult) domain.RatingLedgerEntry {
	change := rating - 1500
	return domain.RatingLedgerEntry{
		PlayerID:     playerID,
		SeasonID:     seasonID,
		MatchID:      &matchID,
		Kind:         domain.LedgerKindMatch,
		Rating:       rating,
		Deviation:    300,
		Volatility:   0.06,
		RatingChange: &change,
		OpponentID:   &opponentID,
		Result:       &result,
		Seq:          seq,
	}
}

func TestLedgerAppendAssignsIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	matchID := f.playMatch(t, f.alice, f.bob, time.Now())

	err := f.ledger.AppendEntries(ctx, []domain.RatingLedgerEntry{
		matchEntry(f.alice, f.seasonID, matchID, f.bob, 1, 1662, domain.ResultWin),
		matchEntry(f.bob, f.seasonID, matchID, f.alice, 2, 1338, domain.ResultLoss),
	})
	require.NoError(t, err)

	history, err := f.ledger.HistoryForPlayer(ctx, f.alice, f.seasonID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.NotEmpty(t, history[0].ID)
	assert.Equal(t, domain.LedgerKindMatch, history[0].Kind)
	require.NotNil(t, history[0].Result)
	assert.Equal(t, domain.ResultWin, *history[0].Result)
}

func TestLedgerLatestBySeasonPicksGreatestSeq(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.playMatch(t, f.alice, f.bob, time.Now())
	m2 := f.playMatch(t, f.bob, f.alice, time.Now().Add(time.Hour))

	err := f.ledger.AppendEntries(ctx, []domain.RatingLedgerEntry{
		matchEntry(f.alice, f.seasonID, m1, f.bob, 1, 1662, domain.ResultWin),
		matchEntry(f.bob, f.seasonID, m1, f.alice, 2, 1338, domain.ResultLoss),
		matchEntry(f.alice, f.seasonID, m2, f.bob, 3, 1520, domain.ResultLoss),
		matchEntry(f.bob, f.seasonID, m2, f.alice, 4, 1480, domain.ResultWin),
	})
	require.NoError(t, err)

	latest, err := f.ledger.LatestBySeason(ctx, f.db, f.seasonID)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, 1520.0, latest[f.alice].Rating)
	assert.Equal(t, 1480.0, latest[f.bob].Rating)
}

func TestLedgerHistoryIsChronological(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.playMatch(t, f.alice, f.bob, time.Now())
	m2 := f.playMatch(t, f.bob, f.alice, time.Now().Add(time.Hour))

	err := f.ledger.AppendEntries(ctx, []domain.RatingLedgerEntry{
		matchEntry(f.alice, f.seasonID, m1, f.bob, 1, 1662, domain.ResultWin),
		matchEntry(f.alice, f.seasonID, m2, f.bob, 3, 1520, domain.ResultLoss),
	})
	require.NoError(t, err)

	history, err := f.ledger.HistoryForPlayer(ctx, f.alice, f.seasonID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Less(t, history[0].Seq, history[1].Seq)
	assert.Equal(t, 1662.0, history[0].Rating)
	assert.Equal(t, 1520.0, history[1].Rating)
}

func TestLedgerClearSeasonIsScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	otherSeason, err := f.seasons.Create(ctx, &domain.Season{Name: "season 2", Active: false})
	require.NoError(t, err)

	m1 := f.playMatch(t, f.alice, f.bob, time.Now())
	require.NoError(t, f.ledger.AppendEntries(ctx, []domain.RatingLedgerEntry{
		matchEntry(f.alice, f.seasonID, m1, f.bob, 1, 1662, domain.ResultWin),
		{PlayerID: f.alice, SeasonID: otherSeason, Kind: domain.LedgerKindReset, Rating: 1500, Deviation: 350, Volatility: 0.06, Seq: 1},
	}))

	deleted, err := f.ledger.ClearSeason(ctx, f.db, f.seasonID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// The other season's entries are untouched.
	n, err := f.ledger.CountBySeason(ctx, otherSeason)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedgerDeleteForMatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.playMatch(t, f.alice, f.bob, time.Now())
	m2 := f.playMatch(t, f.bob, f.alice, time.Now().Add(time.Hour))

	require.NoError(t, f.ledger.AppendEntries(ctx, []domain.RatingLedgerEntry{
		matchEntry(f.alice, f.seasonID, m1, f.bob, 1, 1662, domain.ResultWin),
		matchEntry(f.bob, f.seasonID, m1, f.alice, 2, 1338, domain.ResultLoss),
		matchEntry(f.alice, f.seasonID, m2, f.bob, 3, 1520, domain.ResultLoss),
	}))

	deleted, err := f.ledger.DeleteForMatch(ctx, f.db, m1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := f.ledger.CountBySeason(ctx, f.seasonID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLedgerPeaksIgnoreResets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.playMatch(t, f.alice, f.bob, time.Now())

	require.NoError(t, f.ledger.AppendEntries(ctx, []domain.RatingLedgerEntry{
		{PlayerID: f.alice, SeasonID: f.seasonID, Kind: domain.LedgerKindReset, Rating: 1500, Deviation: 350, Volatility: 0.06, Seq: 1},
		matchEntry(f.alice, f.seasonID, m1, f.bob, 2, 1450, domain.ResultLoss),
	}))

	peaks, err := f.ledger.PeaksBySeason(ctx, f.db, f.seasonID)
	require.NoError(t, err)
	require.Contains(t, peaks, f.alice)
	// The reset at 1500 does not count: the peak is the best match entry.
	assert.Equal(t, 1450.0, peaks[f.alice].Rating)
}

func TestMatchLaterCompletedParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.playMatch(t, f.alice, f.bob, time.Now())
	f.playMatch(t, f.bob, f.alice, time.Now().Add(time.Hour))

	blocking, err := f.matches.LaterCompletedParticipants(ctx, f.db, m1, f.alice, f.bob)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{f.alice, f.bob}, blocking)
}

func TestMatchRevertToScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m1 := f.playMatch(t, f.alice, f.bob, time.Now())

	require.NoError(t, f.matches.RevertToScheduled(ctx, f.db, m1))

	match, err := f.matches.Get(ctx, m1)
	require.NoError(t, err)
	assert.False(t, match.Completed())
	assert.Nil(t, match.PlayedAt)
	assert.Zero(t, match.Player1Score)
	assert.Zero(t, match.Player2Score)
}
