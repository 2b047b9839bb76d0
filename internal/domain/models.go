package domain

import (
	"time"
)

type Player struct {
	ID           int64
	Name         string
	Handle       string
	Rating       float64
	Deviation    float64
	Volatility   float64
	MatchCount   int
	LastMatchAt  *time.Time
	PeakRating   float64
	PeakRatingAt *time.Time
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Match ids are assigned by the storage layer in strictly increasing order
// and double as the chronological key for replay.
type Match struct {
	ID           int64
	SeasonID     int64
	Player1ID    int64
	Player2ID    int64
	WinnerID     *int64 // nil while the match is still scheduled
	Player1Score int
	Player2Score int
	// Cached per-match rating deltas, backfilled during projection for
	// consumers that do not read the ledger.
	Player1RatingChange *float64
	Player2RatingChange *float64
	PlayedAt            *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (m *Match) Completed() bool {
	return m.WinnerID != nil
}

func (m *Match) LoserID() int64 {
	if m.WinnerID == nil {
		return 0
	}
	if *m.WinnerID == m.Player1ID {
		return m.Player2ID
	}
	return m.Player1ID
}

type Season struct {
	ID        int64
	Name      string
	Active    bool
	StartedAt time.Time
	EndedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type LedgerKind string

const (
	LedgerKindReset            LedgerKind = "reset"
	LedgerKindMatch            LedgerKind = "match"
	LedgerKindDecay            LedgerKind = "decay"
	LedgerKindManualAdjustment LedgerKind = "manual_adjustment"
)

type MatchResult string

const (
	ResultWin  MatchResult = "win"
	ResultLoss MatchResult = "loss"
	ResultDraw MatchResult = "draw"
)

// RatingLedgerEntry is one immutable rating-affecting event for one player.
// Entries are only ever appended, or cleared as a whole season; ordering by
// Seq within a (player, season) pair yields the rating trajectory, and the
// greatest Seq is the player's authoritative current rating for that season.
type RatingLedgerEntry struct {
	ID           string // nanoid
	PlayerID     int64
	SeasonID     int64
	MatchID      *int64 // nil for reset/manual entries
	Kind         LedgerKind
	Rating       float64
	Deviation    float64
	Volatility   float64
	RatingChange *float64
	OpponentID   *int64
	Result       *MatchResult
	Seq          int64
	Reason       string
	CreatedAt    time.Time
}
