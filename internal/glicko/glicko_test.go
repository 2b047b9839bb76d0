package glicko

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeUpdateNoOutcomesIsIdentity(t *testing.T) {
	tests := []struct {
		name string
		r    Rating
	}{{
		"default rating",
		NewDefaultRating(),
	}, {
		"established rating",
		Rating{Rating: 1850.5, Deviation: 62.3, Volatility: 0.0512},
	}, {
		"provisional rating",
		Rating{Rating: 1320, Deviation: 290, Volatility: 0.06},
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := ComputeUpdate(test.r, nil)
			require.NoError(t, err)
			assert.Equal(t, test.r, got)
		})
	}
}

// The worked example from Glickman's paper: a 1500/200 player beats a
// 1400/30 opponent then loses to 1550/100 and 1700/300 opponents.
func TestComputeUpdatePaperExample(t *testing.T) {
	current := Rating{Rating: 1500, Deviation: 200, Volatility: 0.06}
	outcomes := []MatchOutcome{
		{Opponent: Rating{Rating: 1400, Deviation: 30, Volatility: 0.06}, Score: 1},
		{Opponent: Rating{Rating: 1550, Deviation: 100, Volatility: 0.06}, Score: 0},
		{Opponent: Rating{Rating: 1700, Deviation: 300, Volatility: 0.06}, Score: 0},
	}

	got, err := ComputeUpdate(current, outcomes)
	require.NoError(t, err)

	assert.InDelta(t, 1464.06, got.Rating, 0.1)
	assert.InDelta(t, 151.52, got.Deviation, 0.1)
	assert.InDelta(t, 0.05999, got.Volatility, 0.0001)
}

func TestComputeUpdateFirstWinBetweenUnratedPlayers(t *testing.T) {
	a := NewDefaultRating()
	b := NewDefaultRating()

	newA, err := ComputeUpdate(a, []MatchOutcome{{Opponent: b, Score: 1}})
	require.NoError(t, err)
	newB, err := ComputeUpdate(b, []MatchOutcome{{Opponent: a, Score: 0}})
	require.NoError(t, err)

	assert.Greater(t, newA.Rating, 1500.0)
	assert.Less(t, newB.Rating, 1500.0)
	assert.Less(t, newA.Deviation, 350.0)
	assert.Less(t, newB.Deviation, 350.0)

	// Known Glicko-2 result for a first-ever win between two unrated players.
	assert.InDelta(t, 1662, newA.Rating, 1)
	assert.InDelta(t, 1338, newB.Rating, 1)

	for _, f := range []float64{newA.Rating, newA.Deviation, newA.Volatility, newB.Rating, newB.Deviation, newB.Volatility} {
		assert.False(t, math.IsNaN(f) || math.IsInf(f, 0))
	}
}

func TestComputeUpdateComplementaryExpectedScores(t *testing.T) {
	a := Rating{Rating: 1700, Deviation: 80, Volatility: 0.06}
	b := Rating{Rating: 1450, Deviation: 120, Volatility: 0.06}

	muA := toMu(a.Rating)
	muB := toMu(b.Rating)

	eA := expectedScore(muA, muB, g(toPhi(b.Deviation)))
	eB := expectedScore(muB, muA, g(toPhi(a.Deviation)))

	// g() depends on the opponent's deviation so the two expectations are
	// not exact complements, but they must sit on opposite sides of 0.5
	// and close to complementary.
	assert.Greater(t, eA, 0.5)
	assert.Less(t, eB, 0.5)
	assert.InDelta(t, 1.0, eA+eB, 0.05)
}

func TestApplyDecay(t *testing.T) {
	tests := []struct {
		name    string
		r       Rating
		periods float64
		want    float64
	}{{
		"zero periods is identity",
		Rating{Rating: 1600, Deviation: 90, Volatility: 0.06},
		0,
		90,
	}, {
		"negative periods is identity",
		Rating{Rating: 1600, Deviation: 90, Volatility: 0.06},
		-3,
		90,
	}, {
		"one period grows deviation",
		Rating{Rating: 1600, Deviation: 90, Volatility: 0.06},
		1,
		math.Sqrt(90*90 + 18.3*18.3),
	}, {
		"long inactivity caps at ceiling",
		Rating{Rating: 1600, Deviation: 90, Volatility: 0.06},
		1e6,
		350,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := ApplyDecay(test.r, test.periods, DefaultDecayC)
			assert.InDelta(t, test.want, got.Deviation, 1e-9)
			assert.Equal(t, test.r.Rating, got.Rating)
			assert.Equal(t, test.r.Volatility, got.Volatility)
		})
	}
}

func TestApplyDecayMonotonic(t *testing.T) {
	r := Rating{Rating: 1555, Deviation: 75, Volatility: 0.055}
	prev := r.Deviation
	for periods := 1.0; periods <= 4096; periods *= 2 {
		d := ApplyDecay(r, periods, DefaultDecayC).Deviation
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 350.0)
		prev = d
	}
}

// The solver must terminate, with a result or an explicit error, for any
// rating inside the valid default ranges.
func TestComputeUpdateAlwaysTerminates(t *testing.T) {
	ratings := []float64{100, 800, 1500, 2200, 3000}
	deviations := []float64{30, 120, 350}
	scores := []float64{0, 0.5, 1}

	for _, r := range ratings {
		for _, rd := range deviations {
			for _, opp := range ratings {
				for _, s := range scores {
					current := Rating{Rating: r, Deviation: rd, Volatility: 0.06}
					outcome := MatchOutcome{Opponent: Rating{Rating: opp, Deviation: rd, Volatility: 0.06}, Score: s}
					got, err := ComputeUpdate(current, []MatchOutcome{outcome})
					if err == nil {
						assert.False(t, math.IsNaN(got.Rating))
						assert.Greater(t, got.Volatility, 0.0)
					}
				}
			}
		}
	}
}
