// Package glicko implements the Glicko-2 rating update described in
// Professor Mark E. Glickman's paper, on the public 1500-centered scale.
//
// Naming follows the paper's conventions: mu and phi are the rating and
// deviation converted to the internal scale, sigma is the volatility, tau
// constrains how fast volatility may change, g weights opponents by their
// deviation, and E is the expected score against a given opponent.
//
// See https://www.glicko.net/glicko/glicko2.pdf for the full derivation.
package glicko

import (
	"math"

	"ladder-tracker/internal/domain"
)

const (
	// DefaultRating, DefaultDeviation and DefaultVolatility are the
	// standard Glicko-2 starting values for an unrated player.
	DefaultRating     = 1500.0
	DefaultDeviation  = 350.0
	DefaultVolatility = 0.06

	// Tau controls how much a surprising result may move volatility.
	// Smaller values suit ladders where upsets are common.
	Tau = 0.5

	// DefaultDecayC calibrates how fast deviation returns to the default
	// ceiling under inactivity: roughly one year of idle periods restores
	// full uncertainty from a well-established rating.
	DefaultDecayC = 18.3

	scale   = 173.7178
	epsilon = 1e-6

	maxBracketSteps = 1000
	maxIterations   = 100
)

// Rating is a player's skill estimate. Values are immutable: every update
// returns a new Rating rather than mutating in place.
type Rating struct {
	Rating     float64
	Deviation  float64
	Volatility float64
}

// NewDefaultRating returns the standard starting Rating.
func NewDefaultRating() Rating {
	return Rating{Rating: DefaultRating, Deviation: DefaultDeviation, Volatility: DefaultVolatility}
}

// MatchOutcome is one game against a known opponent. Score must be 0 (loss),
// 0.5 (draw) or 1 (win).
type MatchOutcome struct {
	Opponent Rating
	Score    float64
}

// ComputeUpdate applies one Glicko-2 rating period to current, given the
// batch of outcomes played during that period. An empty batch is the
// identity: ratings do not erode through this function alone.
//
// ComputeUpdate is pure and safe to call concurrently.
func ComputeUpdate(current Rating, outcomes []MatchOutcome) (Rating, error) {
	if len(outcomes) == 0 {
		return current, nil
	}

	// Step 2: convert to the internal scale.
	mu := toMu(current.Rating)
	phi := toPhi(current.Deviation)
	sigma := current.Volatility

	// Steps 3-4: estimated variance and improvement from outcomes.
	var sumG2E float64 // sum of g^2 * E * (1-E)
	var sumGSE float64 // sum of g * (score - E)
	for _, o := range outcomes {
		muJ := toMu(o.Opponent.Rating)
		phiJ := toPhi(o.Opponent.Deviation)
		gJ := g(phiJ)
		e := expectedScore(mu, muJ, gJ)
		sumG2E += gJ * gJ * e * (1 - e)
		sumGSE += gJ * (o.Score - e)
	}
	v := 1 / sumG2E
	delta := v * sumGSE

	// Step 5: solve for the new volatility.
	sigmaPrime, err := solveVolatility(sigma, delta, phi, v)
	if err != nil {
		return current, err
	}

	// Steps 6-7: shrink deviation, move the rating, convert back.
	phiStar := math.Sqrt(phi*phi + sigmaPrime*sigmaPrime)
	phiPrime := 1 / math.Sqrt(1/(phiStar*phiStar)+1/v)
	muPrime := mu + phiPrime*phiPrime*sumGSE

	next := Rating{
		Rating:     fromMu(muPrime),
		Deviation:  phiPrime * scale,
		Volatility: sigmaPrime,
	}
	if !finite(next) {
		return current, &domain.ConvergenceError{Stage: "non-finite result", Iterations: 0}
	}
	return next, nil
}

// ApplyDecay grows a rating's deviation for elapsed inactive periods,
// capped at the default uncertainty ceiling. Rating and volatility are
// untouched; elapsedPeriods <= 0 is the identity.
func ApplyDecay(current Rating, elapsedPeriods, c float64) Rating {
	if elapsedPeriods <= 0 {
		return current
	}
	rd := math.Sqrt(current.Deviation*current.Deviation + c*c*elapsedPeriods)
	if rd > DefaultDeviation {
		rd = DefaultDeviation
	}
	return Rating{Rating: current.Rating, Deviation: rd, Volatility: current.Volatility}
}

func toMu(rating float64) float64 { return (rating - DefaultRating) / scale }

func fromMu(mu float64) float64 { return mu*scale + DefaultRating }

func toPhi(deviation float64) float64 { return deviation / scale }

func g(phi float64) float64 {
	return 1 / math.Sqrt(1+3*phi*phi/(math.Pi*math.Pi))
}

func expectedScore(mu, muJ, gJ float64) float64 {
	return 1 / (1 + math.Exp(-gJ*(mu-muJ)))
}

// solveVolatility finds sigma' via the paper's iterative procedure: an
// Illinois-damped secant on f(x), bracketed either by the closed form or by
// walking downward from a in tau-sized steps until f changes sign.
func solveVolatility(sigma, delta, phi, v float64) (float64, error) {
	a := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phi*phi - v - ex)
		den := 2 * (phi*phi + v + ex) * (phi*phi + v + ex)
		return num/den - (x-a)/(Tau*Tau)
	}

	A := a
	var B float64
	if delta*delta > phi*phi+v {
		B = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1
		for ; k <= maxBracketSteps; k++ {
			if f(a-float64(k)*Tau) >= 0 {
				break
			}
		}
		if k > maxBracketSteps {
			return 0, &domain.ConvergenceError{Stage: "bracket search", Iterations: maxBracketSteps}
		}
		B = a - float64(k)*Tau
	}

	fA := f(A)
	fB := f(B)
	it := 0
	for ; it < maxIterations && math.Abs(B-A) > epsilon; it++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			return 0, &domain.ConvergenceError{Stage: "secant step", Iterations: it}
		}
		if fC*fB <= 0 {
			A = B
			fA = fB
		} else {
			// Illinois damping keeps the retained endpoint moving.
			fA /= 2
		}
		B = C
		fB = fC
	}
	if math.Abs(B-A) > epsilon {
		return 0, &domain.ConvergenceError{Stage: "iteration ceiling", Iterations: it}
	}

	sigmaPrime := math.Exp(A / 2)
	if math.IsNaN(sigmaPrime) || math.IsInf(sigmaPrime, 0) || sigmaPrime <= 0 {
		return 0, &domain.ConvergenceError{Stage: "non-finite volatility", Iterations: it}
	}
	return sigmaPrime, nil
}

func finite(r Rating) bool {
	for _, f := range []float64{r.Rating, r.Deviation, r.Volatility} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
