package games

import (
	"math/rand"
	"strconv"
)

// Autoplayer is implemented by games that can produce a legal move for a
// house bot filling a demo seat.
type Autoplayer interface {
	SampleMove(state *State, rng *rand.Rand) string
}

// SampleMove guesses uniformly across the target range.
func (e *Estimate) SampleMove(_ *State, rng *rand.Rand) string {
	g := e.targetMin + rng.Float64()*(e.targetMax-e.targetMin)
	return strconv.FormatFloat(g, 'f', 2, 64)
}

var choices = []string{Rock, Paper, Scissors}

func (d *Duel) SampleMove(_ *State, rng *rand.Rand) string {
	return choices[rng.Intn(len(choices))]
}
