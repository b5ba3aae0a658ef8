package games

import (
	"fmt"
	"math"
	"math/big"
	"math/rand"
	"strconv"
)

// Estimate is the closest-guess elimination game. Every bot guesses a hidden
// target drawn once per match; each round the guess furthest from the target
// is eliminated until one bot remains.
type Estimate struct {
	gameType  GameType
	targetMin float64
	targetMax float64
}

func NewEstimate(gt GameType, targetMin, targetMax float64) (*Estimate, error) {
	if gt.Elimination != EliminateFurthest || gt.Terminal != TerminalLastStanding {
		return nil, fmt.Errorf("estimate game %s needs %s/%s policies", gt.ID, EliminateFurthest, TerminalLastStanding)
	}
	if !(targetMax > targetMin) {
		return nil, fmt.Errorf("estimate game %s: empty target range", gt.ID)
	}
	return &Estimate{gameType: gt, targetMin: targetMin, targetMax: targetMax}, nil
}

func (e *Estimate) Initialize(participants []string, seed int64) (*State, error) {
	if err := checkParticipants(e.gameType, participants); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	target := e.targetMin + rng.Float64()*(e.targetMax-e.targetMin)
	return &State{
		Participants: append([]string(nil), participants...),
		Active:       append([]string(nil), participants...),
		Wins:         map[string]int{},
		Target:       math.Round(target*100) / 100,
	}, nil
}

func (e *Estimate) Validate(value string) error {
	_, err := parseGuess(value)
	return err
}

func parseGuess(value string) (float64, error) {
	g, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(g) || math.IsInf(g, 0) {
		return 0, fmt.Errorf("%w: %q is not a finite number", ErrIllegalMove, value)
	}
	return g, nil
}

// deviation is the exact decimal distance between a move and the target;
// equidistant guesses compare equal. Absent or illegal entries report
// finite=false.
func (e *Estimate) deviation(state *State, m Move) (dev *big.Rat, finite bool) {
	if m.Absent() {
		return nil, false
	}
	g, err := parseGuess(m.Value)
	if err != nil {
		return nil, false
	}
	guess, ok := new(big.Rat).SetString(m.Value)
	if !ok {
		guess = new(big.Rat).SetFloat64(g)
	}
	target, ok := new(big.Rat).SetString(strconv.FormatFloat(state.Target, 'f', -1, 64))
	if !ok {
		target = new(big.Rat).SetFloat64(state.Target)
	}
	dev = guess.Sub(guess, target)
	return dev.Abs(dev), true
}

// compareDeviation orders deviations with non-finite ones furthest.
func compareDeviation(a *big.Rat, aFinite bool, b *big.Rat, bFinite bool) int {
	switch {
	case !aFinite && !bFinite:
		return 0
	case !aFinite:
		return 1
	case !bFinite:
		return -1
	}
	return a.Cmp(b)
}

func (e *Estimate) ApplyRound(state *State, moves []Move) (*State, *Outcome, error) {
	if e.IsTerminal(state) {
		return nil, nil, fmt.Errorf("%w: match already decided", ErrBadRound)
	}
	byBot, err := movesByBot(state, moves)
	if err != nil {
		return nil, nil, err
	}

	var (
		worst       string
		worstDev    *big.Rat
		worstFinite bool
	)
	for _, id := range state.Active {
		m := byBot[id]
		dev, finite := e.deviation(state, m)
		if worst == "" {
			worst, worstDev, worstFinite = id, dev, finite
			continue
		}
		switch c := compareDeviation(dev, finite, worstDev, worstFinite); {
		case c > 0:
			worst, worstDev, worstFinite = id, dev, finite
		case c == 0 && e.earlier(state, m, byBot[worst]):
			worst = id
		}
	}

	next := state.Clone()
	next.Round++
	next.Decided++
	next.eliminate(worst)

	summary := fmt.Sprintf("%s eliminated as furthest from the target", worst)
	if !worstFinite {
		summary = fmt.Sprintf("%s eliminated for a missing or illegal guess", worst)
	}
	out := &Outcome{Eliminated: []string{worst}, Summary: summary}
	if e.IsTerminal(next) && len(next.Active) == 1 {
		out.Winner = next.Active[0]
	}
	return next, out, nil
}

// earlier orders tied entries: submitted before absent, then by arrival,
// then by seat.
func (e *Estimate) earlier(state *State, a, b Move) bool {
	if a.Absent() != b.Absent() {
		return !a.Absent()
	}
	if !a.Absent() && a.Order != b.Order {
		return a.Order < b.Order
	}
	return state.seat(a.BotID) < state.seat(b.BotID)
}

func (e *Estimate) IsTerminal(state *State) bool {
	return len(state.Active) <= 1
}

func (e *Estimate) RankFinal(state *State) []Placement {
	return rankByElimination(state)
}
