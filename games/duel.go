package games

import (
	"fmt"
	"strings"
)

const (
	Rock     = "rock"
	Paper    = "paper"
	Scissors = "scissors"
)

// beats maps each choice to the one it defeats.
var beats = map[string]string{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// Duel is the two-player best-of-N rock/paper/scissors game. Draws replay the
// round without using a best-of slot; a missing throw forfeits the round.
type Duel struct {
	gameType GameType
}

func NewDuel(gt GameType) (*Duel, error) {
	if gt.MinPlayers != 2 || gt.MaxPlayers != 2 {
		return nil, fmt.Errorf("duel game %s must be exactly two players", gt.ID)
	}
	if gt.Terminal != TerminalMajority || gt.Draw != DrawReplay || gt.Elimination != EliminateLosingSide {
		return nil, fmt.Errorf("duel game %s needs %s/%s/%s policies", gt.ID, TerminalMajority, DrawReplay, EliminateLosingSide)
	}
	if gt.BestOf < 1 || gt.BestOf%2 == 0 {
		return nil, fmt.Errorf("duel game %s: best-of must be odd, got %d", gt.ID, gt.BestOf)
	}
	return &Duel{gameType: gt}, nil
}

// Majority is the number of round wins that takes the match.
func (d *Duel) Majority() int {
	return d.gameType.BestOf/2 + 1
}

func (d *Duel) Initialize(participants []string, _ int64) (*State, error) {
	if err := checkParticipants(d.gameType, participants); err != nil {
		return nil, err
	}
	wins := make(map[string]int, len(participants))
	for _, id := range participants {
		wins[id] = 0
	}
	return &State{
		Participants: append([]string(nil), participants...),
		Active:       append([]string(nil), participants...),
		Wins:         wins,
	}, nil
}

func normalizeChoice(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func (d *Duel) Validate(value string) error {
	if _, ok := beats[normalizeChoice(value)]; !ok {
		return fmt.Errorf("%w: %q is not one of rock, paper, scissors", ErrIllegalMove, value)
	}
	return nil
}

func (d *Duel) choice(m Move) (string, bool) {
	if m.Absent() {
		return "", false
	}
	c := normalizeChoice(m.Value)
	_, ok := beats[c]
	return c, ok
}

func (d *Duel) ApplyRound(state *State, moves []Move) (*State, *Outcome, error) {
	if d.IsTerminal(state) {
		return nil, nil, fmt.Errorf("%w: match already decided", ErrBadRound)
	}
	if len(state.Active) != 2 {
		return nil, nil, fmt.Errorf("%w: duel needs two active bots, have %d", ErrBadRound, len(state.Active))
	}
	byBot, err := movesByBot(state, moves)
	if err != nil {
		return nil, nil, err
	}

	a, b := state.Active[0], state.Active[1]
	ca, okA := d.choice(byBot[a])
	cb, okB := d.choice(byBot[b])

	next := state.Clone()
	next.Round++

	var winner, summary string
	switch {
	case !okA && !okB:
		return next, &Outcome{Replay: true, Summary: "no valid throws; round replayed"}, nil
	case ca == cb:
		return next, &Outcome{Replay: true, Summary: fmt.Sprintf("both threw %s; round replayed", ca)}, nil
	case !okB:
		winner, summary = a, fmt.Sprintf("%s wins the round by forfeit", a)
	case !okA:
		winner, summary = b, fmt.Sprintf("%s wins the round by forfeit", b)
	case beats[ca] == cb:
		winner, summary = a, fmt.Sprintf("%s beats %s", ca, cb)
	default:
		winner, summary = b, fmt.Sprintf("%s beats %s", cb, ca)
	}

	next.Decided++
	next.Wins[winner]++
	out := &Outcome{Summary: summary}
	if next.Wins[winner] >= d.Majority() {
		loser := a
		if winner == a {
			loser = b
		}
		next.eliminate(loser)
		out.Eliminated = []string{loser}
		out.Winner = winner
		out.Summary = fmt.Sprintf("%s; %s takes the match %d-%d", summary, winner, next.Wins[winner], next.Wins[loser])
	}
	return next, out, nil
}

func (d *Duel) IsTerminal(state *State) bool {
	for _, w := range state.Wins {
		if w >= d.Majority() {
			return true
		}
	}
	return false
}

func (d *Duel) RankFinal(state *State) []Placement {
	return rankByElimination(state)
}
