package games

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// EliminationPolicy says who leaves the active set after a round.
type EliminationPolicy string

const (
	// EliminateFurthest removes the single worst entry every round.
	EliminateFurthest EliminationPolicy = "furthest_per_round"
	// EliminateLosingSide removes the whole losing side once the match is decided.
	EliminateLosingSide EliminationPolicy = "losing_side"
)

// DrawPolicy says what happens when a round has no distinct loser.
type DrawPolicy string

const (
	// DrawEarliestLoses breaks ties against the earliest submission.
	DrawEarliestLoses DrawPolicy = "earliest_loses"
	// DrawReplay replays the round without consuming a best-of slot.
	DrawReplay DrawPolicy = "replay"
)

// TerminalPolicy says when a match is over.
type TerminalPolicy string

const (
	TerminalLastStanding TerminalPolicy = "last_standing"
	TerminalMajority     TerminalPolicy = "majority"
)

// GameType is the immutable descriptor of a game.
type GameType struct {
	ID         string
	Name       string
	MinPlayers int
	MaxPlayers int
	// PrizePool is split across ranks by PrizeSplit percentages. Zero disables prizes.
	PrizePool   int64
	PrizeSplit  []int
	Elimination EliminationPolicy
	Draw        DrawPolicy
	Terminal    TerminalPolicy
	BestOf      int
	// MaxRounds bounds a match; reaching it without a terminal state aborts. Zero is unbounded.
	MaxRounds int
	// MinViable is the fewest connected active bots a match can continue with.
	MinViable    int
	RoundTimeout time.Duration
}

// Required is the cohort size the queue waits for.
func (g GameType) Required() int {
	return g.MaxPlayers
}

func (g GameType) HasPrizePool() bool {
	return g.PrizePool > 0
}

func (g GameType) Validate() error {
	if g.ID == "" {
		return errors.New("game type id is empty")
	}
	if g.MinPlayers < 1 || g.MaxPlayers < g.MinPlayers {
		return fmt.Errorf("game type %s: invalid player bounds %d..%d", g.ID, g.MinPlayers, g.MaxPlayers)
	}
	if g.MinViable < 0 || g.MinViable > g.MinPlayers {
		return fmt.Errorf("game type %s: min viable %d outside 0..%d", g.ID, g.MinViable, g.MinPlayers)
	}
	if g.Terminal == TerminalMajority && (g.BestOf < 1 || g.BestOf%2 == 0) {
		return fmt.Errorf("game type %s: best-of must be a positive odd number, got %d", g.ID, g.BestOf)
	}
	total := 0
	for _, p := range g.PrizeSplit {
		if p < 0 {
			return fmt.Errorf("game type %s: negative prize share", g.ID)
		}
		total += p
	}
	if total > 100 {
		return fmt.Errorf("game type %s: prize split sums to %d%%", g.ID, total)
	}
	return nil
}

// Move is one bot's entry for a round. Missing moves have no value.
type Move struct {
	BotID   string
	Value   string
	Missing bool
	Invalid bool
	// Order is the arrival index within the round; lower is earlier.
	Order       int
	SubmittedAt time.Time
}

// Absent reports whether the move carries no usable value.
func (m Move) Absent() bool {
	return m.Missing || m.Invalid
}

// State is the per-match running state owned by a rule engine.
type State struct {
	Participants []string
	Active       []string
	// Eliminated lists bots in the order they left the match.
	Eliminated []string
	Wins       map[string]int
	// Decided counts rounds that produced a result; replays are not counted.
	Decided int
	Round   int
	Target  float64
}

func (s *State) Clone() *State {
	c := *s
	c.Participants = slices.Clone(s.Participants)
	c.Active = slices.Clone(s.Active)
	c.Eliminated = slices.Clone(s.Eliminated)
	if s.Wins != nil {
		c.Wins = make(map[string]int, len(s.Wins))
		for k, v := range s.Wins {
			c.Wins[k] = v
		}
	}
	return &c
}

// IsActive reports whether botID is still in the active set.
func (s *State) IsActive(botID string) bool {
	return slices.Contains(s.Active, botID)
}

func (s *State) seat(botID string) int {
	return slices.Index(s.Participants, botID)
}

func (s *State) eliminate(botIDs ...string) {
	s.Active = slices.DeleteFunc(s.Active, func(id string) bool {
		return slices.Contains(botIDs, id)
	})
	s.Eliminated = append(s.Eliminated, botIDs...)
}

// Outcome describes what a round did.
type Outcome struct {
	Eliminated []string
	Replay     bool
	// Winner is set on the round that decides the match, when the game has one.
	Winner  string
	Summary string
}

// Placement is a final rank.
type Placement struct {
	BotID string
	Rank  int
}

// Rules is the capability set every game implements. Implementations are
// pure: ApplyRound never mutates its input and uses no randomness beyond
// what Initialize stored in the state.
type Rules interface {
	Initialize(participants []string, seed int64) (*State, error)
	Validate(value string) error
	ApplyRound(state *State, moves []Move) (*State, *Outcome, error)
	IsTerminal(state *State) bool
	RankFinal(state *State) []Placement
}

var (
	ErrIllegalMove = errors.New("move outside the legal choice set")
	ErrBadRound    = errors.New("round does not match state")
)

func checkParticipants(gt GameType, participants []string) error {
	if len(participants) < gt.MinPlayers || len(participants) > gt.MaxPlayers {
		return fmt.Errorf("%s needs %d..%d players, got %d", gt.ID, gt.MinPlayers, gt.MaxPlayers, len(participants))
	}
	seen := make(map[string]struct{}, len(participants))
	for _, id := range participants {
		if id == "" {
			return fmt.Errorf("%s: empty participant id", gt.ID)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%s: duplicate participant %s", gt.ID, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// movesByBot indexes the moves of the active set and fills gaps as missing.
func movesByBot(state *State, moves []Move) (map[string]Move, error) {
	out := make(map[string]Move, len(state.Active))
	for _, m := range moves {
		if !state.IsActive(m.BotID) {
			return nil, fmt.Errorf("%w: %s is not active", ErrBadRound, m.BotID)
		}
		if _, dup := out[m.BotID]; dup {
			return nil, fmt.Errorf("%w: duplicate move from %s", ErrBadRound, m.BotID)
		}
		out[m.BotID] = m
	}
	for _, id := range state.Active {
		if _, ok := out[id]; !ok {
			out[id] = Move{BotID: id, Missing: true}
		}
	}
	return out, nil
}

// rankByElimination puts the survivors first (sharing rank 1), then the
// eliminated bots with the last one out ranked highest.
func rankByElimination(state *State) []Placement {
	out := make([]Placement, 0, len(state.Participants))
	for _, id := range state.Participants {
		if state.IsActive(id) {
			out = append(out, Placement{BotID: id, Rank: 1})
		}
	}
	next := len(out) + 1
	for i := len(state.Eliminated) - 1; i >= 0; i-- {
		out = append(out, Placement{BotID: state.Eliminated[i], Rank: next})
		next++
	}
	return out
}
