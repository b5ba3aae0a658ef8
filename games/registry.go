package games

import (
	"fmt"
	"sort"
	"time"
)

const (
	PriceGuessID = "price-guess"
	DuelID       = "rps-duel"
)

// Entry pairs a descriptor with the rules that run it.
type Entry struct {
	Type  GameType
	Rules Rules
}

// Registry is the lookup table of game types, fixed at construction.
type Registry struct {
	entries map[string]Entry
	ids     []string
}

func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := e.Type.Validate(); err != nil {
			return nil, err
		}
		if e.Rules == nil {
			return nil, fmt.Errorf("game type %s has no rules", e.Type.ID)
		}
		if _, dup := r.entries[e.Type.ID]; dup {
			return nil, fmt.Errorf("game type %s registered twice", e.Type.ID)
		}
		r.entries[e.Type.ID] = e
		r.ids = append(r.ids, e.Type.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func (r *Registry) Lookup(id string) (Entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Types returns the descriptors sorted by id.
func (r *Registry) Types() []GameType {
	out := make([]GameType, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.entries[id].Type)
	}
	return out
}

// PriceGuessType is the eight-bot closest-guess game.
func PriceGuessType() GameType {
	return GameType{
		ID:           PriceGuessID,
		Name:         "Price Guess",
		MinPlayers:   8,
		MaxPlayers:   8,
		PrizePool:    1000,
		PrizeSplit:   []int{60, 30, 10},
		Elimination:  EliminateFurthest,
		Draw:         DrawEarliestLoses,
		Terminal:     TerminalLastStanding,
		MaxRounds:    7,
		MinViable:    1,
		RoundTimeout: 10 * time.Second,
	}
}

// DuelType is the two-bot best-of-three rock/paper/scissors game.
func DuelType() GameType {
	return GameType{
		ID:           DuelID,
		Name:         "Rock Paper Scissors",
		MinPlayers:   2,
		MaxPlayers:   2,
		Elimination:  EliminateLosingSide,
		Draw:         DrawReplay,
		Terminal:     TerminalMajority,
		BestOf:       3,
		MaxRounds:    15,
		MinViable:    1,
		RoundTimeout: 5 * time.Second,
	}
}

// Default builds the registry with the built-in games.
func Default() (*Registry, error) {
	pg := PriceGuessType()
	estimate, err := NewEstimate(pg, 1, 1000)
	if err != nil {
		return nil, err
	}
	dt := DuelType()
	duel, err := NewDuel(dt)
	if err != nil {
		return nil, err
	}
	return NewRegistry(
		Entry{Type: pg, Rules: estimate},
		Entry{Type: dt, Rules: duel},
	)
}
