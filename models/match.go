package models

import (
	"slices"
	"time"
)

// MatchStatus is the lifecycle state of a match.
type MatchStatus string

const (
	MatchStatusForming    MatchStatus = "forming"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusAborted    MatchStatus = "aborted"
)

func (s MatchStatus) Terminal() bool {
	return s == MatchStatusCompleted || s == MatchStatusAborted
}

func (s MatchStatus) order() int {
	switch s {
	case MatchStatusForming:
		return 0
	case MatchStatusInProgress:
		return 1
	case MatchStatusCompleted, MatchStatusAborted:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// monotonic: forming -> in_progress -> {completed, aborted}. A forming match
// may abort directly if it never gets started.
func (s MatchStatus) CanTransition(next MatchStatus) bool {
	if s.Terminal() || next.order() < 0 {
		return false
	}
	if next == MatchStatusAborted {
		return true
	}
	return next.order() == s.order()+1
}

// MoveRecord is one bot's entry for a round as it was evaluated.
type MoveRecord struct {
	BotID       string    `json:"botId"`
	Value       string    `json:"value,omitempty"`
	Missing     bool      `json:"missing,omitempty"`
	Invalid     bool      `json:"invalid,omitempty"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
}

// RoundResult is the snapshot of a resolved round.
type RoundResult struct {
	Seq        int          `json:"seq"`
	Round      int          `json:"round"`
	Moves      []MoveRecord `json:"moves"`
	Outcome    string       `json:"outcome"`
	Eliminated []string     `json:"eliminated,omitempty"`
	Active     []string     `json:"active"`
	Replay     bool         `json:"replay,omitempty"`
	ResolvedAt time.Time    `json:"resolvedAt"`
}

func (r *RoundResult) Clone() *RoundResult {
	c := *r
	c.Moves = slices.Clone(r.Moves)
	c.Eliminated = slices.Clone(r.Eliminated)
	c.Active = slices.Clone(r.Active)
	return &c
}

// Standing is a bot's final placement in a completed match.
type Standing struct {
	BotID       string  `json:"botId"`
	Rank        int     `json:"rank"`
	Prize       int64   `json:"prize,omitempty"`
	RatingDelta float64 `json:"ratingDelta"`
}

// Match is the record of one game between a cohort of bots.
type Match struct {
	ID           string         `json:"id"`
	GameTypeID   string         `json:"gameTypeId"`
	Participants []string       `json:"participants"`
	Round        int            `json:"round"`
	Status       MatchStatus    `json:"status"`
	Active       []string       `json:"active"`
	Eliminated   []string       `json:"eliminated,omitempty"`
	Scores       map[string]int `json:"scores,omitempty"`
	Rounds       []RoundResult  `json:"rounds,omitempty"`
	Standings    []Standing     `json:"standings,omitempty"`
	AbortReason  string         `json:"abortReason,omitempty"`
	Demo         bool           `json:"demo,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	StartedAt    time.Time      `json:"startedAt,omitempty"`
	EndedAt      time.Time      `json:"endedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to other goroutines.
func (m *Match) Clone() *Match {
	c := *m
	c.Participants = slices.Clone(m.Participants)
	c.Active = slices.Clone(m.Active)
	c.Eliminated = slices.Clone(m.Eliminated)
	c.Standings = slices.Clone(m.Standings)
	if m.Scores != nil {
		c.Scores = make(map[string]int, len(m.Scores))
		for k, v := range m.Scores {
			c.Scores[k] = v
		}
	}
	if m.Rounds != nil {
		c.Rounds = make([]RoundResult, len(m.Rounds))
		for i := range m.Rounds {
			c.Rounds[i] = *m.Rounds[i].Clone()
		}
	}
	return &c
}

// Winner returns the rank-1 bot of a completed match.
func (m *Match) Winner() (string, bool) {
	if m.Status != MatchStatusCompleted {
		return "", false
	}
	for _, s := range m.Standings {
		if s.Rank == 1 {
			return s.BotID, true
		}
	}
	return "", false
}
