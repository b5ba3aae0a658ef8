package broadcast

import (
	"time"

	"bot-arena/models"
)

// Global is the subscription key for the feed of every match.
const Global = "*"

type EventType string

const (
	EventMatchStarted   EventType = "match_started"
	EventRoundStarted   EventType = "round_started"
	EventRoundResult    EventType = "round_result"
	EventMatchCompleted EventType = "match_completed"
	EventMatchAborted   EventType = "match_aborted"
)

func (t EventType) Terminal() bool {
	return t == EventMatchCompleted || t == EventMatchAborted
}

// Event is a state change of one match. Match and Result are snapshots
// shared by every subscriber and must be treated as read-only.
type Event struct {
	MatchID string
	// Seq is assigned by the hub and increases by one per event of a match.
	Seq      uint64
	Type     EventType
	Round    int
	Deadline time.Time
	Match    *models.Match
	Result   *models.RoundResult
	At       time.Time
}

// TerminalEvent builds the replay event for a finished match record.
func TerminalEvent(m *models.Match) (Event, bool) {
	var t EventType
	switch m.Status {
	case models.MatchStatusCompleted:
		t = EventMatchCompleted
	case models.MatchStatusAborted:
		t = EventMatchAborted
	default:
		return Event{}, false
	}
	return Event{
		MatchID: m.ID,
		Type:    t,
		Round:   m.Round,
		Match:   m,
		At:      m.EndedAt,
	}, true
}
