package events

import (
	"context"
	"time"

	"bot-arena/broadcast"
	"bot-arena/models"
)

const EnvelopeVersion = "1.0"

type CommandType string

const (
	CommandRegister CommandType = "register"
	CommandEnqueue  CommandType = "enqueue"
	CommandDequeue  CommandType = "dequeue"
	CommandSubmit   CommandType = "submit"
	CommandDemo     CommandType = "demo"
)

// Command is an inbound request from the boundary layer.
type Command struct {
	EnvelopeVersion string      `json:"envelopeVersion"`
	Type            CommandType `json:"type"`
	RequestID       string      `json:"requestId"`
	BotID           string      `json:"botId,omitempty"`
	BotName         string      `json:"botName,omitempty"`
	GameTypeID      string      `json:"gameTypeId,omitempty"`
	MatchID         string      `json:"matchId,omitempty"`
	Move            string      `json:"move,omitempty"`
}

// Validate checks that a command carries the fields its type needs.
func (c *Command) Validate() bool {
	if c.RequestID == "" {
		return false
	}
	switch c.Type {
	case CommandRegister:
		return c.BotName != ""
	case CommandEnqueue:
		return c.BotID != "" && c.GameTypeID != ""
	case CommandDequeue:
		return c.BotID != ""
	case CommandSubmit:
		return c.BotID != "" && c.MatchID != ""
	case CommandDemo:
		return c.GameTypeID != ""
	}
	return false
}

type CommandStatus string

const (
	StatusSuccess CommandStatus = "Success"
	StatusFailure CommandStatus = "Failure"
)

const (
	TypeCommandResult = "command-result"
	TypeMatchEvent    = "match-event"
)

type CommandResult struct {
	EnvelopeVersion string        `json:"envelopeVersion"`
	Type            string        `json:"type"`
	RequestID       string        `json:"requestId"`
	Command         CommandType   `json:"command"`
	Status          CommandStatus `json:"status"`
	Error           *string       `json:"error,omitempty"`
	BotID           string        `json:"botId,omitempty"`
	MatchID         string        `json:"matchId,omitempty"`
	Position        int           `json:"position,omitempty"`
}

// MatchEvent is the wire form of a broadcast event.
type MatchEvent struct {
	EnvelopeVersion string              `json:"envelopeVersion"`
	Type            string              `json:"type"`
	Event           broadcast.EventType `json:"event"`
	MatchID         string              `json:"matchId"`
	Seq             uint64              `json:"seq"`
	Round           int                 `json:"round,omitempty"`
	Deadline        *time.Time          `json:"deadline,omitempty"`
	Match           *models.Match       `json:"match,omitempty"`
	Result          *models.RoundResult `json:"result,omitempty"`
	At              time.Time           `json:"at"`
}

func NewMatchEvent(ev broadcast.Event) *MatchEvent {
	out := &MatchEvent{
		EnvelopeVersion: EnvelopeVersion,
		Type:            TypeMatchEvent,
		Event:           ev.Type,
		MatchID:         ev.MatchID,
		Seq:             ev.Seq,
		Round:           ev.Round,
		Match:           ev.Match,
		Result:          ev.Result,
		At:              ev.At,
	}
	if !ev.Deadline.IsZero() {
		d := ev.Deadline
		out.Deadline = &d
	}
	return out
}

type Subscriber interface {
	Start(ctx context.Context, handler func(context.Context, *Command) error) error
}

type Publisher interface {
	PublishResult(ctx context.Context, res *CommandResult) error
}
