package events

import (
	"encoding/json"
	"testing"
	"time"

	"bot-arena/broadcast"
	"bot-arena/models"
)

func TestCommand_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   Command
		want bool
	}{
		{"register", Command{Type: CommandRegister, RequestID: "r1", BotName: "alpha"}, true},
		{"register without name", Command{Type: CommandRegister, RequestID: "r1"}, false},
		{"enqueue", Command{Type: CommandEnqueue, RequestID: "r2", BotID: "b1", GameTypeID: "rps-duel"}, true},
		{"enqueue without game", Command{Type: CommandEnqueue, RequestID: "r2", BotID: "b1"}, false},
		{"dequeue", Command{Type: CommandDequeue, RequestID: "r3", BotID: "b1"}, true},
		{"submit", Command{Type: CommandSubmit, RequestID: "r4", BotID: "b1", MatchID: "m1", Move: "rock"}, true},
		{"submit without match", Command{Type: CommandSubmit, RequestID: "r4", BotID: "b1"}, false},
		{"demo", Command{Type: CommandDemo, RequestID: "r5", GameTypeID: "price-guess"}, true},
		{"missing request id", Command{Type: CommandDemo, GameTypeID: "price-guess"}, false},
		{"unknown type", Command{Type: "teleport", RequestID: "r6"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Validate(); got != tt.want {
				t.Errorf("Validate() got=%#v want=%#v for %#v", got, tt.want, tt.in)
			}
		})
	}
}

func TestCommand_WireNames(t *testing.T) {
	raw := `{"envelopeVersion":"1.0","type":"submit","requestId":"r1","botId":"b1","matchId":"m1","move":"paper"}`
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		t.Fatalf("unmarshal err: %#v", err)
	}
	want := Command{EnvelopeVersion: "1.0", Type: CommandSubmit, RequestID: "r1", BotID: "b1", MatchID: "m1", Move: "paper"}
	if cmd != want {
		t.Errorf("unmarshal mismatch\n got=%#v\nwant=%#v", cmd, want)
	}
}

func TestNewMatchEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name         string
		in           broadcast.Event
		wantDeadline bool
	}{
		{
			name:         "round started carries deadline",
			in:           broadcast.Event{MatchID: "m1", Seq: 2, Type: broadcast.EventRoundStarted, Round: 1, Deadline: at.Add(5 * time.Second), At: at},
			wantDeadline: true,
		},
		{
			name: "terminal without deadline",
			in:   broadcast.Event{MatchID: "m1", Seq: 9, Type: broadcast.EventMatchCompleted, Match: &models.Match{ID: "m1", Status: models.MatchStatusCompleted}, At: at},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewMatchEvent(tt.in)
			if got.Type != TypeMatchEvent || got.Event != tt.in.Type || got.Seq != tt.in.Seq || got.MatchID != "m1" {
				t.Errorf("NewMatchEvent() header mismatch: %#v", got)
			}
			if (got.Deadline != nil) != tt.wantDeadline {
				t.Errorf("NewMatchEvent() deadline=%v wantDeadline=%v", got.Deadline, tt.wantDeadline)
			}
			if tt.in.Match != nil && got.Match.ID != tt.in.Match.ID {
				t.Errorf("NewMatchEvent() lost the match snapshot")
			}
		})
	}
}
