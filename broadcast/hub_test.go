package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bot-arena/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	matches map[string]*models.Match
}

func (f *fakeSource) GetMatch(_ context.Context, id string) (*models.Match, error) {
	if m, ok := f.matches[id]; ok {
		return m, nil
	}
	return nil, errors.New("not found")
}

func drain(t *testing.T, sub *Subscription) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("subscription for %s never closed", sub.MatchID())
		}
	}
}

func startMatch(h *Hub, id string) {
	h.Publish(Event{MatchID: id, Type: EventMatchStarted, Match: &models.Match{ID: id, Status: models.MatchStatusInProgress}})
}

func TestHub_OrderedDeliveryAndTerminalClose(t *testing.T) {
	h := New(Config{Buffer: 32})
	startMatch(h, "m1")

	sub, err := h.Subscribe(context.Background(), "m1")
	require.NoError(t, err)

	for r := 1; r <= 5; r++ {
		h.Publish(Event{MatchID: "m1", Type: EventRoundResult, Round: r})
	}
	h.Publish(Event{MatchID: "m1", Type: EventMatchCompleted, Match: &models.Match{ID: "m1", Status: models.MatchStatusCompleted}})

	events := drain(t, sub)
	require.Len(t, events, 7, "primed snapshot plus five rounds plus terminal")
	assert.Equal(t, EventMatchStarted, events[0].Type)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Seq+1, events[i].Seq, "sequence must be gap-free")
	}
	assert.Equal(t, EventMatchCompleted, events[6].Type)
	assert.Equal(t, 0, h.Subscribers("m1"))
}

func TestHub_SubscribeAfterCompletionReplaysOnce(t *testing.T) {
	h := New(Config{})
	startMatch(h, "m1")
	h.Publish(Event{MatchID: "m1", Type: EventMatchAborted, Match: &models.Match{ID: "m1", Status: models.MatchStatusAborted}})

	sub, err := h.Subscribe(context.Background(), "m1")
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventMatchAborted, events[0].Type)

	// late events for a finished match are ignored
	h.Publish(Event{MatchID: "m1", Type: EventRoundResult})
	sub2, err := h.Subscribe(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, drain(t, sub2), 1)
}

func TestHub_SubscribeFallsBackToSource(t *testing.T) {
	src := &fakeSource{matches: map[string]*models.Match{
		"old":  {ID: "old", Status: models.MatchStatusCompleted},
		"live": {ID: "live", Status: models.MatchStatusInProgress},
	}}
	h := New(Config{Source: src})

	sub, err := h.Subscribe(context.Background(), "old")
	require.NoError(t, err)
	events := drain(t, sub)
	require.Len(t, events, 1)
	assert.Equal(t, EventMatchCompleted, events[0].Type)
	assert.Equal(t, "old", events[0].Match.ID)

	_, err = h.Subscribe(context.Background(), "live")
	assert.ErrorIs(t, err, ErrUnknownMatch)
	_, err = h.Subscribe(context.Background(), "nothing")
	assert.ErrorIs(t, err, ErrUnknownMatch)
}

func TestHub_SlowSubscriberKeepsNewest(t *testing.T) {
	h := New(Config{Buffer: 2})
	startMatch(h, "m1")
	sub, err := h.Subscribe(context.Background(), "m1")
	require.NoError(t, err)

	for r := 1; r <= 10; r++ {
		h.Publish(Event{MatchID: "m1", Type: EventRoundResult, Round: r})
	}

	first := <-sub.C()
	second := <-sub.C()
	assert.Equal(t, 9, first.Round)
	assert.Equal(t, 10, second.Round)
	assert.Equal(t, uint64(9), sub.Dropped())
}

func TestHub_GlobalFeedSpansMatches(t *testing.T) {
	h := New(Config{Buffer: 16})
	global, err := h.Subscribe(context.Background(), Global)
	require.NoError(t, err)

	startMatch(h, "a")
	startMatch(h, "b")
	h.Publish(Event{MatchID: "a", Type: EventMatchCompleted, Match: &models.Match{ID: "a", Status: models.MatchStatusCompleted}})

	seen := map[string]int{}
	for i := 0; i < 3; i++ {
		ev := <-global.C()
		seen[ev.MatchID]++
	}
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, seen)
	assert.Equal(t, 1, h.Subscribers(Global), "a terminal event must not close the global feed")

	h.Unsubscribe(global)
	h.Unsubscribe(global)
	_, open := <-global.C()
	assert.False(t, open)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := New(Config{Buffer: 1})
	startMatch(h, "m1")
	for i := 0; i < 4; i++ {
		_, err := h.Subscribe(context.Background(), "m1")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for r := 0; r < 1000; r++ {
			h.Publish(Event{MatchID: "m1", Type: EventRoundResult, Round: r})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on unread subscribers")
	}
	wg.Wait()
}

func TestTerminalEvent(t *testing.T) {
	_, ok := TerminalEvent(&models.Match{Status: models.MatchStatusInProgress})
	assert.False(t, ok)
	ev, ok := TerminalEvent(&models.Match{ID: "x", Status: models.MatchStatusCompleted, Round: 3})
	assert.True(t, ok)
	assert.Equal(t, EventMatchCompleted, ev.Type)
	assert.Equal(t, 3, ev.Round)
}
