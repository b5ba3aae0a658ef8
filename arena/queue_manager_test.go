package arena

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"bot-arena/games"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func duelType() games.GameType { return games.DuelType() }

func TestQueueManager_EnqueuePositions(t *testing.T) {
	clk := newFakeClock()
	qm := NewQueueManager(clk)

	for i, bot := range []string{"b1", "b2", "b3"} {
		clk.Advance(time.Millisecond)
		pos, err := qm.Enqueue(bot, games.PriceGuessID)
		if err != nil {
			t.Fatalf("Enqueue(%s) error: %v", bot, err)
		}
		if pos != i+1 {
			t.Errorf("Enqueue(%s) position = %d, want %d", bot, pos, i+1)
		}
	}
	if got := qm.Length(games.PriceGuessID); got != 3 {
		t.Errorf("Length() = %d, want 3", got)
	}

	qm.Dequeue("b1")
	pos, gameTypeID, ok := qm.Position("b3")
	if !ok || pos != 2 || gameTypeID != games.PriceGuessID {
		t.Errorf("Position(b3) = %d %q %v, want 2 %q true", pos, gameTypeID, ok, games.PriceGuessID)
	}
}

func TestQueueManager_EnqueueErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(qm *QueueManager)
		bot     string
		game    string
		wantErr error
	}{
		{
			name:    "same lane twice",
			setup:   func(qm *QueueManager) { _, _ = qm.Enqueue("b1", games.DuelID) },
			bot:     "b1",
			game:    games.DuelID,
			wantErr: ErrAlreadyQueued,
		},
		{
			name:    "other lane",
			setup:   func(qm *QueueManager) { _, _ = qm.Enqueue("b1", games.DuelID) },
			bot:     "b1",
			game:    games.PriceGuessID,
			wantErr: ErrAlreadyQueued,
		},
		{
			name: "reserved for a match",
			setup: func(qm *QueueManager) {
				_, _, _ = qm.ReserveQueued(duelType(), []string{"b1", "b2"})
			},
			bot:     "b1",
			game:    games.PriceGuessID,
			wantErr: ErrAlreadyInMatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qm := NewQueueManager(newFakeClock())
			tt.setup(qm)
			_, err := qm.Enqueue(tt.bot, tt.game)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Enqueue() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueueManager_DequeueIsIdempotent(t *testing.T) {
	qm := NewQueueManager(newFakeClock())
	_, err := qm.Enqueue("b1", games.DuelID)
	require.NoError(t, err)

	assert.True(t, qm.Dequeue("b1"))
	assert.False(t, qm.Dequeue("b1"))
	assert.False(t, qm.Dequeue("never-queued"))
	assert.Equal(t, 0, qm.Length(games.DuelID))

	_, err = qm.Enqueue("b1", games.PriceGuessID)
	assert.NoError(t, err, "a cancelled bot may queue again")
}

func TestQueueManager_CohortIsFIFO(t *testing.T) {
	clk := newFakeClock()
	qm := NewQueueManager(clk)
	gt := games.PriceGuessType()

	// enqueue out of id order; time decides
	order := []string{"h", "c", "a", "g", "b", "f", "e", "d", "late-1", "late-2"}
	for _, bot := range order {
		clk.Advance(time.Second)
		_, err := qm.Enqueue(bot, gt.ID)
		require.NoError(t, err)
	}

	cohort, ok := qm.TryFormCohort(gt, gt.Required())
	require.True(t, ok)
	assert.Equal(t, order[:8], cohort.BotIDs)
	assert.Equal(t, gt.ID, cohort.GameTypeID)
	assert.NotEmpty(t, cohort.ID)

	for _, bot := range cohort.BotIDs {
		assert.Equal(t, cohort.ID, qm.MatchOf(bot))
		_, _, queued := qm.Position(bot)
		assert.False(t, queued, "%s still queued after cohort formation", bot)
	}
	assert.Equal(t, 2, qm.Length(gt.ID))
	pos, _, _ := qm.Position("late-1")
	assert.Equal(t, 1, pos)

	_, ok = qm.TryFormCohort(gt, gt.Required())
	assert.False(t, ok)
}

func TestQueueManager_SimultaneousEnqueueTieBreaksByID(t *testing.T) {
	qm := NewQueueManager(newFakeClock()) // clock never advances
	gt := duelType()
	for _, bot := range []string{"zed", "amy", "max"} {
		_, err := qm.Enqueue(bot, gt.ID)
		require.NoError(t, err)
	}
	cohort, ok := qm.TryFormCohort(gt, gt.Required())
	require.True(t, ok)
	assert.Equal(t, []string{"amy", "max"}, cohort.BotIDs)
}

func TestQueueManager_VariableSizeCohort(t *testing.T) {
	gt := games.GameType{ID: "ffa", MinPlayers: 2, MaxPlayers: 4}
	clk := newFakeClock()
	qm := NewQueueManager(clk)
	for _, bot := range []string{"a", "b", "c"} {
		clk.Advance(time.Second)
		_, _ = qm.Enqueue(bot, gt.ID)
	}

	_, ok := qm.TryFormCohort(gt, gt.Required())
	assert.False(t, ok, "edge check waits for a full table")

	cohort, ok := qm.TryFormCohort(gt, gt.MinPlayers)
	require.True(t, ok, "tick check accepts the minimum")
	assert.Equal(t, []string{"a", "b", "c"}, cohort.BotIDs)
}

func TestQueueManager_Release(t *testing.T) {
	qm := NewQueueManager(newFakeClock())
	gt := duelType()
	_, err := qm.Enqueue("queued", gt.ID)
	require.NoError(t, err)

	cohort, _, err := qm.ReserveQueued(gt, []string{"house"})
	require.NoError(t, err)
	assert.Equal(t, 0, qm.Length(gt.ID), "reserved bots leave their queue")
	assert.Equal(t, cohort.ID, qm.MatchOf("house"))
	_, err = qm.Enqueue("queued", gt.ID)
	assert.ErrorIs(t, err, ErrAlreadyInMatch)

	qm.Release("some-other-match", cohort.BotIDs)
	assert.Equal(t, cohort.ID, qm.MatchOf("queued"), "release only frees the owning match")
	qm.Release(cohort.ID, cohort.BotIDs)
	assert.Empty(t, qm.MatchOf("queued"))

	_, err = qm.Enqueue("queued", gt.ID)
	assert.NoError(t, err)
}

func TestQueueManager_ReserveQueued(t *testing.T) {
	clk := newFakeClock()
	qm := NewQueueManager(clk)
	gt := duelType()
	for _, bot := range []string{"a", "b", "c"} {
		clk.Advance(time.Second)
		_, err := qm.Enqueue(bot, gt.ID)
		require.NoError(t, err)
	}

	cohort, house, err := qm.ReserveQueued(gt, []string{"h1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cohort.BotIDs, "queued bots are seated in FIFO order")
	assert.Empty(t, house)
	pos, _, ok := qm.Position("c")
	require.True(t, ok)
	assert.Equal(t, 1, pos)

	// c leaves before the next table is seated
	require.True(t, qm.Dequeue("c"))
	_, err = qm.Enqueue("d", gt.ID)
	require.NoError(t, err)
	cohort, house, err = qm.ReserveQueued(gt, []string{"a", "h1", "h2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "h1"}, cohort.BotIDs, "a held bot is skipped")
	assert.Equal(t, []string{"h1"}, house)
	assert.Empty(t, qm.MatchOf("c"))

	_, err = qm.Enqueue("e", gt.ID)
	require.NoError(t, err)
	_, _, err = qm.ReserveQueued(gt, []string{"h1"})
	assert.ErrorIs(t, err, errShortHanded)
	assert.Empty(t, qm.MatchOf("e"), "a short table reserves nobody")
	assert.Equal(t, 1, qm.Length(gt.ID))
}

// A bot that leaves the queue while a table is being seated either leaves
// or plays, never both.
func TestQueueManager_ReserveQueuedRacesDequeue(t *testing.T) {
	gt := duelType()
	for i := 0; i < 200; i++ {
		qm := NewQueueManager(newFakeClock())
		_, err := qm.Enqueue("q", gt.ID)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			left     bool
			cohort   *Cohort
			reserveE error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			left = qm.Dequeue("q")
		}()
		go func() {
			defer wg.Done()
			cohort, _, reserveE = qm.ReserveQueued(gt, []string{"h1", "h2"})
		}()
		wg.Wait()

		require.NoError(t, reserveE)
		seated := slices.Contains(cohort.BotIDs, "q")
		if left == seated {
			t.Fatalf("run %d: dequeued = %v, seated = %v", i, left, seated)
		}
		assert.Len(t, cohort.BotIDs, gt.Required())
	}
}

func TestQueueManager_Snapshot(t *testing.T) {
	clk := newFakeClock()
	qm := NewQueueManager(clk)
	for _, bot := range []string{"a", "b", "c"} {
		clk.Advance(time.Second)
		_, _ = qm.Enqueue(bot, games.PriceGuessID)
	}
	_, _ = qm.Enqueue("d", games.DuelID)

	assert.Equal(t, map[string]int{games.PriceGuessID: 3, games.DuelID: 1}, qm.Snapshot())
	assert.Equal(t, 3, qm.Length(games.PriceGuessID))
	assert.Zero(t, qm.Length("nothing"))
}

// Concurrent enqueues and cohort formation never put a bot in two places.
func TestQueueManager_ConcurrentInvariant(t *testing.T) {
	qm := NewQueueManager(nil)
	gt := duelType()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched = map[string]string{}
	)
	form := func() {
		for {
			cohort, ok := qm.TryFormCohort(gt, gt.Required())
			if !ok {
				return
			}
			mu.Lock()
			for _, b := range cohort.BotIDs {
				if prev, dup := matched[b]; dup {
					t.Errorf("bot %s in cohorts %s and %s", b, prev, cohort.ID)
				}
				matched[b] = cohort.ID
			}
			mu.Unlock()
		}
	}

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			bot := fmt.Sprintf("bot-%d", i%100)
			if _, err := qm.Enqueue(bot, gt.ID); err != nil &&
				!errors.Is(err, ErrAlreadyQueued) && !errors.Is(err, ErrAlreadyInMatch) {
				t.Errorf("Enqueue(%s) unexpected error: %v", bot, err)
			}
			form()
		}(i)
	}
	wg.Wait()
	form()

	assert.Len(t, matched, 100, "every bot ends up matched exactly once")
	assert.Equal(t, 0, qm.Length(gt.ID))
}
