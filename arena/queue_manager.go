package arena

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"bot-arena/clock"
	"bot-arena/games"
	"bot-arena/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// QueueEntry represents a bot waiting for a game type
type QueueEntry struct {
	BotID      string
	GameTypeID string
	Timestamp  time.Time
	Position   int
}

// Cohort is a set of bots pulled from a queue to start one match. Its ID
// becomes the match ID.
type Cohort struct {
	ID         string
	GameTypeID string
	BotIDs     []string
	FormedAt   time.Time
}

// QueueManager manages FIFO queues per game type and the reservation that
// ties each bot to at most one active match. Everything lives in memory
// behind a single lock so that queue membership and reservations change
// together.
type QueueManager struct {
	mu       sync.RWMutex
	clock    clock.Clock
	queues   map[string][]*QueueEntry // key: game type id
	queuedIn map[string]string        // bot id -> game type id
	reserved map[string]string        // bot id -> match id
}

// NewQueueManager creates a new queue manager
func NewQueueManager(c clock.Clock) *QueueManager {
	if c == nil {
		c = clock.Real{}
	}
	return &QueueManager{
		clock:    c,
		queues:   make(map[string][]*QueueEntry),
		queuedIn: make(map[string]string),
		reserved: make(map[string]string),
	}
}

// Enqueue adds a bot to the queue for a game type and returns its position.
// Entries are ordered by enqueue time, ties broken by bot id.
func (qm *QueueManager) Enqueue(botID, gameTypeID string) (int, error) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if _, ok := qm.queuedIn[botID]; ok {
		return 0, ErrAlreadyQueued
	}
	if _, ok := qm.reserved[botID]; ok {
		return 0, ErrAlreadyInMatch
	}

	entry := &QueueEntry{
		BotID:      botID,
		GameTypeID: gameTypeID,
		Timestamp:  qm.clock.Now(),
	}
	queue := qm.queues[gameTypeID]
	i, _ := slices.BinarySearchFunc(queue, entry, compareEntries)
	qm.queues[gameTypeID] = slices.Insert(queue, i, entry)
	qm.queuedIn[botID] = gameTypeID
	qm.renumberLocked(gameTypeID)

	return entry.Position, nil
}

func compareEntries(a, b *QueueEntry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.BotID < b.BotID:
		return -1
	case a.BotID > b.BotID:
		return 1
	}
	return 0
}

// renumberLocked refreshes positions and the depth gauge of one queue.
func (qm *QueueManager) renumberLocked(gameTypeID string) {
	queue := qm.queues[gameTypeID]
	for i, e := range queue {
		e.Position = i + 1
	}
	if len(queue) == 0 {
		delete(qm.queues, gameTypeID)
	}
	metrics.QueueDepth.WithLabelValues(gameTypeID).Set(float64(len(queue)))
}

// Dequeue removes a bot from whichever queue holds it. Removing an absent
// bot is a no-op.
func (qm *QueueManager) Dequeue(botID string) bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.removeLocked(botID)
}

func (qm *QueueManager) removeLocked(botID string) bool {
	gameTypeID, ok := qm.queuedIn[botID]
	if !ok {
		return false
	}
	delete(qm.queuedIn, botID)
	qm.queues[gameTypeID] = slices.DeleteFunc(qm.queues[gameTypeID], func(e *QueueEntry) bool {
		return e.BotID == botID
	})
	qm.renumberLocked(gameTypeID)
	return true
}

// TryFormCohort pulls the earliest-queued bots for gt once at least minimum
// are waiting, taking up to gt.Required(). The pulled bots are reserved for
// the returned cohort before the lock is released.
func (qm *QueueManager) TryFormCohort(gt games.GameType, minimum int) (*Cohort, bool) {
	if minimum < gt.MinPlayers {
		minimum = gt.MinPlayers
	}
	qm.mu.Lock()
	defer qm.mu.Unlock()

	queue := qm.queues[gt.ID]
	if len(queue) < minimum {
		return nil, false
	}
	n := min(len(queue), gt.Required())

	cohort := &Cohort{
		ID:         uuid.NewString(),
		GameTypeID: gt.ID,
		BotIDs:     make([]string, 0, n),
		FormedAt:   qm.clock.Now(),
	}
	for _, e := range queue[:n] {
		cohort.BotIDs = append(cohort.BotIDs, e.BotID)
		delete(qm.queuedIn, e.BotID)
		qm.reserved[e.BotID] = cohort.ID
	}
	qm.queues[gt.ID] = slices.Clone(queue[n:])
	qm.renumberLocked(gt.ID)

	log.Debug().Str("gameType", gt.ID).Str("matchId", cohort.ID).Strs("bots", cohort.BotIDs).Msg("queue: cohort formed")
	return cohort, true
}

// ReserveQueued seats a full table for gt in one step: queued bots first in
// FIFO order, then bots from fill that no match holds. It reports which fill
// bots took a seat. When the queue and fill together come up short nothing
// is reserved.
func (qm *QueueManager) ReserveQueued(gt games.GameType, fill []string) (*Cohort, []string, error) {
	need := gt.Required()

	qm.mu.Lock()
	defer qm.mu.Unlock()

	seats := make([]string, 0, need)
	for _, e := range qm.queues[gt.ID] {
		if len(seats) == need {
			break
		}
		seats = append(seats, e.BotID)
	}
	queued := len(seats)
	for _, id := range fill {
		if len(seats) == need {
			break
		}
		if _, held := qm.reserved[id]; held || slices.Contains(seats, id) {
			continue
		}
		seats = append(seats, id)
	}
	if len(seats) < need {
		return nil, nil, fmt.Errorf("%w: %s needs %d bots, found %d", errShortHanded, gt.ID, need, len(seats))
	}

	cohort := &Cohort{
		ID:         uuid.NewString(),
		GameTypeID: gt.ID,
		BotIDs:     seats,
		FormedAt:   qm.clock.Now(),
	}
	for _, id := range seats {
		qm.removeLocked(id)
		qm.reserved[id] = cohort.ID
	}
	return cohort, slices.Clone(seats[queued:]), nil
}

// Release frees the bots still reserved for matchID.
func (qm *QueueManager) Release(matchID string, botIDs []string) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	for _, id := range botIDs {
		if qm.reserved[id] == matchID {
			delete(qm.reserved, id)
		}
	}
}

// Position returns the current position of a bot and the game type it waits for
func (qm *QueueManager) Position(botID string) (int, string, bool) {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	gameTypeID, ok := qm.queuedIn[botID]
	if !ok {
		return 0, "", false
	}
	for _, e := range qm.queues[gameTypeID] {
		if e.BotID == botID {
			return e.Position, gameTypeID, true
		}
	}
	return 0, "", false
}

// Length returns the number of bots waiting for a game type
func (qm *QueueManager) Length(gameTypeID string) int {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return len(qm.queues[gameTypeID])
}

// Snapshot returns queued counts per game type (for monitoring/listing)
func (qm *QueueManager) Snapshot() map[string]int {
	qm.mu.RLock()
	defer qm.mu.RUnlock()

	snapshot := make(map[string]int, len(qm.queues))
	for id, queue := range qm.queues {
		snapshot[id] = len(queue)
	}
	return snapshot
}

// MatchOf returns the match a bot is reserved for, or "".
func (qm *QueueManager) MatchOf(botID string) string {
	qm.mu.RLock()
	defer qm.mu.RUnlock()
	return qm.reserved[botID]
}
