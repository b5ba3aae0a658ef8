package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"bot-arena/metrics"
	"bot-arena/models"

	"github.com/rs/zerolog/log"
)

var ErrUnknownMatch = errors.New("unknown match")

const (
	defaultBuffer         = 16
	defaultRetainTerminal = 256
)

// SnapshotSource resolves matches the hub has never seen, typically from
// storage after a restart.
type SnapshotSource interface {
	GetMatch(ctx context.Context, id string) (*models.Match, error)
}

// Config configures a Hub.
type Config struct {
	// Buffer is the per-subscriber queue length.
	Buffer int
	// RetainTerminal is how many finished matches keep a replayable snapshot in memory.
	RetainTerminal int
	Source         SnapshotSource
}

// Subscription delivers the events of one match, or of every match for a
// Global subscription. When its buffer is full the oldest undelivered event
// is dropped in favour of the newest.
type Subscription struct {
	matchID string
	ch      chan Event
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// C is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) MatchID() string {
	return s.matchID
}

// Dropped counts events discarded because the subscriber fell behind.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case old := <-s.ch:
			s.dropped.Add(1)
			metrics.BroadcastDropped.Inc()
			log.Debug().Str("matchId", old.MatchID).Uint64("seq", old.Seq).Msg("broadcast: dropped stale event for slow subscriber")
		default:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub fans match events out to subscribers. Publish never blocks on a
// subscriber, and events of one match reach every subscriber in order.
type Hub struct {
	mu       sync.Mutex
	buffer   int
	source   SnapshotSource
	subs     map[string]map[*Subscription]struct{}
	seq      map[string]uint64
	last     map[string]Event
	terminal map[string]Event
	// order of terminal ids, oldest first, for eviction
	terminalOrder []string
	retain        int
}

func New(cfg Config) *Hub {
	h := &Hub{
		buffer:   cfg.Buffer,
		source:   cfg.Source,
		retain:   cfg.RetainTerminal,
		subs:     make(map[string]map[*Subscription]struct{}),
		seq:      make(map[string]uint64),
		last:     make(map[string]Event),
		terminal: make(map[string]Event),
	}
	if h.buffer <= 0 {
		h.buffer = defaultBuffer
	}
	if h.retain <= 0 {
		h.retain = defaultRetainTerminal
	}
	return h
}

func (h *Hub) newSubscription(matchID string) *Subscription {
	return &Subscription{matchID: matchID, ch: make(chan Event, h.buffer)}
}

// Subscribe registers a subscriber for matchID or Global. A live match primes
// the subscription with its latest snapshot. A finished match replays its
// terminal snapshot once and closes the subscription.
func (h *Hub) Subscribe(ctx context.Context, matchID string) (*Subscription, error) {
	sub := h.newSubscription(matchID)
	if ok := h.attach(sub); ok {
		return sub, nil
	}
	if h.source == nil {
		return nil, ErrUnknownMatch
	}

	m, err := h.source.GetMatch(ctx, matchID)
	if err != nil {
		log.Debug().Err(err).Str("matchId", matchID).Msg("broadcast: snapshot source lookup failed")
		return nil, ErrUnknownMatch
	}
	ev, terminal := TerminalEvent(m)
	if !terminal {
		// live in storage but not run by this hub's orchestrator
		return nil, ErrUnknownMatch
	}
	// the match may have been published while the lock was released
	if ok := h.attach(sub); ok {
		return sub, nil
	}
	sub.deliver(ev)
	sub.close()
	return sub, nil
}

// attach wires sub to what the hub already knows about its match.
func (h *Hub) attach(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := sub.matchID
	if id == Global {
		h.addLocked(sub)
		return true
	}
	if ev, ok := h.terminal[id]; ok {
		sub.deliver(ev)
		sub.close()
		return true
	}
	if ev, ok := h.last[id]; ok {
		h.addLocked(sub)
		sub.deliver(ev)
		return true
	}
	return false
}

func (h *Hub) addLocked(sub *Subscription) {
	set, ok := h.subs[sub.matchID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sub.matchID] = set
	}
	set[sub] = struct{}{}
	metrics.BroadcastSubscribers.Inc()
}

func (h *Hub) removeLocked(sub *Subscription) {
	set, ok := h.subs[sub.matchID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.matchID)
	}
	metrics.BroadcastSubscribers.Dec()
}

// Unsubscribe detaches and closes sub. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	h.removeLocked(sub)
	h.mu.Unlock()
	sub.close()
}

// Publish delivers ev to the match's subscribers and the global feed and
// returns it with its sequence number. Terminal events close the match's
// subscriptions; events after a terminal one are discarded.
func (h *Hub) Publish(ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.terminal[ev.MatchID]; done {
		log.Warn().Str("matchId", ev.MatchID).Str("type", string(ev.Type)).Msg("broadcast: event after terminal snapshot ignored")
		return ev
	}
	h.seq[ev.MatchID]++
	ev.Seq = h.seq[ev.MatchID]

	for sub := range h.subs[ev.MatchID] {
		sub.deliver(ev)
	}
	for sub := range h.subs[Global] {
		sub.deliver(ev)
	}
	metrics.BroadcastEvents.WithLabelValues(string(ev.Type)).Inc()

	if !ev.Type.Terminal() {
		h.last[ev.MatchID] = ev
		return ev
	}
	for sub := range h.subs[ev.MatchID] {
		h.removeLocked(sub)
		sub.close()
	}
	delete(h.last, ev.MatchID)
	delete(h.seq, ev.MatchID)
	h.retainLocked(ev)
	return ev
}

func (h *Hub) retainLocked(ev Event) {
	h.terminal[ev.MatchID] = ev
	h.terminalOrder = append(h.terminalOrder, ev.MatchID)
	for len(h.terminalOrder) > h.retain {
		delete(h.terminal, h.terminalOrder[0])
		h.terminalOrder = h.terminalOrder[1:]
	}
}

// Subscribers returns the number of live subscriptions for matchID.
func (h *Hub) Subscribers(matchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[matchID])
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for sub := range set {
			h.removeLocked(sub)
			sub.close()
		}
	}
}
