package arena

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"slices"
	"sort"
	"sync"
	"time"

	"bot-arena/broadcast"
	"bot-arena/clock"
	"bot-arena/games"
	"bot-arena/metrics"
	"bot-arena/models"
	"bot-arena/store"

	gax "github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultRoundTimeout    = 10 * time.Second
	defaultPersistAttempts = 5
	defaultPersistBackoff  = 100 * time.Millisecond
	defaultMaxMissedRounds = 3
	// finalizeTimeout bounds the writes that close a match after its
	// context is gone.
	finalizeTimeout = 10 * time.Second

	AbortShutdown     = "shutdown"
	AbortPersistence  = "persistence failure"
	AbortDisconnected = "too few connected bots"
	AbortRoundLimit   = "round limit reached"
	AbortRuleEngine   = "rule engine failure"
)

// OrchestratorConfig wires the orchestrator to its collaborators.
type OrchestratorConfig struct {
	Registry *games.Registry
	Store    store.Store
	Hub      *broadcast.Hub
	Queue    *QueueManager
	Clock    clock.Clock

	// RoundTimeout applies to game types that do not set their own.
	RoundTimeout    time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
	// MaxMissedRounds consecutive missing moves mark a bot disconnected.
	MaxMissedRounds int
	RatingK         float64
	Seed            int64
}

// Orchestrator runs every active match. Each match has one runner goroutine
// that is the only writer of its state.
type Orchestrator struct {
	cfg OrchestratorConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	runners map[string]*runner
	closed  bool
}

func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Registry == nil || cfg.Store == nil || cfg.Hub == nil || cfg.Queue == nil {
		return nil, errors.New("orchestrator: registry, store, hub and queue are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = defaultRoundTimeout
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = defaultPersistAttempts
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = defaultPersistBackoff
	}
	if cfg.MaxMissedRounds <= 0 {
		cfg.MaxMissedRounds = defaultMaxMissedRounds
	}
	if cfg.RatingK <= 0 {
		cfg.RatingK = DefaultRatingK
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		runners: make(map[string]*runner),
	}, nil
}

// matchSeed derives the per-match seed from the base seed and the match id.
func (o *Orchestrator) matchSeed(matchID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(matchID))
	return o.cfg.Seed ^ int64(h.Sum64())
}

// Start moves a cohort into an in-progress match and launches its runner.
// The cohort's bots must already be reserved for cohort.ID. On failure the
// reservations are released.
func (o *Orchestrator) Start(ctx context.Context, cohort *Cohort, demo bool, house ...string) (*models.Match, error) {
	entry, ok := o.cfg.Registry.Lookup(cohort.GameTypeID)
	if !ok {
		o.cfg.Queue.Release(cohort.ID, cohort.BotIDs)
		return nil, fmt.Errorf("%w: %s", ErrUnknownGameType, cohort.GameTypeID)
	}
	if err := o.checkCohort(entry.Type, cohort); err != nil {
		log.Error().Err(err).Str("matchId", cohort.ID).Str("gameType", cohort.GameTypeID).Strs("bots", cohort.BotIDs).Msg("orchestrator: refusing cohort")
		o.cfg.Queue.Release(cohort.ID, cohort.BotIDs)
		return nil, err
	}

	now := o.cfg.Clock.Now()
	m := &models.Match{
		ID:           cohort.ID,
		GameTypeID:   cohort.GameTypeID,
		Participants: slices.Clone(cohort.BotIDs),
		Status:       models.MatchStatusForming,
		Demo:         demo,
		CreatedAt:    now,
	}

	seed := o.matchSeed(m.ID)
	state, err := entry.Rules.Initialize(m.Participants, seed)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidCohort, err)
		log.Error().Err(err).Str("matchId", m.ID).Msg("orchestrator: rule engine rejected cohort")
		o.cfg.Queue.Release(cohort.ID, cohort.BotIDs)
		return nil, err
	}

	m.Status = models.MatchStatusInProgress
	m.StartedAt = now
	m.Active = slices.Clone(state.Active)
	m.Scores = scoresOf(state)

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		o.cfg.Queue.Release(cohort.ID, cohort.BotIDs)
		return nil, ErrShuttingDown
	}
	r := newRunner(o, entry, m, state, seed, house)
	o.runners[m.ID] = r
	o.wg.Add(1)
	o.mu.Unlock()

	pctx := context.WithoutCancel(ctx)
	err = o.persist(pctx, "save_match", func(ctx context.Context) error {
		return o.cfg.Store.SaveMatch(ctx, m)
	})
	if err == nil {
		err = o.persist(pctx, "set_current_match", func(ctx context.Context) error {
			return o.cfg.Store.SetCurrentMatch(ctx, m.Participants, m.ID)
		})
	}
	if err != nil {
		r.finishAborted(AbortPersistence)
		o.wg.Done()
		return nil, err
	}

	r.started = true
	metrics.LiveMatches.WithLabelValues(m.GameTypeID).Inc()
	o.cfg.Hub.Publish(broadcast.Event{
		MatchID: m.ID,
		Type:    broadcast.EventMatchStarted,
		Match:   m.Clone(),
		At:      now,
	})
	log.Info().Str("matchId", m.ID).Str("gameType", m.GameTypeID).Strs("bots", m.Participants).Bool("demo", demo).Msg("orchestrator: match started")

	snapshot := r.snapshot()
	go r.run()
	return snapshot, nil
}

// checkCohort verifies that a cohort can become a match: the right size,
// no duplicates, and every bot reserved for this cohort alone.
func (o *Orchestrator) checkCohort(gt games.GameType, cohort *Cohort) error {
	n := len(cohort.BotIDs)
	if n < gt.MinPlayers || n > gt.MaxPlayers {
		return fmt.Errorf("%w: %d bots for %s", ErrInvalidCohort, n, gt.ID)
	}
	seen := make(map[string]struct{}, n)
	for _, id := range cohort.BotIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("%w: duplicate bot %s", ErrInvalidCohort, id)
		}
		seen[id] = struct{}{}
		if held := o.cfg.Queue.MatchOf(id); held != cohort.ID {
			return fmt.Errorf("%w: bot %s reserved for %q", ErrInvalidCohort, id, held)
		}
	}
	return nil
}

// persist runs fn until it succeeds or the attempt budget is spent, backing
// off exponentially between tries.
func (o *Orchestrator) persist(ctx context.Context, op string, fn func(context.Context) error) error {
	bo := gax.Backoff{
		Initial:    o.cfg.PersistBackoff,
		Max:        o.cfg.PersistBackoff * 32,
		Multiplier: 2,
	}
	var err error
	for attempt := 1; ; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt >= o.cfg.PersistAttempts {
			break
		}
		metrics.PersistRetries.WithLabelValues(op).Inc()
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("orchestrator: store write failed; retrying")
		if serr := gax.Sleep(ctx, bo.Pause()); serr != nil {
			break
		}
	}
	log.Error().Err(err).Str("op", op).Int("attempts", o.cfg.PersistAttempts).Msg("orchestrator: store write failed; giving up")
	return fmt.Errorf("%w: %s: %v", ErrPersistenceFailure, op, err)
}

func (o *Orchestrator) runner(matchID string) (*runner, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runners[matchID]
	return r, ok
}

func (o *Orchestrator) remove(matchID string) {
	o.mu.Lock()
	delete(o.runners, matchID)
	o.mu.Unlock()
}

// Submit hands a bot's move for the open round to the match runner. An
// illegal value is recorded as an invalid move and reported as
// ErrRuleViolation.
func (o *Orchestrator) Submit(ctx context.Context, matchID, botID, value string) error {
	r, ok := o.runner(matchID)
	if !ok {
		return fmt.Errorf("%w: match %s is not running", ErrNotFound, matchID)
	}
	if !slices.Contains(r.participants, botID) {
		return fmt.Errorf("%w: bot %s is not in match %s", ErrNotFound, botID, matchID)
	}

	sub := submission{botID: botID, value: value, reply: make(chan error, 1)}
	select {
	case r.submissions <- sub:
	case <-r.done:
		return fmt.Errorf("%w: match %s has ended", ErrNotFound, matchID)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-sub.reply:
		return err
	case <-r.done:
		return fmt.Errorf("%w: match %s has ended", ErrNotFound, matchID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Match returns a snapshot of a running match.
func (o *Orchestrator) Match(matchID string) (*models.Match, bool) {
	r, ok := o.runner(matchID)
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// Live returns snapshots of every running match, oldest first.
func (o *Orchestrator) Live() []*models.Match {
	o.mu.RLock()
	out := make([]*models.Match, 0, len(o.runners))
	for _, r := range o.runners {
		out = append(out, r.snapshot())
	}
	o.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LiveCounts returns running matches per game type.
func (o *Orchestrator) LiveCounts() map[string]int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[string]int)
	for _, r := range o.runners {
		out[r.gameType.ID]++
	}
	return out
}

// Shutdown aborts every running match and waits for the runners to finish
// closing them out.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("orchestrator: all matches closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func scoresOf(state *games.State) map[string]int {
	if len(state.Wins) == 0 {
		return nil
	}
	out := make(map[string]int, len(state.Wins))
	for k, v := range state.Wins {
		out[k] = v
	}
	return out
}
