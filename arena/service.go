package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bot-arena/broadcast"
	"bot-arena/clock"
	"bot-arena/games"
	"bot-arena/metrics"
	"bot-arena/models"
	"bot-arena/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultInitialRating = 1000.0
	defaultLeaderboard   = 50
	houseBotPrefix       = "house-"
)

// Config assembles a Service.
type Config struct {
	Registry *games.Registry
	Store    store.Store
	Hub      *broadcast.Hub
	Clock    clock.Clock

	// CohortTick re-checks every queue periodically when positive; zero
	// forms cohorts only when a bot enqueues.
	CohortTick      time.Duration
	RoundTimeout    time.Duration
	PersistAttempts int
	PersistBackoff  time.Duration
	MaxMissedRounds int
	InitialRating   float64
	RatingK         float64
	Seed            int64
}

// Service is the arena core: the queue, the orchestrator and the read side,
// owned by one value so that independent instances can coexist.
type Service struct {
	registry      *games.Registry
	store         store.Store
	hub           *broadcast.Hub
	clock         clock.Clock
	queue         *QueueManager
	orchestrator  *Orchestrator
	cohortTick    time.Duration
	initialRating float64

	houseMu sync.Mutex
	house   []string
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.InitialRating <= 0 {
		cfg.InitialRating = DefaultInitialRating
	}
	queue := NewQueueManager(cfg.Clock)
	orch, err := NewOrchestrator(OrchestratorConfig{
		Registry:        cfg.Registry,
		Store:           cfg.Store,
		Hub:             cfg.Hub,
		Queue:           queue,
		Clock:           cfg.Clock,
		RoundTimeout:    cfg.RoundTimeout,
		PersistAttempts: cfg.PersistAttempts,
		PersistBackoff:  cfg.PersistBackoff,
		MaxMissedRounds: cfg.MaxMissedRounds,
		RatingK:         cfg.RatingK,
		Seed:            cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		registry:      cfg.Registry,
		store:         cfg.Store,
		hub:           cfg.Hub,
		clock:         cfg.Clock,
		queue:         queue,
		orchestrator:  orch,
		cohortTick:    cfg.CohortTick,
		initialRating: cfg.InitialRating,
	}, nil
}

// storeErr maps storage errors onto the arena taxonomy.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	case errors.Is(err, store.ErrNameTaken):
		return fmt.Errorf("%w: %s", ErrNameTaken, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// RegisterBot creates a bot with a unique display name.
func (s *Service) RegisterBot(ctx context.Context, name string) (models.BotPublic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.BotPublic{}, ErrInvalidName
	}
	bot := &models.Bot{
		ID:        uuid.NewString(),
		Name:      name,
		Rating:    s.initialRating,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateBot(ctx, bot); err != nil {
		return models.BotPublic{}, storeErr(err, "bot "+name)
	}
	log.Info().Str("botId", bot.ID).Str("name", bot.Name).Msg("arena: bot registered")
	return bot.Public(), nil
}

func (s *Service) Bot(ctx context.Context, id string) (models.BotPublic, error) {
	bot, err := s.store.GetBot(ctx, id)
	if err != nil {
		return models.BotPublic{}, storeErr(err, "bot "+id)
	}
	pub := bot.Public()
	pub.InMatch = pub.InMatch || s.queue.MatchOf(id) != ""
	return pub, nil
}

func (s *Service) gameType(id string) (games.GameType, error) {
	entry, ok := s.registry.Lookup(id)
	if !ok {
		return games.GameType{}, fmt.Errorf("%w: %s", ErrUnknownGameType, id)
	}
	return entry.Type, nil
}

// Enqueue puts a registered bot in a game's queue and starts a match when
// the queue fills.
func (s *Service) Enqueue(ctx context.Context, botID, gameTypeID string) (int, error) {
	gt, err := s.gameType(gameTypeID)
	if err != nil {
		return 0, err
	}
	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		return 0, storeErr(err, "bot "+botID)
	}
	if err := s.checkCurrentMatch(bot); err != nil {
		return 0, err
	}
	pos, err := s.queue.Enqueue(botID, gt.ID)
	if err != nil {
		return 0, err
	}
	log.Debug().Str("botId", botID).Str("gameType", gt.ID).Int("position", pos).Msg("arena: bot queued")
	s.formCohorts(ctx, gt, gt.Required(), "enqueue")
	return pos, nil
}

// checkCurrentMatch refuses a bot whose stored match pointer names a match
// running here. A pointer to any other match outlived it, after a crash or a
// failed clear, and is ignored; the bot's next match overwrites it.
func (s *Service) checkCurrentMatch(bot *models.Bot) error {
	if bot.CurrentMatchID == "" {
		return nil
	}
	if _, live := s.orchestrator.Match(bot.CurrentMatchID); live {
		return fmt.Errorf("%w: %s is in match %s", ErrAlreadyInMatch, bot.ID, bot.CurrentMatchID)
	}
	log.Warn().Str("botId", bot.ID).Str("matchId", bot.CurrentMatchID).Msg("arena: ignoring stale current match")
	return nil
}

func (s *Service) Dequeue(botID string) bool {
	return s.queue.Dequeue(botID)
}

// QueuePosition reports where a bot waits, if it does.
func (s *Service) QueuePosition(botID string) (int, string, bool) {
	return s.queue.Position(botID)
}

// formCohorts starts matches for as long as the queue holds enough bots.
func (s *Service) formCohorts(ctx context.Context, gt games.GameType, minimum int, trigger string) {
	for {
		cohort, ok := s.queue.TryFormCohort(gt, minimum)
		if !ok {
			return
		}
		metrics.CohortsFormed.WithLabelValues(gt.ID, trigger).Inc()
		if _, err := s.orchestrator.Start(ctx, cohort, false); err != nil {
			log.Error().Err(err).Str("matchId", cohort.ID).Str("gameType", gt.ID).Msg("arena: match failed to start")
		}
	}
}

func (s *Service) Submit(ctx context.Context, matchID, botID, value string) error {
	return s.orchestrator.Submit(ctx, matchID, botID, value)
}

// ForceStartDemo starts a match for a game type right away. Queued bots take
// seats first in FIFO order; house bots fill the rest and play on their own.
func (s *Service) ForceStartDemo(ctx context.Context, gameTypeID string) (*models.Match, error) {
	gt, err := s.gameType(gameTypeID)
	if err != nil {
		return nil, err
	}
	cohort, house, err := s.reserveDemo(ctx, gt)
	if err != nil {
		return nil, err
	}
	metrics.CohortsFormed.WithLabelValues(gt.ID, "demo").Inc()
	return s.orchestrator.Start(ctx, cohort, true, house...)
}

// reserveDemo seats queued bots and house bots in one queue operation. The
// house pool is sized from the current queue depth; if bots leave the queue
// before the seats are taken, a second pass brings a full table of house bots.
func (s *Service) reserveDemo(ctx context.Context, gt games.GameType) (*Cohort, []string, error) {
	s.houseMu.Lock()
	defer s.houseMu.Unlock()

	need := max(gt.Required()-s.queue.Length(gt.ID), 0)
	for {
		fill, err := s.houseBots(ctx, need)
		if err != nil {
			return nil, nil, err
		}
		cohort, house, err := s.queue.ReserveQueued(gt, fill)
		if errors.Is(err, errShortHanded) && need < gt.Required() {
			need = gt.Required()
			continue
		}
		return cohort, house, err
	}
}

// houseBots returns n house bots that are not in a match, registering new
// ones when the pool runs short. The caller holds houseMu.
func (s *Service) houseBots(ctx context.Context, n int) ([]string, error) {
	out := make([]string, 0, n)
	for _, id := range s.house {
		if len(out) == n {
			return out, nil
		}
		if s.queue.MatchOf(id) == "" {
			out = append(out, id)
		}
	}
	for len(out) < n {
		bot := &models.Bot{
			ID:        uuid.NewString(),
			Rating:    s.initialRating,
			CreatedAt: s.clock.Now(),
		}
		bot.Name = houseBotPrefix + bot.ID[:8]
		if err := s.store.CreateBot(ctx, bot); err != nil {
			return nil, storeErr(err, "house bot")
		}
		s.house = append(s.house, bot.ID)
		out = append(out, bot.ID)
	}
	return out, nil
}

// GameTypes lists every game with its queue depth and live match count.
func (s *Service) GameTypes() []models.GameTypeInfo {
	queued := s.queue.Snapshot()
	live := s.orchestrator.LiveCounts()
	types := s.registry.Types()
	out := make([]models.GameTypeInfo, 0, len(types))
	for _, gt := range types {
		out = append(out, models.GameTypeInfo{
			ID:          gt.ID,
			Name:        gt.Name,
			MinPlayers:  gt.MinPlayers,
			MaxPlayers:  gt.MaxPlayers,
			PrizePool:   gt.PrizePool,
			Queued:      queued[gt.ID],
			LiveMatches: live[gt.ID],
		})
	}
	return out
}

// Leaderboard returns the global board for an empty game type id, otherwise
// that game's board.
func (s *Service) Leaderboard(ctx context.Context, gameTypeID string, limit int) ([]models.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboard
	}
	if gameTypeID == "" {
		return s.store.GetGlobalLeaderboard(ctx, limit)
	}
	if _, err := s.gameType(gameTypeID); err != nil {
		return nil, err
	}
	return s.store.GetGameLeaderboard(ctx, gameTypeID, limit)
}

// LiveMatches returns snapshots of the matches running in this process.
func (s *Service) LiveMatches() []*models.Match {
	return s.orchestrator.Live()
}

func (s *Service) RecentMatches(ctx context.Context, limit int) ([]*models.Match, error) {
	if limit <= 0 {
		limit = defaultLeaderboard
	}
	return s.store.GetRecentMatches(ctx, limit)
}

// Match prefers the live snapshot and falls back to storage.
func (s *Service) Match(ctx context.Context, id string) (*models.Match, error) {
	if m, ok := s.orchestrator.Match(id); ok {
		return m, nil
	}
	m, err := s.store.GetMatch(ctx, id)
	if err != nil {
		return nil, storeErr(err, "match "+id)
	}
	return m, nil
}

// Subscribe opens a feed for one match or broadcast.Global.
func (s *Service) Subscribe(ctx context.Context, matchID string) (*broadcast.Subscription, error) {
	sub, err := s.hub.Subscribe(ctx, matchID)
	if errors.Is(err, broadcast.ErrUnknownMatch) {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return sub, err
}

func (s *Service) Unsubscribe(sub *broadcast.Subscription) {
	s.hub.Unsubscribe(sub)
}

// Run re-checks the queues on the cohort tick until ctx ends. Without a
// tick it only waits.
func (s *Service) Run(ctx context.Context) error {
	if s.cohortTick <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(s.cohortTick)
	defer ticker.Stop()
	log.Info().Dur("tick", s.cohortTick).Msg("arena: cohort tick started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one periodic cohort check. Games with a variable table size may
// start at their minimum here.
func (s *Service) Tick(ctx context.Context) {
	for _, gt := range s.registry.Types() {
		s.formCohorts(ctx, gt, gt.MinPlayers, "tick")
	}
}

// Shutdown aborts running matches and waits for them to close.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.orchestrator.Shutdown(ctx)
}
