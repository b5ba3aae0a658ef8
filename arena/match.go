package arena

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"time"

	"bot-arena/broadcast"
	"bot-arena/games"
	"bot-arena/metrics"
	"bot-arena/models"

	"github.com/rs/zerolog/log"
)

type submission struct {
	botID string
	value string
	reply chan error
}

// runner drives one match. Only its own goroutine touches state and
// missed; match is shared with readers under mu.
type runner struct {
	o            *Orchestrator
	gameType     games.GameType
	rules        games.Rules
	autoplay     games.Autoplayer
	house        []string
	participants []string
	rng          *rand.Rand

	ctx         context.Context
	cancel      context.CancelFunc
	submissions chan submission
	done        chan struct{}
	started     bool

	state  *games.State
	missed map[string]int

	mu    sync.RWMutex
	match *models.Match
}

func newRunner(o *Orchestrator, entry games.Entry, m *models.Match, state *games.State, seed int64, house []string) *runner {
	ctx, cancel := context.WithCancel(o.ctx)
	r := &runner{
		o:            o,
		gameType:     entry.Type,
		rules:        entry.Rules,
		participants: slices.Clone(m.Participants),
		rng:          rand.New(rand.NewSource(seed)),
		ctx:          ctx,
		cancel:       cancel,
		submissions:  make(chan submission),
		done:         make(chan struct{}),
		state:        state,
		missed:       make(map[string]int, len(m.Participants)),
		match:        m,
	}
	if ap, ok := entry.Rules.(games.Autoplayer); ok && len(house) > 0 {
		r.autoplay = ap
		r.house = slices.Clone(house)
	}
	return r
}

func (r *runner) snapshot() *models.Match {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.match.Clone()
}

func (r *runner) run() {
	defer r.o.wg.Done()
	for {
		if r.ctx.Err() != nil {
			r.finishAborted(AbortShutdown)
			return
		}
		if limit := r.gameType.MaxRounds; limit > 0 && r.state.Round >= limit {
			r.finishAborted(AbortRoundLimit)
			return
		}

		moves, ok := r.collect()
		if !ok {
			r.finishAborted(AbortShutdown)
			return
		}
		next, outcome, err := r.rules.ApplyRound(r.state, moves)
		if err != nil {
			log.Error().Err(err).Str("matchId", r.match.ID).Int("round", r.state.Round+1).Msg("orchestrator: rule engine failed")
			r.finishAborted(AbortRuleEngine)
			return
		}
		result := r.record(next, outcome, moves)

		err = r.o.persist(r.ctx, "save_round", func(ctx context.Context) error {
			return r.o.cfg.Store.SaveRound(ctx, r.match.ID, result)
		})
		if err != nil {
			r.finishAborted(r.reason(AbortPersistence))
			return
		}
		r.o.cfg.Hub.Publish(broadcast.Event{
			MatchID: r.match.ID,
			Type:    broadcast.EventRoundResult,
			Round:   result.Round,
			Match:   r.snapshot(),
			Result:  result.Clone(),
			At:      result.ResolvedAt,
		})

		if r.rules.IsTerminal(r.state) {
			r.finishCompleted()
			return
		}
		if !r.viable() {
			r.finishAborted(AbortDisconnected)
			return
		}
	}
}

// reason prefers shutdown when the match context is gone.
func (r *runner) reason(fallback string) string {
	if r.ctx.Err() != nil {
		return AbortShutdown
	}
	return fallback
}

func (r *runner) roundTimeout() time.Duration {
	if r.gameType.RoundTimeout > 0 {
		return r.gameType.RoundTimeout
	}
	return r.o.cfg.RoundTimeout
}

// collect opens the next round and gathers at most one move per active bot
// until everyone has moved or the deadline passes. Moves come back in
// arrival order followed by missing placeholders in seat order.
func (r *runner) collect() ([]games.Move, bool) {
	timeout := r.roundTimeout()
	opened := r.o.cfg.Clock.Now()
	round := r.state.Round + 1

	r.o.cfg.Hub.Publish(broadcast.Event{
		MatchID:  r.match.ID,
		Type:     broadcast.EventRoundStarted,
		Round:    round,
		Deadline: opened.Add(timeout),
		Match:    r.snapshot(),
		At:       opened,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	active := r.state.Active
	moves := make([]games.Move, 0, len(active))
	got := make(map[string]bool, len(active))
	for _, id := range r.house {
		if !r.state.IsActive(id) {
			continue
		}
		moves = append(moves, games.Move{
			BotID:       id,
			Value:       r.autoplay.SampleMove(r.state, r.rng),
			Order:       len(moves),
			SubmittedAt: opened,
		})
		got[id] = true
	}

wait:
	for len(got) < len(active) {
		select {
		case <-r.ctx.Done():
			return nil, false
		case <-timer.C:
			break wait
		case sub := <-r.submissions:
			sub.reply <- r.accept(sub, round, &moves, got)
		}
	}
	r.drain()

	for _, id := range active {
		if got[id] {
			continue
		}
		moves = append(moves, games.Move{BotID: id, Missing: true, Order: len(moves)})
		metrics.MissingMoves.WithLabelValues(r.gameType.ID, "timeout").Inc()
	}
	return moves, true
}

func (r *runner) accept(sub submission, round int, moves *[]games.Move, got map[string]bool) error {
	if !r.state.IsActive(sub.botID) {
		return fmt.Errorf("%w: bot %s is no longer active", ErrNotFound, sub.botID)
	}
	if got[sub.botID] {
		return fmt.Errorf("%w: bot %s already moved in round %d", ErrRuleViolation, sub.botID, round)
	}
	got[sub.botID] = true
	m := games.Move{
		BotID:       sub.botID,
		Value:       sub.value,
		Order:       len(*moves),
		SubmittedAt: r.o.cfg.Clock.Now(),
	}
	err := r.rules.Validate(sub.value)
	if err != nil {
		m.Invalid = true
		metrics.MissingMoves.WithLabelValues(r.gameType.ID, "invalid").Inc()
	}
	*moves = append(*moves, m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRuleViolation, err)
	}
	return nil
}

// drain turns away submissions that arrived after the round closed.
func (r *runner) drain() {
	for {
		select {
		case sub := <-r.submissions:
			sub.reply <- ErrRoundClosed
		default:
			return
		}
	}
}

// record folds a resolved round into the runner and the shared match.
func (r *runner) record(next *games.State, outcome *games.Outcome, moves []games.Move) *models.RoundResult {
	records := make([]models.MoveRecord, 0, len(moves))
	for _, m := range moves {
		records = append(records, models.MoveRecord{
			BotID:       m.BotID,
			Value:       m.Value,
			Missing:     m.Missing,
			Invalid:     m.Invalid,
			SubmittedAt: m.SubmittedAt,
		})
		if m.Missing {
			r.missed[m.BotID]++
		} else {
			r.missed[m.BotID] = 0
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	result := &models.RoundResult{
		Seq:        len(r.match.Rounds) + 1,
		Round:      next.Round,
		Moves:      records,
		Outcome:    outcome.Summary,
		Eliminated: slices.Clone(outcome.Eliminated),
		Active:     slices.Clone(next.Active),
		Replay:     outcome.Replay,
		ResolvedAt: r.o.cfg.Clock.Now(),
	}
	r.state = next
	r.match.Round = next.Round
	r.match.Active = slices.Clone(next.Active)
	r.match.Eliminated = slices.Clone(next.Eliminated)
	r.match.Scores = scoresOf(next)
	r.match.Rounds = append(r.match.Rounds, *result)

	kind := "decided"
	if outcome.Replay {
		kind = "replay"
	}
	metrics.RoundsTotal.WithLabelValues(r.gameType.ID, kind).Inc()
	return result
}

// viable reports whether enough active bots are still connected. A bot is
// disconnected after MaxMissedRounds missing moves in a row.
func (r *runner) viable() bool {
	connected := 0
	for _, id := range r.state.Active {
		if r.missed[id] < r.o.cfg.MaxMissedRounds {
			connected++
		}
	}
	return connected >= r.gameType.MinViable
}

func (r *runner) finalizeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), finalizeTimeout)
}

func (r *runner) finishCompleted() {
	ctx, cancel := r.finalizeContext()
	defer cancel()

	ratings := make(map[string]float64, len(r.participants))
	for _, id := range r.participants {
		var bot *models.Bot
		err := r.o.persist(ctx, "get_bot", func(ctx context.Context) error {
			var err error
			bot, err = r.o.cfg.Store.GetBot(ctx, id)
			return err
		})
		if err != nil {
			r.finishAborted(AbortPersistence)
			return
		}
		ratings[id] = bot.Rating
	}

	placements := r.rules.RankFinal(r.state)
	final := r.snapshot()
	final.Status = models.MatchStatusCompleted
	final.Standings = standingsFor(r.gameType, placements, ratings, r.o.cfg.RatingK)
	final.EndedAt = r.o.cfg.Clock.Now()

	err := r.o.persist(ctx, "record_result", func(ctx context.Context) error {
		return r.o.cfg.Store.RecordResult(ctx, final)
	})
	if err != nil {
		r.finishAborted(AbortPersistence)
		return
	}

	r.mu.Lock()
	r.match.Status = final.Status
	r.match.Standings = final.Standings
	r.match.EndedAt = final.EndedAt
	r.mu.Unlock()

	winner, _ := final.Winner()
	log.Info().Str("matchId", final.ID).Str("gameType", final.GameTypeID).Str("winner", winner).Int("rounds", final.Round).Msg("orchestrator: match completed")
	r.close(ctx, final, broadcast.EventMatchCompleted)
}

// finishAborted ends the match without a result. Nothing touches ratings or
// leaderboards on this path.
func (r *runner) finishAborted(reason string) {
	ctx, cancel := r.finalizeContext()
	defer cancel()

	r.mu.Lock()
	if !r.match.Status.CanTransition(models.MatchStatusAborted) {
		r.mu.Unlock()
		return
	}
	r.match.Status = models.MatchStatusAborted
	r.match.AbortReason = reason
	r.match.EndedAt = r.o.cfg.Clock.Now()
	final := r.match.Clone()
	r.mu.Unlock()

	if err := r.o.persist(ctx, "save_match", func(ctx context.Context) error {
		return r.o.cfg.Store.SaveMatch(ctx, final)
	}); err != nil {
		log.Error().Err(err).Str("matchId", final.ID).Msg("orchestrator: aborted match record not saved")
	}
	log.Warn().Str("matchId", final.ID).Str("gameType", final.GameTypeID).Str("reason", reason).Int("round", final.Round).Msg("orchestrator: match aborted")
	r.close(ctx, final, broadcast.EventMatchAborted)
}

// close frees the participants and publishes the terminal snapshot.
func (r *runner) close(ctx context.Context, final *models.Match, t broadcast.EventType) {
	if err := r.o.persist(ctx, "clear_current_match", func(ctx context.Context) error {
		return r.o.cfg.Store.SetCurrentMatch(ctx, r.participants, "")
	}); err != nil {
		log.Error().Err(err).Str("matchId", final.ID).Msg("orchestrator: current match pointers not cleared")
	}
	r.o.cfg.Queue.Release(final.ID, r.participants)
	r.o.remove(final.ID)
	r.cancel()
	close(r.done)

	metrics.MatchesTotal.WithLabelValues(final.GameTypeID, string(final.Status)).Inc()
	if r.started {
		metrics.LiveMatches.WithLabelValues(final.GameTypeID).Dec()
		metrics.MatchDuration.WithLabelValues(final.GameTypeID).Observe(final.EndedAt.Sub(final.StartedAt).Seconds())
	}
	r.o.cfg.Hub.Publish(broadcast.Event{
		MatchID: final.ID,
		Type:    t,
		Round:   final.Round,
		Match:   final,
		At:      final.EndedAt,
	})
}
