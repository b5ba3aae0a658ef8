package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bot-arena/models"
)

const defaultRecentCap = 100

// Memory is a process-local Store. It backs tests and single-node runs
// without Redis.
type Memory struct {
	mu      sync.RWMutex
	bots    map[string]*models.Bot
	names   map[string]string
	matches map[string]*models.Match
	// recent holds terminal match ids, newest first.
	recent    []string
	recentCap int
}

func NewMemory() *Memory {
	return &Memory{
		bots:      make(map[string]*models.Bot),
		names:     make(map[string]string),
		matches:   make(map[string]*models.Match),
		recentCap: defaultRecentCap,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) GetBot(_ context.Context, id string) (*models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b.Clone(), nil
}

func (m *Memory) GetBotByName(ctx context.Context, name string) (*models.Bot, error) {
	m.mu.RLock()
	id, ok := m.names[strings.ToLower(name)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetBot(ctx, id)
}

func (m *Memory) CreateBot(_ context.Context, bot *models.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(bot.Name)
	if _, taken := m.names[key]; taken {
		return ErrNameTaken
	}
	m.bots[bot.ID] = bot.Clone()
	m.names[key] = bot.ID
	return nil
}

func (m *Memory) SetCurrentMatch(_ context.Context, botIDs []string, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range botIDs {
		if _, ok := m.bots[id]; !ok {
			return ErrNotFound
		}
	}
	for _, id := range botIDs {
		m.bots[id].CurrentMatchID = matchID
	}
	return nil
}

func (m *Memory) GetMatch(_ context.Context, id string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return match.Clone(), nil
}

func (m *Memory) GetLiveMatches(context.Context) ([]*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Match
	for _, match := range m.matches {
		if !match.Status.Terminal() {
			out = append(out, match.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetRecentMatches(_ context.Context, limit int) ([]*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.recent
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*models.Match, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.matches[id].Clone())
	}
	return out, nil
}

func (m *Memory) SaveMatch(_ context.Context, match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveMatchLocked(match)
	return nil
}

// saveMatchLocked leaves a record that is already terminal untouched.
func (m *Memory) saveMatchLocked(match *models.Match) {
	prev, existed := m.matches[match.ID]
	if existed && prev.Status.Terminal() {
		return
	}
	next := match.Clone()
	if existed {
		// rounds written through SaveRound survive a record without them
		merged := prev.Clone().Rounds
		for i := range match.Rounds {
			merged = upsertRound(merged, &match.Rounds[i])
		}
		next.Rounds = merged
	}
	m.matches[match.ID] = next
	if match.Status.Terminal() {
		m.recent = append([]string{match.ID}, m.recent...)
		if len(m.recent) > m.recentCap {
			m.recent = m.recent[:m.recentCap]
		}
	}
}

func (m *Memory) SaveRound(_ context.Context, matchID string, r *models.RoundResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	match.Rounds = upsertRound(match.Rounds, r)
	return nil
}

func (m *Memory) RecordResult(_ context.Context, match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.matches[match.ID]; ok && prev.Status.Terminal() {
		return nil
	}
	for _, s := range match.Standings {
		if _, ok := m.bots[s.BotID]; !ok {
			return ErrNotFound
		}
	}
	for _, s := range match.Standings {
		applyStanding(m.bots[s.BotID], match.GameTypeID, match.ID, s)
	}
	m.saveMatchLocked(match)
	return nil
}

func (m *Memory) GetGlobalLeaderboard(_ context.Context, limit int) ([]models.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]models.LeaderboardEntry, 0, len(m.bots))
	for _, b := range m.bots {
		entries = append(entries, entryFor(b, b.Rating))
	}
	return rankEntries(entries, limit), nil
}

func (m *Memory) GetGameLeaderboard(_ context.Context, gameTypeID string, limit int) ([]models.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var entries []models.LeaderboardEntry
	for _, b := range m.bots {
		gs, ok := b.GameStats[gameTypeID]
		if !ok || gs.Played == 0 {
			continue
		}
		e := entryFor(b, float64(gs.Wins))
		e.Wins, e.MatchesPlayed = gs.Wins, gs.Played
		entries = append(entries, e)
	}
	return rankEntries(entries, limit), nil
}

func entryFor(b *models.Bot, score float64) models.LeaderboardEntry {
	return models.LeaderboardEntry{
		BotID:         b.ID,
		Name:          b.Name,
		Rating:        b.Rating,
		Wins:          b.Wins,
		MatchesPlayed: b.MatchesPlayed,
		Score:         score,
	}
}
