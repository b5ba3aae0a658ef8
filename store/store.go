package store

import (
	"context"
	"slices"
	"sort"

	"bot-arena/models"
)

// StoreError is the error type returned by Store implementations.
type StoreError string

func (e StoreError) Error() string {
	return string(e)
}

const (
	ErrNotFound  StoreError = "record not found"
	ErrNameTaken StoreError = "bot name already taken"
	ErrNilConfig StoreError = "config cannot be nil"
	ErrNilClient StoreError = "redis client cannot be nil"
)

// Store is the persistence contract the arena core depends on. Writes for a
// record are visible to a subsequent read of the same record.
type Store interface {
	Ping(ctx context.Context) error

	GetBot(ctx context.Context, id string) (*models.Bot, error)
	GetBotByName(ctx context.Context, name string) (*models.Bot, error)
	// CreateBot fails with ErrNameTaken when the display name is in use.
	CreateBot(ctx context.Context, bot *models.Bot) error
	// SetCurrentMatch points every listed bot at matchID; an empty matchID frees them.
	SetCurrentMatch(ctx context.Context, botIDs []string, matchID string) error

	GetMatch(ctx context.Context, id string) (*models.Match, error)
	GetLiveMatches(ctx context.Context) ([]*models.Match, error)
	GetRecentMatches(ctx context.Context, limit int) ([]*models.Match, error)
	SaveMatch(ctx context.Context, m *models.Match) error
	// SaveRound is idempotent per (match, seq) so that retries are safe.
	SaveRound(ctx context.Context, matchID string, r *models.RoundResult) error
	// RecordResult persists a completed match and applies its standings to
	// bot statistics and leaderboards. Terminal match records are final:
	// RecordResult and SaveMatch on one are no-ops, which makes both safe
	// to retry.
	RecordResult(ctx context.Context, m *models.Match) error

	GetGlobalLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	GetGameLeaderboard(ctx context.Context, gameTypeID string, limit int) ([]models.LeaderboardEntry, error)
}

// applyStanding folds one standing of a completed match into a bot.
func applyStanding(bot *models.Bot, gameTypeID, matchID string, s models.Standing) {
	bot.Rating += s.RatingDelta
	bot.MatchesPlayed++
	if bot.GameStats == nil {
		bot.GameStats = map[string]models.GameStat{}
	}
	gs := bot.GameStats[gameTypeID]
	gs.Played++
	if s.Rank == 1 {
		bot.Wins++
		gs.Wins++
	} else {
		bot.Losses++
	}
	bot.GameStats[gameTypeID] = gs
	if bot.CurrentMatchID == matchID {
		bot.CurrentMatchID = ""
	}
}

// upsertRound places r into rounds by sequence number.
func upsertRound(rounds []models.RoundResult, r *models.RoundResult) []models.RoundResult {
	i, found := slices.BinarySearchFunc(rounds, r.Seq, func(e models.RoundResult, seq int) int {
		return e.Seq - seq
	})
	if found {
		rounds[i] = *r.Clone()
		return rounds
	}
	return slices.Insert(rounds, i, *r.Clone())
}

func rankEntries(entries []models.LeaderboardEntry, limit int) []models.LeaderboardEntry {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		if entries[i].Rating != entries[j].Rating {
			return entries[i].Rating > entries[j].Rating
		}
		return entries[i].BotID < entries[j].BotID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}
