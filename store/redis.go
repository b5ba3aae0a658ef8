package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"bot-arena/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	botKeyPrefix         = "bot:"
	botNameKeyPrefix     = "bot_name:"
	matchKeyPrefix       = "match:"
	matchRoundsKeyPrefix = "match_rounds:"
	liveMatchesKey       = "matches:live"
	recentMatchesKey     = "matches:recent"
	globalBoardKey       = "leaderboard:global"
	gameBoardKeyPrefix   = "leaderboard:game:"
)

// RedisConfig holds configuration for the Redis store.
type RedisConfig struct {
	RedisClient *redis.Client
	// RecentCap bounds the recent-matches list. Defaults to 100.
	RecentCap int
}

// Redis is a Store backed by Redis. Bots and matches are JSON strings,
// rounds live in a hash keyed by sequence number, leaderboards are sorted
// sets.
type Redis struct {
	client    *redis.Client
	recentCap int
}

func NewRedis(cfg *RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.RedisClient == nil {
		return nil, ErrNilClient
	}
	if err := cfg.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	capN := cfg.RecentCap
	if capN <= 0 {
		capN = defaultRecentCap
	}
	return &Redis{client: cfg.RedisClient, recentCap: capN}, nil
}

func botKey(id string) string { return botKeyPrefix + id }
func botNameKey(name string) string { return botNameKeyPrefix + strings.ToLower(name) }
func matchKey(id string) string { return matchKeyPrefix + id }
func matchRoundsKey(id string) string { return matchRoundsKeyPrefix + id }
func gameBoardKey(gameID string) string { return gameBoardKeyPrefix + gameID }

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) GetBot(ctx context.Context, id string) (*models.Bot, error) {
	raw, err := r.client.Get(ctx, botKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	var bot models.Bot
	if err := json.Unmarshal([]byte(raw), &bot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bot: %w", err)
	}
	return &bot, nil
}

func (r *Redis) GetBotByName(ctx context.Context, name string) (*models.Bot, error) {
	id, err := r.client.Get(ctx, botNameKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve bot name: %w", err)
	}
	return r.GetBot(ctx, id)
}

func (r *Redis) CreateBot(ctx context.Context, bot *models.Bot) error {
	if bot == nil || bot.ID == "" {
		return errors.New("bot and bot ID cannot be empty")
	}
	claimed, err := r.client.SetNX(ctx, botNameKey(bot.Name), bot.ID, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to claim bot name: %w", err)
	}
	if !claimed {
		return ErrNameTaken
	}
	raw, err := json.Marshal(bot)
	if err != nil {
		return fmt.Errorf("failed to marshal bot: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, botKey(bot.ID), raw, 0)
		pipe.ZAdd(ctx, globalBoardKey, redis.Z{Score: bot.Rating, Member: bot.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save bot: %w", err)
	}
	return nil
}

func (r *Redis) getBots(ctx context.Context, ids []string) (map[string]*models.Bot, error) {
	out := make(map[string]*models.Bot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = botKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bots: %w", err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("bot %s: %w", ids[i], ErrNotFound)
		}
		var bot models.Bot
		if err := json.Unmarshal([]byte(s), &bot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bot %s: %w", ids[i], err)
		}
		out[ids[i]] = &bot
	}
	return out, nil
}

func (r *Redis) SetCurrentMatch(ctx context.Context, botIDs []string, matchID string) error {
	bots, err := r.getBots(ctx, botIDs)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range botIDs {
			bot := bots[id]
			bot.CurrentMatchID = matchID
			raw, err := json.Marshal(bot)
			if err != nil {
				return fmt.Errorf("failed to marshal bot: %w", err)
			}
			pipe.Set(ctx, botKey(id), raw, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set current match: %w", err)
	}
	return nil
}

func (r *Redis) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	raw, err := r.client.Get(ctx, matchKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}
	var match models.Match
	if err := json.Unmarshal([]byte(raw), &match); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	rounds, err := r.client.HGetAll(ctx, matchRoundsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get match rounds: %w", err)
	}
	match.Rounds = make([]models.RoundResult, 0, len(rounds))
	for _, v := range rounds {
		var rr models.RoundResult
		if err := json.Unmarshal([]byte(v), &rr); err != nil {
			return nil, fmt.Errorf("failed to unmarshal round: %w", err)
		}
		match.Rounds = append(match.Rounds, rr)
	}
	sort.Slice(match.Rounds, func(i, j int) bool {
		return match.Rounds[i].Seq < match.Rounds[j].Seq
	})
	return &match, nil
}

func (r *Redis) getMatches(ctx context.Context, ids []string) ([]*models.Match, error) {
	out := make([]*models.Match, 0, len(ids))
	for _, id := range ids {
		m, err := r.GetMatch(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *Redis) GetLiveMatches(ctx context.Context) ([]*models.Match, error) {
	ids, err := r.client.SMembers(ctx, liveMatchesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live matches: %w", err)
	}
	out, err := r.getMatches(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Redis) GetRecentMatches(ctx context.Context, limit int) ([]*models.Match, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.LRange(ctx, recentMatchesKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list recent matches: %w", err)
	}
	return r.getMatches(ctx, ids)
}

// queueMatch adds the writes for a match record to pipe. Rounds are split out
// into their hash so SaveRound retries never rewrite the whole record. The
// caller has checked that the stored record is not already terminal.
func (r *Redis) queueMatch(ctx context.Context, pipe redis.Pipeliner, m *models.Match) error {
	stripped := m.Clone()
	stripped.Rounds = nil
	raw, err := json.Marshal(stripped)
	if err != nil {
		return fmt.Errorf("failed to marshal match: %w", err)
	}
	pipe.Set(ctx, matchKey(m.ID), raw, 0)
	for i := range m.Rounds {
		rr, err := json.Marshal(&m.Rounds[i])
		if err != nil {
			return fmt.Errorf("failed to marshal round: %w", err)
		}
		pipe.HSet(ctx, matchRoundsKey(m.ID), strconv.Itoa(m.Rounds[i].Seq), rr)
	}
	if !m.Status.Terminal() {
		pipe.SAdd(ctx, liveMatchesKey, m.ID)
		return nil
	}
	pipe.SRem(ctx, liveMatchesKey, m.ID)
	pipe.LPush(ctx, recentMatchesKey, m.ID)
	pipe.LTrim(ctx, recentMatchesKey, 0, int64(r.recentCap-1))
	return nil
}

func (r *Redis) storedTerminal(ctx context.Context, id string) (bool, error) {
	prev, err := r.GetMatch(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return prev.Status.Terminal(), nil
}

func (r *Redis) SaveMatch(ctx context.Context, m *models.Match) error {
	wasTerminal, err := r.storedTerminal(ctx, m.ID)
	if err != nil {
		return err
	}
	if wasTerminal {
		log.Debug().Str("matchId", m.ID).Msg("redis: match already final; save skipped")
		return nil
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return r.queueMatch(ctx, pipe, m)
	})
	if err != nil {
		return fmt.Errorf("failed to save match: %w", err)
	}
	return nil
}

func (r *Redis) SaveRound(ctx context.Context, matchID string, rr *models.RoundResult) error {
	exists, err := r.client.Exists(ctx, matchKey(matchID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check match: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	raw, err := json.Marshal(rr)
	if err != nil {
		return fmt.Errorf("failed to marshal round: %w", err)
	}
	if err := r.client.HSet(ctx, matchRoundsKey(matchID), strconv.Itoa(rr.Seq), raw).Err(); err != nil {
		return fmt.Errorf("failed to save round: %w", err)
	}
	return nil
}

// RecordResult reads every ranked bot, applies its standing and commits bots,
// leaderboards and the match in one MULTI/EXEC. Bots in a match have a single
// writer, so the read-then-write needs no WATCH. A match already final in
// storage is left alone, so a retry after a lost EXEC reply applies nothing.
func (r *Redis) RecordResult(ctx context.Context, m *models.Match) error {
	wasTerminal, err := r.storedTerminal(ctx, m.ID)
	if err != nil {
		return err
	}
	if wasTerminal {
		log.Debug().Str("matchId", m.ID).Msg("redis: result already recorded")
		return nil
	}
	ids := make([]string, len(m.Standings))
	for i, s := range m.Standings {
		ids[i] = s.BotID
	}
	bots, err := r.getBots(ctx, ids)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, s := range m.Standings {
			bot := bots[s.BotID]
			applyStanding(bot, m.GameTypeID, m.ID, s)
			raw, err := json.Marshal(bot)
			if err != nil {
				return fmt.Errorf("failed to marshal bot: %w", err)
			}
			pipe.Set(ctx, botKey(bot.ID), raw, 0)
			pipe.ZAdd(ctx, globalBoardKey, redis.Z{Score: bot.Rating, Member: bot.ID})
			win := 0.0
			if s.Rank == 1 {
				win = 1
			}
			pipe.ZIncrBy(ctx, gameBoardKey(m.GameTypeID), win, bot.ID)
		}
		return r.queueMatch(ctx, pipe, m)
	})
	if err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	return nil
}

func (r *Redis) board(ctx context.Context, key string, limit int, perGame string) ([]models.LeaderboardEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	zs, err := r.client.ZRevRangeWithScores(ctx, key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	ids := make([]string, 0, len(zs))
	for _, z := range zs {
		ids = append(ids, z.Member.(string))
	}
	bots, err := r.getBots(ctx, ids)
	if err != nil {
		return nil, err
	}
	entries := make([]models.LeaderboardEntry, 0, len(zs))
	for i, z := range zs {
		e := entryFor(bots[ids[i]], z.Score)
		if perGame != "" {
			gs := bots[ids[i]].GameStats[perGame]
			e.Wins, e.MatchesPlayed = gs.Wins, gs.Played
		}
		entries = append(entries, e)
	}
	return rankEntries(entries, limit), nil
}

func (r *Redis) GetGlobalLeaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	return r.board(ctx, globalBoardKey, limit, "")
}

func (r *Redis) GetGameLeaderboard(ctx context.Context, gameTypeID string, limit int) ([]models.LeaderboardEntry, error) {
	return r.board(ctx, gameBoardKey(gameTypeID), limit, gameTypeID)
}
