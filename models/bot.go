package models

import "time"

// GameStat is a bot's record within a single game type.
type GameStat struct {
	Wins   int `json:"wins"`
	Played int `json:"played"`
}

// Bot is a registered autonomous player.
type Bot struct {
	ID            string              `json:"id"`
	Name          string              `json:"name"`
	Rating        float64             `json:"rating"`
	Wins          int                 `json:"wins"`
	Losses        int                 `json:"losses"`
	MatchesPlayed int                 `json:"matchesPlayed"`
	GameStats     map[string]GameStat `json:"gameStats,omitempty"`
	// CurrentMatchID is empty while the bot is free.
	CurrentMatchID string    `json:"currentMatchId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// BotPublic is the outward projection of a bot.
type BotPublic struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Rating        float64 `json:"rating"`
	Wins          int     `json:"wins"`
	MatchesPlayed int     `json:"matchesPlayed"`
	InMatch       bool    `json:"inMatch"`
}

func (b *Bot) Public() BotPublic {
	return BotPublic{
		ID:            b.ID,
		Name:          b.Name,
		Rating:        b.Rating,
		Wins:          b.Wins,
		MatchesPlayed: b.MatchesPlayed,
		InMatch:       b.CurrentMatchID != "",
	}
}

func (b *Bot) Clone() *Bot {
	c := *b
	if b.GameStats != nil {
		c.GameStats = make(map[string]GameStat, len(b.GameStats))
		for k, v := range b.GameStats {
			c.GameStats[k] = v
		}
	}
	return &c
}

// LeaderboardEntry is one row of a global or per-game leaderboard.
type LeaderboardEntry struct {
	Rank          int     `json:"rank"`
	BotID         string  `json:"botId"`
	Name          string  `json:"name"`
	Rating        float64 `json:"rating"`
	Wins          int     `json:"wins"`
	MatchesPlayed int     `json:"matchesPlayed"`
	// Score is the ordering key: rating globally, wins per game type.
	Score float64 `json:"score"`
}

// GameTypeInfo is a read-only snapshot of a game type with its live load.
type GameTypeInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`
	PrizePool   int64  `json:"prizePool"`
	Queued      int    `json:"queued"`
	LiveMatches int    `json:"liveMatches"`
}
