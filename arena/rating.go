package arena

import (
	"math"
	"sort"

	"bot-arena/games"
	"bot-arena/models"
)

const DefaultRatingK = 32.0

// eloDeltas scores every pair of bots as a head-to-head result decided by
// final rank and averages the pairwise Elo changes per bot.
func eloDeltas(placements []games.Placement, ratings map[string]float64, k float64) map[string]float64 {
	deltas := make(map[string]float64, len(placements))
	n := len(placements)
	if n < 2 {
		return deltas
	}
	for i, a := range placements {
		var sum float64
		for j, b := range placements {
			if i == j {
				continue
			}
			score := 0.5
			switch {
			case a.Rank < b.Rank:
				score = 1
			case a.Rank > b.Rank:
				score = 0
			}
			expected := 1 / (1 + math.Pow(10, (ratings[b.BotID]-ratings[a.BotID])/400))
			sum += score - expected
		}
		deltas[a.BotID] = math.Round(k*sum/float64(n-1)*100) / 100
	}
	return deltas
}

// prizes splits the pool by rank. Bots sharing a rank share the shares of
// the positions they occupy.
func prizes(gt games.GameType, placements []games.Placement) map[string]int64 {
	out := make(map[string]int64, len(placements))
	if !gt.HasPrizePool() {
		return out
	}
	byRank := map[int][]string{}
	for _, p := range placements {
		byRank[p.Rank] = append(byRank[p.Rank], p.BotID)
	}
	for rank, ids := range byRank {
		pct := 0
		for pos := rank - 1; pos < rank-1+len(ids) && pos < len(gt.PrizeSplit); pos++ {
			pct += gt.PrizeSplit[pos]
		}
		each := gt.PrizePool * int64(pct) / 100 / int64(len(ids))
		for _, id := range ids {
			out[id] = each
		}
	}
	return out
}

// standingsFor combines placements with prizes and rating changes, ordered
// by rank then seat.
func standingsFor(gt games.GameType, placements []games.Placement, ratings map[string]float64, k float64) []models.Standing {
	deltas := eloDeltas(placements, ratings, k)
	pay := prizes(gt, placements)
	out := make([]models.Standing, 0, len(placements))
	for _, p := range placements {
		out = append(out, models.Standing{
			BotID:       p.BotID,
			Rank:        p.Rank,
			Prize:       pay[p.BotID],
			RatingDelta: deltas[p.BotID],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}
