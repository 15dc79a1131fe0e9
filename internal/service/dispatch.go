package service

import (
	"sort"

	"github.com/lilerp/backend/internal/models"
	"github.com/lilerp/backend/internal/utils"
)

// RankResponders orders responders by dispatch preference: fewest total
// responses first, then fastest average response time, then highest
// community rating. The slice is sorted in place and returned.
func RankResponders(responders []models.Responder) []models.Responder {
	sort.Slice(responders, func(i, j int) bool {
		a, b := responders[i], responders[j]
		if a.TotalResponses != b.TotalResponses {
			return a.TotalResponses < b.TotalResponses
		}
		if a.AvgResponseTimeMins != b.AvgResponseTimeMins {
			return a.AvgResponseTimeMins < b.AvgResponseTimeMins
		}
		if a.CommunityRating != b.CommunityRating {
			return a.CommunityRating > b.CommunityRating
		}
		return a.ID < b.ID
	})
	return responders
}

// PickResponder selects one responder for a call or incident. When the
// incident has coordinates, the geographically nearest responder with a
// known position wins. Otherwise candidates are ranked and ties among the
// equally-ranked leaders are broken by hashing the correlation key, so the
// same call always lands on the same responder.
func PickResponder(responders []models.Responder, key string, lat, lon *float64) models.Responder {
	if lat != nil && lon != nil {
		if nearest, ok := nearestResponder(responders, *lat, *lon); ok {
			return nearest
		}
	}

	ranked := RankResponders(responders)
	tied := 1
	for tied < len(ranked) && sameRank(ranked[0], ranked[tied]) {
		tied++
	}
	if tied == 1 {
		return ranked[0]
	}
	idx := int(utils.HashString(key) % uint64(tied))
	return ranked[idx]
}

func sameRank(a, b models.Responder) bool {
	return a.TotalResponses == b.TotalResponses &&
		a.AvgResponseTimeMins == b.AvgResponseTimeMins &&
		a.CommunityRating == b.CommunityRating
}

func nearestResponder(responders []models.Responder, lat, lon float64) (models.Responder, bool) {
	var best models.Responder
	bestDist := -1.0
	for _, r := range responders {
		if r.Lat == nil || r.Lon == nil {
			continue
		}
		d := utils.HaversineKm(lat, lon, *r.Lat, *r.Lon)
		if bestDist < 0 || d < bestDist {
			best = r
			bestDist = d
		}
	}
	return best, bestDist >= 0
}
