package search

import "github.com/animegrab/animegrab/internal/domain"

// Dedup collapses results with equal NormalizedTitleKey into one, keeping
// the survivor with the highest (rating, episode_count, description_length)
// tuple. Idempotent: Dedup(Dedup(r)) == Dedup(r).
func Dedup(results []domain.AnimeResult) []domain.AnimeResult {
	bestByKey := make(map[string]domain.AnimeResult, len(results))
	order := make([]string, 0, len(results))

	for _, r := range results {
		key := NormalizedTitleKey(r.Title)
		existing, ok := bestByKey[key]
		if !ok {
			bestByKey[key] = r
			order = append(order, key)
			continue
		}
		if survives(r, existing) {
			bestByKey[key] = r
		}
	}

	out := make([]domain.AnimeResult, 0, len(order))
	for _, key := range order {
		out = append(out, bestByKey[key])
	}
	return out
}

// survives reports whether candidate should replace current as the survivor
// for their shared dedup key.
func survives(candidate, current domain.AnimeResult) bool {
	if candidate.Rating != current.Rating {
		return candidate.Rating > current.Rating
	}
	if candidate.EpisodeCount != current.EpisodeCount {
		return candidate.EpisodeCount > current.EpisodeCount
	}
	return len(candidate.Description) > len(current.Description)
}
