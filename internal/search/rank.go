package search

import (
	"sort"

	"github.com/animegrab/animegrab/internal/domain"
)

// SortBy selects a ranking policy. Relevance is the default: (rating desc,
// description-length desc, episode-count desc) as a stable lexicographic
// tuple.
type SortBy string

const (
	SortRelevance SortBy = "relevance"
	SortRating    SortBy = "rating"
	SortYear      SortBy = "year"
	SortEpisodes  SortBy = "episodes"
	SortTitle     SortBy = "title"
)

// Rank sorts results in place according to policy, stably.
func Rank(results []domain.AnimeResult, policy SortBy) {
	var less func(i, j int) bool
	switch policy {
	case SortRating:
		less = func(i, j int) bool { return results[i].Rating > results[j].Rating }
	case SortYear:
		less = func(i, j int) bool { return results[i].Year > results[j].Year }
	case SortEpisodes:
		less = func(i, j int) bool { return results[i].EpisodeCount > results[j].EpisodeCount }
	case SortTitle:
		less = func(i, j int) bool { return results[i].Title < results[j].Title }
	default: // SortRelevance
		less = func(i, j int) bool {
			a, b := results[i], results[j]
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
			if len(a.Description) != len(b.Description) {
				return len(a.Description) > len(b.Description)
			}
			return a.EpisodeCount > b.EpisodeCount
		}
	}
	sort.SliceStable(results, less)
}

// Paginate truncates results to at most limit entries, skipping the first
// offset.
func Paginate(results []domain.AnimeResult, offset, limit int) []domain.AnimeResult {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return []domain.AnimeResult{}
	}
	end := offset + limit
	if limit <= 0 || end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}
