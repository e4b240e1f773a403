package search

import (
	"testing"

	"github.com/animegrab/animegrab/internal/domain"
)

func TestDedupKeepsHighestRatedSurvivor(t *testing.T) {
	results := []domain.AnimeResult{
		{Title: "Attack on Titan", Rating: 8.5, EpisodeCount: 25, Source: "sampleindex"},
		{Title: "attack on titan!", Rating: 9.0, EpisodeCount: 25, Source: "apivault"},
	}
	out := Dedup(results)
	if len(out) != 1 {
		t.Fatalf("expected 1 result after dedup, got %d", len(out))
	}
	if out[0].Rating != 9.0 {
		t.Fatalf("expected surviving result to have rating 9.0, got %v", out[0].Rating)
	}
}

func TestDedupIsIdempotent(t *testing.T) {
	results := []domain.AnimeResult{
		{Title: "Death Note", Rating: 8.6, EpisodeCount: 37},
		{Title: "death note", Rating: 8.6, EpisodeCount: 37, Description: "longer description here"},
		{Title: "Fullmetal Alchemist", Rating: 9.1, EpisodeCount: 64},
	}
	once := Dedup(results)
	twice := Dedup(once)
	if len(once) != len(twice) {
		t.Fatalf("expected Dedup to be idempotent, got %d then %d", len(once), len(twice))
	}
}

func TestDedupBreaksTiesByDescriptionLength(t *testing.T) {
	results := []domain.AnimeResult{
		{Title: "Naruto", Rating: 8.0, EpisodeCount: 220, Description: "short"},
		{Title: "Naruto", Rating: 8.0, EpisodeCount: 220, Description: "a much longer description"},
	}
	out := Dedup(results)
	if len(out) != 1 || out[0].Description != "a much longer description" {
		t.Fatalf("expected the longer-description survivor, got %+v", out)
	}
}
