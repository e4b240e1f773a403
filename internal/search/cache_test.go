package search

import (
	"testing"

	"github.com/animegrab/animegrab/internal/domain"
)

func TestResultCacheStoreThenLookupHits(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig(), nil)
	req := Request{Query: "attack on titan", Limit: 10}
	res := Result{Items: []domain.AnimeResult{{Title: "Attack on Titan"}}, TotalItems: 1}

	c.Store(t.Context(), req, res)

	got, found, needsRefresh := c.Lookup(t.Context(), req)
	if !found {
		t.Fatalf("expected cache hit after store")
	}
	if needsRefresh {
		t.Fatalf("fresh entry should not need a refresh")
	}
	if len(got.Items) != 1 || got.Items[0].Title != "Attack on Titan" {
		t.Fatalf("unexpected cached result: %+v", got)
	}
}

func TestResultCacheMissForUnknownKey(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig(), nil)
	_, found, _ := c.Lookup(t.Context(), Request{Query: "never searched"})
	if found {
		t.Fatalf("expected miss for a query never stored")
	}
}

func TestResultCacheKeyDistinguishesSources(t *testing.T) {
	a := cacheKey(Request{Query: "naruto", Sources: []string{"sampleindex"}})
	b := cacheKey(Request{Query: "naruto", Sources: []string{"apivault"}})
	if a == b {
		t.Fatalf("expected different source filters to produce different cache keys")
	}
}
