package apivault

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animegrab/animegrab/internal/domain"
)

func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/api", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("query")
		switch {
		case strings.Contains(query, "shows(search"):
			fmt.Fprint(w, `{"data":{"shows":{"edges":[
				{"_id":"aot-1","name":"Attack on Titan","availableEpisodes":{"sub":25,"dub":13}}
			]}}}`)
		case strings.Contains(query, "availableEpisodesDetail"):
			fmt.Fprint(w, `{"data":{"show":{"_id":"aot-1","availableEpisodesDetail":{
				"sub":["1","2","3"],
				"dub":["1","2"]
			}}}}`)
		case strings.Contains(query, "sourceUrls"):
			fmt.Fprint(w, `{"data":{"episode":{"sourceUrls":[
				{"sourceName":"1080p","sourceUrl":"https://cdn.example/ep1-1080.mp4"},
				{"sourceName":"480p","sourceUrl":"https://cdn.example/ep1-480.mp4"}
			]}}}`)
		default:
			http.Error(w, "unrecognized query", http.StatusBadRequest)
		}
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func newTestPlugin(t *testing.T, baseURL string) *Plugin {
	t.Helper()
	p, err := New(map[string]string{"base_url": baseURL, "label": "API Vault"})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	return p.(*Plugin)
}

func TestNewRejectsBadTrack(t *testing.T) {
	if _, err := New(map[string]string{"base_url": "https://vault.example", "track": "both"}); err == nil {
		t.Fatalf("expected ConfigurationError for an invalid track")
	}
}

func TestSearchReturnsSubEpisodeCountByDefault(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	results, err := p.Search(t.Context(), "Attack on Titan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].EpisodeCount != 25 {
		t.Fatalf("expected sub episode count 25, got %d", results[0].EpisodeCount)
	}
	if results[0].Source != "API Vault" {
		t.Fatalf("unexpected source: %q", results[0].Source)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	if _, err := p.Search(t.Context(), ""); err == nil {
		t.Fatalf("expected SearchError for empty query")
	}
}

func TestEpisodesUsesDubCountWhenTrackIsDub(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p, err := New(map[string]string{"base_url": srv.URL, "track": "dub"})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	plug := p.(*Plugin)

	animeURL := plug.showURL("aot-1")
	episodes, err := plug.Episodes(t.Context(), animeURL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(episodes) != 2 {
		t.Fatalf("expected 2 dub episodes, got %d", len(episodes))
	}
	if episodes[0].Number != 1 || episodes[1].Number != 2 {
		t.Fatalf("expected ascending episode numbers, got %+v", episodes)
	}
}

func TestEpisodesRejectsUnrecognizedURL(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	if _, err := p.Episodes(t.Context(), "https://unrelated.example/x"); err == nil {
		t.Fatalf("expected PluginError for an unrecognized anime URL")
	}
}

func TestResolveStreamPicksClosestNotExceedingQuality(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	episodeURL := p.episodeURL("aot-1", "1")
	url, headers, err := p.ResolveStream(t.Context(), episodeURL, domain.QualityMedium)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.example/ep1-480.mp4" {
		t.Fatalf("expected fallback to the 480p source for MEDIUM request, got %q", url)
	}
	if headers["Referer"] == "" {
		t.Fatalf("expected a referer header")
	}
}

func TestValidateConnection(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	if !p.ValidateConnection(t.Context()) {
		t.Fatalf("expected ValidateConnection to succeed against the fixture server")
	}
}
