package sampleindex

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/animegrab/animegrab/internal/domain"
)

// newFixtureServer serves a single-page search result and a 25-episode
// listing (every 10th filler) for "Attack on Titan", plus a server/source
// API walk resolving to a direct HTTP stream.
func newFixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `<html><body></body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<div class="result-item" data-anime-id="aot-1">
				<div class="title"><a href="/anime/attack-on-titan">Attack on Titan</a></div>
				<div class="episode-count">25</div>
				<div class="rating">9.0</div>
				<div class="year">2013</div>
				<div class="status">completed</div>
				<div class="description">Humanity fights for survival against titans.</div>
				<img src="/img/aot.jpg">
			</div>
		</body></html>`)
	})

	mux.HandleFunc("/anime/attack-on-titan", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div data-anime-id="aot-1"></div></body></html>`)
	})

	mux.HandleFunc("/anime-episodes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") != "aot-1" {
			http.NotFound(w, r)
			return
		}
		var sb strings.Builder
		sb.WriteString("<html><body>")
		for n := 1; n <= 25; n++ {
			class := "episode-item"
			if n%10 == 0 {
				class += " filler"
			}
			fmt.Fprintf(&sb, `<div class="%s" data-episode-number="%d">
				<a href="/episode/%d">link</a>
				<div class="episode-title">Episode %d</div>
			</div>`, class, n, n, n)
		}
		sb.WriteString("</body></html>")
		fmt.Fprint(w, sb.String())
	})

	mux.HandleFunc("/api/servers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"servers":[{"id":"vidstream","name":"VidStream"}]}`)
	})

	mux.HandleFunc("/api/sources", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"sources":{"1080p":"/stream/episode-5.mp4","480p":"/stream/episode-5-sd.mp4"}}`)
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return httptest.NewServer(mux)
}

func newTestPlugin(t *testing.T, baseURL string) *Plugin {
	t.Helper()
	p, err := New(map[string]string{
		"base_url": baseURL,
		"label":    "Sample Source",
		"name":     "sampleindex",
	})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	return p.(*Plugin)
}

func TestNewRejectsMissingBaseURL(t *testing.T) {
	if _, err := New(map[string]string{}); err == nil {
		t.Fatalf("expected ConfigurationError for missing base_url")
	}
}

func TestNewRejectsNonAbsoluteBaseURL(t *testing.T) {
	if _, err := New(map[string]string{"base_url": "example.com"}); err == nil {
		t.Fatalf("expected ConfigurationError for non-absolute base_url")
	}
}

func TestSearchReturnsSampleAttackOnTitanResult(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	results, err := p.Search(t.Context(), "Attack on Titan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d: %+v", len(results), results)
	}
	r := results[0]
	if r.Title != "Attack on Titan" {
		t.Fatalf("unexpected title: %q", r.Title)
	}
	if r.Source != "Sample Source" {
		t.Fatalf("unexpected source: %q", r.Source)
	}
	if r.EpisodeCount != 25 {
		t.Fatalf("unexpected episode count: %d", r.EpisodeCount)
	}
	if r.Rating != 9.0 {
		t.Fatalf("unexpected rating: %v", r.Rating)
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	if _, err := p.Search(t.Context(), "   "); err == nil {
		t.Fatalf("expected SearchError for empty query")
	}
}

func TestEpisodesReturns25WithFillerEveryTenth(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	episodes, err := p.Episodes(t.Context(), srv.URL+"/anime/attack-on-titan")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(episodes) != 25 {
		t.Fatalf("expected 25 episodes, got %d", len(episodes))
	}

	for i, ep := range episodes {
		wantNumber := i + 1
		if ep.Number != wantNumber {
			t.Fatalf("episode %d: expected number %d, got %d", i, wantNumber, ep.Number)
		}
		wantFiller := wantNumber%10 == 0
		if ep.Filler != wantFiller {
			t.Fatalf("episode %d: expected filler=%v, got %v", wantNumber, wantFiller, ep.Filler)
		}
		want := []domain.Quality{domain.QualityHigh, domain.QualityMedium, domain.QualityLow}
		if len(ep.QualityOptions) != len(want) {
			t.Fatalf("episode %d: unexpected quality options %+v", wantNumber, ep.QualityOptions)
		}
		for j := range want {
			if ep.QualityOptions[j] != want[j] {
				t.Fatalf("episode %d: unexpected quality options %+v", wantNumber, ep.QualityOptions)
			}
		}
	}
}

func TestResolveStreamPicksClosestNotExceedingQuality(t *testing.T) {
	srv := newFixtureServer(t)
	defer srv.Close()
	p := newTestPlugin(t, srv.URL)

	url, headers, err := p.ResolveStream(t.Context(), srv.URL+"/episode/5", domain.QualityHigh)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(url, "/stream/episode-5.mp4") {
		t.Fatalf("expected the 1080p stream for HIGH quality, got %q", url)
	}
	if headers["Referer"] != srv.URL+"/" {
		t.Fatalf("expected referer header, got %+v", headers)
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
