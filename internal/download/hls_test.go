package download

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/progress"
	"github.com/animegrab/animegrab/internal/transport"
)

const segmentSize = 4096

func newHLSFixtureServer(t *testing.T, segmentCount int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=2000000\nmedia.m3u8\n")
	})

	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		var b strings.Builder
		b.WriteString("#EXTM3U\n")
		for i := 0; i < segmentCount; i++ {
			fmt.Fprintf(&b, "#EXTINF:4.0,\nsegment%d.ts\n", i)
		}
		b.WriteString("#EXT-X-ENDLIST\n")
		fmt.Fprint(w, b.String())
	})

	for i := 0; i < segmentCount; i++ {
		mux.HandleFunc(fmt.Sprintf("/segment%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			w.Write(fillBytes(segmentSize, byte('a')))
		})
	}

	return httptest.NewServer(mux)
}

func fillBytes(n int, fill byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestHLSDownloadConcatenatesSegmentsInPlaylistOrder(t *testing.T) {
	const segmentCount = 10
	srv := newHLSFixtureServer(t, segmentCount)
	defer srv.Close()

	client := transport.NewClient(10*time.Second, 0, 0, 10*time.Millisecond)
	defer client.Close()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "episode-1.ts")

	task := &domain.DownloadTask{
		Episode:   domain.Episode{Source: "test", URL: "episode-1"},
		StreamURL: srv.URL + "/master.m3u8",
		Quality:   domain.QualityHigh,
	}

	err := hlsDownload(t.Context(), client, task, outputPath, 4, 2, func(progress.Event) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, statErr := os.Stat(outputPath)
	if statErr != nil {
		t.Fatalf("expected output file: %v", statErr)
	}
	if info.Size() != int64(segmentCount*segmentSize) {
		t.Fatalf("expected output size to equal sum of segment bytes (%d), got %d", segmentCount*segmentSize, info.Size())
	}
}

func TestParseMasterPlaylistExtractsVariants(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=800000\nlow.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=3000000\nhigh.m3u8\n"
	variants := parseMasterPlaylist(body, "https://cdn.example.com/show/master.m3u8")
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants, got %d", len(variants))
	}
	if variants[0].bandwidth != 800000 || variants[1].bandwidth != 3000000 {
		t.Fatalf("unexpected bandwidth values: %+v", variants)
	}
	if variants[0].url != "https://cdn.example.com/show/low.m3u8" {
		t.Fatalf("expected relative URL resolved against base, got %q", variants[0].url)
	}
}

func TestParseMediaPlaylistPreservesOrder(t *testing.T) {
	body := "#EXTM3U\n#EXTINF:4.0,\nseg0.ts\n#EXTINF:4.0,\nseg1.ts\n#EXT-X-ENDLIST\n"
	segments := parseMediaPlaylist(body, "https://cdn.example.com/show/media.m3u8")
	if len(segments) != 2 || segments[0].index != 0 || segments[1].index != 1 {
		t.Fatalf("unexpected segments: %+v", segments)
	}
}

func TestParseMediaPlaylistHonorsByteRangeWithAndWithoutOffset(t *testing.T) {
	body := "#EXTM3U\n" +
		"#EXTINF:4.0,\n#EXT-X-BYTERANGE:1000@500\nsegment.ts\n" +
		"#EXTINF:4.0,\n#EXT-X-BYTERANGE:2000\nsegment.ts\n" +
		"#EXT-X-ENDLIST\n"
	segments := parseMediaPlaylist(body, "https://cdn.example.com/show/media.m3u8")
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].length != 1000 || segments[0].offset != 500 {
		t.Fatalf("unexpected explicit range: %+v", segments[0])
	}
	if segments[1].length != 2000 || segments[1].offset != 1500 {
		t.Fatalf("expected omitted offset to continue from previous range end (1500), got %+v", segments[1])
	}
}

func TestLooksLikeHLSDetectsM3U8(t *testing.T) {
	if !looksLikeHLS("https://cdn.example.com/stream/master.m3u8") {
		t.Fatalf("expected .m3u8 URL to be detected as HLS")
	}
	if looksLikeHLS("https://cdn.example.com/stream/episode-5.mp4") {
		t.Fatalf("expected non-HLS URL to not be detected as HLS")
	}
}
