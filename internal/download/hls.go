package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/progress"
	"github.com/animegrab/animegrab/internal/transport"
)

// variant is one entry from a master playlist's #EXT-X-STREAM-INF tags.
type variant struct {
	bandwidth int
	url       string
}

// segment is one media-playlist entry: a fetchable chunk plus its ordinal
// position so out-of-order fetches can still be appended in playlist order.
// length/offset come from an #EXT-X-BYTERANGE tag; length 0 means the
// segment is the whole resource at url.
type segment struct {
	index  int
	url    string
	length int64
	offset int64
}

// hlsIndicators mirrors the browser package's notion of what counts as an
// HLS manifest, used by the engine to decide routing.
var hlsIndicators = []string{".m3u8"}

func looksLikeHLS(url string) bool {
	lower := strings.ToLower(url)
	for _, ind := range hlsIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// hlsDownload fetches the master playlist at task.StreamURL (or, if it is
// itself a media playlist, treats it as the sole variant), picks the
// variant closest-not-exceeding the requested quality's bitrate proxy,
// fetches every media segment with bounded concurrency, and concatenates
// them into outputPath in playlist order.
func hlsDownload(ctx context.Context, client *transport.Client, task *domain.DownloadTask, outputPath string, maxConcurrency, fragmentRetries int, publish func(progress.Event)) error {
	masterBody, err := client.GetText(ctx, task.StreamURL, task.RequestHeaders)
	if err != nil {
		return err
	}

	mediaPlaylistURL := task.StreamURL
	if variants := parseMasterPlaylist(masterBody, task.StreamURL); len(variants) > 0 {
		mediaPlaylistURL = chooseVariant(variants, task.Quality).url
	}

	mediaBody := masterBody
	if mediaPlaylistURL != task.StreamURL {
		mediaBody, err = client.GetText(ctx, mediaPlaylistURL, task.RequestHeaders)
		if err != nil {
			return err
		}
	}

	segments := parseMediaPlaylist(mediaBody, mediaPlaylistURL)
	if len(segments) == 0 {
		return &domain.PluginError{Reason: "HLS playlist contained no segments"}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return &domain.DownloadError{Path: outputPath, Reason: "failed to create output directory", Err: err}
	}
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &domain.DownloadError{Path: outputPath, Reason: "failed to open output file", Err: err}
	}
	defer func() { _ = out.Close() }()

	concurrency := maxConcurrency
	if concurrency > 4 {
		concurrency = 4
	}
	if concurrency < 1 {
		concurrency = 1
	}

	fetched := make([][]byte, len(segments))
	var mu sync.Mutex
	var downloaded int64
	var firstErr error
	start := time.Now()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, seg := range segments {
		seg := seg
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			data, fetchErr := fetchSegmentWithRetry(ctx, client, seg, task.RequestHeaders, fragmentRetries)

			mu.Lock()
			defer mu.Unlock()
			if fetchErr != nil {
				if firstErr == nil {
					firstErr = fetchErr
				}
				return
			}
			fetched[seg.index] = data
			downloaded += int64(len(data))

			elapsed := time.Since(start).Seconds()
			speed := 0.0
			if elapsed > 0 {
				speed = float64(downloaded) / elapsed
			}
			completedCount := countFetched(fetched)
			estimatedTotal := int64(0)
			if completedCount > 0 {
				estimatedTotal = downloaded * int64(len(segments)) / int64(completedCount)
			}
			task.DownloadedBytes = downloaded
			task.SpeedBytesPerSec = speed
			publish(progress.Event{
				TaskKey:    task.Key(),
				Status:     domain.StatusDownloading,
				Downloaded: downloaded,
				Total:      estimatedTotal,
				SpeedBPS:   speed,
			})
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	for _, data := range fetched {
		if data == nil {
			continue
		}
		if _, err := out.Write(data); err != nil {
			return &domain.DownloadError{Path: outputPath, Reason: "write failed", Err: err}
		}
	}

	return nil
}

func countFetched(fetched [][]byte) int {
	n := 0
	for _, d := range fetched {
		if d != nil {
			n++
		}
	}
	return n
}

func fetchSegmentWithRetry(ctx context.Context, client *transport.Client, seg segment, headers map[string]string, retries int) ([]byte, error) {
	reqHeaders := headers
	if seg.length > 0 {
		reqHeaders = make(map[string]string, len(headers)+1)
		for k, v := range headers {
			reqHeaders[k] = v
		}
		reqHeaders["Range"] = fmt.Sprintf("bytes=%d-%d", seg.offset, seg.offset+seg.length-1)
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		resp, err := client.Stream(ctx, seg.url, reqHeaders)
		if err != nil {
			lastErr = err
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		return data, nil
	}
	return nil, lastErr
}

// parseMasterPlaylist extracts variant streams from #EXT-X-STREAM-INF
// blocks, resolving relative segment URLs against baseURL.
func parseMasterPlaylist(body, baseURL string) []variant {
	var variants []variant
	lines := strings.Split(body, "\n")
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") {
			continue
		}
		bandwidth := extractAttrInt(line, "BANDWIDTH")
		if i+1 >= len(lines) {
			break
		}
		next := strings.TrimSpace(lines[i+1])
		if next == "" || strings.HasPrefix(next, "#") {
			continue
		}
		variants = append(variants, variant{bandwidth: bandwidth, url: resolveURL(baseURL, next)})
	}
	return variants
}

// parseMediaPlaylist extracts segment URLs from #EXTINF entries in playlist
// order, resolving relative URLs against baseURL. An #EXT-X-BYTERANGE tag
// between the #EXTINF and URI lines narrows that segment to a sub-range of
// the resource; per RFC 8216 4.3.2.2, an omitted "@offset" continues from
// the end of the previous byte range.
func parseMediaPlaylist(body, baseURL string) []segment {
	var segments []segment
	lines := strings.Split(body, "\n")
	idx := 0
	var previousEnd int64
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "#EXTINF:") {
			continue
		}

		var length, offset int64
		hasRange := false
		j := i + 1
		for ; j < len(lines); j++ {
			candidate := strings.TrimSpace(lines[j])
			if strings.HasPrefix(candidate, "#EXT-X-BYTERANGE:") {
				length, offset = parseByteRange(candidate, previousEnd)
				hasRange = true
				continue
			}
			if strings.HasPrefix(candidate, "#") {
				continue
			}
			break
		}
		if j >= len(lines) {
			break
		}
		uri := strings.TrimSpace(lines[j])
		if uri == "" {
			continue
		}

		segments = append(segments, segment{index: idx, url: resolveURL(baseURL, uri), length: length, offset: offset})
		idx++
		if hasRange {
			previousEnd = offset + length
		}
	}
	return segments
}

// parseByteRange parses an #EXT-X-BYTERANGE:<n>[@<o>] tag. When the
// "@offset" part is omitted, the range starts where the previous
// byte-range-bearing segment's range ended.
func parseByteRange(tag string, previousEnd int64) (length, offset int64) {
	value := strings.TrimPrefix(tag, "#EXT-X-BYTERANGE:")
	parts := strings.SplitN(value, "@", 2)
	length, _ = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if len(parts) == 2 {
		offset, _ = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		return length, offset
	}
	return length, previousEnd
}

// chooseVariant picks the variant whose bandwidth, used as a bitrate proxy
// for the quality ladder, is closest-not-exceeding the requested quality's
// rung (scaled to a comparable bits-per-second order of magnitude).
func chooseVariant(variants []variant, requested domain.Quality) variant {
	sorted := append([]variant(nil), variants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].bandwidth < sorted[j].bandwidth })

	targetBandwidth := requested.Rung() * 2000
	best := sorted[0]
	for _, v := range sorted {
		if v.bandwidth <= targetBandwidth {
			best = v
		}
	}
	return best
}

func extractAttrInt(line, key string) int {
	marker := key + "="
	idx := strings.Index(line, marker)
	if idx < 0 {
		return 0
	}
	rest := line[idx+len(marker):]
	end := strings.IndexAny(rest, ",\n")
	if end >= 0 {
		rest = rest[:end]
	}
	n, _ := strconv.Atoi(strings.TrimSpace(rest))
	return n
}

func resolveURL(baseURL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	idx := strings.LastIndex(baseURL, "/")
	if idx < 0 {
		return ref
	}
	return baseURL[:idx+1] + ref
}

