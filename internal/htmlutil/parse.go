// Package htmlutil holds DOM selection and text-extraction helpers shared by
// plugins: episode-number parsing, duration parsing, and URL cleanup.
package htmlutil

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var episodeNumberPattern = regexp.MustCompile(`(?i)epis[oó]dio?\s*(\d+)|episode\s*(\d+)|\bep\.?\s*(\d+)|#(\d+)|\b(\d+)\s*$`)

// ExtractEpisodeNumber pulls the leading/trailing integer episode number out
// of a free-form title such as "Episode 7" or "Attack on Titan - Ep. 12".
// Round-trips for the canonical "Episode N" form for all N in [1, 9999].
func ExtractEpisodeNumber(title string) (int, bool) {
	matches := episodeNumberPattern.FindStringSubmatch(title)
	if matches == nil {
		return 0, false
	}
	for _, group := range matches[1:] {
		if group == "" {
			continue
		}
		n, err := strconv.Atoi(group)
		if err != nil {
			continue
		}
		return n, true
	}
	return 0, false
}

// FormatEpisodeTitle renders the default episode title used when a plugin's
// own title is empty.
func FormatEpisodeTitle(number int) string {
	return fmt.Sprintf("Episode %d", number)
}

// ParseDuration parses "MM:SS" or "HH:MM:SS" into total seconds. Returns
// ok=false if the string isn't a colon-separated tuple of 2 or 3
// non-negative integers.
func ParseDuration(raw string) (seconds int, ok bool) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, false
	}
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		values = append(values, n)
	}
	total := 0
	for _, v := range values {
		total = total*60 + v
	}
	return total, true
}

// FormatDuration renders total seconds back as "MM:SS" (under an hour) or
// "HH:MM:SS", the inverse of ParseDuration.
func FormatDuration(totalSeconds int) string {
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

// CleanURL resolves ref against base (if ref is relative) and strips common
// tracking query parameters, returning an absolute http(s) URL.
func CleanURL(base, ref string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	resolved := baseURL.ResolveReference(refURL)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", resolved.Scheme)
	}

	query := resolved.Query()
	for key := range query {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || lower == "fbclid" || lower == "gclid" {
			query.Del(key)
		}
	}
	resolved.RawQuery = query.Encode()
	return resolved.String(), nil
}

// QualityLabel maps a site-specific label to the canonical ladder string
// ("720p", "1080p", ...) used by domain.ParseQuality. It lower-cases and
// strips whitespace so "HD 720" -> "720p" style labels are recognized too.
func QualityLabel(raw string) string {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	digits := regexp.MustCompile(`\d{3,4}`).FindString(normalized)
	if digits != "" {
		return digits + "p"
	}
	return normalized
}
