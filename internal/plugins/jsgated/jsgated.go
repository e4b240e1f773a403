// Package jsgated is a reference plugin for sites whose stream URL is
// only obtainable after JavaScript runs (a player that lazily requests
// its manifest). Search and Episodes still work against the site's HTML,
// but ResolveStream delegates entirely to internal/browser.
package jsgated

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animegrab/animegrab/internal/browser"
	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/htmlutil"
	"github.com/animegrab/animegrab/internal/plugin"
	"github.com/animegrab/animegrab/internal/transport"
)

var siteQualities = []domain.Quality{domain.QualityHigh, domain.QualityMedium, domain.QualityLow}

type Plugin struct {
	name    string
	label   string
	baseURL string
	client  *transport.Client
	browser *browser.Resolver
}

// New validates opts eagerly and constructs a lazily-started browser
// resolver alongside the plain HTTP client used for Search/Episodes.
func New(opts map[string]string) (plugin.Plugin, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(opts["base_url"]), "/")
	if baseURL == "" {
		return nil, &domain.ConfigurationError{Key: "base_url", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, &domain.ConfigurationError{Key: "base_url", Reason: "must be an absolute http(s) URL"}
	}

	name := strings.TrimSpace(opts["name"])
	if name == "" {
		name = "jsgated"
	}
	label := strings.TrimSpace(opts["label"])
	if label == "" {
		label = name
	}

	rateLimitMS, _ := strconv.Atoi(opts["rate_limit_ms"])
	if rateLimitMS <= 0 {
		rateLimitMS = 250
	}
	timeoutS, _ := strconv.Atoi(opts["timeout_seconds"])
	if timeoutS <= 0 {
		timeoutS = 30
	}
	maxRetries, _ := strconv.Atoi(opts["max_retries"])
	if maxRetries <= 0 {
		maxRetries = 3
	}

	browserCfg := browser.DefaultConfig()
	if v, err := strconv.Atoi(opts["browser_timeout_seconds"]); err == nil && v > 0 {
		browserCfg.Timeout = time.Duration(v) * time.Second
	}
	if v, err := strconv.Atoi(opts["browser_max_capture_attempts"]); err == nil && v > 0 {
		browserCfg.MaxCaptureAttempts = v
	}
	if opts["headless"] == "false" {
		browserCfg.Headless = false
	}
	if opts["mobile_emulation"] == "true" {
		browserCfg.MobileEmulation = true
	}
	browserCfg.AdblockExtPath = strings.TrimSpace(opts["adblock_extension_path"])

	client := transport.NewClient(
		time.Duration(timeoutS)*time.Second,
		time.Duration(rateLimitMS)*time.Millisecond,
		maxRetries,
		500*time.Millisecond,
		transport.WithReferer(baseURL+"/"),
	)

	return &Plugin{
		name:    name,
		label:   label,
		baseURL: baseURL,
		client:  client,
		browser: browser.NewResolver(browserCfg, slog.Default().With(slog.String("plugin", name))),
	}, nil
}

func (p *Plugin) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:             p.name,
		Version:          "1.0.0",
		Author:           "animegrab",
		Description:      "JS-gated reference plugin: HTML search/episodes, headless-browser stream resolution",
		Website:          p.baseURL,
		SupportedQuality: siteQualities,
		RateLimit:        250 * time.Millisecond,
	}
}

func (p *Plugin) Search(ctx context.Context, query string) ([]domain.AnimeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &domain.SearchError{Reason: "query must not be empty"}
	}

	url := fmt.Sprintf("%s/search?q=%s", p.baseURL, strings.ReplaceAll(query, " ", "%20"))
	body, err := p.client.GetText(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	doc, err := htmlutil.ParseDocument(body)
	if err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed search page", Err: err}
	}

	rows := htmlutil.TextFields(doc.Selection, ".show-card", map[string]string{
		"title":    ".show-title",
		"episodes": ".show-episode-count",
		"rating":   ".show-rating",
	})

	var results []domain.AnimeResult
	for i, row := range rows {
		if row["title"] == "" {
			continue
		}
		node := doc.Find(".show-card").Eq(i)
		href := htmlutil.Attr(node, "a", "href")
		resolvedURL, err := htmlutil.CleanURL(p.baseURL, href)
		if err != nil {
			continue
		}
		result := domain.AnimeResult{
			Title:  row["title"],
			URL:    resolvedURL,
			Source: p.label,
		}
		if n, err := strconv.Atoi(strings.TrimSpace(row["episodes"])); err == nil {
			result.EpisodeCount = n
		}
		if r, err := strconv.ParseFloat(strings.TrimSpace(row["rating"]), 64); err == nil {
			result.Rating = r
		}
		results = append(results, result)
	}
	return results, nil
}

func (p *Plugin) Episodes(ctx context.Context, animeURL string) ([]domain.Episode, error) {
	body, err := p.client.GetText(ctx, animeURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := htmlutil.ParseDocument(body)
	if err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed anime page", Err: err}
	}

	selection := doc.Find(".episode-entry")
	if selection.Length() == 0 {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "anime URL not recognized: " + animeURL}
	}

	var episodes []domain.Episode
	for i := 0; i < selection.Length(); i++ {
		node := selection.Eq(i)
		numRaw := htmlutil.Attr(node, "", "data-episode-number")
		n, convErr := strconv.Atoi(strings.TrimSpace(numRaw))
		if convErr != nil {
			extracted, found := htmlutil.ExtractEpisodeNumber(node.Text())
			if !found {
				continue
			}
			n = extracted
		}
		href := htmlutil.Attr(node, "a", "href")
		epURL, err := htmlutil.CleanURL(p.baseURL, href)
		if err != nil {
			continue
		}
		title := strings.TrimSpace(node.Find(".episode-entry-title").Text())
		if title == "" {
			title = htmlutil.FormatEpisodeTitle(n)
		}
		episodes = append(episodes, domain.Episode{
			Number:         n,
			Title:          title,
			URL:            epURL,
			Source:         p.label,
			QualityOptions: domain.SortDescending(append([]domain.Quality(nil), siteQualities...)),
		})
	}

	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Number < episodes[j].Number })
	return episodes, nil
}

// ResolveStream delegates entirely to the headless-browser resolver. If
// the driver is unavailable, the caller (download engine) receives that
// signal wrapped as a PluginError rather than a silent empty result.
func (p *Plugin) ResolveStream(ctx context.Context, episodeURL string, quality domain.Quality) (string, map[string]string, error) {
	streamURL, headers, err := p.browser.Resolve(ctx, episodeURL)
	if err != nil {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "headless resolve failed", Err: err}
	}
	return streamURL, headers, nil
}

func (p *Plugin) ValidateConnection(ctx context.Context) bool {
	_, err := p.client.GetText(ctx, p.baseURL+"/", nil)
	return err == nil
}

func (p *Plugin) Cleanup() {
	p.client.Close()
	p.browser.Cleanup()
}
