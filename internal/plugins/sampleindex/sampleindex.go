// Package sampleindex is a reference plugin implementing the HTML-scraping
// flavor of the plugin contract: paginated search over HTML fragments, a
// two-step episode listing, and an API-walk stream resolver.
package sampleindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/htmlutil"
	"github.com/animegrab/animegrab/internal/plugin"
	"github.com/animegrab/animegrab/internal/transport"
)

const (
	defaultPageSize = 20
	defaultMaxPages = 5
)

// siteQualities lists the ladder rungs this site's API walk exposes,
// descending, matching the site's own "hd/sd" server tiers.
var siteQualities = []domain.Quality{domain.QualityHigh, domain.QualityMedium, domain.QualityLow}

type Plugin struct {
	name        string
	label       string
	baseURL     string
	serverOrder []string
	client      *transport.Client
}

// New validates opts and constructs the plugin eagerly, per spec's
// eager-config-validation rule: a bad "base_url" is a ConfigurationError at
// construction, not a lazily-discovered failure on first Search.
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
		name = "sampleindex"
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

	serverOrder := []string{"vidstream", "backup"}
	if raw := strings.TrimSpace(opts["server_order"]); raw != "" {
		serverOrder = strings.Split(raw, ",")
	}

	client := transport.NewClient(
		time.Duration(timeoutS)*time.Second,
		time.Duration(rateLimitMS)*time.Millisecond,
		maxRetries,
		500*time.Millisecond,
		transport.WithReferer(baseURL+"/"),
	)

	return &Plugin{name: name, label: label, baseURL: baseURL, serverOrder: serverOrder, client: client}, nil
}

func (p *Plugin) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:             p.name,
		Version:          "1.0.0",
		Author:           "animegrab",
		Description:      "HTML-scraping reference plugin with a JSON API-walk stream resolver",
		Website:          p.baseURL,
		SupportedQuality: siteQualities,
		RateLimit:        250 * time.Millisecond,
	}
}

// Search issues paginated GETs against /search, parsing each page's HTML
// result list until a page returns fewer than defaultPageSize entries or
// defaultMaxPages is reached.
func (p *Plugin) Search(ctx context.Context, query string) ([]domain.AnimeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &domain.SearchError{Reason: "query must not be empty"}
	}

	var all []domain.AnimeResult
	for page := 1; page <= defaultMaxPages; page++ {
		url := fmt.Sprintf("%s/search?q=%s&page=%d", p.baseURL, urlEscape(query), page)
		body, err := p.client.GetText(ctx, url, nil)
		if err != nil {
			return nil, err
		}

		doc, err := htmlutil.ParseDocument(body)
		if err != nil {
			return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed search page", Err: err}
		}

		rows := htmlutil.TextFields(doc.Selection, ".result-item", map[string]string{
			"title":       ".title",
			"url":         "",
			"episodes":    ".episode-count",
			"rating":      ".rating",
			"year":        ".year",
			"status":      ".status",
			"description": ".description",
		})
		if len(rows) == 0 {
			break
		}

		for i, row := range rows {
			node := doc.Find(".result-item").Eq(i)
			href := htmlutil.Attr(node, ".title a", "href")
			resolvedURL, err := htmlutil.CleanURL(p.baseURL, href)
			if err != nil || row["title"] == "" {
				continue
			}
			thumb := htmlutil.Attr(node, "img", "src")

			result := domain.AnimeResult{
				Title:        row["title"],
				URL:          resolvedURL,
				Source:       p.label,
				Description:  row["description"],
				ThumbnailURL: thumb,
				Status:       row["status"],
			}
			if n, err := strconv.Atoi(strings.TrimSpace(row["episodes"])); err == nil {
				result.EpisodeCount = n
			}
			if r, err := strconv.ParseFloat(strings.TrimSpace(row["rating"]), 64); err == nil {
				result.Rating = r
			}
			if y, err := strconv.Atoi(strings.TrimSpace(row["year"])); err == nil {
				result.Year = y
			}
			all = append(all, result)
		}

		if len(rows) < defaultPageSize {
			break
		}
	}
	return all, nil
}

// Episodes fetches the anime page to recover an internal anime ID, then
// fetches the episodes endpoint and parses its HTML fragment.
func (p *Plugin) Episodes(ctx context.Context, animeURL string) ([]domain.Episode, error) {
	body, err := p.client.GetText(ctx, animeURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := htmlutil.ParseDocument(body)
	if err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed anime page", Err: err}
	}
	animeID := htmlutil.Attr(doc.Selection, "[data-anime-id]", "data-anime-id")
	if animeID == "" {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "anime URL not recognized: " + animeURL}
	}

	episodesURL := fmt.Sprintf("%s/anime-episodes?id=%s", p.baseURL, urlEscape(animeID))
	epBody, err := p.client.GetText(ctx, episodesURL, nil)
	if err != nil {
		return nil, err
	}
	epDoc, err := htmlutil.ParseDocument(epBody)
	if err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed episodes fragment", Err: err}
	}

	var episodes []domain.Episode
	selection := epDoc.Find(".episode-item")
	for i := 0; i < selection.Length(); i++ {
		node := selection.Eq(i)
		numRaw := htmlutil.Attr(node, "", "data-episode-number")
		n, convErr := strconv.Atoi(strings.TrimSpace(numRaw))
		if convErr != nil {
			if extracted, found := htmlutil.ExtractEpisodeNumber(node.Text()); found {
				n = extracted
			} else {
				continue
			}
		}

		title := strings.TrimSpace(node.Find(".episode-title").Text())
		if title == "" {
			title = htmlutil.FormatEpisodeTitle(n)
		}
		href := htmlutil.Attr(node, "a", "href")
		epURL, err := htmlutil.CleanURL(p.baseURL, href)
		if err != nil {
			continue
		}

		episode := domain.Episode{
			Number:         n,
			Title:          title,
			URL:            epURL,
			Source:         p.label,
			QualityOptions: domain.SortDescending(append([]domain.Quality(nil), siteQualities...)),
			Description:    strings.TrimSpace(node.Find(".episode-description").Text()),
			ThumbnailURL:   htmlutil.Attr(node, "img", "src"),
			AirDate:        strings.TrimSpace(node.Find(".air-date").Text()),
			Filler:         node.HasClass("filler"),
		}
		if d := strings.TrimSpace(node.Find(".duration").Text()); d != "" {
			episode.Duration = d
		}
		episodes = append(episodes, episode)
	}

	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Number < episodes[j].Number })
	return episodes, nil
}

// ResolveStream performs the API walk: server-list -> source-list, ranked
// by p.serverOrder, then picks the quality rung closest to (not exceeding)
// the requested one.
func (p *Plugin) ResolveStream(ctx context.Context, episodeURL string, quality domain.Quality) (string, map[string]string, error) {
	serversURL := fmt.Sprintf("%s/api/servers?episode=%s", p.baseURL, urlEscape(episodeURL))
	serversBody, err := p.client.GetText(ctx, serversURL, nil)
	if err != nil {
		return "", nil, err
	}
	var servers struct {
		Servers []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"servers"`
	}
	if err := json.Unmarshal([]byte(serversBody), &servers); err != nil {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "malformed server list", Err: err}
	}
	if len(servers.Servers) == 0 {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "no servers available"}
	}

	byID := make(map[string]string, len(servers.Servers))
	for _, s := range servers.Servers {
		byID[s.ID] = s.ID
	}

	ordered := make([]string, 0, len(servers.Servers))
	for _, preferred := range p.serverOrder {
		if _, ok := byID[preferred]; ok {
			ordered = append(ordered, preferred)
		}
	}
	for _, s := range servers.Servers {
		found := false
		for _, o := range ordered {
			if o == s.ID {
				found = true
				break
			}
		}
		if !found {
			ordered = append(ordered, s.ID)
		}
	}

	for _, serverID := range ordered {
		sourcesURL := fmt.Sprintf("%s/api/sources?server=%s&episode=%s", p.baseURL, urlEscape(serverID), urlEscape(episodeURL))
		sourcesBody, err := p.client.GetText(ctx, sourcesURL, nil)
		if err != nil {
			continue
		}
		var sources struct {
			Sources map[string]string `json:"sources"`
		}
		if err := json.Unmarshal([]byte(sourcesBody), &sources); err != nil || len(sources.Sources) == 0 {
			continue
		}

		available := make([]domain.Quality, 0, len(sources.Sources))
		byQuality := make(map[domain.Quality]string, len(sources.Sources))
		for label, streamURL := range sources.Sources {
			q, ok := domain.ParseQuality(htmlutil.QualityLabel(label))
			if !ok {
				continue
			}
			available = append(available, q)
			byQuality[q] = streamURL
		}
		if len(available) == 0 {
			continue
		}

		chosen := domain.ClosestNotExceeding(quality, available)
		return byQuality[chosen], map[string]string{"Referer": p.baseURL + "/"}, nil
	}

	return "", nil, &domain.PluginError{Plugin: p.name, Reason: "no stream found"}
}

func (p *Plugin) ValidateConnection(ctx context.Context) bool {
	_, err := p.client.GetText(ctx, p.baseURL+"/", nil)
	return err == nil
}

func (p *Plugin) Cleanup() {
	p.client.Close()
}

func urlEscape(s string) string {
	return strings.NewReplacer(" ", "%20", "&", "%26", "#", "%23").Replace(s)
}
