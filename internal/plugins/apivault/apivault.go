// Package apivault is a reference plugin implementing the pure JSON
// API-walk flavor of the plugin contract: a GraphQL-style search query, an
// episode list keyed by dub/sub track, and a server-list -> source-list
// stream resolver with dub/sub preference ranking.
package apivault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animegrab/animegrab/internal/domain"
	"github.com/animegrab/animegrab/internal/htmlutil"
	"github.com/animegrab/animegrab/internal/plugin"
	"github.com/animegrab/animegrab/internal/transport"
)

var siteQualities = []domain.Quality{domain.QualityHigh, domain.QualityMedium, domain.QualityLow}

// searchQuery is a GraphQL-style document against the vault's /api
// endpoint, mirroring the shows(search:...){ edges { ... } } shape.
const searchQuery = `query($search:SearchInput,$limit:Int){shows(search:$search,limit:$limit){edges{_id name availableEpisodes{sub dub}}}}`

const episodesQuery = `query($showId:String!){show(_id:$showId){_id availableEpisodesDetail}}`

const episodeQuery = `query($showId:String!,$episode:String!,$translation:String!){episode(showId:$showId,episodeString:$episode,translationType:$translation){sourceUrls{sourceName sourceUrl}}}`

type Plugin struct {
	name    string
	label   string
	baseURL string
	apiPath string
	track   string // "sub" or "dub", preference ranking for ResolveStream
	client  *transport.Client
}

// New validates opts eagerly: a bad base_url or track is a
// ConfigurationError at construction, not a lazily-discovered failure.
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
		name = "apivault"
	}
	label := strings.TrimSpace(opts["label"])
	if label == "" {
		label = name
	}
	apiPath := strings.TrimSpace(opts["api_path"])
	if apiPath == "" {
		apiPath = "/api"
	}

	track := strings.ToLower(strings.TrimSpace(opts["track"]))
	if track == "" {
		track = "sub"
	}
	if track != "sub" && track != "dub" {
		return nil, &domain.ConfigurationError{Key: "track", Reason: "must be \"sub\" or \"dub\""}
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

	client := transport.NewClient(
		time.Duration(timeoutS)*time.Second,
		time.Duration(rateLimitMS)*time.Millisecond,
		maxRetries,
		500*time.Millisecond,
		transport.WithReferer(baseURL+"/"),
	)

	return &Plugin{name: name, label: label, baseURL: baseURL, apiPath: apiPath, track: track, client: client}, nil
}

func (p *Plugin) Metadata() domain.PluginMetadata {
	return domain.PluginMetadata{
		Name:             p.name,
		Version:          "1.0.0",
		Author:           "animegrab",
		Description:      "JSON API-walk reference plugin with dub/sub preference ranking",
		Website:          p.baseURL,
		SupportedQuality: siteQualities,
		RateLimit:        250 * time.Millisecond,
	}
}

func (p *Plugin) graphQL(ctx context.Context, query string, variables map[string]interface{}) ([]byte, error) {
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "failed to marshal variables", Err: err}
	}
	reqURL := fmt.Sprintf("%s%s?variables=%s&query=%s", p.baseURL, p.apiPath, url.QueryEscape(string(varsJSON)), url.QueryEscape(query))
	body, err := p.client.GetText(ctx, reqURL, nil)
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// Search issues a single GraphQL-style search query against the vault's
// shows collection. Unlike sampleindex's paginated HTML walk, the vault
// returns its full result set (bounded by "limit") in one round trip.
func (p *Plugin) Search(ctx context.Context, query string) ([]domain.AnimeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &domain.SearchError{Reason: "query must not be empty"}
	}

	variables := map[string]interface{}{
		"search": map[string]interface{}{"query": query},
		"limit":  40,
	}
	body, err := p.graphQL(ctx, searchQuery, variables)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Shows struct {
				Edges []struct {
					ID                string `json:"_id"`
					Name              string `json:"name"`
					AvailableEpisodes struct {
						Sub int `json:"sub"`
						Dub int `json:"dub"`
					} `json:"availableEpisodes"`
				} `json:"edges"`
			} `json:"shows"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed search response", Err: err}
	}

	results := make([]domain.AnimeResult, 0, len(resp.Data.Shows.Edges))
	for _, edge := range resp.Data.Shows.Edges {
		if edge.Name == "" || edge.ID == "" {
			continue
		}
		count := edge.AvailableEpisodes.Sub
		if p.track == "dub" {
			count = edge.AvailableEpisodes.Dub
		}
		results = append(results, domain.AnimeResult{
			Title:        edge.Name,
			URL:          p.showURL(edge.ID),
			Source:       p.label,
			EpisodeCount: count,
		})
	}
	return results, nil
}

func (p *Plugin) showURL(showID string) string {
	return fmt.Sprintf("%s/show/%s", p.baseURL, url.PathEscape(showID))
}

func (p *Plugin) showIDFromURL(showURL string) (string, bool) {
	prefix := p.baseURL + "/show/"
	if !strings.HasPrefix(showURL, prefix) {
		return "", false
	}
	id, err := url.PathUnescape(strings.TrimPrefix(showURL, prefix))
	if err != nil || id == "" {
		return "", false
	}
	return id, true
}

// Episodes fetches availableEpisodesDetail for the show's configured
// track and builds one Episode per entry, sorted ascending by number.
func (p *Plugin) Episodes(ctx context.Context, animeURL string) ([]domain.Episode, error) {
	showID, ok := p.showIDFromURL(animeURL)
	if !ok {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "anime URL not recognized: " + animeURL}
	}

	body, err := p.graphQL(ctx, episodesQuery, map[string]interface{}{"showId": showID})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data struct {
			Show struct {
				ID                      string                   `json:"_id"`
				AvailableEpisodesDetail map[string][]json.Number `json:"availableEpisodesDetail"`
			} `json:"show"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.PluginError{Plugin: p.name, Reason: "malformed episodes response", Err: err}
	}

	numbers := resp.Data.Show.AvailableEpisodesDetail[p.track]
	episodes := make([]domain.Episode, 0, len(numbers))
	for _, raw := range numbers {
		n, err := strconv.Atoi(string(raw))
		if err != nil {
			continue
		}
		episodeString := strconv.Itoa(n)
		episodes = append(episodes, domain.Episode{
			Number:         n,
			Title:          htmlutil.FormatEpisodeTitle(n),
			URL:            p.episodeURL(showID, episodeString),
			Source:         p.label,
			QualityOptions: domain.SortDescending(append([]domain.Quality(nil), siteQualities...)),
		})
	}

	sort.Slice(episodes, func(i, j int) bool { return episodes[i].Number < episodes[j].Number })
	return episodes, nil
}

func (p *Plugin) episodeURL(showID, episodeString string) string {
	return fmt.Sprintf("%s/show/%s/episode/%s", p.baseURL, url.PathEscape(showID), url.PathEscape(episodeString))
}

func (p *Plugin) parseEpisodeURL(episodeURL string) (showID, episodeString string, ok bool) {
	prefix := p.baseURL + "/show/"
	if !strings.HasPrefix(episodeURL, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(episodeURL, prefix)
	parts := strings.SplitN(rest, "/episode/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	id, err := url.PathUnescape(parts[0])
	if err != nil {
		return "", "", false
	}
	ep, err := url.PathUnescape(parts[1])
	if err != nil {
		return "", "", false
	}
	return id, ep, true
}

// ResolveStream fetches the episode's sourceUrls list for the configured
// track and ranks candidates by declared quality label, picking the rung
// closest to (not exceeding) the requested quality.
func (p *Plugin) ResolveStream(ctx context.Context, episodeURL string, quality domain.Quality) (string, map[string]string, error) {
	showID, episodeString, ok := p.parseEpisodeURL(episodeURL)
	if !ok {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "episode URL not recognized: " + episodeURL}
	}

	body, err := p.graphQL(ctx, episodeQuery, map[string]interface{}{
		"showId":      showID,
		"episode":     episodeString,
		"translation": p.track,
	})
	if err != nil {
		return "", nil, err
	}

	var resp struct {
		Data struct {
			Episode struct {
				SourceUrls []struct {
					SourceName string `json:"sourceName"`
					SourceURL  string `json:"sourceUrl"`
				} `json:"sourceUrls"`
			} `json:"episode"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "malformed source list", Err: err}
	}
	if len(resp.Data.Episode.SourceUrls) == 0 {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "no sources available"}
	}

	available := make([]domain.Quality, 0, len(resp.Data.Episode.SourceUrls))
	byQuality := make(map[domain.Quality]string, len(resp.Data.Episode.SourceUrls))
	for _, src := range resp.Data.Episode.SourceUrls {
		q, ok := domain.ParseQuality(htmlutil.QualityLabel(src.SourceName))
		if !ok {
			continue
		}
		available = append(available, q)
		byQuality[q] = src.SourceURL
	}
	if len(available) == 0 {
		return "", nil, &domain.PluginError{Plugin: p.name, Reason: "no sources with a recognizable quality label"}
	}

	chosen := domain.ClosestNotExceeding(quality, available)
	return byQuality[chosen], map[string]string{"Referer": p.baseURL + "/"}, nil
}

func (p *Plugin) ValidateConnection(ctx context.Context) bool {
	_, err := p.client.GetText(ctx, p.baseURL+"/", nil)
	return err == nil
}

func (p *Plugin) Cleanup() {
	p.client.Close()
}
