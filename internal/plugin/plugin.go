// Package plugin defines the uniform per-site driver contract and the
// registry that discovers, instantiates, and retires plugin instances.
package plugin

import (
	"context"

	"github.com/animegrab/animegrab/internal/domain"
)

// Plugin is the uniform contract every per-site driver implements.
type Plugin interface {
	Metadata() domain.PluginMetadata

	// Search fails with SearchError when query is empty, NetworkError when
	// transport fails. Idempotent; results need not be deduplicated.
	Search(ctx context.Context, query string) ([]domain.AnimeResult, error)

	// Episodes fails with PluginError when animeURL is not recognized,
	// NetworkError on transport failure. Returned episodes are sorted
	// ascending by number.
	Episodes(ctx context.Context, animeURL string) ([]domain.Episode, error)

	// ResolveStream fails with PluginError when no source is resolvable,
	// NetworkError on transport failure. When quality isn't available the
	// plugin picks the closest rung not exceeding it, or the lowest
	// available if none qualifies.
	ResolveStream(ctx context.Context, episodeURL string, quality domain.Quality) (streamURL string, headers map[string]string, err error)

	// ValidateConnection is a lightweight reachability probe.
	ValidateConnection(ctx context.Context) bool

	// Cleanup releases the plugin's HTTP client and any headless browser
	// it owns.
	Cleanup()
}

// Factory constructs a Plugin from its opaque per-plugin config map. It
// validates the config map eagerly and returns ConfigurationError on bad
// keys rather than failing lazily on first request.
type Factory func(options map[string]string) (Plugin, error)
