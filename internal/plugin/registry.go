package plugin

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/animegrab/animegrab/internal/domain"
)

// registration pairs a plugin factory with the per-plugin config and
// priority the registry instantiates it with.
type registration struct {
	name    string
	factory Factory
	config  domain.SourceConfig
}

// Registry discovers plugins from a compiled-in list, instantiates those
// whose SourceConfig.Enabled is true, and is the single point through which
// the orchestrator and download engine obtain plugins. It is read-mostly;
// mutation happens only on Enable/Disable/Reload, guarded by mu.
type Registry struct {
	mu            sync.RWMutex
	registrations []registration
	active        map[string]Plugin
	logger        *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		active: make(map[string]Plugin),
		logger: logger,
	}
}

// Register adds a compiled-in plugin factory with its config. It does not
// instantiate the plugin; call Reload (or Load) to do that.
func (r *Registry) Register(name string, factory Factory, config domain.SourceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registrations = append(r.registrations, registration{name: strings.ToLower(strings.TrimSpace(name)), factory: factory, config: config})
}

// Load instantiates every registered plugin whose config is enabled,
// injecting its options map. A construction failure is logged and that
// plugin is skipped rather than aborting the whole load.
func (r *Registry) Load() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
}

func (r *Registry) loadLocked() {
	for name, p := range r.active {
		p.Cleanup()
		delete(r.active, name)
	}
	for _, reg := range r.registrations {
		if !reg.config.Enabled {
			continue
		}
		p, err := reg.factory(reg.config.Options)
		if err != nil {
			r.logger.Warn("plugin construction failed", slog.String("plugin", reg.name), slog.String("error", err.Error()))
			continue
		}
		r.active[reg.name] = p
	}
}

// Reload cleans up every loaded plugin and re-instantiates from the current
// registrations (hot-reload).
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
}

// SetEnabled toggles a registered plugin's config without reloading it;
// call Reload afterward to apply the change.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.registrations {
		if r.registrations[i].name == name {
			r.registrations[i].config.Enabled = enabled
			return nil
		}
	}
	return fmt.Errorf("unknown plugin %q", name)
}

// Active returns the loaded plugins sorted by ascending priority
// (lower = higher priority), honoring an optional name filter.
func (r *Registry) Active(filter []string) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var allowed map[string]struct{}
	if len(filter) > 0 {
		allowed = make(map[string]struct{}, len(filter))
		for _, name := range filter {
			allowed[strings.ToLower(strings.TrimSpace(name))] = struct{}{}
		}
	}

	type ranked struct {
		priority int
		plugin   Plugin
	}
	var rankedList []ranked
	for _, reg := range r.registrations {
		if !reg.config.Enabled {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[strings.ToLower(reg.name)]; !ok {
				continue
			}
		}
		p, ok := r.active[reg.name]
		if !ok {
			continue
		}
		rankedList = append(rankedList, ranked{priority: reg.config.Priority, plugin: p})
	}
	sort.SliceStable(rankedList, func(i, j int) bool { return rankedList[i].priority < rankedList[j].priority })

	out := make([]Plugin, 0, len(rankedList))
	for _, r := range rankedList {
		out = append(out, r.plugin)
	}
	return out
}

// ByHost finds the active plugin whose metadata website host, or one of its
// AlternateHosts, matches host.
func (r *Registry) ByHost(host string) (Plugin, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, p := range r.Active(nil) {
		meta := p.Metadata()
		if strings.Contains(strings.ToLower(meta.Website), host) {
			return p, true
		}
		for _, alt := range meta.AlternateHosts {
			if strings.EqualFold(alt, host) {
				return p, true
			}
		}
	}
	return nil, false
}

// ByName returns the active plugin registered under name.
func (r *Registry) ByName(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.active[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Shutdown cleans up every loaded plugin.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range r.active {
		p.Cleanup()
		delete(r.active, name)
	}
}
