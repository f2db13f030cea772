package router

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/router/adapters"
)

const typeIletiMerkezi = "iletimerkezi"

// Registry manages provider adapters by configured name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]adapters.SMSProvider
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]adapters.SMSProvider),
	}
}

func (r *Registry) Register(name string, adapter adapters.SMSProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[name] = adapter
}

func (r *Registry) Get(name string) (adapters.SMSProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Replace swaps the registry contents for those of other. Used on config
// reload so handlers holding the registry see the new adapters.
func (r *Registry) Replace(other *Registry) {
	other.mu.RLock()
	next := make(map[string]adapters.SMSProvider, len(other.adapters))
	for k, v := range other.adapters {
		next[k] = v
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.adapters = next
	r.mu.Unlock()
}

func newHTTPClient(cfg config.ProviderConfig) *http.Client {
	maxConns := cfg.MaxConcurrent
	if maxConns <= 0 {
		maxConns = 16
	}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        maxConns,
			MaxIdleConnsPerHost: maxConns,
			MaxConnsPerHost:     maxConns,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// NewAdapter builds the adapter for one providers.yaml entry.
func NewAdapter(cfg config.ProviderConfig, client adapters.HTTPClient, logger *slog.Logger) (adapters.SMSProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case typeIletiMerkezi:
		return adapters.NewIletiMerkeziProvider(client, adapters.IletiMerkeziOptionsFromConfig(cfg),
			adapters.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unsupported provider type %q", cfg.Type)
	}
}

// BuildFromConfig builds provider adapters from the providers config. Any
// invalid entry fails the whole build so a bad reload never half-applies.
func BuildFromConfig(provCfg *config.ProvidersConfig, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewRegistry()
	for name, cfg := range provCfg.Providers {
		adapter, err := NewAdapter(cfg, newHTTPClient(cfg), logger.With("provider_name", name))
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		registry.Register(name, adapter)
	}
	return registry, nil
}

// ResolveProvider picks the adapter for a send: the preferred provider when
// registered and healthy, then the default, then fallbacks in order. It only
// selects and never claims a half-open probe slot; a failed send is never
// retried on another provider.
func ResolveProvider(routing config.RoutingConfig, registry *Registry, health *HealthTracker, preferred string) (adapters.SMSProvider, string, error) {
	candidates := make([]string, 0, len(routing.Fallback)+2)
	if preferred != "" {
		if _, ok := registry.Get(preferred); !ok {
			return nil, "", fmt.Errorf("unknown provider: %s", preferred)
		}
		candidates = append(candidates, preferred)
	}
	if routing.DefaultProvider != "" {
		candidates = append(candidates, routing.DefaultProvider)
	}
	candidates = append(candidates, routing.Fallback...)

	for _, name := range candidates {
		adapter, ok := registry.Get(name)
		if !ok {
			continue
		}
		if health != nil && !health.IsSelectable(name) {
			continue
		}
		return adapter, name, nil
	}

	return nil, "", fmt.Errorf("no available sms provider")
}
