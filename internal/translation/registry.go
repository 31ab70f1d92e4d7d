package translation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Options selects and configures the providers Build registers.
type Options struct {
	Default       string
	LocalEndpoint string
	LocalModel    string
	GeminiAPIKey  string
	GeminiModel   string
	Timeout       time.Duration
}

// Registry holds providers by lower-case name.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

func NewRegistry(fallback string) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		fallback:  providerKey(fallback),
	}
}

// Build always registers the local provider. Gemini is registered only when an
// API key is configured; asking for it as the default without one is an error.
func Build(ctx context.Context, opts Options) (*Registry, error) {
	fallback := providerKey(opts.Default)
	if fallback == "" {
		fallback = "local"
	}
	registry := NewRegistry(fallback)

	local, err := NewLocalProvider(opts.LocalEndpoint, opts.LocalModel, opts.Timeout)
	if err != nil {
		return nil, err
	}
	if err := registry.Register(local); err != nil {
		return nil, err
	}

	if strings.TrimSpace(opts.GeminiAPIKey) != "" {
		gemini, err := NewGeminiProvider(ctx, opts.GeminiAPIKey, opts.GeminiModel)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(gemini); err != nil {
			return nil, err
		}
	}

	if _, err := registry.Provider(""); err != nil {
		return nil, err
	}
	return registry, nil
}

func (r *Registry) Register(provider Provider) error {
	if provider == nil {
		return fmt.Errorf("provider is nil")
	}
	key := providerKey(provider.Name())
	if key == "" {
		return fmt.Errorf("provider name is required")
	}
	if _, exists := r.providers[key]; exists {
		return fmt.Errorf("translation provider %q registered twice", key)
	}
	r.providers[key] = provider
	return nil
}

// Provider resolves name, or the registry default when name is blank.
func (r *Registry) Provider(name string) (Provider, error) {
	key := providerKey(name)
	if key == "" {
		key = r.fallback
	}
	if provider, ok := r.providers[key]; ok {
		return provider, nil
	}
	if len(r.providers) == 0 {
		return nil, fmt.Errorf("no translation providers are registered")
	}
	return nil, fmt.Errorf("translation provider %q is not registered (available: %s)", key, strings.Join(r.Names(), ", "))
}

func (r *Registry) Default() string {
	return r.fallback
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func providerKey(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
