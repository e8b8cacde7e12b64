package llm

import (
	"fmt"
	"sort"
)

// Registry resolves provider names to provider descriptions.
type Registry struct {
	providers       map[string]Provider
	defaultProvider string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
	}
}

// RegisterProvider adds a provider. The first provider registered, or any
// provider registered with isDefault, becomes the default.
func (r *Registry) RegisterProvider(p Provider, isDefault bool) {
	r.providers[p.Name] = p
	if isDefault || r.defaultProvider == "" {
		r.defaultProvider = p.Name
	}
}

// Resolve returns the provider for a given name (default if empty).
func (r *Registry) Resolve(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("provider %q not registered", name)
	}
	return p, nil
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Default returns the default provider name.
func (r *Registry) Default() string {
	return r.defaultProvider
}
