package core

import (
	"hubalert/internal/types"
)

// ProviderRegistry maps a NotificationMethod to the live provider client for
// that method. The mapping is built once at startup; lookups are read-only
// afterward, so no locking is needed.
type ProviderRegistry struct {
	providers map[types.NotificationMethod]Provider
}

// NewProviderRegistry creates an empty registry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[types.NotificationMethod]Provider),
	}
}

// Register binds a provider to a method, replacing any previous binding.
func (r *ProviderRegistry) Register(method types.NotificationMethod, p Provider) {
	r.providers[method] = p
}

// Get returns the provider for the given method, or a NoSuchProviderError if
// none is registered.
func (r *ProviderRegistry) Get(method types.NotificationMethod) (Provider, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, &NoSuchProviderError{Method: method}
	}
	return p, nil
}

// Methods returns the set of registered methods.
func (r *ProviderRegistry) Methods() []types.NotificationMethod {
	out := make([]types.NotificationMethod, 0, len(r.providers))
	for m := range r.providers {
		out = append(out, m)
	}
	return out
}
