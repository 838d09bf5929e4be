package adapters

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the adapters available to the mediator, keyed by network code
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]AdapterWithInfo
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]AdapterWithInfo)}
}

// DefaultRegistry is populated by the network packages' init functions
var DefaultRegistry = NewRegistry()

// RegisterAdapter registers an adapter with DefaultRegistry
func RegisterAdapter(network string, adapter Adapter, info NetworkInfo) error {
	return DefaultRegistry.Register(network, adapter, info)
}

// Register adds an adapter; registering the same network twice is an error
func (r *Registry) Register(network string, adapter Adapter, info NetworkInfo) error {
	if network == "" {
		return fmt.Errorf("network code is required")
	}
	if adapter == nil {
		return fmt.Errorf("adapter for %s is nil", network)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[network]; exists {
		return fmt.Errorf("adapter %s already registered", network)
	}
	r.adapters[network] = AdapterWithInfo{Adapter: adapter, Info: info}
	return nil
}

// Get returns the adapter for network
func (r *Registry) Get(network string) (AdapterWithInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	awi, ok := r.adapters[network]
	return awi, ok
}

// ListNetworks returns all registered network codes, sorted
func (r *Registry) ListNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		networks = append(networks, code)
	}
	sort.Strings(networks)
	return networks
}

// ListEnabledNetworks returns the enabled network codes, sorted
func (r *Registry) ListEnabledNetworks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	networks := make([]string, 0, len(r.adapters))
	for code, awi := range r.adapters {
		if awi.Info.Enabled {
			networks = append(networks, code)
		}
	}
	sort.Strings(networks)
	return networks
}

// Infos returns a copy of every network's info keyed by code
func (r *Registry) Infos() map[string]NetworkInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make(map[string]NetworkInfo, len(r.adapters))
	for code, awi := range r.adapters {
		infos[code] = awi.Info
	}
	return infos
}

// SetEndpoint overrides a network's endpoint, typically from configuration
func (r *Registry) SetEndpoint(network, endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	awi, ok := r.adapters[network]
	if !ok {
		return false
	}
	awi.Info.Endpoint = endpoint
	r.adapters[network] = awi
	return true
}
