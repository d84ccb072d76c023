package circuitbreaker

import (
	"maps"
	"slices"
	"sync"
)

// Registry hands out one Breaker per origin address.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewRegistry returns an empty Registry whose breakers use cfg.
func NewRegistry(cfg Config) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg}
}

// For returns the breaker of addr, creating it on first use.
func (r *Registry) For(addr string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[addr]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[addr]; ok {
		return b
	}
	b = NewBreaker(r.cfg)
	r.breakers[addr] = b
	return b
}

// States reports the position of every known origin.
func (r *Registry) States() map[string]string {
	r.mu.RLock()
	addrs := slices.Collect(maps.Keys(r.breakers))
	r.mu.RUnlock()

	out := make(map[string]string, len(addrs))
	for _, a := range addrs {
		out[a] = r.For(a).State().String()
	}
	return out
}
