package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tradecore/tradecore/internal/domain"
)

// Registry maps a StrategyKind to the Strategy implementation that
// evaluates it. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[domain.StrategyKind]Strategy
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[domain.StrategyKind]Strategy)}
}

// Register adds a strategy under its own Kind(), replacing any existing
// registration for that kind.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Kind()] = s
}

// Get retrieves the strategy registered for kind. It returns an error when
// the kind is not registered.
func (r *Registry) Get(kind domain.StrategyKind) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[kind]
	if !ok {
		return nil, fmt.Errorf("strategy kind %q: not registered", kind)
	}
	return s, nil
}

// List returns the registered kinds in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for k := range r.strategies {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}
