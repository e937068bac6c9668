// Package adapter implements domain.AdapterFactory and hosts the
// per-exchange domain.ExchangeAdapter implementations under its
// subpackages (e.g. internal/adapter/binance).
package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

// Builder constructs a fresh ExchangeAdapter for one exchange id. Builders
// are registered once during app wiring and invoked lazily by Factory the
// first time that exchange is requested, and again whenever the cached
// instance ages past its TTL.
type Builder func() (domain.ExchangeAdapter, error)

type cacheEntry struct {
	adapter   domain.ExchangeAdapter
	expiresAt time.Time
}

// Factory implements domain.AdapterFactory. It caches one ExchangeAdapter
// per exchange for CacheTTL (default 5 minutes, per ADAPTER_TTL_MS) so the
// underlying REST client and WS dial settings are not rebuilt on every
// call, while still being recycled periodically.
type Factory struct {
	mu       sync.Mutex
	builders map[string]Builder
	entries  map[string]cacheEntry
	ttl      time.Duration
}

// NewFactory creates a Factory. ttl <= 0 defaults to 5 minutes.
func NewFactory(ttl time.Duration) *Factory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Factory{
		builders: make(map[string]Builder),
		entries:  make(map[string]cacheEntry),
		ttl:      ttl,
	}
}

// Register associates an exchange id with a Builder.
func (f *Factory) Register(exchange string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[exchange] = b
}

// Adapter returns the cached ExchangeAdapter for exchange, building and
// caching a new one if absent or past its TTL.
func (f *Factory) Adapter(exchange string) (domain.ExchangeAdapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.entries[exchange]; ok && time.Now().Before(entry.expiresAt) {
		return entry.adapter, nil
	}

	builder, ok := f.builders[exchange]
	if !ok {
		return nil, fmt.Errorf("adapter: no builder registered for exchange %q", exchange)
	}

	a, err := builder()
	if err != nil {
		return nil, fmt.Errorf("adapter: build %s: %w", exchange, err)
	}

	f.entries[exchange] = cacheEntry{adapter: a, expiresAt: time.Now().Add(f.ttl)}
	return a, nil
}

// Compile-time interface check.
var _ domain.AdapterFactory = (*Factory)(nil)
