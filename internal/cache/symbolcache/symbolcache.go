// Package symbolcache provides an in-process LRU+TTL cache in front of
// domain.SymbolStore, so the hot path (PersistenceConsumers, OrderFlowAggregator)
// never round-trips to Postgres to resolve a (exchange, symbol) pair it has
// already seen recently.
package symbolcache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const (
	defaultCapacity = 4096
	defaultTTL      = 10 * time.Minute
)

type entry struct {
	key       string
	ref       domain.SymbolRef
	expiresAt time.Time
	elem      *list.Element
}

// Cache is an LRU cache of SymbolRef lookups keyed by "exchange/symbol",
// with a bounded size and a fixed TTL per entry. A miss (absent or expired)
// falls through to the backing SymbolStore and repopulates the cache.
type Cache struct {
	mu       sync.Mutex
	store    domain.SymbolStore
	capacity int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*entry
}

// New creates a Cache backed by store with the default capacity and TTL.
func New(store domain.SymbolStore) *Cache {
	return &Cache{
		store:    store,
		capacity: defaultCapacity,
		ttl:      defaultTTL,
		ll:       list.New(),
		items:    make(map[string]*entry),
	}
}

func cacheKey(exchange, symbol string) string {
	return exchange + "/" + symbol
}

// Lookup returns the SymbolRef for (exchange, symbol), serving from cache
// when a fresh entry exists and falling through to the SymbolStore
// otherwise.
func (c *Cache) Lookup(ctx context.Context, exchange, symbol string) (domain.SymbolRef, error) {
	key := cacheKey(exchange, symbol)

	c.mu.Lock()
	if e, ok := c.items[key]; ok && time.Now().Before(e.expiresAt) {
		c.ll.MoveToFront(e.elem)
		ref := e.ref
		c.mu.Unlock()
		return ref, nil
	}
	c.mu.Unlock()

	ref, err := c.store.GetByExchangeSymbol(ctx, exchange, symbol)
	if err != nil {
		return domain.SymbolRef{}, fmt.Errorf("symbolcache: lookup %s/%s: %w", exchange, symbol, err)
	}
	c.Put(exchange, symbol, ref)
	return ref, nil
}

// Put inserts or refreshes a cache entry, evicting the least-recently-used
// entry if the cache is at capacity.
func (c *Cache) Put(exchange, symbol string, ref domain.SymbolRef) {
	key := cacheKey(exchange, symbol)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.ref = ref
		e.expiresAt = time.Now().Add(c.ttl)
		c.ll.MoveToFront(e.elem)
		return
	}

	e := &entry{key: key, ref: ref, expiresAt: time.Now().Add(c.ttl)}
	e.elem = c.ll.PushFront(e)
	c.items[key] = e

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*entry).key)
		}
	}
}

// Compile-time interface check.
var _ domain.SymbolCache = (*Cache)(nil)
