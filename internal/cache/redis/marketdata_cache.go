package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	orderBookTTL  = 300 * time.Second
	tickerTTL     = 300 * time.Second
	tradeListTTL  = 3600 * time.Second
	tradeListCap  = 100
)

// MarketDataCache implements domain.HotCache using flat Redis string and
// list keys. PersistenceConsumers is the sole writer; every reader
// (StrategyEngine, OracleProcessor, OrderExecutor) only ever calls the Get*
// methods.
type MarketDataCache struct {
	rdb *redis.Client
}

// NewMarketDataCache creates a MarketDataCache backed by the given Client.
func NewMarketDataCache(c *Client) *MarketDataCache {
	return &MarketDataCache{rdb: c.Underlying()}
}

func orderBookKey(exchange, symbol string) string {
	return fmt.Sprintf("market:%s:%s:orderbook", exchange, symbol)
}

func tradesKey(exchange, symbol string) string {
	return fmt.Sprintf("market:%s:%s:trades", exchange, symbol)
}

func tickerKey(exchange, symbol string) string {
	return fmt.Sprintf("market:%s:%s:ticker", exchange, symbol)
}

// SetOrderBook writes the latest order book snapshot for (exchange, symbol),
// overwriting whatever was cached before it.
func (c *MarketDataCache) SetOrderBook(ctx context.Context, exchange, symbol string, snap domain.OrderBookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal order book %s/%s: %w", exchange, symbol, err)
	}
	if err := c.rdb.Set(ctx, orderBookKey(exchange, symbol), data, orderBookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set order book %s/%s: %w", exchange, symbol, err)
	}
	return nil
}

// GetOrderBook returns the cached order book snapshot for (exchange,
// symbol), or domain.ErrNotFound if nothing is cached or the TTL expired.
func (c *MarketDataCache) GetOrderBook(ctx context.Context, exchange, symbol string) (domain.OrderBookSnapshot, error) {
	data, err := c.rdb.Get(ctx, orderBookKey(exchange, symbol)).Bytes()
	if err == redis.Nil {
		return domain.OrderBookSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: get order book %s/%s: %w", exchange, symbol, err)
	}
	var snap domain.OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("redis: unmarshal order book %s/%s: %w", exchange, symbol, err)
	}
	return snap, nil
}

// AppendTrade pushes a trade onto the front of the capped recent-trades
// list for (exchange, symbol), trimming to tradeListCap entries.
func (c *MarketDataCache) AppendTrade(ctx context.Context, exchange, symbol string, trade domain.TradeEvent) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("redis: marshal trade %s/%s: %w", exchange, symbol, err)
	}
	key := tradesKey(exchange, symbol)

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, tradeListCap-1)
	pipe.Expire(ctx, key, tradeListTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: append trade %s/%s: %w", exchange, symbol, err)
	}
	return nil
}

// RecentTrades returns up to limit of the most recently appended trades for
// (exchange, symbol), newest first.
func (c *MarketDataCache) RecentTrades(ctx context.Context, exchange, symbol string, limit int) ([]domain.TradeEvent, error) {
	if limit <= 0 || limit > tradeListCap {
		limit = tradeListCap
	}
	raw, err := c.rdb.LRange(ctx, tradesKey(exchange, symbol), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent trades %s/%s: %w", exchange, symbol, err)
	}
	trades := make([]domain.TradeEvent, 0, len(raw))
	for _, r := range raw {
		var t domain.TradeEvent
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// SetTicker writes the latest ticker snapshot for (exchange, symbol).
func (c *MarketDataCache) SetTicker(ctx context.Context, exchange, symbol string, snap domain.TickerSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal ticker %s/%s: %w", exchange, symbol, err)
	}
	if err := c.rdb.Set(ctx, tickerKey(exchange, symbol), data, tickerTTL).Err(); err != nil {
		return fmt.Errorf("redis: set ticker %s/%s: %w", exchange, symbol, err)
	}
	return nil
}

// GetTicker returns the cached ticker snapshot for (exchange, symbol), or
// domain.ErrNotFound if nothing is cached or the TTL expired.
func (c *MarketDataCache) GetTicker(ctx context.Context, exchange, symbol string) (domain.TickerSnapshot, error) {
	data, err := c.rdb.Get(ctx, tickerKey(exchange, symbol)).Bytes()
	if err == redis.Nil {
		return domain.TickerSnapshot{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.TickerSnapshot{}, fmt.Errorf("redis: get ticker %s/%s: %w", exchange, symbol, err)
	}
	var snap domain.TickerSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.TickerSnapshot{}, fmt.Errorf("redis: unmarshal ticker %s/%s: %w", exchange, symbol, err)
	}
	return snap, nil
}

// Compile-time interface check.
var _ domain.HotCache = (*MarketDataCache)(nil)
