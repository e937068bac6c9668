package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tradecore/tradecore/internal/domain"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = (wsPongWait * 9) / 10
)

// WatchOrderBook implements domain.ExchangeAdapter. It streams the top 20
// levels on every update via the partial-book-depth stream; each message is
// a full snapshot so no local book reconstruction is needed downstream.
func (c *Client) WatchOrderBook(ctx context.Context, symbol string) (<-chan domain.OrderBookSnapshot, <-chan error) {
	out := make(chan domain.OrderBookSnapshot)
	errCh := make(chan error, 1)

	stream := wireSymbolLower(symbol) + "@depth20@100ms"
	go c.watch(ctx, stream, errCh, func(raw []byte) {
		var msg wsDepthMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		snap := domain.OrderBookSnapshot{
			Symbol:    domain.SymbolRef{Exchange: "binance", Symbol: symbol},
			Timestamp: time.Now().UTC(),
			Bids:      levelsFromPairs(msg.Bids),
			Asks:      levelsFromPairs(msg.Asks),
			Sequence:  msg.LastUpdateID,
		}
		select {
		case out <- snap:
		case <-ctx.Done():
		}
	}, func() { close(out) })

	return out, errCh
}

// WatchTrades implements domain.ExchangeAdapter.
func (c *Client) WatchTrades(ctx context.Context, symbol string) (<-chan domain.TradeEvent, <-chan error) {
	out := make(chan domain.TradeEvent)
	errCh := make(chan error, 1)

	stream := wireSymbolLower(symbol) + "@trade"
	go c.watch(ctx, stream, errCh, func(raw []byte) {
		var msg wsTradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		aggressor := domain.AggressorSell
		if !msg.BuyerIsMaker {
			aggressor = domain.AggressorBuy
		}
		evt := domain.TradeEvent{
			Symbol:    domain.SymbolRef{Exchange: "binance", Symbol: symbol},
			Timestamp: time.UnixMilli(msg.TradeTime).UTC(),
			TradeID:   fmt.Sprintf("%d", msg.TradeID),
			Price:     msg.Price.InexactFloat64(),
			Quantity:  msg.Quantity.InexactFloat64(),
			Aggressor: aggressor,
			IsMaker:   false,
		}
		select {
		case out <- evt:
		case <-ctx.Done():
		}
	}, func() { close(out) })

	return out, errCh
}

// WatchTicker implements domain.ExchangeAdapter.
func (c *Client) WatchTicker(ctx context.Context, symbol string) (<-chan domain.TickerSnapshot, <-chan error) {
	out := make(chan domain.TickerSnapshot)
	errCh := make(chan error, 1)

	stream := wireSymbolLower(symbol) + "@ticker"
	go c.watch(ctx, stream, errCh, func(raw []byte) {
		var msg wsTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		snap := domain.TickerSnapshot{
			Symbol:      domain.SymbolRef{Exchange: "binance", Symbol: symbol},
			Timestamp:   time.UnixMilli(msg.EventTime).UTC(),
			Open:        msg.OpenPrice.InexactFloat64(),
			High:        msg.HighPrice.InexactFloat64(),
			Low:         msg.LowPrice.InexactFloat64(),
			Last:        msg.LastPrice.InexactFloat64(),
			BaseVolume:  msg.BaseVolume.InexactFloat64(),
			QuoteVolume: msg.QuoteVolume.InexactFloat64(),
			BestBid:     msg.BestBid.InexactFloat64(),
			BestAsk:     msg.BestAsk.InexactFloat64(),
		}
		select {
		case out <- snap:
		case <-ctx.Done():
		}
	}, func() { close(out) })

	return out, errCh
}

// watch dials a single raw stream, invokes handle for every text message
// received, and runs until ctx is cancelled or the connection fails. On
// failure it surfaces one AdapterErrTransient on errCh; it never reconnects
// itself, leaving that decision to the caller (MarketDataFeed).
func (c *Client) watch(ctx context.Context, stream string, errCh chan<- error, handle func([]byte), onDone func()) {
	defer onDone()

	url := c.wsBaseURL + "/" + stream

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		c.sendErr(errCh, domain.NewAdapterError(domain.AdapterErrTransient, fmt.Errorf("dial %s: %w", stream, err)))
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(conn, done)

	readErrCh := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}
			handle(msg)
		}
	}()

	select {
	case <-ctx.Done():
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return
	case err := <-readErrCh:
		c.sendErr(errCh, domain.NewAdapterError(domain.AdapterErrTransient, fmt.Errorf("%s: %w", stream, err)))
		return
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
	c.logger.Warn("ws stream ended", slog.String("error", err.Error()))
}

func wireSymbolLower(symbol string) string {
	return strings.ToLower(wireSymbol(symbol))
}
