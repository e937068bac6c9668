// Package binance implements domain.ExchangeAdapter against Binance's USDT-M
// futures REST and WebSocket APIs. It is the reference concrete adapter:
// other exchanges plug into the same domain.ExchangeAdapter capability set
// by following this package's shape.
package binance

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

const (
	defaultRESTBaseURL = "https://fapi.binance.com"
	defaultWSBaseURL   = "wss://fstream.binance.com/ws"

	httpTimeout = 10 * time.Second
)

// Client implements domain.ExchangeAdapter for Binance USDT-M futures.
type Client struct {
	restBaseURL string
	wsBaseURL   string
	httpClient  *http.Client
	logger      *slog.Logger
}

// Config configures a Client. Empty fields fall back to Binance's
// production REST and WS hosts.
type Config struct {
	RESTBaseURL string
	WSBaseURL   string
}

// NewClient creates a binance Client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	restBase := cfg.RESTBaseURL
	if restBase == "" {
		restBase = defaultRESTBaseURL
	}
	wsBase := cfg.WSBaseURL
	if wsBase == "" {
		wsBase = defaultWSBaseURL
	}
	return &Client{
		restBaseURL: restBase,
		wsBaseURL:   wsBase,
		httpClient:  &http.Client{Timeout: httpTimeout},
		logger:      logger.With(slog.String("component", "adapter.binance")),
	}
}

// Name implements domain.ExchangeAdapter.
func (c *Client) Name() string { return "binance" }

// Compile-time interface check.
var _ domain.ExchangeAdapter = (*Client)(nil)
