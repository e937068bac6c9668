package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradecore/tradecore/internal/crypto"
	"github.com/tradecore/tradecore/internal/domain"
)

// FetchMarkets implements domain.ExchangeAdapter.
func (c *Client) FetchMarkets(ctx context.Context, _ domain.DecryptedCredential) ([]domain.SymbolRef, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", nil, false, domain.DecryptedCredential{})
	if err != nil {
		return nil, fmt.Errorf("binance: fetch markets: %w", err)
	}

	var resp exchangeInfoResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode exchangeInfo: %w", err)
	}

	out := make([]domain.SymbolRef, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		out = append(out, domain.SymbolRef{
			Exchange:   "binance",
			Symbol:     s.Symbol,
			QuoteAsset: s.QuoteAsset,
			TickSize:   s.tickSize(),
		})
	}
	return out, nil
}

// FetchTicker implements domain.ExchangeAdapter.
func (c *Client) FetchTicker(ctx context.Context, _ domain.DecryptedCredential, symbol string) (domain.TickerSnapshot, error) {
	params := url.Values{"symbol": {wireSymbol(symbol)}}
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/ticker/24hr", params, false, domain.DecryptedCredential{})
	if err != nil {
		return domain.TickerSnapshot{}, fmt.Errorf("binance: fetch ticker %s: %w", symbol, err)
	}

	var resp tickerResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.TickerSnapshot{}, fmt.Errorf("binance: decode ticker %s: %w", symbol, err)
	}

	return domain.TickerSnapshot{
		Symbol:      domain.SymbolRef{Exchange: "binance", Symbol: symbol},
		Timestamp:   time.UnixMilli(resp.CloseTime).UTC(),
		Open:        resp.OpenPrice.InexactFloat64(),
		High:        resp.HighPrice.InexactFloat64(),
		Low:         resp.LowPrice.InexactFloat64(),
		Last:        resp.LastPrice.InexactFloat64(),
		BaseVolume:  resp.Volume.InexactFloat64(),
		QuoteVolume: resp.QuoteVolume.InexactFloat64(),
		BestBid:     resp.BidPrice.InexactFloat64(),
		BestAsk:     resp.AskPrice.InexactFloat64(),
	}, nil
}

// FetchOrderBook implements domain.ExchangeAdapter.
func (c *Client) FetchOrderBook(ctx context.Context, _ domain.DecryptedCredential, symbol string, depth int) (domain.OrderBookSnapshot, error) {
	if depth <= 0 {
		depth = 50
	}
	params := url.Values{
		"symbol": {wireSymbol(symbol)},
		"limit":  {strconv.Itoa(depth)},
	}
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/depth", params, false, domain.DecryptedCredential{})
	if err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("binance: fetch order book %s: %w", symbol, err)
	}

	var resp depthResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderBookSnapshot{}, fmt.Errorf("binance: decode depth %s: %w", symbol, err)
	}

	return domain.OrderBookSnapshot{
		Symbol:    domain.SymbolRef{Exchange: "binance", Symbol: symbol},
		Timestamp: time.Now().UTC(),
		Bids:      levelsFromPairs(resp.Bids),
		Asks:      levelsFromPairs(resp.Asks),
		Sequence:  resp.LastUpdateID,
	}, nil
}

// FetchBalance implements domain.ExchangeAdapter.
func (c *Client) FetchBalance(ctx context.Context, cred domain.DecryptedCredential) ([]domain.Balance, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{}, true, cred)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch balance: %w", err)
	}

	var entries []balanceEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("binance: decode balance: %w", err)
	}

	out := make([]domain.Balance, 0, len(entries))
	for _, e := range entries {
		free := e.AvailableBalance.InexactFloat64()
		total := e.Balance.InexactFloat64()
		out = append(out, domain.Balance{
			Asset:  e.Asset,
			Free:   free,
			Locked: total - free,
		})
	}
	return out, nil
}

// CreateOrder implements domain.ExchangeAdapter. The caller-supplied
// ClientOrderID is forwarded verbatim as Binance's newClientOrderId.
// req.Window is not read and the client keeps no record of earlier
// requests; any duplicate rejection comes from Binance itself.
func (c *Client) CreateOrder(ctx context.Context, cred domain.DecryptedCredential, req domain.OrderRequest) (domain.OrderResult, error) {
	params := url.Values{
		"symbol":           {wireSymbol(req.Symbol)},
		"side":             {strings.ToUpper(string(req.Side))},
		"type":             {wireOrderType(req.Type)},
		"newClientOrderId": {req.ClientOrderID},
	}
	if req.Quantity > 0 {
		params.Set("quantity", strconv.FormatFloat(req.Quantity, 'f', -1, 64))
	}
	if req.QuoteQuantity > 0 {
		params.Set("quoteOrderQty", strconv.FormatFloat(req.QuoteQuantity, 'f', -1, 64))
	}
	if req.Type == domain.OrderTypeLimit {
		if req.Price <= 0 {
			return domain.OrderResult{}, domain.NewAdapterError(domain.AdapterErrInvalidOrder, fmt.Errorf("limit order requires a price"))
		}
		params.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))
		params.Set("timeInForce", "GTC")
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/fapi/v1/order", params, true, cred)
	if err != nil {
		return domain.OrderResult{}, err
	}

	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: decode order response: %w", err)
	}

	return orderRespToResult(resp), nil
}

// FetchOrder implements domain.ExchangeAdapter.
func (c *Client) FetchOrder(ctx context.Context, cred domain.DecryptedCredential, exchangeOrderID string) (domain.OrderResult, error) {
	params := url.Values{"orderId": {exchangeOrderID}}
	body, err := c.doRequest(ctx, http.MethodGet, "/fapi/v1/order", params, true, cred)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: fetch order %s: %w", exchangeOrderID, err)
	}

	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderResult{}, fmt.Errorf("binance: decode order %s: %w", exchangeOrderID, err)
	}
	return orderRespToResult(resp), nil
}

// CancelOrder implements domain.ExchangeAdapter.
func (c *Client) CancelOrder(ctx context.Context, cred domain.DecryptedCredential, exchangeOrderID string) error {
	params := url.Values{"orderId": {exchangeOrderID}}
	_, err := c.doRequest(ctx, http.MethodDelete, "/fapi/v1/order", params, true, cred)
	if err != nil {
		return fmt.Errorf("binance: cancel order %s: %w", exchangeOrderID, err)
	}
	return nil
}

// --------------------------------------------------------------------------
// internal helpers
// --------------------------------------------------------------------------

func orderRespToResult(resp orderResp) domain.OrderResult {
	return domain.OrderResult{
		ExchangeOrderID: strconv.FormatInt(resp.OrderID, 10),
		Status:          wireStatusToDomain(resp.Status),
		FilledQty:       resp.ExecutedQty.InexactFloat64(),
		AvgFillPrice:    resp.AvgPrice.InexactFloat64(),
	}
}

func wireStatusToDomain(status string) domain.OrderStatus {
	switch status {
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusOpen
	}
}

func wireOrderType(t domain.OrderType) string {
	if t == domain.OrderTypeLimit {
		return "LIMIT"
	}
	return "MARKET"
}

// wireSymbol normalizes a domain symbol (e.g. "BTC/USDT") to Binance's
// concatenated wire form ("BTCUSDT").
func wireSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

func levelsFromPairs(pairs [][2]decimal.Decimal) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, domain.PriceLevel{Price: p[0].InexactFloat64(), Size: p[1].InexactFloat64()})
	}
	return out
}

// doRequest builds, optionally signs, sends, and reads a REST request.
// signed requests carry the API key header and an HMAC signature over the
// full parameter set; unsigned ones are plain public GETs.
func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, signed bool, cred domain.DecryptedCredential) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}

	var query string
	if signed {
		signer := crypto.NewRequestSigner(cred.Key, cred.Secret, 5000)
		query = signer.Sign(params)
	} else {
		query = params.Encode()
	}

	reqURL := c.restBaseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance: build request: %w", err)
	}
	if signed {
		name, val := crypto.NewRequestSigner(cred.Key, cred.Secret, 0).AuthHeader()
		req.Header.Set(name, val)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewAdapterError(domain.AdapterErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewAdapterError(domain.AdapterErrTransient, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	return nil, classifyError(resp, respBody)
}

// classifyError maps an HTTP failure onto the AdapterError kind the caller
// is expected to react to.
func classifyError(resp *http.Response, body []byte) error {
	var apiErr apiErrorResp
	_ = json.Unmarshal(body, &apiErr)

	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		retryAfter := int64(0)
		if v := resp.Header.Get("Retry-After"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				retryAfter = n
			}
		}
		return domain.NewRateLimitedError(retryAfter, fmt.Errorf("%s", string(body)))
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.NewAdapterError(domain.AdapterErrAuth, fmt.Errorf("%s", string(body)))
	case http.StatusBadRequest:
		switch apiErr.Code {
		case -2010, -1013:
			return domain.NewAdapterError(domain.AdapterErrInsufficientFunds, fmt.Errorf("%s", apiErr.Msg))
		default:
			return domain.NewAdapterError(domain.AdapterErrInvalidOrder, fmt.Errorf("%s", string(body)))
		}
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
		return domain.NewAdapterError(domain.AdapterErrTransient, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	default:
		return domain.NewAdapterError(domain.AdapterErrFatal, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body)))
	}
}
