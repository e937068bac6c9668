package binance

import "github.com/shopspring/decimal"

// exchangeInfoResp is the response shape of GET /fapi/v1/exchangeInfo.
type exchangeInfoResp struct {
	Symbols []symbolInfo `json:"symbols"`
}

type symbolInfo struct {
	Symbol     string       `json:"symbol"`
	QuoteAsset string       `json:"quoteAsset"`
	Filters    []symbolFilter `json:"filters"`
}

type symbolFilter struct {
	FilterType string          `json:"filterType"`
	TickSize   decimal.Decimal `json:"tickSize"`
}

func (s symbolInfo) tickSize() float64 {
	for _, f := range s.Filters {
		if f.FilterType == "PRICE_FILTER" {
			return f.TickSize.InexactFloat64()
		}
	}
	return 0
}

// depthResp is the response shape of GET /fapi/v1/depth.
type depthResp struct {
	LastUpdateID int64      `json:"lastUpdateId"`
	Bids         [][2]decimal.Decimal `json:"bids"`
	Asks         [][2]decimal.Decimal `json:"asks"`
}

// tickerResp is the response shape of GET /fapi/v1/ticker/24hr.
type tickerResp struct {
	Symbol      string          `json:"symbol"`
	OpenPrice   decimal.Decimal `json:"openPrice"`
	HighPrice   decimal.Decimal `json:"highPrice"`
	LowPrice    decimal.Decimal `json:"lowPrice"`
	LastPrice   decimal.Decimal `json:"lastPrice"`
	BidPrice    decimal.Decimal `json:"bidPrice"`
	AskPrice    decimal.Decimal `json:"askPrice"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quoteVolume"`
	CloseTime   int64           `json:"closeTime"`
}

// balanceEntry is one element of GET /fapi/v2/balance.
type balanceEntry struct {
	Asset              string          `json:"asset"`
	Balance            decimal.Decimal `json:"balance"`
	AvailableBalance   decimal.Decimal `json:"availableBalance"`
}

// orderResp is the response shape of the order-placement, order-query, and
// cancel-order REST endpoints.
type orderResp struct {
	OrderID       int64           `json:"orderId"`
	ClientOrderID string          `json:"clientOrderId"`
	Status        string          `json:"status"`
	ExecutedQty   decimal.Decimal `json:"executedQty"`
	AvgPrice      decimal.Decimal `json:"avgPrice"`
	Price         decimal.Decimal `json:"price"`
	Side          string          `json:"side"`
}

// apiErrorResp is Binance's standard error envelope: {"code":-1121,"msg":"..."}
type apiErrorResp struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

// wsDepthMessage is the payload of a <symbol>@depth<levels> partial book
// depth stream: a full snapshot of the top N levels on every update.
type wsDepthMessage struct {
	LastUpdateID int64                `json:"lastUpdateId"`
	Bids         [][2]decimal.Decimal `json:"bids"`
	Asks         [][2]decimal.Decimal `json:"asks"`
}

// wsTradeMessage is the payload of a <symbol>@trade stream.
type wsTradeMessage struct {
	EventType    string          `json:"e"`
	EventTime    int64           `json:"E"`
	Symbol       string          `json:"s"`
	TradeID      int64           `json:"t"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	TradeTime    int64           `json:"T"`
	BuyerIsMaker bool            `json:"m"`
}

// wsTickerMessage is the payload of a <symbol>@ticker stream (rolling 24h
// window ticker).
type wsTickerMessage struct {
	EventType   string          `json:"e"`
	EventTime   int64           `json:"E"`
	Symbol      string          `json:"s"`
	OpenPrice   decimal.Decimal `json:"o"`
	HighPrice   decimal.Decimal `json:"h"`
	LowPrice    decimal.Decimal `json:"l"`
	LastPrice   decimal.Decimal `json:"c"`
	BestBid     decimal.Decimal `json:"b"`
	BestAsk     decimal.Decimal `json:"a"`
	BaseVolume  decimal.Decimal `json:"v"`
	QuoteVolume decimal.Decimal `json:"q"`
}
