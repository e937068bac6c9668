package orderflow

import (
	"sort"
	"time"

	"github.com/tradecore/tradecore/internal/domain"
)

type bucket struct {
	bid float64
	ask float64
}

func (b bucket) total() float64 { return b.bid + b.ask }

// bufferKey identifies a single open aggregation buffer.
type bufferKey struct {
	exchange string
	symbol   string
	start    int64 // unix millis
}

// buffer is the mutable, consumer-owned state for one (exchange, symbol,
// bar-start) footprint candle while it is still accepting trades.
type buffer struct {
	symbol   domain.SymbolRef
	interval time.Duration
	start    time.Time
	end      time.Time

	hasTrade bool
	open     float64
	high     float64
	low      float64
	close    float64

	unallocated float64
	buckets     map[float64]*bucket
}

func newBuffer(symbol domain.SymbolRef, interval time.Duration, start time.Time) *buffer {
	return &buffer{
		symbol:   symbol,
		interval: interval,
		start:    start,
		end:      start.Add(interval).Add(-time.Millisecond),
		buckets:  make(map[float64]*bucket),
	}
}

func (b *buffer) apply(trade domain.TradeEvent, tick float64) {
	if !b.hasTrade {
		b.open = trade.Price
		b.high = trade.Price
		b.low = trade.Price
		b.hasTrade = true
	} else {
		if trade.Price > b.high {
			b.high = trade.Price
		}
		if trade.Price < b.low {
			b.low = trade.Price
		}
	}
	b.close = trade.Price

	bucketPrice := domain.BucketPrice(trade.Price, tick)
	switch trade.Aggressor {
	case domain.AggressorBuy:
		b.bucketFor(bucketPrice).ask += trade.Quantity
	case domain.AggressorSell:
		b.bucketFor(bucketPrice).bid += trade.Quantity
	default:
		b.unallocated += trade.Quantity
	}
}

func (b *buffer) bucketFor(price float64) *bucket {
	bk, ok := b.buckets[price]
	if !ok {
		bk = &bucket{}
		b.buckets[price] = bk
	}
	return bk
}

func (b *buffer) sortedPrices() []float64 {
	prices := make([]float64, 0, len(b.buckets))
	for p := range b.buckets {
		prices = append(prices, p)
	}
	sort.Float64s(prices)
	return prices
}

// finalize computes the candle's OHLC totals, POC, value area, and
// per-bucket imbalance flags. It does not mutate the buffer.
func (b *buffer) finalize() domain.FootprintCandle {
	prices := b.sortedPrices()

	candle := domain.FootprintCandle{
		SymbolID: b.symbol.ID,
		Exchange: b.symbol.Exchange,
		Symbol:   b.symbol.Symbol,
		Interval: b.interval,
		Start:    b.start,
		End:      b.end,
		Open:     b.open,
		High:     b.high,
		Low:      b.low,
		Close:    b.close,
	}

	tick := b.symbol.TickSize
	if tick <= 0 {
		tick = 1
	}

	var totalVolume, totalDelta float64
	for _, p := range prices {
		bk := b.buckets[p]
		totalVolume += bk.total()
		totalDelta += bk.ask - bk.bid
	}
	totalVolume += b.unallocated
	candle.TotalVolume = totalVolume
	candle.TotalDelta = totalDelta

	if len(prices) == 0 {
		return candle
	}

	pocIdx := pointOfControl(prices, b.buckets)
	poc := prices[pocIdx]
	candle.POC = poc

	loIdx, hiIdx := valueArea(prices, b.buckets, pocIdx, totalVolume-b.unallocated)
	candle.ValueAreaLow = prices[loIdx]
	candle.ValueAreaHigh = prices[hiIdx]

	candle.Buckets = make([]domain.PriceBucket, 0, len(prices))
	for _, p := range prices {
		bk := b.buckets[p]
		pb := domain.PriceBucket{Price: p, BidVolume: bk.bid, AskVolume: bk.ask}
		pb.ImbalanceAsk = bk.ask > 0 && bk.ask >= 3*b.bidAt(p-tick)
		pb.ImbalanceBid = bk.bid > 0 && bk.bid >= 3*b.askAt(p+tick)
		candle.Buckets = append(candle.Buckets, pb)
	}

	return candle
}

func (b *buffer) bidAt(price float64) float64 {
	if bk, ok := b.buckets[price]; ok {
		return bk.bid
	}
	return 0
}

func (b *buffer) askAt(price float64) float64 {
	if bk, ok := b.buckets[price]; ok {
		return bk.ask
	}
	return 0
}

// pointOfControl returns the index (into prices) of the bucket with the
// highest total volume, breaking ties by preferring the lower price.
func pointOfControl(prices []float64, buckets map[float64]*bucket) int {
	best := 0
	bestVol := buckets[prices[0]].total()
	for i := 1; i < len(prices); i++ {
		v := buckets[prices[i]].total()
		if v > bestVol {
			best = i
			bestVol = v
		}
	}
	return best
}

// valueArea expands out from the POC index, at each step adding whichever
// adjacent bucket (above or below the current range) has the higher volume,
// until the accumulated volume covers at least 70% of barTotal. Ties prefer
// the lower price, matching the POC tie-break.
func valueArea(prices []float64, buckets map[float64]*bucket, pocIdx int, barTotal float64) (loIdx, hiIdx int) {
	loIdx, hiIdx = pocIdx, pocIdx
	if barTotal <= 0 {
		return
	}
	threshold := 0.70 * barTotal
	acc := buckets[prices[pocIdx]].total()

	for acc < threshold && (loIdx > 0 || hiIdx < len(prices)-1) {
		var lowerVol, upperVol float64
		haveLower := loIdx > 0
		haveUpper := hiIdx < len(prices)-1
		if haveLower {
			lowerVol = buckets[prices[loIdx-1]].total()
		}
		if haveUpper {
			upperVol = buckets[prices[hiIdx+1]].total()
		}

		switch {
		case haveLower && (!haveUpper || lowerVol > upperVol):
			loIdx--
			acc += lowerVol
		case haveUpper && (!haveLower || upperVol > lowerVol):
			hiIdx++
			acc += upperVol
		case haveLower && haveUpper:
			// equal volume: prefer the lower price, i.e. expand downward.
			loIdx--
			acc += lowerVol
		}
	}
	return
}
