package domain

import "time"

// PriceBucket aggregates bid/ask volume traded at a single price bucket
// within a FootprintCandle.
type PriceBucket struct {
	Price           float64
	BidVolume       float64
	AskVolume       float64
	ImbalanceBid    bool
	ImbalanceAsk    bool
}

// Delta returns askVolume - bidVolume for this bucket.
func (b PriceBucket) Delta() float64 {
	return b.AskVolume - b.BidVolume
}

// TotalVolume returns bidVolume + askVolume for this bucket.
func (b PriceBucket) TotalVolume() float64 {
	return b.BidVolume + b.AskVolume
}

// FootprintCandle is a fixed-interval candle enriched with per-price-level
// bid/ask volume ("footprint"). Identity is (SymbolID, Exchange, Interval,
// Start); emission is idempotent on that key.
type FootprintCandle struct {
	SymbolID      int64
	Exchange      string
	Symbol        string
	Interval      time.Duration
	Start         time.Time
	End           time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	TotalVolume   float64
	TotalDelta    float64
	POC           float64
	ValueAreaHigh float64
	ValueAreaLow  float64
	Buckets       []PriceBucket
}
