package domain

import "time"

// InsightType enumerates the kinds of OracleInsight the OracleProcessor can
// emit. Only orderbook_imbalance is produced today; the type exists so new
// insight kinds can be added without a wire-format break.
type InsightType string

const (
	InsightOrderBookImbalance InsightType = "orderbook_imbalance"
)

// PressureClass classifies an imbalance ratio against the 0.65/0.35
// thresholds.
type PressureClass string

const (
	PressureBuy      PressureClass = "buy_pressure"
	PressureSell     PressureClass = "sell_pressure"
	PressureBalanced PressureClass = "balanced"
)

// OracleInsight is a periodic, market-wide observation published to
// market.insights. Failures producing one insight never block another.
type OracleInsight struct {
	Type       InsightType
	Exchange   string
	Symbol     string
	Ratio      float64
	Class      PressureClass
	Confidence float64
	Message    string
	Timestamp  time.Time
}
