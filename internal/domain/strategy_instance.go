package domain

import "time"

// EngineStatus is the lifecycle state StrategyEngine assigns to a running
// StrategyInstance. It is distinct from the owner-controlled DesiredActive
// flag: the owner decides whether a strategy should run; the engine decides
// whether it currently is.
type EngineStatus string

const (
	StatusPendingStart EngineStatus = "pending_start"
	StatusRunning      EngineStatus = "running"
	StatusPaused       EngineStatus = "paused"
	StatusStopped      EngineStatus = "stopped"
	StatusError        EngineStatus = "error"
)

// StrategyKind enumerates the built-in strategy kinds. Heterogeneous
// parameter maps are modelled as tagged variants of these kinds rather than
// raw maps; unknown kinds are rejected at load time.
type StrategyKind string

const (
	StrategyMeanReversion StrategyKind = "mean_reversion"
	StrategyMomentum      StrategyKind = "momentum"
)

// MeanReversionParams is the typed parameter record for StrategyMeanReversion.
type MeanReversionParams struct {
	LookbackWindow  time.Duration
	StdDevThreshold float64
	SizeBase        float64
}

// MomentumParams is the typed parameter record for StrategyMomentum.
type MomentumParams struct {
	LookbackWindow time.Duration
	BreakoutBps    float64
	SizeBase       float64
}

// StrategyParams is a tagged variant: exactly one of the typed fields is
// populated, selected by Kind. Loading a StrategyInstance with an
// unrecognized Kind or a nil variant is rejected at load time by the
// strategy engine, not discovered later during evaluation.
type StrategyParams struct {
	Kind          StrategyKind
	MeanReversion *MeanReversionParams
	Momentum      *MomentumParams
}

// StrategyInstance is a user-configured strategy run against a single
// (exchange, symbol). DesiredActive is owned by the external API that
// created it; Status and the rest of the lifecycle fields are owned
// exclusively by the StrategyEngine while the instance is running.
type StrategyInstance struct {
	ID                string
	OwnerID           string
	ExchangeConfigID  string
	Exchange          string
	Symbol            string
	Params            StrategyParams
	EvalInterval      time.Duration
	DesiredActive     bool
	Status            EngineStatus
	HealthMessage     string
	LastEvaluatedAt   time.Time
	ConsecutiveErrors int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
