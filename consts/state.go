package consts

// Run statuses reported on every RunResult.
const (
	StatusCompleted         = "completed"
	StatusCompletedDegraded = "completed_degraded"
	StatusRejectedByRisk    = "rejected_by_risk"
	StatusFailed            = "failed"
)

// Debate stop reasons.
const (
	StopMaxRounds         = "max_rounds"
	StopSemanticConverged = "semantic_converged"
	StopInfoGainLow       = "info_gain_low"
)

// Risk rejection reasons. The set is closed; RiskGate never emits anything else.
const (
	RiskPositionLimitExceeded   = "position_limit_exceeded"
	RiskPortfolioLimitExceeded  = "portfolio_limit_exceeded"
	RiskInsufficientBuyingPower = "insufficient_buying_power"
	RiskInsufficientMargin      = "insufficient_margin"
	RiskSensitivityExceeded     = "sensitivity_limit_exceeded"
	RiskSensitivityUnavailable  = "sensitivity_unavailable"
	RiskInstrumentClassDisabled = "instrument_class_disabled"
	RiskInvalidOrder            = "invalid_order"
	RiskInvalidPortfolioValue   = "invalid_portfolio_value"
)

// Instrument classes recognized by RiskGate.
const (
	ClassEquity = "equity"
	ClassShort  = "short"
	ClassOption = "option"
)

// Checkpoint backends.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendNetworked = "networked"
)
