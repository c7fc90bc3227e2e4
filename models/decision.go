package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the closed set of terminal decisions.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionBuy, DirectionSell, DirectionHold:
		return true
	}
	return false
}

// Decision is the terminal output of the stage graph.
type Decision struct {
	Subject    string    `json:"subject"`
	AsOfDate   string    `json:"as_of_date"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence,omitempty"`
	Rationale  string    `json:"rationale"`

	// Optional hints extracted from the text. Sizing policy decides the final quantity.
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	OrderKind  OrderKind        `json:"order_kind,omitempty"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty"`

	// Degraded marks a decision that fell back to HOLD because the text was unusable.
	Degraded bool `json:"degraded,omitempty"`
}

// HoldDecision is the conservative fallback.
func HoldDecision(subject, asOfDate, rationale string) *Decision {
	return &Decision{
		Subject:   subject,
		AsOfDate:  asOfDate,
		Direction: DirectionHold,
		Rationale: rationale,
		Degraded:  true,
	}
}

// DecisionRecord is an audited decision with the lineage that informed it.
type DecisionRecord struct {
	RunID     string       `json:"run_id"`
	Decision  Decision     `json:"decision"`
	Lineage   []LineageRef `json:"lineage,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
