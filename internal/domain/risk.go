package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DenyReason identifies which risk check rejected an intent. The values
// double as the deny_reason field of execution records and API responses.
type DenyReason string

const (
	DenyAccountInactive      DenyReason = "account_inactive"
	DenyUnsupportedOrderType DenyReason = "unsupported_order_type"
	DenyInsufficientFunds    DenyReason = "insufficient_funds"
	DenyExceedsTradeLimit    DenyReason = "exceeds_trade_limit"
	DenyExceedsLeverageLimit DenyReason = "exceeds_leverage_limit"
	DenyExceedsPositionLimit DenyReason = "exceeds_position_limit"
)

// RiskDecision is the outcome of evaluating one intent against one account.
// A denied trade is a normal value, not an error. RequiredMargin is set on
// allowed decisions so the executor reserves exactly what the funds check
// computed.
type RiskDecision struct {
	Allowed        bool            `json:"allowed"`
	Reason         DenyReason      `json:"reason,omitempty"`
	RequiredMargin decimal.Decimal `json:"required_margin"`
}

// AlertSeverity ranks risk monitor alerts.
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "low"
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// RiskAlert is emitted by the risk monitor when an account crosses one of
// its monitored thresholds.
type RiskAlert struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"` // e.g. "daily_loss", "position_concentration"
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	AccountID string        `json:"account_id,omitempty"`
	Symbol    string        `json:"symbol,omitempty"`
	Value     float64       `json:"value,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	Time      time.Time     `json:"time"`
}
