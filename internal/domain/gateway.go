package domain

import (
	"context"
	"fmt"
)

// ExchangeGateway submits orders to one venue. Implementations must be safe
// for concurrent use; the executor calls Submit from many accounts at once.
type ExchangeGateway interface {
	// Name returns the routing key accounts reference via Account.Exchange.
	Name() string
	// Submit places the order described by the intent and reports the fill.
	// Venue rejections should be returned as (or wrapping) a *GatewayError
	// so the classifier can map them without guessing.
	Submit(ctx context.Context, intent TradeIntent) (FillReport, error)
}

// ErrorKind is the closed classification of gateway and transport failures.
// It decides retryability and backoff.
type ErrorKind string

const (
	ErrorKindNetwork          ErrorKind = "network"
	ErrorKindRateLimit        ErrorKind = "rate_limit"
	ErrorKindAuth             ErrorKind = "auth"
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindExchangeRejected ErrorKind = "exchange_rejected"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// GatewayError is a structured venue failure. Gateways populate what they
// know: a venue code, an HTTP status, or an already-determined Kind. The
// classifier consumes it via errors.As.
type GatewayError struct {
	Exchange   string
	Code       string // venue error code, e.g. "-1003" or "50116"
	HTTPStatus int
	Kind       ErrorKind // set when the source already knows the class
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: code %s: %s", e.Exchange, e.Code, msg)
	}
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Exchange, e.HTTPStatus, msg)
	}
	return fmt.Sprintf("%s: %s", e.Exchange, msg)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}
