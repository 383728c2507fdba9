// Package exchange holds the venue-facing pieces of the engine: the error
// classifier that turns gateway failures into retry decisions, the retry
// policy itself, and the circuit breaker wrapped around every gateway.
// Venue clients live in the subpackages (binance, okx, paper).
package exchange

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// venueCodes maps exchange -> venue error code -> kind. Codes the table
// does not know classify as unknown, not as exchange_rejected: an
// unrecognized code says nothing about whether the venue actually
// rejected the order.
var venueCodes = map[string]map[string]domain.ErrorKind{
	"binance": {
		"-2014": domain.ErrorKindAuth, // API-key format invalid
		"-1022": domain.ErrorKindAuth, // signature for this request is not valid
		"-1003": domain.ErrorKindRateLimit,
		"-2013": domain.ErrorKindExchangeRejected, // order does not exist
	},
	"okx": {
		"50113": domain.ErrorKindAuth,
		"50114": domain.ErrorKindAuth,
		"50116": domain.ErrorKindRateLimit,
		"51020": domain.ErrorKindExchangeRejected,
	},
	"bybit": {
		"10001": domain.ErrorKindAuth,
		"10002": domain.ErrorKindAuth,
		"10006": domain.ErrorKindRateLimit,
		"20001": domain.ErrorKindExchangeRejected,
	},
}

// Classify maps a gateway failure to an ErrorKind. It is deterministic and
// idempotent: the same error always yields the same kind. Resolution order:
// an explicit kind carried by a GatewayError, then venue code tables, then
// HTTP status, then transport errors, otherwise unknown.
func Classify(err error, exchange string) domain.ErrorKind {
	if err == nil {
		return domain.ErrorKindUnknown
	}

	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Kind != "" {
			return gwErr.Kind
		}
		if gwErr.Exchange != "" {
			exchange = gwErr.Exchange
		}
		if gwErr.Code != "" {
			if kind, ok := venueCodes[exchange][gwErr.Code]; ok {
				return kind
			}
			return domain.ErrorKindUnknown
		}
		if gwErr.HTTPStatus != 0 {
			return classifyHTTPStatus(gwErr.HTTPStatus)
		}
	}

	// go-binance surfaces venue rejections as *common.APIError.
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := venueCodes["binance"][strconv.FormatInt(apiErr.Code, 10)]; ok {
			return kind
		}
		return domain.ErrorKindUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return domain.ErrorKindTimeout
		}
		return domain.ErrorKindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.ErrorKindNetwork
	}

	return domain.ErrorKindUnknown
}

func classifyHTTPStatus(status int) domain.ErrorKind {
	switch {
	case status == 401 || status == 403:
		return domain.ErrorKindAuth
	case status == 429:
		return domain.ErrorKindRateLimit
	case status >= 500:
		return domain.ErrorKindNetwork
	case status >= 400:
		return domain.ErrorKindExchangeRejected
	default:
		return domain.ErrorKindUnknown
	}
}

// IsRetryable reports whether a submit failure of this kind may be retried.
// Auth and validation failures never are: resubmitting the same credentials
// or the same malformed order cannot succeed.
func IsRetryable(kind domain.ErrorKind) bool {
	switch kind {
	case domain.ErrorKindAuth, domain.ErrorKindValidation:
		return false
	}
	return true
}

// RetryPolicy bounds submit attempts per error kind and shapes the backoff
// between them. The zero value is unusable; start from DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts map[domain.ErrorKind]int // total submit calls, first included
	BaseDelay   map[domain.ErrorKind]time.Duration
	MaxDelay    time.Duration

	DefaultAttempts int
	DefaultBase     time.Duration
}

// DefaultRetryPolicy returns the production policy: network failures get
// the most headroom, rate limits back off the longest per step, auth and
// validation stop after the first call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: map[domain.ErrorKind]int{
			domain.ErrorKindNetwork:    5,
			domain.ErrorKindRateLimit:  3,
			domain.ErrorKindAuth:       1,
			domain.ErrorKindValidation: 1,
		},
		BaseDelay: map[domain.ErrorKind]time.Duration{
			domain.ErrorKindNetwork:   2 * time.Second,
			domain.ErrorKindRateLimit: 5 * time.Second,
		},
		MaxDelay:        60 * time.Second,
		DefaultAttempts: 3,
		DefaultBase:     time.Second,
	}
}

// MaxAttemptsFor returns the total submit calls allowed for the kind.
func (p RetryPolicy) MaxAttemptsFor(kind domain.ErrorKind) int {
	if n, ok := p.MaxAttempts[kind]; ok {
		return n
	}
	return p.DefaultAttempts
}

// Delay returns the sleep before retry number retry (zero-based: the first
// retry passes 0). The curve is base * 2^retry clamped to MaxDelay, then
// jittered into [delay/2, delay) so synchronized callers spread out.
func (p RetryPolicy) Delay(kind domain.ErrorKind, retry int) time.Duration {
	base, ok := p.BaseDelay[kind]
	if !ok {
		base = p.DefaultBase
	}
	if retry < 0 {
		retry = 0
	}

	delay := base
	for i := 0; i < retry; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	return time.Duration(float64(delay) * (0.5 + 0.5*rand.Float64()))
}
