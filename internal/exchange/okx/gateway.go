// Package okx submits orders to OKX through its v5 REST API. There is no
// OKX SDK in the dependency set, so the client is hand-rolled: requests are
// HMAC-signed via internal/crypto and venue sCodes surface as GatewayError
// for the classifier.
package okx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/ordergate/internal/crypto"
	"github.com/alanyoungcy/ordergate/internal/domain"
)

const defaultBaseURL = "https://www.okx.com"

// Config selects the OKX endpoint and credentials.
type Config struct {
	BaseURL     string
	Credentials crypto.Credentials
	Simulated   bool // demo-trading flag (x-simulated-trading header)
	Timeout     time.Duration
}

// Gateway implements domain.ExchangeGateway for OKX spot.
type Gateway struct {
	baseURL    string
	auth       *crypto.HMACAuth
	simulated  bool
	httpClient *http.Client
	logger     *slog.Logger
}

var _ domain.ExchangeGateway = (*Gateway)(nil)

// New creates an OKX gateway.
func New(cfg Config, logger *slog.Logger) *Gateway {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL: base,
		auth: &crypto.HMACAuth{
			Key:        cfg.Credentials.APIKey,
			Secret:     cfg.Credentials.APISecret,
			Passphrase: cfg.Credentials.Passphrase,
		},
		simulated:  cfg.Simulated,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "gateway"), slog.String("exchange", "okx")),
	}
}

// Name returns the gateway routing key.
func (g *Gateway) Name() string { return "okx" }

type placeOrderRequest struct {
	InstID  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdID string `json:"clOrdId,omitempty"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Sz      string `json:"sz"`
	Px      string `json:"px,omitempty"`
	TgtCcy  string `json:"tgtCcy,omitempty"`
}

type orderAck struct {
	OrdID string `json:"ordId"`
	SCode string `json:"sCode"`
	SMsg  string `json:"sMsg"`
}

type orderDetail struct {
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	Fee       string `json:"fee"`
}

// Submit places the order and reads back the fill. Stop orders are rejected
// up front: they route through OKX's algo-order API, which this gateway
// does not speak.
func (g *Gateway) Submit(ctx context.Context, intent domain.TradeIntent) (domain.FillReport, error) {
	var ordType string
	switch intent.Type {
	case domain.OrderTypeMarket:
		ordType = "market"
	case domain.OrderTypeLimit:
		ordType = "limit"
	default:
		return domain.FillReport{}, &domain.GatewayError{
			Exchange: "okx",
			Kind:     domain.ErrorKindValidation,
			Message:  fmt.Sprintf("unsupported order type %q", intent.Type),
		}
	}

	reqBody := placeOrderRequest{
		InstID:  intent.Symbol,
		TdMode:  "cash",
		ClOrdID: clientOrderID(intent.ID),
		Side:    string(intent.Side),
		OrdType: ordType,
		Sz:      intent.Quantity.String(),
	}
	if ordType == "limit" {
		reqBody.Px = intent.Price.String()
	} else {
		// Market order sizes default to quote currency on buys; pin them to
		// base so sz always means the traded quantity.
		reqBody.TgtCcy = "base_ccy"
	}

	ack, err := g.placeOrder(ctx, reqBody)
	if err != nil {
		return domain.FillReport{}, fmt.Errorf("okx: submit order: %w", err)
	}

	detail, err := g.getOrder(ctx, intent.Symbol, ack.OrdID)
	if err != nil {
		// The order exists; report it with what the ack gave us rather than
		// failing an already-placed trade.
		g.logger.WarnContext(ctx, "order placed but fill lookup failed",
			slog.String("venue_order_id", ack.OrdID),
			slog.String("error", err.Error()),
		)
		return domain.FillReport{OrderID: ack.OrdID, AvgPrice: intent.Price}, nil
	}

	return domain.FillReport{
		OrderID:        detail.OrdID,
		FilledQuantity: parseDecimal(detail.AccFillSz),
		AvgPrice:       parseDecimal(detail.AvgPx),
		Fee:            parseDecimal(detail.Fee).Abs(), // OKX reports charges as negatives
	}, nil
}

func (g *Gateway) placeOrder(ctx context.Context, order placeOrderRequest) (orderAck, error) {
	body, err := g.doSignedRequest(ctx, http.MethodPost, "/api/v5/trade/order", order)
	if err != nil {
		return orderAck{}, err
	}

	var resp struct {
		Code string     `json:"code"`
		Msg  string     `json:"msg"`
		Data []orderAck `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return orderAck{}, fmt.Errorf("decode order response: %w", err)
	}

	if len(resp.Data) > 0 && resp.Data[0].SCode != "" && resp.Data[0].SCode != "0" {
		return orderAck{}, &domain.GatewayError{
			Exchange: "okx",
			Code:     resp.Data[0].SCode,
			Message:  resp.Data[0].SMsg,
		}
	}
	if resp.Code != "0" {
		return orderAck{}, &domain.GatewayError{
			Exchange: "okx",
			Code:     resp.Code,
			Message:  resp.Msg,
		}
	}
	if len(resp.Data) == 0 {
		return orderAck{}, fmt.Errorf("empty order response")
	}
	return resp.Data[0], nil
}

func (g *Gateway) getOrder(ctx context.Context, instID, ordID string) (orderDetail, error) {
	params := url.Values{}
	params.Set("instId", instID)
	params.Set("ordId", ordID)
	path := "/api/v5/trade/order?" + params.Encode()

	body, err := g.doSignedRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return orderDetail{}, err
	}

	var resp struct {
		Code string        `json:"code"`
		Msg  string        `json:"msg"`
		Data []orderDetail `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return orderDetail{}, fmt.Errorf("decode order detail: %w", err)
	}
	if resp.Code != "0" {
		return orderDetail{}, &domain.GatewayError{Exchange: "okx", Code: resp.Code, Message: resp.Msg}
	}
	if len(resp.Data) == 0 {
		return orderDetail{}, domain.ErrNotFound
	}
	return resp.Data[0], nil
}

// doSignedRequest builds, signs, sends, and reads an HTTP request against
// the OKX API. The signature covers the request path including the query
// string.
func (g *Gateway) doSignedRequest(ctx context.Context, method, path string, reqBody any) ([]byte, error) {
	var bodyStr string
	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range g.auth.OKXHeaders(method, path, bodyStr) {
		req.Header.Set(k, v)
	}
	if g.simulated {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &domain.GatewayError{
			Exchange:   "okx",
			HTTPStatus: resp.StatusCode,
			Message:    truncate(string(respBody), 256),
		}
	}
	return respBody, nil
}

// clientOrderID squeezes an intent id into OKX's clOrdId charset
// (alphanumeric, max 32 chars).
func clientOrderID(id string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			return r
		default:
			return -1
		}
	}, id)
	if len(cleaned) > 32 {
		cleaned = cleaned[:32]
	}
	return cleaned
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
