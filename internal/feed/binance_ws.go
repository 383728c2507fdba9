// Package feed keeps the engine supplied with the outside world: live mark
// prices from the Binance websocket and trade intents arriving on the
// signal bus.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// defaultStreamURL is Binance's combined-stream endpoint.
const defaultStreamURL = "wss://stream.binance.com:9443/stream"

// PriceFeedConfig configures the Binance mark price feed.
type PriceFeedConfig struct {
	// URL overrides the combined-stream endpoint; empty means production.
	URL string
	// Symbols to subscribe, e.g. BTCUSDT.
	Symbols []string
}

// PriceFeed subscribes to Binance miniTicker streams and fans each tick out
// to the price cache (read by the paper gateway and the risk monitor) and
// the prices bus channel. It reconnects with capped exponential backoff.
type PriceFeed struct {
	cfg    PriceFeedConfig
	prices domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewPriceFeed creates a PriceFeed. bus may be nil to skip publishing.
func NewPriceFeed(cfg PriceFeedConfig, prices domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PriceFeed {
	return &PriceFeed{
		cfg:    cfg,
		prices: prices,
		bus:    bus,
		logger: logger.With(slog.String("component", "price_feed")),
	}
}

// streamURL builds the combined-stream URL for the configured symbols.
func (f *PriceFeed) streamURL() string {
	base := f.cfg.URL
	if base == "" {
		base = defaultStreamURL
	}
	streams := make([]string, 0, len(f.cfg.Symbols))
	for _, s := range f.cfg.Symbols {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		streams = append(streams, s+"@miniTicker")
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

// Run connects and consumes ticks until ctx is cancelled, reconnecting on
// disconnect.
func (f *PriceFeed) Run(ctx context.Context) error {
	if len(f.cfg.Symbols) == 0 {
		f.logger.Info("no symbols configured, price feed idle")
		<-ctx.Done()
		return ctx.Err()
	}

	delay := reconnectDelay
	for {
		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("price feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, then reads ticks until the connection breaks or ctx
// is done.
func (f *PriceFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	url := f.streamURL()
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", url, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	f.logger.Info("price feed connected", slog.Int("symbols", len(f.cfg.Symbols)))

	// Close the connection when ctx ends so ReadMessage unblocks, and ping
	// to keep the read deadline moving.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, message)
	}
}

// combinedMessage is Binance's combined-stream envelope.
type combinedMessage struct {
	Stream string     `json:"stream"`
	Data   miniTicker `json:"data"`
}

// miniTicker is the fields of a miniTicker event the feed consumes.
type miniTicker struct {
	EventTime int64  `json:"E"` // milliseconds
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// priceEvent is the JSON shape published to the prices channel.
type priceEvent struct {
	Event  string  `json:"event"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Time   string  `json:"time"`
}

func (f *PriceFeed) handleMessage(ctx context.Context, raw []byte) {
	var msg combinedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return // drop unparseable frames
	}
	symbol := strings.ToUpper(strings.TrimSpace(msg.Data.Symbol))
	if symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Data.Close, 64)
	if err != nil || price <= 0 {
		return
	}
	ts := time.Now().UTC()
	if msg.Data.EventTime > 0 {
		ts = time.UnixMilli(msg.Data.EventTime).UTC()
	}

	if err := f.prices.SetPrice(ctx, symbol, price, ts); err != nil {
		f.logger.WarnContext(ctx, "cache price failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	if f.bus != nil {
		evt, _ := json.Marshal(priceEvent{
			Event:  "price",
			Symbol: symbol,
			Price:  price,
			Time:   ts.Format(time.RFC3339Nano),
		})
		if err := f.bus.Publish(ctx, domain.ChannelPrices, evt); err != nil {
			f.logger.DebugContext(ctx, "publish price failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}
