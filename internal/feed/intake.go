package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

// Enqueuer accepts intents for asynchronous execution. Implemented by the
// executor.
type Enqueuer interface {
	Enqueue(ctx context.Context, intent domain.TradeIntent) error
}

// IntentIntake subscribes to the intents bus channel and hands each decoded
// trade intent to the executor queue. It lets external producers (other
// processes publishing to Redis) drive the engine without touching the HTTP
// API.
type IntentIntake struct {
	bus      domain.SignalBus
	executor Enqueuer
	logger   *slog.Logger
}

// NewIntentIntake creates an IntentIntake.
func NewIntentIntake(bus domain.SignalBus, executor Enqueuer, logger *slog.Logger) *IntentIntake {
	return &IntentIntake{
		bus:      bus,
		executor: executor,
		logger:   logger.With(slog.String("component", "intent_intake")),
	}
}

// Run consumes the intents channel until ctx is cancelled. Malformed
// payloads are dropped with a warning; enqueue failures only happen on
// shutdown.
func (i *IntentIntake) Run(ctx context.Context) error {
	ch, err := i.bus.Subscribe(ctx, domain.ChannelIntents)
	if err != nil {
		return fmt.Errorf("feed: subscribe intents: %w", err)
	}
	i.logger.Info("intent intake started")
	defer i.logger.Info("intent intake stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			var intent domain.TradeIntent
			if err := json.Unmarshal(data, &intent); err != nil {
				i.logger.WarnContext(ctx, "dropping malformed intent",
					slog.Int("payload_len", len(data)),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := i.executor.Enqueue(ctx, intent); err != nil {
				i.logger.WarnContext(ctx, "enqueue intent failed",
					slog.String("intent_id", intent.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
