package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

// recordingSender captures sent notifications for assertions.
type recordingSender struct {
	name string
	sent []string
	err  error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifyFiltersEvents(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventOrderFilled, EventRiskAlert}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventOrderFilled, "filled", "msg"))
	require.NoError(t, n.Notify(context.Background(), EventOrderFailed, "failed", "msg"))
	require.NoError(t, n.Notify(context.Background(), EventRiskAlert, "alert", "msg"))

	assert.Equal(t, []string{"filled", "alert"}, sender.sent)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventEngineStarted, "started", "msg"))
	assert.Len(t, sender.sent, 1)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := NewNotifier([]Sender{sender}, []string{EventRiskAlert}, testLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "shutdown", "msg"))
	assert.Equal(t, []string{"shutdown"}, sender.sent)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("boom")}
	healthy := &recordingSender{name: "healthy"}
	n := NewNotifier([]Sender{broken, healthy}, nil, testLogger())

	err := n.Notify(context.Background(), EventOrderFilled, "filled", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Len(t, healthy.sent, 1)
}

func TestKnownEvent(t *testing.T) {
	assert.True(t, KnownEvent(EventOrderFilled))
	assert.True(t, KnownEvent(EventEngineStopped))
	assert.False(t, KnownEvent("order_partially_filled"))
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken-1/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	sender := &TelegramSender{
		token:   "token-1",
		chatID:  "chat-9",
		apiBase: ts.URL,
		client:  &http.Client{Timeout: time.Second},
	}

	require.NoError(t, sender.Send(context.Background(), "Order filled: BTCUSDT", "buy 100"))
	assert.Equal(t, "chat-9", got["chat_id"])
	assert.Contains(t, got["text"], "*Order filled: BTCUSDT*")
	assert.Contains(t, got["text"], "buy 100")
}

func TestTelegramSenderSurfacesAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"ok":false,"description":"chat not found"}`, http.StatusBadRequest)
	}))
	defer ts.Close()

	sender := &TelegramSender{
		token:   "token-1",
		chatID:  "chat-9",
		apiBase: ts.URL,
		client:  &http.Client{Timeout: time.Second},
	}

	err := sender.Send(context.Background(), "title", "msg")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	sender := NewDiscordSender(ts.URL)
	require.NoError(t, sender.Send(context.Background(), "Risk alert", "drawdown 12%"))

	assert.Equal(t, "ordergate", got["username"])
	assert.Contains(t, got["content"], "**Risk alert**")
	assert.Contains(t, got["content"], "drawdown 12%")
}
