package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/alanyoungcy/ordergate/internal/domain"
)

const (
	subscriberBuffer = 64
	streamMaxLen     = 10000
)

// SignalBus fans published payloads out to in-process subscribers and keeps
// a bounded tail per stream. Slow subscribers drop messages instead of
// blocking publishers, matching pub/sub semantics.
type SignalBus struct {
	mu      sync.Mutex
	nextSub int
	subs    map[string]map[int]chan []byte
	streams map[string][]domain.StreamMessage
	nextSeq map[string]int64
}

var _ domain.SignalBus = (*SignalBus)(nil)

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string]map[int]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
		nextSeq: make(map[string]int64),
	}
}

// Publish delivers payload to current subscribers of the channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	targets := make([]chan []byte, 0, len(b.subs[channel]))
	for _, ch := range b.subs[channel] {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a consumer until ctx is done.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]chan []byte)
	}
	b.subs[channel][id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], id)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// StreamAppend adds payload to the stream's bounded tail.
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq[stream]++
	entries := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.nextSeq[stream], 10),
		Payload: payload,
	})
	if len(entries) > streamMaxLen {
		entries = entries[len(entries)-streamMaxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with IDs after lastID. An empty
// lastID reads from the start of the retained tail.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseInt(lastID, 10, 64)
	if count <= 0 {
		count = 100
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, msg := range b.streams[stream] {
		seq, err := strconv.ParseInt(msg.ID, 10, 64)
		if err != nil || seq <= after {
			continue
		}
		out = append(out, msg)
		if len(out) >= count {
			break
		}
	}
	return out, nil
}
