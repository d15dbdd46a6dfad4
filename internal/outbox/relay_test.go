package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu   sync.Mutex
	msgs []kafka.Message
	fail map[string]bool
}

func (p *fakeProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range msgs {
		if p.fail[string(m.Key)] {
			return errors.New("broker unavailable")
		}
		p.msgs = append(p.msgs, m)
	}
	return nil
}

type fakeStore struct {
	events []Event
	sent   []int64
	failed map[int64]string
}

func (s *fakeStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]Event, error) {
	out := s.events
	s.events = nil
	return out, nil
}

func (s *fakeStore) MarkSent(ctx context.Context, ids []int64) error {
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = errMsg
	return nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestFlushPublishesAndMarks(t *testing.T) {
	producer := &fakeProducer{fail: map[string]bool{"order-2": true}}
	store := &fakeStore{events: []Event{
		{ID: 1, AggregateType: "order", AggregateID: "order-1", Type: "order.finalized", Payload: []byte(`{"a":1}`)},
		{ID: 2, AggregateType: "order", AggregateID: "order-2", Type: "order.cancelled", Payload: []byte(`{"a":2}`)},
		{ID: 3, AggregateType: "order", AggregateID: "order-3", Type: "order.expired", Payload: []byte(`{"a":3}`)},
	}}
	relay := NewRelay(discard(), store, NewDispatcher(discard(), producer, "order.events"), "test-relay")

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 3}, store.sent)
	assert.Contains(t, store.failed[2], "broker unavailable")

	require.Len(t, producer.msgs, 2)
	msg := producer.msgs[0]
	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, kafka.Header{Key: "event_type", Value: []byte("order.finalized")}, msg.Headers[0])
}

func TestFlushEmptyBatch(t *testing.T) {
	relay := NewRelay(discard(), &fakeStore{}, NewDispatcher(discard(), &fakeProducer{}, "t"), "r")
	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
