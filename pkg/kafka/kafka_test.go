package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forsc/docsearch/pkg/logger"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestProducerPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, "index.complete")

	ctx := logger.WithRequestID(context.Background(), "req-1")
	require.NoError(t, p.Publish(ctx, Event{Key: "indexdir", Value: map[string]int{"indexed": 2}}))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "indexdir", string(w.msgs[0].Key))
	assert.JSONEq(t, `{"indexed":2}`, string(w.msgs[0].Value))
	assert.Equal(t, "req-1", header(w.msgs[0], "request-id"))
	assert.Equal(t, "application/json", header(w.msgs[0], "content-type"))
}

func TestProducerPublishError(t *testing.T) {
	p := newProducer(&fakeWriter{err: errors.New("leader not available")}, "index.complete")
	err := p.Publish(context.Background(), Event{Key: "k", Value: 1})
	assert.ErrorContains(t, err, "index.complete")

	err = p.Publish(context.Background(), Event{Key: "k", Value: make(chan int)})
	assert.ErrorContains(t, err, "marshaling")
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[0]
	r.msgs = r.msgs[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumerCommitsHandledMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := &fakeReader{
		cancel: cancel,
		msgs: []kafka.Message{
			{Offset: 1, Value: []byte(`{"generation":1}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"generation":3}`)},
		},
	}
	var seen []int64
	c := newConsumer(r, "index.complete", func(_ context.Context, _, value []byte) error {
		ev, err := DecodeJSON[struct {
			Generation int64 `json:"generation"`
		}](value)
		if err != nil {
			return err
		}
		seen = append(seen, ev.Generation)
		return nil
	})

	require.NoError(t, c.Start(ctx))
	assert.Equal(t, []int64{1, 3}, seen)
	assert.Equal(t, []int64{1, 3}, r.committed, "failed messages stay uncommitted")
}
