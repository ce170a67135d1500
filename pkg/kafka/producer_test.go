package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/pkg/events"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func newTestProducer(w *fakeWriter) *Producer {
	return &Producer{writer: w, logger: ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}), topic: "zibridge.events"}
}

func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("a:9092, b:9092", "zibridge.events")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Brokers)
	assert.Equal(t, "zibridge.events", cfg.Topic)
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), &events.Event{Type: events.SnapshotCompleted, ProjectID: "p1", SnapshotID: "s1"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "p1", string(msg.Key))

	var evt events.Event
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, events.SnapshotCompleted, evt.Type)
	assert.False(t, evt.Timestamp.IsZero())

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, events.SnapshotCompleted, headers["type"])
	assert.Equal(t, "p1", headers["project_id"])
}

func TestPublishErrors(t *testing.T) {
	p := newTestProducer(&fakeWriter{err: errors.New("broker down")})
	assert.Error(t, p.Publish(context.Background(), &events.Event{Type: events.RestoreFailed, ProjectID: "p1"}))
	assert.Error(t, p.Publish(context.Background(), nil))
}
