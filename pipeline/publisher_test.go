package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	calls    int
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func testEvent() PredictionEvent {
	return PredictionEvent{
		ID:            "6f1c1f5e-0000-4000-8000-000000000001",
		Mode:          "quick",
		Label:         "No Scarcity",
		ClassIndex:    1,
		Probabilities: map[string]float64{"No Scarcity": 0.9, "Moderate Scarcity": 0.1},
		Annual:        1200,
		CreatedAt:     time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, time.Second, nil)

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "6f1c1f5e-0000-4000-8000-000000000001", string(msg.Key))
	assert.Equal(t, "label", msg.Headers[0].Key)
	assert.Equal(t, "No Scarcity", string(msg.Headers[0].Value))
	assert.Equal(t, "2024-06-01T12:00:00Z", string(msg.Headers[1].Value))

	var decoded PredictionEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, testEvent(), decoded)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherBreakerOpens(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unreachable")}
	p := newKafkaPublisher(w, time.Second, nil)

	for i := 0; i < 3; i++ {
		assert.Error(t, p.Publish(context.Background(), testEvent()))
	}
	assert.Equal(t, "open", p.State())

	err := p.Publish(context.Background(), testEvent())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, w.calls, "open breaker does not reach the writer")
}

func TestNewKafkaPublisherValidates(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "predictions"}, nil)
	assert.Error(t, err)
	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "predictions"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "closed", p.State())
	require.NoError(t, p.Close())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.NoError(t, p.Close())
}
