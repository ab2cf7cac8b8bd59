package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// PredictionEvent describes one served prediction.
type PredictionEvent struct {
	ID            string             `json:"id"`
	Mode          string             `json:"mode"`
	Label         string             `json:"label"`
	ClassIndex    int                `json:"class_index"`
	Probabilities map[string]float64 `json:"probabilities"`
	Annual        float64            `json:"annual"`
	Missing       []string           `json:"missing_features,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Publisher forwards prediction events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event PredictionEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, PredictionEvent) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by event ID. Writes go
// through a circuit breaker so an unreachable broker fails fast instead of
// stalling every prediction.
type KafkaPublisher struct {
	writer       messageWriter
	breaker      *gobreaker.CircuitBreaker[struct{}]
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireOne,
		Async:        false,
	}
	return newKafkaPublisher(w, cfg.WriteTimeout, logger), nil
}

func newKafkaPublisher(w messageWriter, writeTimeout time.Duration, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "kafka-predictions",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &KafkaPublisher{writer: w, breaker: cb, writeTimeout: writeTimeout, logger: logger}
}

// Publish sends one event. It returns gobreaker.ErrOpenState while the
// breaker is open.
func (p *KafkaPublisher) Publish(ctx context.Context, event PredictionEvent) error {
	msg, err := serializeEvent(event)
	if err != nil {
		return err
	}
	_, err = p.breaker.Execute(func() (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.writeTimeout)
		defer cancel()
		return struct{}{}, p.writer.WriteMessages(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("publish prediction event: %w", err)
	}
	return nil
}

// State reports the breaker state, for health output.
func (p *KafkaPublisher) State() string {
	return p.breaker.State().String()
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func serializeEvent(event PredictionEvent) (kafkago.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize prediction event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(event.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "label", Value: []byte(event.Label)},
			{Key: "created_at", Value: []byte(event.CreatedAt.Format(time.RFC3339))},
		},
	}, nil
}
