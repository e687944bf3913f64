package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/request-chat/internal/config"
	"github.com/nguyentranbao-ct/request-chat/internal/models"
	"github.com/nguyentranbao-ct/request-chat/internal/usecase"
	log "github.com/nguyentranbao-ct/request-chat/pkg/logger/log"
	"go.uber.org/fx"
)

const headerEventType = "event_type"

var _ usecase.EventPublisher = (*Producer)(nil)

// Producer writes chat events keyed by request id, so every event of one
// record lands on the same partition in publish order.
type Producer struct {
	sync     sarama.SyncProducer
	topic    string
	validate *validator.Validate
}

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.ClientID = "request-chat"
	return cfg
}

func NewProducer(conf config.KafkaConfig) (*Producer, error) {
	cfg := newSaramaConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1

	sync, err := sarama.NewSyncProducer(conf.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{sync: sync, topic: conf.Topic, validate: validator.New()}, nil
}

func (p *Producer) Publish(ctx context.Context, event models.ChatEvent) error {
	if err := p.validate.Struct(event); err != nil {
		return fmt.Errorf("%w: %w", models.ErrValidation, err)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal chat event: %w", err)
	}

	partition, offset, err := p.sync.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.RequestID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerEventType), Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("send chat event: %w", err)
	}
	log.Debugw(ctx, "chat event published",
		"type", event.Type,
		"request_id", event.RequestID,
		"partition", partition,
		"offset", offset,
	)
	return nil
}

func (p *Producer) Close() error {
	return p.sync.Close()
}

// NewEventPublisher returns the Kafka producer when Kafka is enabled and a
// no-op publisher otherwise.
func NewEventPublisher(lc fx.Lifecycle, conf *config.Config) (usecase.EventPublisher, error) {
	if !conf.Kafka.Enabled {
		log.Warnf(context.Background(), "kafka is disabled, chat events are not published")
		return usecase.NoopPublisher{}, nil
	}
	producer, err := NewProducer(conf.Kafka)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return producer.Close()
		},
	})
	return producer, nil
}
