package repository

import (
	"context"
	"fmt"

	"BotArena/internal/domain/models"
	"BotArena/internal/domain/repository"
	"BotArena/pkg/kafka"
)

// KafkaEventPublisher writes arena events to one topic, keyed by bot so a bot's events stay ordered.
type KafkaEventPublisher struct {
	producer *kafka.Producer
	topic    string
}

var _ repository.EventPublisher = (*KafkaEventPublisher)(nil)

func NewKafkaEventPublisher(producer *kafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	if err := p.producer.Publish(ctx, p.topic, []byte(ev.Key), ev); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// PublishMessage lets the log collector ship batches through the same producer.
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaEventPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher drops events. Used when Kafka is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.Event) error { return nil }

func (NopPublisher) PublishMessage(context.Context, string, interface{}) error { return nil }

func (NopPublisher) Close() error { return nil }
