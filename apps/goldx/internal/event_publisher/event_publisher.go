package event_publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

// Producer is the part of the Kafka producer the publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Close()
}

// Metrics receives publish results. A nil Metrics is allowed.
type Metrics interface {
	EventPublished(ok bool)
}

// DefaultClaimLease is how long a claimed event may stay processing before
// another publisher takes it over.
const DefaultClaimLease = 5 * time.Minute

type EventPublisher struct {
	logger     *zap.Logger
	producer   Producer
	kafkaTopic string
	outbox     repository.OutboxStore
	interval   time.Duration
	batchSize  int
	claimLease time.Duration
	metrics    Metrics
	mu         sync.Mutex // one publishing pass at a time per instance
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, outbox repository.OutboxStore, logger *zap.Logger) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewWithProducer(producer, kafkaTopic, outbox, logger), nil
}

func NewWithProducer(producer Producer, kafkaTopic string, outbox repository.OutboxStore, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{
		logger:     logger,
		producer:   producer,
		kafkaTopic: kafkaTopic,
		outbox:     outbox,
		interval:   3 * time.Second,
		batchSize:  100,
		claimLease: DefaultClaimLease,
	}
}

func (ep *EventPublisher) SetMetrics(m Metrics) {
	ep.metrics = m
}

func (ep *EventPublisher) SetClaimLease(lease time.Duration) {
	if lease > 0 {
		ep.claimLease = lease
	}
}

// StartPublishing drains the outbox every few seconds until ctx is done.
func (ep *EventPublisher) StartPublishing(ctx context.Context) error {
	ticker := time.NewTicker(ep.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := ep.PublishUnsentEvents(ctx); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

// PublishUnsentEvents claims a batch of unsent events, and any whose claim
// lease ran out, and publishes them, returning how many were delivered.
// Undelivered events go back to unsent.
func (ep *EventPublisher) PublishUnsentEvents(ctx context.Context) (int, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.ClaimUnsentEvents(ctx, ep.batchSize, ep.claimLease)
	if err != nil {
		return 0, err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			ep.observe(false)
			ep.logger.Error("Failed to publish event to Kafka",
				zap.String("event_id", event.EventID),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			if markErr := ep.outbox.MarkEventUnsent(ctx, event.EventID); markErr != nil {
				ep.logger.Error("Failed to return event to outbox", zap.String("event_id", event.EventID), zap.Error(markErr))
			}
			continue
		}

		ep.observe(true)
		// Published but not marked means the event is sent again; consumers dedupe on event_id.
		if err := ep.outbox.MarkEventSent(ctx, event.EventID); err != nil {
			ep.logger.Error("Failed to mark event as sent", zap.String("event_id", event.EventID), zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka", zap.Int("success_count", successCount), zap.Int("attempted", len(outboxEvents)))
	}
	return successCount, nil
}

func (ep *EventPublisher) observe(ok bool) {
	if ep.metrics != nil {
		ep.metrics.EventPublished(ok)
	}
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	deliveryChan := make(chan kafka.Event, 1)

	err := ep.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.WalletAddress), // keeps a wallet's events ordered
		Value:          event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	if ep.producer != nil {
		ep.producer.Close()
	}
	return nil
}
