package reconciliation_materializer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/events"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
)

const pollTimeout = time.Second

// Consumer is the part of the Kafka consumer the materializer uses.
type Consumer interface {
	Subscribe(topic string, rebalanceCb kafka.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*kafka.Message, error)
	Close() error
}

// Metrics receives case observations. A nil Metrics is allowed.
type Metrics interface {
	ReconciliationCaseOpened()
}

// ReconciliationMaterializer turns reconciliation_required events into open
// cases for operators.
type ReconciliationMaterializer struct {
	logger        *zap.Logger
	kafkaConsumer Consumer
	cases         repository.ReconciliationStore
	kafkaTopic    string
	metrics       Metrics
}

func NewReconciliationMaterializer(kafkaBroker, kafkaTopic, groupID string, cases repository.ReconciliationStore, logger *zap.Logger) (*ReconciliationMaterializer, error) {
	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"group.id":          groupID,
		"auto.offset.reset": "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer: %w", err)
	}
	return NewWithConsumer(consumer, kafkaTopic, cases, logger), nil
}

func NewWithConsumer(consumer Consumer, kafkaTopic string, cases repository.ReconciliationStore, logger *zap.Logger) *ReconciliationMaterializer {
	return &ReconciliationMaterializer{
		logger:        logger,
		kafkaConsumer: consumer,
		cases:         cases,
		kafkaTopic:    kafkaTopic,
	}
}

func (rm *ReconciliationMaterializer) SetMetrics(m Metrics) {
	rm.metrics = m
}

// Start consumes the exchange topic until ctx is done.
func (rm *ReconciliationMaterializer) Start(ctx context.Context) error {
	rm.logger.Info("Starting Reconciliation Materializer...", zap.String("topic", rm.kafkaTopic))

	if err := rm.kafkaConsumer.Subscribe(rm.kafkaTopic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", rm.kafkaTopic, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := rm.kafkaConsumer.ReadMessage(pollTimeout)
		if err != nil {
			var kafkaErr kafka.Error
			if errors.As(err, &kafkaErr) && kafkaErr.Code() == kafka.ErrTimedOut {
				continue
			}
			rm.logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := rm.processMessage(ctx, msg); err != nil {
			rm.logger.Error("Error processing message",
				zap.String("topic", *msg.TopicPartition.Topic),
				zap.Int32("partition", msg.TopicPartition.Partition),
				zap.String("key", string(msg.Key)),
				zap.Error(err))
		}
	}
}

func (rm *ReconciliationMaterializer) processMessage(ctx context.Context, msg *kafka.Message) error {
	event, err := events.Decode(msg.Value)
	if err != nil {
		return err
	}

	if event.EventType != events.TypeReconciliationRequired {
		rm.logger.Debug("Skipping exchange event",
			zap.String("event_type", event.EventType),
			zap.Int64("transaction_id", event.TransactionID))
		return nil
	}

	c := model.ReconciliationCase{
		TransactionID:     event.TransactionID,
		WalletAddress:     event.WalletAddress,
		TransactionType:   event.TransactionType,
		Reason:            event.Reason,
		FirstLegSignature: event.FirstLegSignature,
		SettlementAmount:  event.SettlementAmount,
		TokenAmount:       event.TokenAmount,
		CreatedAt:         event.Timestamp,
	}
	if err := rm.cases.UpsertCase(ctx, c); err != nil {
		return fmt.Errorf("failed to record reconciliation case for transaction %d: %w", event.TransactionID, err)
	}

	if rm.metrics != nil {
		rm.metrics.ReconciliationCaseOpened()
	}
	rm.logger.Warn("Opened reconciliation case",
		zap.Int64("transaction_id", event.TransactionID),
		zap.String("wallet_address", event.WalletAddress),
		zap.String("transaction_type", string(event.TransactionType)),
		zap.String("reason", event.Reason))
	return nil
}

func (rm *ReconciliationMaterializer) Close() error {
	if rm.kafkaConsumer != nil {
		return rm.kafkaConsumer.Close()
	}
	return nil
}
