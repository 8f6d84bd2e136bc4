package reconciliation_materializer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/events"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository/inmemory"
)

// fakeConsumer hands out queued messages, then times out like librdkafka.
type fakeConsumer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	topic    string
}

func (c *fakeConsumer) Subscribe(topic string, _ kafka.RebalanceCb) error {
	c.topic = topic
	return nil
}

func (c *fakeConsumer) ReadMessage(time.Duration) (*kafka.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		time.Sleep(time.Millisecond)
		return nil, kafka.NewError(kafka.ErrTimedOut, "timed out", false)
	}
	msg := c.messages[0]
	c.messages = c.messages[1:]
	return msg, nil
}

func (c *fakeConsumer) Close() error { return nil }

func (c *fakeConsumer) drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages) == 0
}

func message(t *testing.T, eventType string, id int64) *kafka.Message {
	t.Helper()
	sig := "first-leg"
	tx := model.ExchangeTransaction{
		ID:               id,
		WalletAddress:    "wallet",
		Type:             model.ActionBuy,
		SettlementAmount: decimal.RequireFromString("1.25"),
		TokenAmount:      decimal.RequireFromString("2"),
		TxSignature:      &sig,
	}
	event, err := events.NewOutboxEvent(eventType, tx, model.StatusFailed, "mint failed", time.Now())
	require.NoError(t, err)

	topic := "gold-exchange-events"
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic},
		Key:            []byte(tx.WalletAddress),
		Value:          event.Payload,
	}
}

type caseCounter struct{ n int }

func (c *caseCounter) ReconciliationCaseOpened() { c.n++ }

func TestMaterializerOpensCases(t *testing.T) {
	store := inmemory.NewStore()
	topic := "gold-exchange-events"
	bad := &kafka.Message{TopicPartition: kafka.TopicPartition{Topic: &topic}, Value: []byte("garbage")}
	consumer := &fakeConsumer{messages: []*kafka.Message{
		message(t, events.TypeCompleted, 1),
		bad,
		message(t, events.TypeReconciliationRequired, 2),
		message(t, events.TypeReconciliationRequired, 2),
	}}

	counter := &caseCounter{}
	rm := NewWithConsumer(consumer, topic, store, zap.NewNop())
	rm.SetMetrics(counter)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rm.Start(ctx) }()

	require.Eventually(t, consumer.drained, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, topic, consumer.topic)

	cases, err := store.ListCases(context.Background(), model.CaseOpen, 10)
	require.NoError(t, err)
	require.Len(t, cases, 1, "redelivery does not duplicate the case")
	assert.Equal(t, int64(2), cases[0].TransactionID)
	assert.Equal(t, "first-leg", cases[0].FirstLegSignature)
	assert.Equal(t, "mint failed", cases[0].Reason)
	assert.True(t, cases[0].SettlementAmount.Equal(decimal.RequireFromString("1.25")))
}

func TestMaterializerDoesNotReopenResolvedCase(t *testing.T) {
	store := inmemory.NewStore()
	rm := NewWithConsumer(&fakeConsumer{}, "topic", store, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, rm.processMessage(ctx, message(t, events.TypeReconciliationRequired, 7)))
	require.NoError(t, store.ResolveCase(ctx, 7, "minted manually"))
	require.NoError(t, rm.processMessage(ctx, message(t, events.TypeReconciliationRequired, 7)))

	open, err := store.ListCases(ctx, model.CaseOpen, 10)
	require.NoError(t, err)
	assert.Empty(t, open)
}
