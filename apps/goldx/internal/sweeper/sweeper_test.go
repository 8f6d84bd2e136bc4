package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"goldexchange/apps/goldx/internal/config"
	"goldexchange/apps/goldx/internal/model"
	"goldexchange/apps/goldx/internal/repository"
	"goldexchange/apps/goldx/internal/repository/inmemory"
)

type fakeExchange struct {
	failed    []int64
	cancelled []int64
	err       error
}

func (f *fakeExchange) CancelAbandoned(_ context.Context, id int64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func (f *fakeExchange) FailStuck(_ context.Context, tx model.ExchangeTransaction, _ time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.failed = append(f.failed, tx.ID)
	return true, nil
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() config.SweeperConfig {
	return config.SweeperConfig{
		Interval:          10 * time.Millisecond,
		ProcessingTimeout: 10 * time.Minute,
		PendingGrace:      5 * time.Minute,
	}
}

func addTransaction(t *testing.T, store *inmemory.Store, quoteID string, status model.Status, quoteExpiresAt time.Time) int64 {
	t.Helper()
	tx := &model.ExchangeTransaction{
		WalletAddress:  "wallet",
		Type:           model.ActionBuy,
		Status:         model.StatusPending,
		QuoteID:        quoteID,
		QuoteExpiresAt: quoteExpiresAt,
	}
	require.NoError(t, store.CreateTransaction(context.Background(), tx))
	if status != model.StatusPending {
		_, err := store.Transition(context.Background(), tx.ID, func(model.ExchangeTransaction) (*repository.StatusChange, error) {
			return &repository.StatusChange{Status: status}, nil
		})
		require.NoError(t, err)
	}
	return tx.ID
}

func TestSweepFailsStuckAndCancelsAbandoned(t *testing.T) {
	store := inmemory.NewStore().WithClock(func() time.Time { return start })
	stuck := addTransaction(t, store, "q-stuck", model.StatusProcessing, start.Add(time.Minute))
	abandoned := addTransaction(t, store, "q-abandoned", model.StatusPending, start.Add(time.Minute))
	addTransaction(t, store, "q-done", model.StatusCompleted, start.Add(time.Minute))

	exchange := &fakeExchange{}
	s := New(testConfig(), store, exchange, zap.NewNop())
	s.now = func() time.Time { return start.Add(time.Hour) }

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{Cancelled: 1, Failed: 1}, result)
	assert.Equal(t, []int64{stuck}, exchange.failed)
	assert.Equal(t, []int64{abandoned}, exchange.cancelled)
}

func TestSweepLeavesRecentTransactions(t *testing.T) {
	store := inmemory.NewStore().WithClock(func() time.Time { return start })
	addTransaction(t, store, "q-processing", model.StatusProcessing, start.Add(time.Minute))
	// Quote expired, but still inside the grace period.
	addTransaction(t, store, "q-pending", model.StatusPending, start.Add(-time.Minute))

	exchange := &fakeExchange{}
	s := New(testConfig(), store, exchange, zap.NewNop())
	s.now = func() time.Time { return start.Add(2 * time.Minute) }

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
	assert.Empty(t, exchange.failed)
	assert.Empty(t, exchange.cancelled)
}

func TestSweepContinuesPastExchangeErrors(t *testing.T) {
	store := inmemory.NewStore().WithClock(func() time.Time { return start })
	addTransaction(t, store, "q-stuck", model.StatusProcessing, start)
	addTransaction(t, store, "q-abandoned", model.StatusPending, start)

	s := New(testConfig(), store, &fakeExchange{err: errors.New("database unavailable")}, zap.NewNop())
	s.now = func() time.Time { return start.Add(time.Hour) }

	result, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestStartStopsOnContextCancel(t *testing.T) {
	store := inmemory.NewStore()
	s := New(testConfig(), store, &fakeExchange{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
