package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var fastPoll = PollPolicy{
	InitialDelay: time.Millisecond,
	Interval:     time.Millisecond,
	MaxInterval:  4 * time.Millisecond,
	Timeout:      100 * time.Millisecond,
}

func TestPoll_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := poll(context.Background(), fastPoll, func(context.Context) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPoll_TimesOutWithLastError(t *testing.T) {
	err := poll(context.Background(), fastPoll, func(context.Context) (bool, error) {
		return false, errors.New("rpc unavailable")
	})
	assert.ErrorIs(t, err, errPollTimeout)
	assert.Contains(t, err.Error(), "rpc unavailable")
}

func TestPoll_PermanentErrorStops(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := poll(context.Background(), fastPoll, func(context.Context) (bool, error) {
		calls++
		return false, permanent(boom)
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestPoll_WaitsInitialDelay(t *testing.T) {
	policy := fastPoll
	policy.InitialDelay = 20 * time.Millisecond

	started := time.Now()
	err := poll(context.Background(), policy, func(context.Context) (bool, error) { return true, nil })
	assert.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)
}
