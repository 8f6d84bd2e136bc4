package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errPollTimeout = errors.New("gave up waiting")

// PollPolicy bounds how long the ledger is watched for a transaction to
// appear. The first check happens after InitialDelay; the gap then doubles
// from Interval up to MaxInterval until Timeout elapses.
type PollPolicy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxInterval  time.Duration
	Timeout      time.Duration
}

// poll runs check until it reports done or returns a permanent error.
// Transient errors are remembered and retried.
func poll(ctx context.Context, p PollPolicy, check func(context.Context) (done bool, err error)) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	wait := p.InitialDelay
	interval := p.Interval
	var lastErr error

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w after %s: %v", errPollTimeout, p.Timeout, lastErr)
			}
			return fmt.Errorf("%w after %s", errPollTimeout, p.Timeout)
		case <-timer.C:
		}

		done, err := check(ctx)
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if err == nil && done {
			return nil
		}
		lastErr = err

		timer.Reset(interval)
		interval *= 2
		if interval > p.MaxInterval {
			interval = p.MaxInterval
		}
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

// permanent stops polling and surfaces err unchanged.
func permanent(err error) error {
	return &permanentError{err: err}
}
