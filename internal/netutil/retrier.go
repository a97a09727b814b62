// Package netutil provides retry helpers for request/answer exchanges over
// lossy channels.
package netutil

import (
	"context"
	"errors"
	"time"

	"github.com/skycoin/skycoin/src/util/logging"
)

// ErrRetriesExhausted is returned when the request stayed unanswered after
// every allowed resend.
var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryFunc resends the request being waited on.
type RetryFunc func() error

// Retrier resends a request at a fixed interval until it is answered or the
// retry budget is spent.
type Retrier struct {
	interval time.Duration
	maxRetry int
	log      *logging.Logger
}

// NewRetrier constructs a Retrier that resends up to maxRetry times, interval apart.
func NewRetrier(interval time.Duration, maxRetry int) *Retrier {
	return &Retrier{
		interval: interval,
		maxRetry: maxRetry,
		log:      logging.MustGetLogger("retrier"),
	}
}

// WithLogger sets the logger resend failures are reported to.
func (r *Retrier) WithLogger(log *logging.Logger) *Retrier {
	r.log = log
	return r
}

// Do is called after the initial request has been sent. Every time interval
// elapses without answered being closed, f is called to resend; once maxRetry
// resends went unanswered for another interval, ErrRetriesExhausted is
// returned. Errors from f are logged and count as an attempt.
func (r Retrier) Do(ctx context.Context, answered <-chan struct{}, f RetryFunc) error {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for retry := 0; ; retry++ {
		select {
		case <-answered:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		// The answer may have raced with the timer.
		select {
		case <-answered:
			return nil
		default:
		}

		if retry >= r.maxRetry {
			return ErrRetriesExhausted
		}
		if err := f(); err != nil {
			r.log.WithError(err).Warnf("resend %d/%d failed", retry+1, r.maxRetry)
		}
		timer.Reset(r.interval)
	}
}
