package source

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry retries transient failures of an operation that has not produced output yet.
type Retry struct {
	MaxRetries      uint64
	InitialInterval time.Duration
}

var DefaultRetry = Retry{MaxRetries: 3, InitialInterval: 200 * time.Millisecond}

func (r Retry) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, r.MaxRetries), ctx))
}

// Permanent stops Retry.Do from trying again.
func Permanent(err error) error { return backoff.Permanent(err) }
