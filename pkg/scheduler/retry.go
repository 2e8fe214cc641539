package scheduler

import (
    "context"

    "github.com/cenkalti/backoff/v4"
)

// policy is doubling backoff from BaseDelay capped at MaxDelay, without
// jitter, for at most MaxRetries retries, stopped early by ctx.
func (c *Client) policy(ctx context.Context) backoff.BackOff {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = c.opts.Retry.BaseDelay
    b.MaxInterval = c.opts.Retry.MaxDelay
    b.Multiplier = 2
    b.RandomizationFactor = 0
    b.MaxElapsedTime = 0
    b.Reset()
    return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.opts.Retry.MaxRetries)), ctx)
}
