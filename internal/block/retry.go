package block

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"github.com/aikernel/core/internal/kerrors"
)

// RetryDevice wraps a Device, retrying ReadSectors/WriteSectors/Flush
// with exponential backoff when the underlying call fails with an
// error marked kerrors.Retryable (e.g. MockDevice's injected
// transient failures, §4.7/§4.8). Non-retryable errors propagate on
// the first attempt.
type RetryDevice struct {
	Device
	maxTries uint
}

// NewRetryDevice wraps dev, retrying a retryable failure up to
// maxTries times (including the first attempt) before giving up.
func NewRetryDevice(dev Device, maxTries uint) *RetryDevice {
	if maxTries == 0 {
		maxTries = 1
	}
	return &RetryDevice{Device: dev, maxTries: maxTries}
}

func (r *RetryDevice) withRetry(ctx context.Context, op func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if !kerrors.Retryable(err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(r.maxTries))
	return err
}

func (r *RetryDevice) ReadSectors(ctx context.Context, lba uint64, buf []byte) error {
	return r.withRetry(ctx, func() error { return r.Device.ReadSectors(ctx, lba, buf) })
}

func (r *RetryDevice) WriteSectors(ctx context.Context, lba uint64, buf []byte) error {
	return r.withRetry(ctx, func() error { return r.Device.WriteSectors(ctx, lba, buf) })
}

func (r *RetryDevice) Flush(ctx context.Context) error {
	return r.withRetry(ctx, func() error { return r.Device.Flush(ctx) })
}
