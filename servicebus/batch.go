package servicebus

import (
	"context"
	"errors"
)

// BatchOptions controls PublishBatch execution behavior.
// OnProgress is called after each message completes (success or failure) with done and total.
// OnError is called when a message fails with its index, the message value, and the joined error.
type BatchOptions struct {
	OnProgress func(done, total int)
	OnError    func(index int, msg any, err error)
}

// BatchOpt configures BatchOptions.
type BatchOpt func(*BatchOptions)

// WithBatchProgress sets the progress callback.
func WithBatchProgress(fn func(done, total int)) BatchOpt {
	return func(o *BatchOptions) { o.OnProgress = fn }
}

// WithBatchOnError sets the error callback.
func WithBatchOnError(fn func(index int, msg any, err error)) BatchOpt {
	return func(o *BatchOptions) { o.OnError = fn }
}

// PublishBatch publishes msgs in order. It respects context cancellation, reports progress,
// and aggregates errors; a failed message does not stop the batch.
func (b *Bus) PublishBatch(ctx context.Context, msgs []any, opts ...BatchOpt) error {
	var o BatchOptions
	for _, f := range opts {
		f(&o)
	}

	total := len(msgs)

	var errs []error

	for i, m := range msgs {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		if err := b.Publish(ctx, m); err != nil {
			if o.OnError != nil {
				o.OnError(i, m, err)
			}

			errs = append(errs, err)
		}

		if o.OnProgress != nil {
			o.OnProgress(i+1, total)
		}
	}

	return errors.Join(errs...)
}
