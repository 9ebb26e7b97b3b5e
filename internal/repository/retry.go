package repository

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ehr/fhirstore/internal/apperror"
)

// retryOnSerializationFailure retries op up to 3 times (4 attempts total)
// with exponential backoff (100ms, 200ms, 400ms) whenever it fails with
// apperror.SerializationFailure, the kind classifyCommitError assigns a
// PostgreSQL SQLSTATE 40001. Any other error, including a context
// cancellation, stops the retry loop immediately.
func retryOnSerializationFailure(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 1 * time.Second
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if apperror.Is(err, apperror.SerializationFailure) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(4))

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Unwrap()
		}
		return err
	}
	return nil
}
