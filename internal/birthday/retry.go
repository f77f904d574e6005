package birthday

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxAttempts bounds RunWithValidation when the caller passes <= 0.
const DefaultMaxAttempts = 5

// ErrValidationExhausted matches any *ValidationExhaustedError via errors.Is.
var ErrValidationExhausted = errors.New("validation exhausted")

// ValidationExhaustedError means no candidate passed validation. Callers
// must not fall back to an unvalidated candidate.
type ValidationExhaustedError struct {
	Attempts int
	LastErr  error // last generation error, if any
}

func (e *ValidationExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("validation exhausted after %d attempts: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("validation exhausted after %d attempts", e.Attempts)
}

func (e *ValidationExhaustedError) Is(target error) bool { return target == ErrValidationExhausted }

func (e *ValidationExhaustedError) Unwrap() error { return e.LastErr }

// RunWithValidation calls generateOnce then validate once per attempt and
// returns the first candidate validate accepts. A generation error uses up
// the attempt without calling validate. Context cancellation stops the loop
// between attempts.
func RunWithValidation[T any](
	ctx context.Context,
	maxAttempts int,
	generateOnce func(ctx context.Context, attempt int) (T, error),
	validate func(ctx context.Context, candidate T) bool,
) (T, error) {
	var zero T
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		candidate, err := generateOnce(ctx, attempt)
		if err != nil {
			lastErr = err
			continue
		}
		if validate(ctx, candidate) {
			return candidate, nil
		}
	}
	return zero, &ValidationExhaustedError{Attempts: maxAttempts, LastErr: lastErr}
}
