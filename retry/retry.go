// Package retry provides retry policies for unary RPC calls, applied as a
// wrapper around the invoker function a caller uses to issue one attempt.
// Adapted from the teacher's interceptor-based retry package: this module
// has no interceptor chain, so the wrapping happens directly around the
// invoker a caller.Call site would otherwise call once.
package retry

import (
	"time"

	"github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/status"
)

// Invoker issues one attempt of a unary call and returns the response bytes
// or an error, typically a *status.Status.
type Invoker func(ctx context.Context, req []byte) ([]byte, error)

// Policy configures retry behavior for RPC calls.
type Policy struct {
	// MaxAttempts is the maximum number of retries after the first call.
	// 0 means no retry (single attempt), 1 means retry once (2 total attempts).
	MaxAttempts int

	// InitialBackoff is the initial wait time before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum wait time between retries.
	MaxBackoff time.Duration

	// Multiplier is the factor by which the backoff increases after each retry.
	Multiplier float64

	// Retryable is an optional function to determine if an error is retryable.
	// If nil, the default retryable check is used.
	Retryable func(err error) bool
}

// DefaultPolicy returns a sensible default retry policy.
// 3 retries (4 attempts total), 100ms initial backoff, 5s max backoff, 2x multiplier.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Wrap returns an Invoker that retries failed attempts of invoker according
// to policy.
func Wrap(policy Policy, invoker Invoker) Invoker {
	if policy.MaxAttempts <= 0 {
		return invoker
	}

	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}

	return func(ctx context.Context, req []byte) ([]byte, error) {
		var lastErr error
		backoff := policy.InitialBackoff

		for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
			resp, err := invoker(ctx, req)
			if err == nil {
				return resp, nil
			}

			if !retryable(err) {
				return nil, err
			}
			lastErr = err

			// Don't wait after the last attempt.
			if attempt < policy.MaxAttempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(backoff):
				}

				backoff = time.Duration(float64(backoff) * policy.Multiplier)
				if backoff > policy.MaxBackoff {
					backoff = policy.MaxBackoff
				}
			}
		}
		return nil, lastErr
	}
}

// IsRetryable reports whether err's grpc-status code is one this package
// retries by default: Internal, Unavailable, ResourceExhausted.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	st := status.FromError(err)
	switch st.Code {
	case status.Internal, status.Unavailable, status.ResourceExhausted:
		return true
	default:
		return false
	}
}
