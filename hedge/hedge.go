// Package hedge provides hedging (speculative retry) for unary RPC calls.
// Hedging sends the same request to multiple backends in parallel and uses
// whichever response arrives first, reducing tail latency.
//
// Hedging is disabled by default and must be explicitly enabled by setting
// MaxHedgedRequests > 0. Adapted from the teacher's interceptor-based hedge
// package: wraps a retry.Invoker directly rather than chaining through an
// interceptor.
package hedge

import (
	"time"

	"github.com/gostdlib/base/context"

	"github.com/natebridge/muxrpc/retry"
	"github.com/natebridge/muxrpc/status"
)

// Policy configures hedging behavior. Zero value means hedging is disabled.
type Policy struct {
	// MaxHedgedRequests is the maximum number of hedged requests (excluding original).
	// 0 means no hedging (disabled). 1 means 1 hedge (2 total requests).
	MaxHedgedRequests int

	// HedgeDelay is how long to wait before sending each hedge request.
	HedgeDelay time.Duration

	// NonFatalCodes, when non-empty, lists the status codes that let the
	// hedge keep waiting for other responses; any other code then fails it
	// immediately. The codes in defaultFatalCodes always fail the hedge,
	// listed here or not. When empty, only defaultFatalCodes fail it.
	NonFatalCodes []status.Code
}

// DefaultPolicy returns a sensible default hedging policy.
// 1 hedge (2 total requests), 50ms delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxHedgedRequests: 1,
		HedgeDelay:        50 * time.Millisecond,
	}
}

type result struct {
	resp []byte
	err  error
}

// Wrap returns an Invoker that hedges calls to invoker according to policy.
func Wrap(policy Policy, invoker retry.Invoker) retry.Invoker {
	if policy.MaxHedgedRequests <= 0 {
		return invoker
	}

	return func(ctx context.Context, req []byte) ([]byte, error) {
		totalRequests := policy.MaxHedgedRequests + 1
		results := make(chan result, totalRequests)

		hedgeCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		pool := context.Pool(ctx)
		pool.Submit(ctx, func() {
			resp, err := invoker(hedgeCtx, req)
			select {
			case results <- result{resp, err}:
			case <-hedgeCtx.Done():
			}
		})

		for i := 0; i < policy.MaxHedgedRequests; i++ {
			delay := policy.HedgeDelay * time.Duration(i+1)
			pool.Submit(ctx, func() {
				select {
				case <-hedgeCtx.Done():
					return
				case <-time.After(delay):
				}

				select {
				case <-hedgeCtx.Done():
					return
				default:
				}

				resp, err := invoker(hedgeCtx, req)
				select {
				case results <- result{resp, err}:
				case <-hedgeCtx.Done():
				}
			})
		}

		var lastErr error
		received := 0

		for received < totalRequests {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case r := <-results:
				received++

				if r.err == nil {
					cancel()
					return r.resp, nil
				}

				if isFatal(r.err, policy.NonFatalCodes) {
					cancel()
					return nil, r.err
				}

				lastErr = r.err
			}
		}

		return nil, lastErr
	}
}

// defaultFatalCodes are status codes that always abort a hedge immediately,
// since retrying them on another backend cannot help.
var defaultFatalCodes = []status.Code{
	status.InvalidArgument,
	status.NotFound,
	status.AlreadyExists,
	status.PermissionDenied,
	status.Unimplemented,
	status.DeadlineExceeded,
	status.Cancelled,
}

// isFatal returns true if err should immediately fail the hedge without
// waiting for other responses.
func isFatal(err error, nonFatalCodes []status.Code) bool {
	if err == nil {
		return false
	}

	code := status.FromError(err).Code

	for _, c := range defaultFatalCodes {
		if code == c {
			return true
		}
	}

	if len(nonFatalCodes) > 0 {
		for _, c := range nonFatalCodes {
			if code == c {
				return false
			}
		}
		return true
	}

	return false
}
