package historical

import (
	"context"
	"errors"
	"strings"
)

// ErrRangeTooLarge names the condition classifyRangeError detects: an RPC
// error saying the requested block range exceeds the provider's limit.
// classifyRangeError reports it as a bool; no code path returns this value.
var ErrRangeTooLarge = errors.New("historical: requested range exceeds provider limit")

// rangeErrorSignatures are substrings seen in real provider error messages
// for oversized eth_getLogs ranges (Alchemy's "Log response size exceeded"
// and its 10,000/20,000-block range caps, plus the generic QuickNode-style
// wording). Matched case-insensitively since providers don't agree on case.
var rangeErrorSignatures = []string{
	"log response size exceeded",
	"block range",
	"blocks range",
	"range between blocks",
	"exceeds the range",
	"query returned more than",
	"10000 results",
}

// classifyRangeError reports whether err indicates the queried range was
// too large for the provider to answer in one call.
func classifyRangeError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range rangeErrorSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// bisect splits [from, to] into two halves for retry after a range error.
// Panics are impossible by construction: callers only bisect ranges with
// from < to (a single-block range that still errors is not bisected; the
// error goes back to runTask, which retries the task with backoff).
func bisect(from, to uint64) (loFrom, loTo, hiFrom, hiTo uint64) {
	mid := from + (to-from)/2
	return from, mid, mid + 1, to
}

// retryDelay is the exponential backoff schedule for non-range task
// failures, grounded on the teacher's calculateBackoff in
// internal/ingestion/service.go: doubling from a 1s base, capped at 30s.
func retryDelay(attempt int) durationMillis {
	base := durationMillis(1000)
	capped := durationMillis(30000)
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= capped {
			return capped
		}
	}
	return d
}

// durationMillis avoids importing time.Duration arithmetic subtleties into
// this pure function; callers convert with time.Duration(n) * time.Millisecond.
type durationMillis int64

// maxAttempts bounds retries before a task is reported fatal, per spec.md
// §4.E / §7's bounded-failure policy.
const maxAttempts = 8

// isFatal reports whether a task has exhausted its retry budget.
func isFatal(t *Task) bool {
	return t.attempts >= maxAttempts
}

// checkCanceled is a small helper used throughout the worker loop to bail
// out early on context cancellation rather than waiting for an RPC call to
// time out.
func checkCanceled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
