package coordinator

import (
	"errors"
	"fmt"
)

// InvalidEventAccess is returned by the indexing runtime when a handler
// read a field that was not included in the fetched event set (spec.md
// §7). The coordinator responds by sending the same batch to the runtime
// again, up to maxBatchRetries attempts in all; it does not re-fetch the
// batch or add the missing field to it.
type InvalidEventAccess struct {
	Field string
}

func (e *InvalidEventAccess) Error() string {
	return fmt.Sprintf("coordinator: indexing runtime accessed unfetched field %q", e.Field)
}

// NonRetryableUserError is returned by the indexing runtime for a failure
// it cannot recover from by retrying (a malformed handler, a constraint
// violation in user-owned tables, …). The coordinator aborts indexing and
// bubbles this up to its caller unchanged.
type NonRetryableUserError struct {
	Cause error
}

func (e *NonRetryableUserError) Error() string {
	return fmt.Sprintf("coordinator: non-retryable user error: %v", e.Cause)
}

func (e *NonRetryableUserError) Unwrap() error { return e.Cause }

// Shutdown signals a graceful stop requested via context cancellation. It
// is swallowed at the coordinator boundary per spec.md §7 rather than
// surfaced as a process failure.
var Shutdown = errors.New("coordinator: shutdown")

func asInvalidEventAccess(err error, target **InvalidEventAccess) bool {
	return errors.As(err, target)
}

func asNonRetryable(err error, target **NonRetryableUserError) bool {
	return errors.As(err, target)
}

// maxBatchRetries bounds how many times a single historical batch is sent
// to the runtime while it keeps returning InvalidEventAccess; after that
// the coordinator gives up and surfaces the error.
const maxBatchRetries = 3
