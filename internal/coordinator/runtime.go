package coordinator

import (
	"context"

	"github.com/chainsync/syncer/internal/event"
)

// IndexingRuntime is the external, user-supplied consumer of emitted
// events — out of scope per spec.md §1/§9 ("the coordinator treats the
// indexing runtime as a black box"). The coordinator's only contract with
// it is the Event record shape and the two retryable/non-retryable error
// types declared in errors.go.
type IndexingRuntime interface {
	// ProcessSetupEvents runs once per source before historical backfill
	// begins, when no crash-recovery checkpoint exists for the owning
	// chain. It exists for runtimes that need to seed user-owned tables
	// before any chain event arrives (e.g. registering a source's static
	// metadata).
	ProcessSetupEvents(ctx context.Context, sourceIndex int) error

	// ProcessHistoricalEvents indexes one batch produced by the historical
	// generator. A return of *InvalidEventAccess makes the coordinator send
	// the same batch again, unchanged (it is not re-fetched and the named
	// field is not added), up to maxBatchRetries attempts in all;
	// *NonRetryableUserError aborts the whole run.
	ProcessHistoricalEvents(ctx context.Context, batch []event.Event) error

	// ProcessRealtimeEvents indexes events produced once a chain has
	// transitioned to head-tracking. Called once per event with a
	// one-element batch, so a batch never spans blocks and the runtime can
	// commit its own transaction around each call.
	ProcessRealtimeEvents(ctx context.Context, batch []event.Event) error
}
