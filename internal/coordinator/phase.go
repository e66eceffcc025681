package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/store"
)

type phase int

const (
	phaseHistorical phase = iota
	phaseRealtime
)

// historicalAccumulator buffers events the assembler has cleared for
// emission until there are EventChunkSize of them (or the chain's
// historical phase ends), so the indexing runtime still sees batches
// rather than one ProcessHistoricalEvents call per event.
type historicalAccumulator struct {
	chainID   uint64
	chainName string
	events    []event.Event
}

// phaseState tracks, per chain, which lifecycle phase dispatchRealtime routes to
// and the in-flight historical batch accumulator.
type phaseState struct {
	mu    sync.Mutex
	phase map[uint64]phase
	accum map[uint64]*historicalAccumulator
}

func newPhaseState() *phaseState {
	return &phaseState{phase: make(map[uint64]phase), accum: make(map[uint64]*historicalAccumulator)}
}

func (p *phaseState) setHistorical(chainID uint64, chainName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase[chainID] = phaseHistorical
	p.accum[chainID] = &historicalAccumulator{chainID: chainID, chainName: chainName}
}

func (p *phaseState) get(chainID uint64) phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase[chainID]
}

func (p *phaseState) setRealtime(chainID uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase[chainID] = phaseRealtime
}

// dispatchRealtime is the assembler's OnEvent sink for every chain at
// every phase: it routes to the historical batch accumulator or straight
// to the runtime's realtime entrypoint depending on the chain's current
// phase.
func (c *Coordinator) dispatchRealtime(ev event.Event) error {
	if c.phases.get(ev.ChainID) == phaseRealtime {
		return c.runtime.ProcessRealtimeEvents(context.Background(), []event.Event{ev})
	}

	c.phases.mu.Lock()
	acc := c.phases.accum[ev.ChainID]
	acc.events = append(acc.events, ev)
	shouldFlush := len(acc.events) >= c.cfg.Historical.EventChunkSize
	c.phases.mu.Unlock()

	if shouldFlush {
		return c.flushHistorical(context.Background(), ev.ChainID)
	}
	return nil
}

// flushHistorical sends whatever is currently accumulated for chainID to
// the indexing runtime as one batch, retrying on InvalidEventAccess per
// spec.md §7, and on success upserts all three checkpoint tiers (latest,
// safe and finalized) to the batch's last checkpoint.
func (c *Coordinator) flushHistorical(ctx context.Context, chainID uint64) error {
	c.phases.mu.Lock()
	acc := c.phases.accum[chainID]
	batch := acc.events
	acc.events = nil
	chainName := acc.chainName
	c.phases.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := c.callHistoricalWithRetry(ctx, batch); err != nil {
		return err
	}

	last := batch[len(batch)-1].Checkpoint
	return c.store.PutChainCheckpoints(ctx, store.ChainCheckpoints{
		ChainName:           chainName,
		ChainID:             chainID,
		LatestCheckpoint:    last,
		SafeCheckpoint:      last,
		FinalizedCheckpoint: last,
	})
}

func (c *Coordinator) callHistoricalWithRetry(ctx context.Context, batch []event.Event) error {
	var lastErr error
	for attempt := 0; attempt < maxBatchRetries; attempt++ {
		err := c.runtime.ProcessHistoricalEvents(ctx, batch)
		if err == nil {
			return nil
		}

		var invalid *InvalidEventAccess
		if !asInvalidEventAccess(err, &invalid) {
			var nonRetryable *NonRetryableUserError
			if asNonRetryable(err, &nonRetryable) {
				return nonRetryable
			}
			return err
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Str("field", invalid.Field).
			Msg("coordinator: indexing runtime requested an unfetched field, retrying batch")
		select {
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("coordinator: batch exhausted %d retries: %w", maxBatchRetries, lastErr)
}
