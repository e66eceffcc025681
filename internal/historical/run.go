package historical

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Run drains the task queue with bounded concurrency until every source's
// tracker is complete or ctx is canceled. Plan must be called first.
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for {
		if s.allComplete() && s.queue.Len() == 0 {
			break
		}
		if err := checkCanceled(ctx); err != nil {
			break
		}

		t, ok := s.queue.Dequeue()
		if !ok {
			// Tasks are in flight but the queue is momentarily empty; their
			// completion will enqueue follow-on block tasks or requeue
			// retries, so a short wait avoids a busy spin.
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		task := t
		g.Go(func() error {
			defer s.sem.Release(1)
			return s.runTask(ctx, task)
		})
	}

	return g.Wait()
}

func (s *Syncer) allComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tr := range s.trackers {
		if !tr.IsComplete() {
			return false
		}
	}
	return len(s.blockPending) == 0
}

// runTask executes t and, on a non-range failure, requeues it with
// exponential backoff until maxAttempts is exhausted.
func (s *Syncer) runTask(ctx context.Context, t *Task) error {
	var err error
	switch t.Kind {
	case KindLogFilterTask:
		err = s.processLogFilterTask(ctx, t)
	case KindFactoryContractTask:
		err = s.processFactoryContractTask(ctx, t)
	case KindChildContractTask:
		err = s.processChildContractTask(ctx, t)
	case KindBlockTask:
		err = s.processBlockTask(ctx, t)
	}

	if err == nil {
		return nil
	}

	t.attempts++
	if isFatal(t) {
		log.Error().Err(err).Int("kind", int(t.Kind)).Uint64("from", t.FromBlock).Uint64("to", t.ToBlock).
			Msg("historical task exhausted retries")
		return err
	}

	delay := time.Duration(retryDelay(t.attempts)) * time.Millisecond
	log.Warn().Err(err).Int("attempt", t.attempts).Dur("retryIn", delay).Msg("historical task failed, retrying")
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	s.queue.Enqueue(t)
	return nil
}

// Stats returns a snapshot of source src's backfill progress.
func (s *Syncer) Stats(src int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracker := s.trackers[src]
	var total uint64
	if tracker != nil {
		target := tracker.Target()
		total = target.Width()
	}
	return Stats{
		TotalBlocks:     total,
		CachedBlocks:    s.cachedCnt[src],
		CompletedBlocks: s.completedCnt[src],
		StartedAt:       s.startedAt,
		Now:             time.Now(),
	}
}
