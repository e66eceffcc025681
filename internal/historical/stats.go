package historical

import "time"

// Stats reports historical-sync completion progress for one source, per
// spec.md §4.E's completion-stats contract.
type Stats struct {
	TotalBlocks     uint64
	CachedBlocks    uint64
	CompletedBlocks uint64
	StartedAt       time.Time
	Now             time.Time
}

// FractionComplete returns (cached+completed)/total, or 1 when total is 0
// (an empty target range is vacuously complete).
func (s Stats) FractionComplete() float64 {
	if s.TotalBlocks == 0 {
		return 1
	}
	done := s.CachedBlocks + s.CompletedBlocks
	if done > s.TotalBlocks {
		done = s.TotalBlocks
	}
	return float64(done) / float64(s.TotalBlocks)
}

// ETA estimates remaining wall-clock time by extrapolating this run's own
// completion rate (CompletedBlocks, excluding blocks that were already
// cached at startup, over elapsed time since StartedAt). Returns
// (0, false) when there isn't yet enough signal to extrapolate from.
func (s Stats) ETA() (time.Duration, bool) {
	remaining := s.TotalBlocks - s.CachedBlocks - s.CompletedBlocks
	if s.TotalBlocks == 0 || remaining == 0 {
		return 0, true
	}
	if s.CompletedBlocks == 0 {
		return 0, false
	}
	elapsed := s.Now.Sub(s.StartedAt)
	if elapsed <= 0 {
		return 0, false
	}
	rate := float64(s.CompletedBlocks) / elapsed.Seconds()
	if rate <= 0 {
		return 0, false
	}
	secs := float64(remaining) / rate
	return time.Duration(secs * float64(time.Second)), true
}
