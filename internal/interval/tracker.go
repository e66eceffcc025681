package interval

// ProgressTracker tracks how much of a single target range has been
// completed, and derives the checkpoint — the largest block number x such
// that [target.Lo, x] is fully covered by completed intervals.
type ProgressTracker struct {
	target    Range
	completed MultiRange
}

// NewProgressTracker creates a tracker for target, seeded with whatever of
// it is already completed (e.g. read back from the interval ledger).
func NewProgressTracker(target Range, completed MultiRange) *ProgressTracker {
	return &ProgressTracker{
		target:    target,
		completed: Intersection(Normalize(completed), MultiRange{target}),
	}
}

// Target returns the tracker's target range.
func (t *ProgressTracker) Target() Range {
	return t.target
}

// Completed returns the canonical completed intervals, restricted to target.
func (t *ProgressTracker) Completed() MultiRange {
	return t.completed
}

// Required returns target \ completed: the intervals still needing work.
func (t *ProgressTracker) Required() MultiRange {
	return Required(MultiRange{t.target}, t.completed)
}

// Checkpoint returns the largest x >= target.Lo such that [target.Lo, x] is
// entirely covered by completed, or (target.Lo, false) if even the
// first block of the target is not yet covered. The bool return is false
// only when nothing at all has been completed from the start of target.
func (t *ProgressTracker) Checkpoint() (uint64, bool) {
	for _, r := range t.completed {
		if r.Lo == t.target.Lo {
			return r.Hi, true
		}
		if r.Lo > t.target.Lo {
			break
		}
	}
	return t.target.Lo, false
}

// AddCompletedResult is the outcome of recording a newly-completed interval.
type AddCompletedResult struct {
	IsUpdated      bool
	PrevCheckpoint uint64
	NewCheckpoint  uint64
}

// AddCompletedInterval unions r into the completed set and reports whether
// the checkpoint advanced.
func (t *ProgressTracker) AddCompletedInterval(r Range) AddCompletedResult {
	prev, prevOK := t.Checkpoint()

	t.completed = Intersection(Union(t.completed, MultiRange{r}), MultiRange{t.target})

	next, nextOK := t.Checkpoint()

	// A checkpoint only counts as "updated" once the tracker has actually
	// covered at least the first block of its target; comparing raw values
	// when neither call was ok would otherwise report a spurious update.
	updated := nextOK && (!prevOK || next > prev)

	return AddCompletedResult{
		IsUpdated:      updated,
		PrevCheckpoint: prev,
		NewCheckpoint:  next,
	}
}

// IsComplete reports whether the entire target range has been completed.
func (t *ProgressTracker) IsComplete() bool {
	return len(t.Required()) == 0
}
