package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/interval"
)

// FilterInterval pairs a filter with a block interval that has just been
// fully materialized for it, the unit insertIntervals consumes.
type FilterInterval struct {
	Filter   filter.Filter
	Interval interval.Range
}

// FragmentIntervals is one entry of getIntervals' per-filter result: the
// cached block ranges available for a single fragment of the filter.
type FragmentIntervals struct {
	Fragment  filter.Fragment
	Intervals interval.MultiRange
}

func encodeRanges(mr interval.MultiRange) (string, error) {
	pairs := make([][2]uint64, len(mr))
	for i, r := range mr {
		pairs[i] = [2]uint64{r.Lo, r.Hi}
	}
	raw, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeRanges(s string) (interval.MultiRange, error) {
	var pairs [][2]uint64
	if s == "" {
		return interval.MultiRange{}, nil
	}
	if err := json.Unmarshal([]byte(s), &pairs); err != nil {
		return nil, err
	}
	mr := make(interval.MultiRange, len(pairs))
	for i, p := range pairs {
		mr[i] = interval.Range{Lo: p[0], Hi: p[1]}
	}
	return interval.Normalize(mr), nil
}

// InsertIntervals expands each (filter, interval) pair into fragments and
// unions the interval into each fragment's ledger row. Re-inserting the
// same interval is a no-op: Normalize/Union collapse it away.
func (s *Store) InsertIntervals(ctx context.Context, chainID uint64, entries []FilterInterval) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning interval transaction: %w", err)
	}
	defer tx.Rollback()

	for _, entry := range entries {
		for _, frag := range filter.GetFragments(entry.Filter) {
			if err := s.unionFragmentInterval(ctx, tx, chainID, frag.ID(), entry.Interval); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *Store) unionFragmentInterval(ctx context.Context, tx *sql.Tx, chainID uint64, fragmentID string, r interval.Range) error {
	var existing string
	err := tx.QueryRowContext(ctx, `SELECT blocks_json FROM intervals WHERE fragment_id = ?`, fragmentID).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("store: reading interval row %s: %w", fragmentID, err)
	}

	var current interval.MultiRange
	if err != sql.ErrNoRows {
		current, err = decodeRanges(existing)
		if err != nil {
			return fmt.Errorf("store: decoding interval row %s: %w", fragmentID, err)
		}
	}

	merged := interval.Union(current, interval.MultiRange{r})
	encoded, err := encodeRanges(merged)
	if err != nil {
		return fmt.Errorf("store: encoding interval row %s: %w", fragmentID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO intervals (fragment_id, chain_id, blocks_json) VALUES (?, ?, ?)
		ON CONFLICT(fragment_id) DO UPDATE SET blocks_json = excluded.blocks_json`,
		fragmentID, chainID, encoded)
	if err != nil {
		return fmt.Errorf("store: upserting interval row %s: %w", fragmentID, err)
	}
	return nil
}

// GetIntervals returns, for each requested filter, the cached coverage of
// every fragment it decomposes into. A fragment's coverage is the union of
// the ledger ranges recorded under its own id and every id in its
// adjacent-superset set (spec.md §4.C): a broader stored scan (e.g. no
// address filter) satisfies a narrower query fragment wherever it overlaps.
func (s *Store) GetIntervals(ctx context.Context, filters []filter.Filter) (map[int][]FragmentIntervals, error) {
	out := make(map[int][]FragmentIntervals, len(filters))

	for i, f := range filters {
		var perFilter []FragmentIntervals
		for _, frag := range filter.GetFragments(f) {
			covered, err := s.fragmentCoverage(ctx, frag)
			if err != nil {
				return nil, err
			}
			perFilter = append(perFilter, FragmentIntervals{Fragment: frag, Intervals: covered})
		}
		out[i] = perFilter
	}
	return out, nil
}

func (s *Store) fragmentCoverage(ctx context.Context, frag filter.Fragment) (interval.MultiRange, error) {
	ids := frag.AdjacentIDs()
	if len(ids) == 0 {
		ids = []string{frag.ID()}
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT blocks_json FROM intervals WHERE fragment_id IN (%s)`, join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying intervals: %w", err)
	}
	defer rows.Close()

	combined := interval.MultiRange{}
	for rows.Next() {
		var blocksJSON string
		if err := rows.Scan(&blocksJSON); err != nil {
			return nil, fmt.Errorf("store: scanning interval row: %w", err)
		}
		mr, err := decodeRanges(blocksJSON)
		if err != nil {
			return nil, fmt.Errorf("store: decoding interval row: %w", err)
		}
		combined = interval.Union(combined, mr)
	}
	return combined, rows.Err()
}

func join(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
