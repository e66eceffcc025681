package coordinator

import "github.com/chainsync/syncer/internal/filter"

// clampToBlock returns a copy of f whose ToBlock is bounded by to when the
// filter is open-ended (ToBlock == 0 or < FromBlock), so the historical
// planner has a concrete target range to backfill up to. The realtime
// syncer is always given the original, unclamped filter — only the
// historical-phase planning copy is bounded.
func clampToBlock(f filter.Filter, to uint64) filter.Filter {
	switch f.Kind {
	case filter.KindLog:
		lf := *f.Log
		if openEnded(lf.FromBlock, lf.ToBlock) {
			lf.ToBlock = to
		}
		return filter.Filter{Kind: f.Kind, Log: &lf}
	case filter.KindTrace:
		tf := *f.Trace
		if openEnded(tf.FromBlock, tf.ToBlock) {
			tf.ToBlock = to
		}
		return filter.Filter{Kind: f.Kind, Trace: &tf}
	case filter.KindTransfer:
		tf := *f.Transfer
		if openEnded(tf.FromBlock, tf.ToBlock) {
			tf.ToBlock = to
		}
		return filter.Filter{Kind: f.Kind, Transfer: &tf}
	case filter.KindTransaction:
		tf := *f.Transaction
		if openEnded(tf.FromBlock, tf.ToBlock) {
			tf.ToBlock = to
		}
		return filter.Filter{Kind: f.Kind, Transaction: &tf}
	case filter.KindBlock:
		bf := *f.Block
		if openEnded(bf.FromBlock, bf.ToBlock) {
			bf.ToBlock = to
		}
		return filter.Filter{Kind: f.Kind, Block: &bf}
	case filter.KindLogFactory:
		lf := *f.LogFactory
		if openEnded(lf.FromBlock, lf.ToBlock) {
			lf.ToBlock = to
		}
		return filter.Filter{Kind: f.Kind, LogFactory: &lf}
	default:
		return f
	}
}

func openEnded(from, to uint64) bool {
	return to == 0 || to < from
}
