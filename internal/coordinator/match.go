package coordinator

import (
	"context"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/store"
)

// eventSourcesFor reports which chain-wide tables a source's filter needs
// GetEventBlockData to scan, per spec.md §4.D.
func eventSourcesFor(f filter.Filter) store.EventSources {
	switch f.Kind {
	case filter.KindLog, filter.KindLogFactory:
		return store.EventSources{Logs: true}
	case filter.KindTransaction:
		return store.EventSources{Transactions: true}
	case filter.KindTrace, filter.KindTransfer:
		return store.EventSources{Traces: true}
	default:
		return store.EventSources{}
	}
}

// rowMatcher builds the match predicate EmitEvents applies to distinguish
// rows belonging to src's filter from another source's rows sharing the
// same chain-wide table, since the store does not tag rows by source.
func (c *Coordinator) rowMatcher(ctx context.Context, f filter.Filter) func(store.EventRow) bool {
	switch f.Kind {
	case filter.KindLog:
		addr, topics := f.Log.Address, f.Log.Topics
		return func(row store.EventRow) bool {
			if row.Log == nil {
				return false
			}
			return c.addressMatches(ctx, f.ChainID(), addr, row.Log.Address) && topicsMatch(topics, row.Log.Topics)
		}
	case filter.KindTransfer:
		tf := f.Transfer
		return func(row store.EventRow) bool {
			if row.Trace == nil {
				return false
			}
			tr := row.Trace
			if tr.Value == nil || tr.Value.Sign() <= 0 {
				return false
			}
			if tr.IsReverted && !tf.IncludeReverted {
				return false
			}
			return c.addressMatches(ctx, f.ChainID(), tf.FromAddress, tr.From) && c.addressMatches(ctx, f.ChainID(), tf.ToAddress, tr.To)
		}
	case filter.KindLogFactory:
		addr := f.LogFactory.Address
		topics := [4]filter.TopicSpec{filter.Topic(f.LogFactory.EventSelector)}
		return func(row store.EventRow) bool {
			if row.Log == nil {
				return false
			}
			return c.addressMatches(ctx, f.ChainID(), addr, row.Log.Address) && topicsMatch(topics, row.Log.Topics)
		}
	case filter.KindTransaction:
		tf := f.Transaction
		return func(row store.EventRow) bool {
			if row.Transaction == nil {
				return false
			}
			t := row.Transaction
			if !tf.IncludeReverted && c.transactionReverted(ctx, f.ChainID(), *t) {
				return false
			}
			return c.addressMatches(ctx, f.ChainID(), tf.FromAddress, t.From) && c.addressMatches(ctx, f.ChainID(), tf.ToAddress, t.To)
		}
	case filter.KindTrace:
		tf := f.Trace
		return func(row store.EventRow) bool {
			if row.Trace == nil {
				return false
			}
			tr := row.Trace
			if tr.IsReverted && !tf.IncludeReverted {
				return false
			}
			if tf.FunctionSelector != "" && tr.FunctionSelector != tf.FunctionSelector {
				return false
			}
			if tf.CallType != "" && tr.Type != tf.CallType {
				return false
			}
			return c.addressMatches(ctx, f.ChainID(), tf.FromAddress, tr.From) && c.addressMatches(ctx, f.ChainID(), tf.ToAddress, tr.To)
		}
	default:
		return func(store.EventRow) bool { return false }
	}
}

func topicsMatch(spec [4]filter.TopicSpec, actual []string) bool {
	for i, t := range spec {
		if len(t.Values) == 0 {
			continue
		}
		if i >= len(actual) {
			return false
		}
		found := false
		for _, v := range t.Values {
			if v == actual[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// addressMatches resolves an AddressSpec position against addr, deferring
// factory positions to the store's currently-known child addresses — the
// same three-way logic internal/realtime applies per block.
func (c *Coordinator) addressMatches(ctx context.Context, chainID uint64, spec filter.AddressSpec, addr string) bool {
	switch spec.Kind {
	case filter.AddressNone:
		return true
	case filter.AddressLiteral:
		for _, a := range spec.Addresses {
			if a == addr {
				return true
			}
		}
		return false
	case filter.AddressFactory:
		children, err := c.store.GetChildAddresses(ctx, spec.FactoryID, chainID)
		if err != nil {
			return false
		}
		_, ok := children[addr]
		return ok
	default:
		return false
	}
}

func (c *Coordinator) transactionReverted(ctx context.Context, chainID uint64, t chain.Transaction) bool {
	r, ok, err := c.store.GetReceipt(ctx, chainID, t.BlockNumber, t.TransactionIndex)
	if err != nil || !ok {
		return false
	}
	return r.Status == chain.ReceiptStatusReverted
}
