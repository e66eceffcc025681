package filter

import (
	"fmt"
	"strings"
)

const nullSentinel = "null"

// addressKey renders a single concrete address-or-factory position (never
// a multi-address set — fragment decomposition has already split those)
// into the string used inside a fragment id. An AddressNone position
// ("matches any value") renders as the null sentinel.
func addressKey(spec AddressSpec, literal string) string {
	switch spec.Kind {
	case AddressFactory:
		return "f:" + spec.FactoryID
	case AddressLiteral:
		return "a:" + strings.ToLower(literal)
	default:
		return nullSentinel
	}
}

func topicKey(values []string, chosen string) string {
	if len(values) == 0 {
		return nullSentinel
	}
	return chosen
}

func boolKey(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Fragment is the minimal cacheable slice of a filter, per spec.md §3/§4.C.
// Exactly one address-ish group of fields is meaningful depending on Kind.
type Fragment struct {
	Kind Kind

	ChainID uint64

	// Log: single address (or "null"/"f:<id>").
	Address string
	Topics  [4]string // each "null" or a concrete lowercased hex value

	// Trace/Transfer/Transaction: single from/to addresses.
	FromAddress string
	ToAddress   string

	FunctionSelector string // "" meaning unconstrained, Trace only
	CallType         string // "" meaning unconstrained, Trace only
	IncludeReverted  bool   // Trace/Transfer/Transaction
	IncludeReceipts  bool   // Log/Trace/Transfer

	// Block.
	BlockInterval uint64
	BlockOffset   uint64

	// LogFactory.
	EventSelector    string
	ChildAddressLoc  ChildAddressLocation
}

// ID returns the fragment's canonical, stable textual id. Two fragments
// with identical semantic shape always produce identical ids.
func (f Fragment) ID() string {
	switch f.Kind {
	case KindLog:
		return fmt.Sprintf("log_%d_%s_%s_%s_%s_%s_%s",
			f.ChainID, f.Address, f.Topics[0], f.Topics[1], f.Topics[2], f.Topics[3], boolKey(f.IncludeReceipts))
	case KindTrace:
		sel := f.FunctionSelector
		if sel == "" {
			sel = nullSentinel
		}
		ct := f.CallType
		if ct == "" {
			ct = nullSentinel
		}
		return fmt.Sprintf("trace_%d_%s_%s_%s_%s_%s_%s",
			f.ChainID, f.FromAddress, f.ToAddress, sel, ct, boolKey(f.IncludeReverted), boolKey(f.IncludeReceipts))
	case KindTransfer:
		return fmt.Sprintf("transfer_%d_%s_%s_%s_%s",
			f.ChainID, f.FromAddress, f.ToAddress, boolKey(f.IncludeReverted), boolKey(f.IncludeReceipts))
	case KindTransaction:
		return fmt.Sprintf("transaction_%d_%s_%s_%s",
			f.ChainID, f.FromAddress, f.ToAddress, boolKey(f.IncludeReverted))
	case KindBlock:
		return fmt.Sprintf("block_%d_%d_%d", f.ChainID, f.BlockInterval, f.BlockOffset)
	case KindLogFactory:
		return fmt.Sprintf("log_factory_%d_%s_%s_%s", f.ChainID, f.Address, f.EventSelector, childLocKey(f.ChildAddressLoc))
	default:
		return fmt.Sprintf("unknown_%d", f.ChainID)
	}
}

func childLocKey(loc ChildAddressLocation) string {
	switch loc.Kind {
	case ChildAddressTopic1:
		return "topic1"
	case ChildAddressTopic2:
		return "topic2"
	case ChildAddressTopic3:
		return "topic3"
	case ChildAddressOffset:
		return fmt.Sprintf("offset%d", loc.Offset)
	default:
		return nullSentinel
	}
}

// wildcardOptions returns the set of values a stored fragment's position
// may hold and still satisfy a query position holding value v: the
// concrete value itself, plus the wildcard sentinel — unless v is itself
// the wildcard, in which case only an exact wildcard match satisfies it.
func wildcardOptions(v string) []string {
	if v == nullSentinel {
		return []string{nullSentinel}
	}
	return []string{v, nullSentinel}
}

// boolOptions returns the includeReceipts values a stored fragment may
// hold and still satisfy a query that wants want: a row recorded with
// includeReceipts=true covers a query that only wants =false, but not the
// other way around.
func boolOptions(want bool) []bool {
	if want {
		return []bool{true}
	}
	return []bool{true, false}
}

// AdjacentIDs returns the fragment's own id plus the ids of every strict
// superset that would also satisfy it, per spec.md §4.C's adjacency rule.
// getIntervals unions the ledger ranges recorded under all of these ids to
// determine what block ranges are available for this query fragment.
func (f Fragment) AdjacentIDs() []string {
	switch f.Kind {
	case KindLog:
		return logAdjacentIDs(f)
	case KindTrace:
		return traceAdjacentIDs(f)
	case KindTransfer:
		return transferAdjacentIDs(f)
	case KindTransaction:
		return transactionAdjacentIDs(f)
	case KindBlock, KindLogFactory:
		return []string{f.ID()}
	default:
		return []string{f.ID()}
	}
}

func logAdjacentIDs(f Fragment) []string {
	addrs := wildcardOptions(f.Address)
	t0s := wildcardOptions(f.Topics[0])
	t1s := wildcardOptions(f.Topics[1])
	t2s := wildcardOptions(f.Topics[2])
	t3s := wildcardOptions(f.Topics[3])
	receipts := boolOptions(f.IncludeReceipts)

	var ids []string
	for _, a := range addrs {
		for _, t0 := range t0s {
			for _, t1 := range t1s {
				for _, t2 := range t2s {
					for _, t3 := range t3s {
						for _, r := range receipts {
							ids = append(ids, fmt.Sprintf("log_%d_%s_%s_%s_%s_%s_%s",
								f.ChainID, a, t0, t1, t2, t3, boolKey(r)))
						}
					}
				}
			}
		}
	}
	return ids
}

func traceAdjacentIDs(f Fragment) []string {
	froms := wildcardOptions(f.FromAddress)
	tos := wildcardOptions(f.ToAddress)
	sel := f.FunctionSelector
	if sel == "" {
		sel = nullSentinel
	}
	ct := f.CallType
	if ct == "" {
		ct = nullSentinel
	}
	selOpts := wildcardOptions(sel)
	ctOpts := wildcardOptions(ct)
	revertedOpts := boolOptions(f.IncludeReverted)
	receiptOpts := boolOptions(f.IncludeReceipts)

	var ids []string
	for _, from := range froms {
		for _, to := range tos {
			for _, s := range selOpts {
				for _, c := range ctOpts {
					for _, rv := range revertedOpts {
						for _, rc := range receiptOpts {
							ids = append(ids, fmt.Sprintf("trace_%d_%s_%s_%s_%s_%s_%s",
								f.ChainID, from, to, s, c, boolKey(rv), boolKey(rc)))
						}
					}
				}
			}
		}
	}
	return ids
}

func transferAdjacentIDs(f Fragment) []string {
	froms := wildcardOptions(f.FromAddress)
	tos := wildcardOptions(f.ToAddress)
	revertedOpts := boolOptions(f.IncludeReverted)
	receiptOpts := boolOptions(f.IncludeReceipts)

	var ids []string
	for _, from := range froms {
		for _, to := range tos {
			for _, rv := range revertedOpts {
				for _, rc := range receiptOpts {
					ids = append(ids, fmt.Sprintf("transfer_%d_%s_%s_%s_%s",
						f.ChainID, from, to, boolKey(rv), boolKey(rc)))
				}
			}
		}
	}
	return ids
}

func transactionAdjacentIDs(f Fragment) []string {
	froms := wildcardOptions(f.FromAddress)
	tos := wildcardOptions(f.ToAddress)
	revertedOpts := boolOptions(f.IncludeReverted)

	var ids []string
	for _, from := range froms {
		for _, to := range tos {
			for _, rv := range revertedOpts {
				ids = append(ids, fmt.Sprintf("transaction_%d_%s_%s_%s", f.ChainID, from, to, boolKey(rv)))
			}
		}
	}
	return ids
}
