// Package filter implements the canonical filter variants of spec.md §3 and
// their decomposition into independently-cacheable fragments (spec.md §4.C).
package filter

import "strings"

// AddressKind discriminates how an address-bearing filter position is
// constrained.
type AddressKind int

const (
	// AddressNone means the position is unconstrained (matches anything).
	AddressNone AddressKind = iota
	// AddressLiteral means the position is pinned to a fixed list of
	// addresses (a singleton list is a single literal address).
	AddressLiteral
	// AddressFactory means the position is constrained to addresses
	// produced by a LogFactory filter.
	AddressFactory
)

// AddressSpec is one "address | factory | none" position in a filter.
type AddressSpec struct {
	Kind      AddressKind
	Addresses []string // lowercased hex addresses, used when Kind == AddressLiteral
	FactoryID string   // used when Kind == AddressFactory
}

// None reports an unconstrained address position.
func None() AddressSpec { return AddressSpec{Kind: AddressNone} }

// Literal builds an AddressSpec over one or more literal addresses.
func Literal(addresses ...string) AddressSpec {
	lower := make([]string, len(addresses))
	for i, a := range addresses {
		lower[i] = strings.ToLower(a)
	}
	return AddressSpec{Kind: AddressLiteral, Addresses: lower}
}

// Factory builds an AddressSpec scoped to a factory's child addresses.
func Factory(factoryID string) AddressSpec {
	return AddressSpec{Kind: AddressFactory, FactoryID: factoryID}
}

// TopicSpec is one topic position: nil Values means wildcard (matches any
// value); multiple Values means an OR across that list.
type TopicSpec struct {
	Values []string // lowercased 32-byte hex topics
}

// Topic builds a TopicSpec from zero or more literal values. Calling it
// with zero values yields a wildcard.
func Topic(values ...string) TopicSpec {
	if len(values) == 0 {
		return TopicSpec{}
	}
	lower := make([]string, len(values))
	for i, v := range values {
		lower[i] = strings.ToLower(v)
	}
	return TopicSpec{Values: lower}
}

// ChildAddressLocationKind selects where in a log a factory's child
// address is encoded.
type ChildAddressLocationKind int

const (
	ChildAddressTopic1 ChildAddressLocationKind = iota
	ChildAddressTopic2
	ChildAddressTopic3
	ChildAddressOffset
)

// ChildAddressLocation is the parsed form of spec.md's
// `childAddressLocation ∈ {topic1|topic2|topic3|offsetN}`.
type ChildAddressLocation struct {
	Kind   ChildAddressLocationKind
	Offset int // meaningful only when Kind == ChildAddressOffset
}

// Kind discriminates the filter variant a fragment or filter value
// represents.
type Kind int

const (
	KindLog Kind = iota
	KindTrace
	KindTransfer
	KindTransaction
	KindBlock
	KindLogFactory
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "log"
	case KindTrace:
		return "trace"
	case KindTransfer:
		return "transfer"
	case KindTransaction:
		return "transaction"
	case KindBlock:
		return "block"
	case KindLogFactory:
		return "log_factory"
	default:
		return "unknown"
	}
}

// LogFilter matches spec.md's Log filter variant.
type LogFilter struct {
	ChainID         uint64
	Address         AddressSpec
	Topics          [4]TopicSpec
	FromBlock       uint64
	ToBlock         uint64
	IncludeReceipts bool
}

// TraceFilter matches spec.md's Trace filter variant.
type TraceFilter struct {
	ChainID          uint64
	FromAddress      AddressSpec
	ToAddress        AddressSpec
	FunctionSelector string // "" means unconstrained
	CallType         string // "" means unconstrained
	IncludeReverted  bool
	IncludeReceipts  bool
	FromBlock        uint64
	ToBlock          uint64
}

// TransferFilter matches spec.md's Transfer filter variant.
type TransferFilter struct {
	ChainID         uint64
	FromAddress     AddressSpec
	ToAddress       AddressSpec
	IncludeReverted bool
	IncludeReceipts bool
	FromBlock       uint64
	ToBlock         uint64
}

// TransactionFilter matches spec.md's Transaction filter variant. It has no
// includeReceipts bit: spec.md does not define one for this variant.
type TransactionFilter struct {
	ChainID         uint64
	FromAddress     AddressSpec
	ToAddress       AddressSpec
	IncludeReverted bool
	FromBlock       uint64
	ToBlock         uint64
}

// BlockFilter matches spec.md's Block filter variant: blocks matching
// (n-offset) % interval == 0.
type BlockFilter struct {
	ChainID   uint64
	Interval  uint64
	Offset    uint64
	FromBlock uint64
	ToBlock   uint64
}

// LogFactoryFilter matches spec.md's LogFactory filter variant.
type LogFactoryFilter struct {
	ChainID              uint64
	Address              AddressSpec // AddressLiteral (one or more factory addresses)
	EventSelector        string
	ChildAddressLocation ChildAddressLocation
	FromBlock            uint64
	ToBlock              uint64
}

// Filter is the tagged union of all filter variants. Exactly one of the
// pointer fields is non-nil; Kind reports which.
type Filter struct {
	Kind        Kind
	Log         *LogFilter
	Trace       *TraceFilter
	Transfer    *TransferFilter
	Transaction *TransactionFilter
	Block       *BlockFilter
	LogFactory  *LogFactoryFilter
}

// ChainID returns the chain the filter applies to, regardless of variant.
func (f Filter) ChainID() uint64 {
	switch f.Kind {
	case KindLog:
		return f.Log.ChainID
	case KindTrace:
		return f.Trace.ChainID
	case KindTransfer:
		return f.Transfer.ChainID
	case KindTransaction:
		return f.Transaction.ChainID
	case KindBlock:
		return f.Block.ChainID
	case KindLogFactory:
		return f.LogFactory.ChainID
	default:
		return 0
	}
}

// BlockRange returns the filter's [fromBlock, toBlock] span, regardless of
// variant.
func (f Filter) BlockRange() (from, to uint64) {
	switch f.Kind {
	case KindLog:
		return f.Log.FromBlock, f.Log.ToBlock
	case KindTrace:
		return f.Trace.FromBlock, f.Trace.ToBlock
	case KindTransfer:
		return f.Transfer.FromBlock, f.Transfer.ToBlock
	case KindTransaction:
		return f.Transaction.FromBlock, f.Transaction.ToBlock
	case KindBlock:
		return f.Block.FromBlock, f.Block.ToBlock
	case KindLogFactory:
		return f.LogFactory.FromBlock, f.LogFactory.ToBlock
	default:
		return 0, 0
	}
}

// MatchesBlock reports whether a Block filter matches block number n. It
// is a no-op (always false) for other variants.
func (bf BlockFilter) MatchesBlock(n uint64) bool {
	if bf.Interval == 0 {
		return false
	}
	if n < bf.Offset {
		return false
	}
	return (n-bf.Offset)%bf.Interval == 0
}
