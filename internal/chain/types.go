package chain

import (
	"math/big"

	"github.com/chainsync/syncer/internal/checkpoint"
)

// Block is the raw-typed block record of spec.md §3/§6.
type Block struct {
	ChainID         uint64
	Number          uint64
	Hash            string
	ParentHash      string
	Timestamp       uint64
	Miner           string
	BaseFeePerGas   *big.Int
	GasUsed         uint64
	GasLimit        uint64
	LogsBloom       []byte
	TransactionRoot string
	Checkpoint      string
}

// LightBlock is the minimal block shape the realtime syncer keeps in its
// in-memory unfinalized-block list, per spec.md §3.
type LightBlock struct {
	Hash       string
	ParentHash string
	Number     uint64
	Timestamp  uint64
}

// TransactionType mirrors spec.md §6's four fee-shape variants.
type TransactionType string

const (
	TransactionTypeLegacy  TransactionType = "legacy"
	TransactionTypeEIP2930 TransactionType = "eip2930"
	TransactionTypeEIP1559 TransactionType = "eip1559"
	TransactionTypeDeposit TransactionType = "deposit"
)

// Transaction is the raw-typed transaction record of spec.md §3/§6.
type Transaction struct {
	ChainID              uint64
	BlockNumber          uint64
	BlockHash            string
	TransactionIndex     uint64
	Hash                 string
	From                 string
	To                   string
	Value                *big.Int
	Type                 TransactionType
	GasPrice             *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	AccessList           []byte // opaque encoded access list, "" if not EIP-2930/1559
	R, S                 *big.Int
	V                    uint64
	Input                []byte
	Checkpoint           string
}

// ReceiptStatus mirrors spec.md §6's "success"|"reverted" mapping.
type ReceiptStatus string

const (
	ReceiptStatusSuccess  ReceiptStatus = "success"
	ReceiptStatusReverted ReceiptStatus = "reverted"
)

// TransactionReceipt is the raw-typed receipt record of spec.md §3/§6.
type TransactionReceipt struct {
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	TransactionHash  string
	ContractAddress  string
	From             string
	To               string
	GasUsed          uint64
	Status           ReceiptStatus
	Type             TransactionType
}

// Log is the raw-typed log record of spec.md §3/§6.
type Log struct {
	ChainID          uint64
	BlockNumber      uint64
	LogIndex         uint64
	BlockHash        string
	TransactionHash  string
	TransactionIndex uint64
	Address          string
	Topics           []string // up to 4 entries, topics[0] is the event selector
	Data             []byte
	Removed          bool
	Checkpoint       string
}

// Trace is the raw-typed trace record of spec.md §3/§6 (callTracer shape).
type Trace struct {
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	TraceIndex       uint64
	TransactionHash  string
	From             string
	To               string
	Value            *big.Int
	Type             string // CALL/DELEGATECALL/STATICCALL/CREATE/...
	Input            []byte
	Output           []byte
	FunctionSelector string
	IsReverted       bool
	Subcalls         int
	Checkpoint       string
}

// ComputeCheckpoint derives the canonical checkpoint string for a record
// given its block timestamp and position, per spec.md §4.B.
func ComputeCheckpoint(blockTimestamp, chainID, blockNumber, txIndex uint64, eventType checkpoint.EventType, eventIndex uint64) string {
	return checkpoint.Checkpoint{
		BlockTimestamp:   blockTimestamp,
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: txIndex,
		EventType:        eventType,
		EventIndex:       eventIndex,
	}.String()
}
