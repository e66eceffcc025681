package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/checkpoint"
)

func lower(s string) string { return strings.ToLower(s) }

func transactionType(t uint8) TransactionType {
	switch t {
	case 1:
		return TransactionTypeEIP2930
	case 2:
		return TransactionTypeEIP1559
	case 126:
		return TransactionTypeDeposit
	default:
		return TransactionTypeLegacy
	}
}

// ConvertBlock maps a go-ethereum block header into the store's raw Block
// shape, computing its checkpoint with eventType=block and eventIndex=0.
func ConvertBlock(b *types.Block, chainID uint64) Block {
	var baseFee *big.Int
	if b.BaseFee() != nil {
		baseFee = new(big.Int).Set(b.BaseFee())
	}
	return Block{
		ChainID:         chainID,
		Number:          b.NumberU64(),
		Hash:            lower(b.Hash().Hex()),
		ParentHash:      lower(b.ParentHash().Hex()),
		Timestamp:       b.Time(),
		Miner:           lower(b.Coinbase().Hex()),
		BaseFeePerGas:   baseFee,
		GasUsed:         b.GasUsed(),
		GasLimit:        b.GasLimit(),
		TransactionRoot: lower(b.TxHash().Hex()),
		Checkpoint:      ComputeCheckpoint(b.Time(), chainID, b.NumberU64(), 0, checkpoint.EventTypeBlock, 0),
	}
}

// ConvertTransaction maps a go-ethereum transaction into the store's raw
// Transaction shape. chainID/blockNumber/blockTimestamp/from come from the
// enclosing block context since types.Transaction alone doesn't carry them.
func ConvertTransaction(tx *types.Transaction, chainID, blockNumber, blockTimestamp uint64, txIndex uint64, from string) Transaction {
	var to string
	if tx.To() != nil {
		to = lower(tx.To().Hex())
	}
	v, r, s := tx.RawSignatureValues()
	out := Transaction{
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: txIndex,
		Hash:             lower(tx.Hash().Hex()),
		From:             lower(from),
		To:               to,
		Value:            tx.Value(),
		Type:             transactionType(tx.Type()),
		R:                r,
		S:                s,
		Input:            tx.Data(),
		Checkpoint:       ComputeCheckpoint(blockTimestamp, chainID, blockNumber, txIndex, checkpoint.EventTypeTransaction, 0),
	}
	if v != nil {
		out.V = v.Uint64()
	}
	switch out.Type {
	case TransactionTypeEIP1559, TransactionTypeDeposit:
		out.MaxFeePerGas = tx.GasFeeCap()
		out.MaxPriorityFeePerGas = tx.GasTipCap()
	default:
		out.GasPrice = tx.GasPrice()
	}
	return out
}

// ConvertReceipt maps a go-ethereum receipt into the store's raw
// TransactionReceipt shape.
func ConvertReceipt(r *types.Receipt, chainID, blockNumber, txIndex uint64, from, to string) TransactionReceipt {
	status := ReceiptStatusReverted
	if r.Status == types.ReceiptStatusSuccessful {
		status = ReceiptStatusSuccess
	}
	var contractAddress string
	if r.ContractAddress != (common.Address{}) {
		contractAddress = lower(r.ContractAddress.Hex())
	}
	return TransactionReceipt{
		ChainID:          chainID,
		BlockNumber:      blockNumber,
		TransactionIndex: txIndex,
		TransactionHash:  lower(r.TxHash.Hex()),
		ContractAddress:  contractAddress,
		From:             lower(from),
		To:               lower(to),
		GasUsed:          r.GasUsed,
		Status:           status,
	}
}

// ConvertLog maps a go-ethereum log into the store's raw Log shape.
// blockTimestamp and eventIndex (the log's position among this block's
// emitted events) drive its checkpoint.
func ConvertLog(l *types.Log, chainID, blockTimestamp uint64, eventIndex uint64) Log {
	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = lower(t.Hex())
	}
	return Log{
		ChainID:          chainID,
		BlockNumber:      l.BlockNumber,
		LogIndex:         uint64(l.Index),
		BlockHash:        lower(l.BlockHash.Hex()),
		TransactionHash:  lower(l.TxHash.Hex()),
		TransactionIndex: uint64(l.TxIndex),
		Address:          lower(l.Address.Hex()),
		Topics:           topics,
		Data:             l.Data,
		Removed:          l.Removed,
		Checkpoint:       ComputeCheckpoint(blockTimestamp, chainID, l.BlockNumber, uint64(l.TxIndex), checkpoint.EventTypeLog, eventIndex),
	}
}

// FlattenTrace walks a callTracer CallFrame tree depth-first and returns
// one Trace per call, in call order, per spec.md §3/§6.
func FlattenTrace(root CallFrame, chainID, blockNumber, txIndex uint64, txHash string, blockTimestamp uint64) []Trace {
	var out []Trace
	var walk func(f CallFrame, idx *uint64)
	walk = func(f CallFrame, idx *uint64) {
		traceIndex := *idx
		*idx++
		out = append(out, Trace{
			ChainID:          chainID,
			BlockNumber:      blockNumber,
			TransactionIndex: txIndex,
			TraceIndex:       traceIndex,
			TransactionHash:  lower(txHash),
			From:             lower(f.From),
			To:               lower(f.To),
			Value:            parseCallValue(f.Value),
			Type:             f.Type,
			Input:            common.FromHex(f.Input),
			Output:           common.FromHex(f.Output),
			FunctionSelector: functionSelector(f.Input),
			IsReverted:       f.Error != "",
			Subcalls:         len(f.Calls),
			Checkpoint:       ComputeCheckpoint(blockTimestamp, chainID, blockNumber, txIndex, checkpoint.EventTypeTrace, traceIndex),
		})
		for _, child := range f.Calls {
			walk(child, idx)
		}
	}
	idx := uint64(0)
	walk(root, &idx)
	return out
}

// parseCallValue parses a callTracer frame's hex-encoded wei value
// ("0x..."), defaulting to zero for an empty or malformed string rather
// than failing the whole trace over one frame's missing value.
func parseCallValue(hex string) *big.Int {
	s := strings.TrimPrefix(hex, "0x")
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

func functionSelector(input string) string {
	s := strings.TrimPrefix(input, "0x")
	if len(s) < 8 {
		return ""
	}
	return "0x" + s[:8]
}
