// Package checkpoint implements the totally-ordered event coordinate that
// the assembler and store use to interleave and resume event streams.
//
// A Checkpoint encodes (blockTimestamp, chainId, blockNumber, txIndex,
// eventType, eventIndex) as a fixed-width, zero-padded decimal string so
// that lexicographic string comparison equals semantic tuple comparison.
package checkpoint

import (
	"fmt"
	"strconv"
)

// EventType is the single-digit discriminator ensuring mutually exclusive
// event kinds within the same block/tx sort deterministically relative to
// one another. Values are arbitrary but must be pairwise distinct and
// stable across versions, since they are persisted.
type EventType byte

const (
	EventTypeBlock       EventType = '5'
	EventTypeTransaction EventType = '2'
	EventTypeTrace       EventType = '7'
	EventTypeTransfer    EventType = '8'
	EventTypeLog         EventType = '9'
)

const (
	widthTimestamp = 10
	widthChainID   = 16
	widthBlock     = 16
	widthTxIndex   = 16
	widthEventType = 1
	widthEventIdx  = 16

	// Total encodes the fixed width of a checkpoint string.
	Total = widthTimestamp + widthChainID + widthBlock + widthTxIndex + widthEventType + widthEventIdx
)

// Checkpoint is the decoded coordinate. String() produces the canonical
// lexicographically-comparable encoding.
type Checkpoint struct {
	BlockTimestamp   uint64
	ChainID          uint64
	BlockNumber      uint64
	TransactionIndex uint64
	EventType        EventType
	EventIndex       uint64
}

// Zero is the smallest possible checkpoint value.
var Zero = Checkpoint{}

// Max is the largest possible checkpoint value representable in the fixed
// widths above.
var Max = Checkpoint{
	BlockTimestamp:   allNines(widthTimestamp),
	ChainID:          allNines(widthChainID),
	BlockNumber:      allNines(widthBlock),
	TransactionIndex: allNines(widthTxIndex),
	EventType:        '9',
	EventIndex:       allNines(widthEventIdx),
}

func allNines(width int) uint64 {
	v := uint64(0)
	for i := 0; i < width; i++ {
		v = v*10 + 9
	}
	return v
}

// String encodes the checkpoint as a fixed-width, zero-padded decimal
// string. Lexicographic comparison of two such strings equals the
// semantic comparison of the tuples they encode.
func (c Checkpoint) String() string {
	return pad(c.BlockTimestamp, widthTimestamp) +
		pad(c.ChainID, widthChainID) +
		pad(c.BlockNumber, widthBlock) +
		pad(c.TransactionIndex, widthTxIndex) +
		string(c.EventType) +
		pad(c.EventIndex, widthEventIdx)
}

func pad(v uint64, width int) string {
	s := strconv.FormatUint(v, 10)
	if len(s) >= width {
		return s[len(s)-width:]
	}
	zeros := make([]byte, width-len(s))
	for i := range zeros {
		zeros[i] = '0'
	}
	return string(zeros) + s
}

// Parse decodes a canonical checkpoint string produced by String.
func Parse(s string) (Checkpoint, error) {
	if len(s) != Total {
		return Checkpoint{}, fmt.Errorf("checkpoint: invalid length %d, want %d", len(s), Total)
	}
	off := 0
	readUint := func(width int) (uint64, error) {
		chunk := s[off : off+width]
		off += width
		return strconv.ParseUint(chunk, 10, 64)
	}

	ts, err := readUint(widthTimestamp)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: parsing timestamp: %w", err)
	}
	chainID, err := readUint(widthChainID)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: parsing chainId: %w", err)
	}
	blockNum, err := readUint(widthBlock)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: parsing blockNumber: %w", err)
	}
	txIdx, err := readUint(widthTxIndex)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: parsing transactionIndex: %w", err)
	}
	eventType := EventType(s[off])
	off++
	eventIdx, err := readUint(widthEventIdx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("checkpoint: parsing eventIndex: %w", err)
	}

	return Checkpoint{
		BlockTimestamp:   ts,
		ChainID:          chainID,
		BlockNumber:      blockNum,
		TransactionIndex: txIdx,
		EventType:        eventType,
		EventIndex:       eventIdx,
	}, nil
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b, per the total order over (timestamp, chainId, blockNumber, txIndex,
// eventType, eventIndex).
func Compare(a, b Checkpoint) int {
	if a.String() < b.String() {
		return -1
	}
	if a.String() > b.String() {
		return 1
	}
	return 0
}

// Less reports whether a sorts strictly before b.
func Less(a, b Checkpoint) bool {
	return Compare(a, b) < 0
}

// Min returns whichever of a, b sorts first.
func Min(a, b Checkpoint) Checkpoint {
	if Less(b, a) {
		return b
	}
	return a
}
