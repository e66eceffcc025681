package filter

import (
	"encoding/hex"
	"fmt"
	"strings"
)

const wordSize = 32
const addressSize = 20

// GetChildAddress extracts the child-contract address a LogFactory filter
// derives from a matching log, per spec.md §4.C: a 20-byte big-endian
// address taken from the last 20 bytes of a 32-byte word, found either in
// one of topics[1..3] or at a byte offset within data.
func GetChildAddress(topics []string, data []byte, loc ChildAddressLocation) (string, error) {
	var word []byte
	switch loc.Kind {
	case ChildAddressTopic1, ChildAddressTopic2, ChildAddressTopic3:
		idx := topicIndex(loc.Kind)
		if idx >= len(topics) {
			return "", fmt.Errorf("filter: log has %d topics, need topic index %d", len(topics), idx)
		}
		raw, err := decodeHexWord(topics[idx])
		if err != nil {
			return "", fmt.Errorf("filter: decoding topic %d: %w", idx, err)
		}
		word = raw
	case ChildAddressOffset:
		if loc.Offset < 0 || loc.Offset+wordSize > len(data) {
			return "", fmt.Errorf("filter: offset %d out of range for %d-byte data", loc.Offset, len(data))
		}
		word = data[loc.Offset : loc.Offset+wordSize]
	default:
		return "", fmt.Errorf("filter: unknown child address location kind %d", loc.Kind)
	}

	if len(word) != wordSize {
		return "", fmt.Errorf("filter: expected %d-byte word, got %d", wordSize, len(word))
	}
	addrBytes := word[wordSize-addressSize:]
	return "0x" + hex.EncodeToString(addrBytes), nil
}

func topicIndex(kind ChildAddressLocationKind) int {
	switch kind {
	case ChildAddressTopic1:
		return 1
	case ChildAddressTopic2:
		return 2
	case ChildAddressTopic3:
		return 3
	default:
		return -1
	}
}

func decodeHexWord(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s) != wordSize*2 {
		return nil, fmt.Errorf("expected %d hex chars, got %d", wordSize*2, len(s))
	}
	return hex.DecodeString(s)
}
