package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFunctionSelector(t *testing.T) {
	require.Equal(t, "0xa9059cbb", functionSelector("0xa9059cbb000000000000000000000000"))
	require.Equal(t, "", functionSelector("0x"))
	require.Equal(t, "", functionSelector(""))
}

func TestFlattenTraceOrdersDepthFirst(t *testing.T) {
	root := CallFrame{
		Type: "CALL",
		From: "0xAAA",
		To:   "0xBBB",
		Calls: []CallFrame{
			{Type: "CALL", From: "0xBBB", To: "0xCCC"},
			{Type: "STATICCALL", From: "0xBBB", To: "0xDDD", Calls: []CallFrame{
				{Type: "CALL", From: "0xDDD", To: "0xEEE"},
			}},
		},
	}

	traces := FlattenTrace(root, 1, 100, 0, "0xhash", 1000)
	require.Len(t, traces, 4)
	for i, tr := range traces {
		require.Equal(t, uint64(i), tr.TraceIndex)
	}
	require.Equal(t, "0xccc", traces[1].To)
	require.Equal(t, "0xeee", traces[3].To)
}

func TestFlattenTraceParsesCallValue(t *testing.T) {
	root := CallFrame{
		Type:  "CALL",
		From:  "0xAAA",
		To:    "0xBBB",
		Value: "0xde0b6b3a7640000",
		Calls: []CallFrame{
			{Type: "CALL", From: "0xBBB", To: "0xCCC"},
		},
	}

	traces := FlattenTrace(root, 1, 100, 0, "0xhash", 1000)
	require.Len(t, traces, 2)

	want, ok := new(big.Int).SetString("1000000000000000000", 10)
	require.True(t, ok)
	require.Equal(t, 0, traces[0].Value.Cmp(want))

	// a call with no value set still gets a non-nil zero, not nil
	require.NotNil(t, traces[1].Value)
	require.Equal(t, 0, traces[1].Value.Sign())
}

func TestParseCallValueHandlesMalformedInput(t *testing.T) {
	require.Equal(t, 0, parseCallValue("").Sign())
	require.Equal(t, 0, parseCallValue("0x").Sign())
	require.Equal(t, 0, parseCallValue("not-hex").Sign())

	v := parseCallValue("0x1")
	require.Equal(t, int64(1), v.Int64())
}

func TestTransactionTypeMapping(t *testing.T) {
	require.Equal(t, TransactionTypeLegacy, transactionType(0))
	require.Equal(t, TransactionTypeEIP2930, transactionType(1))
	require.Equal(t, TransactionTypeEIP1559, transactionType(2))
	require.Equal(t, TransactionTypeDeposit, transactionType(126))
}
