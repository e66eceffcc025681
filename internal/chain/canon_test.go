package chain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestHashStableAcrossKeyOrderAndHexCase(t *testing.T) {
	a := map[string]interface{}{"fromBlock": "0xA", "address": "0xABCDEF"}
	b := map[string]interface{}{"address": "0xabcdef", "fromBlock": "0xa"}

	hashA, err := RequestHash("eth_getLogs", a)
	require.NoError(t, err)
	hashB, err := RequestHash("eth_getLogs", b)
	require.NoError(t, err)
	require.Equal(t, hashA, hashB)
}

func TestRequestHashDiffersByMethod(t *testing.T) {
	params := map[string]interface{}{"address": "0xabc"}
	hashA, err := RequestHash("eth_getLogs", params)
	require.NoError(t, err)
	hashB, err := RequestHash("eth_getTransactionReceipt", params)
	require.NoError(t, err)
	require.NotEqual(t, hashA, hashB)
}
