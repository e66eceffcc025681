package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testAddress = "0x742d35cc6634c0532925a3b844bc454e4438f44"

func TestAddressViewChecksummed(t *testing.T) {
	v := NewAddressView(testAddress)
	got := v.Checksummed()
	require.NotEmpty(t, got)
	require.Equal(t, "0x", got[:2])
	require.NotEqual(t, testAddress, got, "checksummed form should differ in case from the all-lowercase input")
}

func TestAddressViewEmpty(t *testing.T) {
	v := NewAddressView("")
	require.Equal(t, "", v.Checksummed())
}

func TestAddressViewCachesResult(t *testing.T) {
	v := NewAddressView(testAddress)
	first := v.Checksummed()
	second := v.Checksummed()
	require.Equal(t, first, second)
}
