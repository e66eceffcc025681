// Package event defines the Event record emitted to the indexing runtime
// (spec.md §6) and the lazy address checksumming it carries.
package event

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsync/syncer/internal/chain"
)

// Event is the record yielded by both the historical generator and the
// realtime assembler. Exactly one of Block/Log/Transaction/Receipt/Trace
// is meaningfully populated per Kind; the others are zero values.
type Event struct {
	ChainID     uint64
	SourceIndex int
	Checkpoint  string

	Block       *chain.Block
	Log         *chain.Log
	Transaction *chain.Transaction
	Receipt     *chain.TransactionReceipt
	Trace       *chain.Trace
}

// checksumOnce lazily checksums an address the first time it is read, per
// spec.md §6 ("Addresses are checksummed lazily on first access"), and
// caches the result so repeat reads avoid re-deriving it.
type checksumOnce struct {
	once sync.Once
	raw  string
	out  string
}

func (c *checksumOnce) get() string {
	c.once.Do(func() {
		if c.raw == "" {
			c.out = ""
			return
		}
		c.out = common.HexToAddress(c.raw).Hex()
	})
	return c.out
}

// AddressView wraps a raw address string for lazy checksumming. Construct
// with NewAddressView and read via Checksummed(); the underlying value is
// computed at most once regardless of how many times it's read.
type AddressView struct {
	c *checksumOnce
}

// NewAddressView wraps raw for lazy checksumming. An empty string stays empty.
func NewAddressView(raw string) AddressView {
	return AddressView{c: &checksumOnce{raw: raw}}
}

// Checksummed returns the EIP-55 checksummed form of the wrapped address.
func (v AddressView) Checksummed() string {
	if v.c == nil {
		return ""
	}
	return v.c.get()
}
