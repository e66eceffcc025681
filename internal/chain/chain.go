// Package chain holds the per-chain configuration data model (spec.md §3
// "Chain") and the JSON-RPC client the syncers use to talk to it (spec.md
// §6).
package chain

import "time"

// Chain is immutable for the lifetime of a run, per spec.md §3.
type Chain struct {
	Name                 string
	ID                   uint64
	PollingInterval       time.Duration
	FinalityBlockCount    uint64
	MaxRequestsPerSecond  float64
	RPCURL                string
	DisableCache          bool
}
