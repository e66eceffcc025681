// Package realtime implements the per-chain realtime syncer of spec.md
// §4.F: polls the chain tip, reconciles it against an in-memory
// unfinalized-block window, and materializes/emits new blocks while
// detecting and unwinding reorgs.
package realtime

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/event"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/store"
)

// RPC is the subset of chain.Client the realtime syncer depends on.
type RPC interface {
	GetBlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetBlockReceipts(ctx context.Context, blockHash common.Hash) ([]*types.Receipt, error)
	TraceBlockByHash(ctx context.Context, hash common.Hash) ([]chain.TraceBlockResult, error)
}

// Store is the subset of *store.Store the realtime syncer depends on.
type Store interface {
	InsertBlock(ctx context.Context, b chain.Block) error
	GetBlock(ctx context.Context, chainID, number uint64) (chain.Block, bool, error)
	DeleteBlocksFrom(ctx context.Context, chainID, fromNumber uint64) error
	InsertTransaction(ctx context.Context, t chain.Transaction) error
	InsertLog(ctx context.Context, l chain.Log) error
	InsertTrace(ctx context.Context, tr chain.Trace) error
	InsertReceipt(ctx context.Context, r chain.TransactionReceipt) error
	InsertChildAddresses(ctx context.Context, factoryID string, chainID uint64, childAddresses map[string]uint64) error
	GetChildAddresses(ctx context.Context, factoryID string, chainID uint64) (map[string]uint64, error)
	PutChainCheckpoints(ctx context.Context, c store.ChainCheckpoints) error
	GetChainCheckpoints(ctx context.Context, chainID uint64) (store.ChainCheckpoints, bool, error)
	PruneRpcRequestResults(ctx context.Context, chainID uint64, blocks []uint64) error
}

// Source is one registered filter the realtime syncer matches newly
// sealed blocks against.
type Source struct {
	Index  int
	Filter filter.Filter
}

// Config tunes polling cadence and finality thresholds.
type Config struct {
	// PollInterval is the base wait between eth_getBlockByNumber("latest")
	// calls. A NewHeadSubscriber nudge can wake the poller early; it never
	// lengthens the wait.
	PollInterval time.Duration
	// SafeDepth is how many confirmations behind tip a block must be to
	// advance the "safe" checkpoint tier.
	SafeDepth uint64
	// FinalizedDepth is how many confirmations behind tip a block must be
	// to advance the "finalized" tier and become immune to reorg handling.
	FinalizedDepth uint64
	// MaxUnfinalized caps the in-memory LightBlock window kept for reorg
	// comparison; once it holds more entries than this, the oldest are
	// trimmed, whatever their depth relative to FinalizedDepth.
	MaxUnfinalized int
}

// DefaultConfig returns the syncer's default tuning.
func DefaultConfig() Config {
	return Config{
		PollInterval:   4 * time.Second,
		SafeDepth:      5,
		FinalizedDepth: 64,
		MaxUnfinalized: 256,
	}
}

// OnEvent is called once per emitted event, in checkpoint order within a
// block, as new blocks are sealed. Reverted (reorged-out) blocks are not
// re-emitted as events; the assembler (spec.md §4.G) is responsible for
// reconciling its own downstream state against DeleteBlocksFrom having
// happened.
type OnEvent func(event.Event) error

// Syncer runs the realtime polling/reconciliation loop for one chain.
type Syncer struct {
	chainID uint64
	rpc     RPC
	store   Store
	sources []Source
	cfg     Config
	onEvent OnEvent
	nudges  <-chan struct{}

	mu   sync.Mutex
	tail []chain.LightBlock // ascending by number, tail[len-1] is the current tip
}

// NewSyncer builds a realtime Syncer. nudges may be nil (poll on
// PollInterval alone).
func NewSyncer(chainID uint64, rpc RPC, st Store, sources []Source, cfg Config, onEvent OnEvent, nudges <-chan struct{}) *Syncer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxUnfinalized <= 0 {
		cfg.MaxUnfinalized = DefaultConfig().MaxUnfinalized
	}
	return &Syncer{
		chainID: chainID,
		rpc:     rpc,
		store:   st,
		sources: sources,
		cfg:     cfg,
		onEvent: onEvent,
		nudges:  nudges,
	}
}

// Seed primes the in-memory tail from a known-good starting block (the
// coordinator's crash-recovery checkpoint, or the last block the
// historical syncer sealed).
func (s *Syncer) Seed(lb chain.LightBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tail = []chain.LightBlock{lb}
}

// Run polls until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	if err := s.poll(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.poll(ctx); err != nil {
				return err
			}
		case <-s.nudges:
			if err := s.poll(ctx); err != nil {
				return err
			}
			ticker.Reset(s.cfg.PollInterval)
		}
	}
}

func (s *Syncer) poll(ctx context.Context) error {
	raw, err := s.rpc.GetBlockByNumber(ctx, nil)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}
	tip := chain.LightBlock{
		Hash:       lowerHex(raw.Hash().Hex()),
		ParentHash: lowerHex(raw.ParentHash().Hex()),
		Number:     raw.NumberU64(),
		Timestamp:  raw.Time(),
	}
	return s.reconcile(ctx, tip)
}
