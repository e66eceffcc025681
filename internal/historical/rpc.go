package historical

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
	"github.com/chainsync/syncer/internal/store"
)

// RPC is the subset of chain.Client the historical syncer depends on.
// Declared narrow and structural so tests can satisfy it with a fake
// instead of a live endpoint; *chain.Client already implements it.
type RPC interface {
	GetBlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetBlockReceipts(ctx context.Context, blockHash common.Hash) ([]*types.Receipt, error)
	TraceBlockByHash(ctx context.Context, hash common.Hash) ([]chain.TraceBlockResult, error)
}

// Store is the subset of *store.Store the historical syncer depends on.
// *store.Store satisfies this structurally.
type Store interface {
	InsertIntervals(ctx context.Context, chainID uint64, entries []store.FilterInterval) error
	GetIntervals(ctx context.Context, filters []filter.Filter) (map[int][]store.FragmentIntervals, error)

	InsertBlock(ctx context.Context, b chain.Block) error
	InsertTransaction(ctx context.Context, t chain.Transaction) error
	InsertReceipt(ctx context.Context, r chain.TransactionReceipt) error
	InsertLog(ctx context.Context, l chain.Log) error
	InsertTrace(ctx context.Context, tr chain.Trace) error

	InsertChildAddresses(ctx context.Context, factoryID string, chainID uint64, childAddresses map[string]uint64) error
	GetChildAddresses(ctx context.Context, factoryID string, chainID uint64) (map[string]uint64, error)

	GetEventBlockData(ctx context.Context, chainID, fromBlock, toBlock, limit uint64, sources store.EventSources) ([]store.BlockEvents, uint64, error)
}
