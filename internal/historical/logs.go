package historical

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/chain"
	"github.com/chainsync/syncer/internal/filter"
)

// fetchLogs builds an eth_getLogs query from f's address/topic constraints
// and runs it over [from, to], bisecting on provider range errors.
func (s *Syncer) fetchLogs(ctx context.Context, f filter.Filter, from, to uint64) ([]gethtypes.Log, error) {
	query := buildFilterQuery(f, from, to)
	return s.runLogQuery(ctx, query, from, to)
}

// runLogQuery executes query, bisecting and re-querying the halves on range
// errors. Any other error, or a range error on a single block, is returned
// to the caller; the exponential backoff is applied by runTask.
func (s *Syncer) runLogQuery(ctx context.Context, query ethereum.FilterQuery, from, to uint64) ([]gethtypes.Log, error) {
	logs, err := s.rpc.GetLogs(ctx, query)
	if err == nil {
		return logs, nil
	}

	if classifyRangeError(err) && to > from {
		loFrom, loTo, hiFrom, hiTo := bisect(from, to)
		left, err := s.runLogQuery(ctx, rebound(query, loFrom, loTo), loFrom, loTo)
		if err != nil {
			return nil, err
		}
		right, err := s.runLogQuery(ctx, rebound(query, hiFrom, hiTo), hiFrom, hiTo)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}

	return nil, fmt.Errorf("historical: eth_getLogs[%d,%d]: %w", from, to, err)
}

func rebound(q ethereum.FilterQuery, from, to uint64) ethereum.FilterQuery {
	q.FromBlock = new(big.Int).SetUint64(from)
	q.ToBlock = new(big.Int).SetUint64(to)
	return q
}

// buildFilterQuery translates a Log/LogFactory filter's address and topic
// constraints into an ethereum.FilterQuery. An AddressFactory position is
// left with Addresses unset here — the caller (processChildContractTask)
// resolves it against currently-known children and fills Addresses in
// itself, since this function has no store access.
func buildFilterQuery(f filter.Filter, from, to uint64) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
	}

	var addr filter.AddressSpec
	var topics [4]filter.TopicSpec
	switch f.Kind {
	case filter.KindLog:
		addr = f.Log.Address
		topics = f.Log.Topics
	case filter.KindLogFactory:
		addr = f.LogFactory.Address
		topics[0] = filter.Topic(f.LogFactory.EventSelector)
	}

	if addr.Kind == filter.AddressLiteral {
		addrs := make([]common.Address, len(addr.Addresses))
		for i, a := range addr.Addresses {
			addrs[i] = common.HexToAddress(a)
		}
		query.Addresses = addrs
	}

	query.Topics = make([][]common.Hash, 0, 4)
	for _, t := range topics {
		if len(t.Values) == 0 {
			query.Topics = append(query.Topics, nil)
			continue
		}
		hashes := make([]common.Hash, len(t.Values))
		for i, v := range t.Values {
			hashes[i] = common.HexToHash(v)
		}
		query.Topics = append(query.Topics, hashes)
	}
	return query
}

// storeLogsAndSeal converts and stores logs, registers block-sealing
// callbacks for the distinct blocks they touch, and seals t's whole range
// once every touched block has been materialized. A range with no matching
// logs at all seals immediately: there is nothing left to wait on.
func (s *Syncer) storeLogsAndSeal(ctx context.Context, t *Task, logs []gethtypes.Log) error {
	byBlock := make(map[uint64][]gethtypes.Log)
	for _, l := range logs {
		byBlock[l.BlockNumber] = append(byBlock[l.BlockNumber], l)
	}

	src := Source{Index: t.SourceIndex, Filter: t.Filter}
	if len(byBlock) == 0 {
		return s.sealRange(src, t.FromBlock, t.ToBlock)
	}

	tracking := &logSealTracker{remaining: len(byBlock)}
	for blockNumber, blockLogs := range byBlock {
		blockLogs := blockLogs
		s.enqueueBlock(blockNumber, func(b chain.Block) error {
			for i, l := range blockLogs {
				converted := chain.ConvertLog(&l, b.ChainID, b.Timestamp, uint64(i))
				if err := s.store.InsertLog(context.Background(), converted); err != nil {
					return err
				}
			}
			if tracking.done() {
				return s.sealRange(src, t.FromBlock, t.ToBlock)
			}
			return nil
		})
	}
	return nil
}

// logSealTracker counts down distinct blocks a log-fetch task is waiting
// on before it can seal its whole range.
type logSealTracker struct {
	mu        sync.Mutex
	remaining int
}

func (t *logSealTracker) done() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remaining--
	return t.remaining == 0
}
