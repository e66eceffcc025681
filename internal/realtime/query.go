package realtime

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/chainsync/syncer/internal/filter"
)

// factoryID derives the stable id a LogFactory source's discovered children
// are tracked under, the same derivation the historical syncer uses so both
// syncers agree on one factory's identity.
func factoryID(f filter.Filter) string {
	frags := filter.GetFragments(f)
	if len(frags) == 0 {
		return ""
	}
	return frags[0].ID()
}

// buildSourceQuery translates a Log/LogFactory filter's address and topic
// constraints into an eth_getLogs query scoped to block n. An
// AddressFactory position is resolved against currently-known children
// instead of being literal here. Transfer-kind sources have no log query —
// they're sourced from debug_traceBlockByHash instead (materializeTraces).
func (s *Syncer) buildSourceQuery(ctx context.Context, f filter.Filter, n uint64) (ethereum.FilterQuery, bool, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(n),
		ToBlock:   new(big.Int).SetUint64(n),
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
	default:
		return query, false, fmt.Errorf("realtime: %s filters have no log query", f.Kind)
	}

	switch addr.Kind {
	case filter.AddressLiteral:
		addrs := make([]common.Address, len(addr.Addresses))
		for i, a := range addr.Addresses {
			addrs[i] = common.HexToAddress(a)
		}
		query.Addresses = addrs
	case filter.AddressFactory:
		children, err := s.store.GetChildAddresses(ctx, addr.FactoryID, f.ChainID())
		if err != nil {
			return query, false, err
		}
		if len(children) == 0 {
			return query, false, nil
		}
		addrs := make([]common.Address, 0, len(children))
		for a := range children {
			addrs = append(addrs, common.HexToAddress(a))
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
	return query, true, nil
}

// recordFactoryChildren extracts and persists child addresses discovered in
// a LogFactory source's own creation logs for block n.
func (s *Syncer) recordFactoryChildren(ctx context.Context, f filter.Filter, logs []gethtypes.Log) error {
	loc := f.LogFactory.ChildAddressLocation
	children := make(map[string]uint64)
	for _, l := range logs {
		topics := make([]string, len(l.Topics))
		for i, tp := range l.Topics {
			topics[i] = tp.Hex()
		}
		addr, err := filter.GetChildAddress(topics, l.Data, loc)
		if err != nil {
			continue
		}
		if existing, ok := children[addr]; !ok || l.BlockNumber < existing {
			children[addr] = l.BlockNumber
		}
	}
	if len(children) == 0 {
		return nil
	}
	return s.store.InsertChildAddresses(ctx, factoryID(f), f.ChainID(), children)
}
