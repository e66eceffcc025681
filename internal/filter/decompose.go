package filter

// GetFragments decomposes a Filter into the fragments that independently
// cover it, per spec.md §3/§4.C. Every fragment returned, when satisfied,
// contributes to covering the whole filter; a filter is fully cached only
// once every one of its fragments is.
func GetFragments(f Filter) []Fragment {
	switch f.Kind {
	case KindLog:
		return logFragments(*f.Log)
	case KindTrace:
		return traceFragments(*f.Trace)
	case KindTransfer:
		return transferFragments(*f.Transfer)
	case KindTransaction:
		return transactionFragments(*f.Transaction)
	case KindBlock:
		return []Fragment{blockFragment(*f.Block)}
	case KindLogFactory:
		return []Fragment{logFactoryFragment(*f.LogFactory)}
	default:
		return nil
	}
}

func addressPositions(spec AddressSpec) []string {
	switch spec.Kind {
	case AddressLiteral:
		if len(spec.Addresses) == 0 {
			return []string{nullSentinel}
		}
		out := make([]string, len(spec.Addresses))
		for i, a := range spec.Addresses {
			out[i] = addressKey(spec, a)
		}
		return out
	case AddressFactory:
		return []string{addressKey(spec, "")}
	default:
		return []string{nullSentinel}
	}
}

func topicPositions(t TopicSpec) []string {
	if len(t.Values) == 0 {
		return []string{nullSentinel}
	}
	out := make([]string, len(t.Values))
	copy(out, t.Values)
	return out
}

func logFragments(lf LogFilter) []Fragment {
	addrs := addressPositions(lf.Address)
	t0s := topicPositions(lf.Topics[0])
	t1s := topicPositions(lf.Topics[1])
	t2s := topicPositions(lf.Topics[2])
	t3s := topicPositions(lf.Topics[3])

	var out []Fragment
	for _, a := range addrs {
		for _, t0 := range t0s {
			for _, t1 := range t1s {
				for _, t2 := range t2s {
					for _, t3 := range t3s {
						out = append(out, Fragment{
							Kind:            KindLog,
							ChainID:         lf.ChainID,
							Address:         a,
							Topics:          [4]string{t0, t1, t2, t3},
							IncludeReceipts: lf.IncludeReceipts,
						})
					}
				}
			}
		}
	}
	return out
}

func traceFragments(tf TraceFilter) []Fragment {
	froms := addressPositions(tf.FromAddress)
	tos := addressPositions(tf.ToAddress)

	var out []Fragment
	for _, from := range froms {
		for _, to := range tos {
			out = append(out, Fragment{
				Kind:             KindTrace,
				ChainID:          tf.ChainID,
				FromAddress:      from,
				ToAddress:        to,
				FunctionSelector: tf.FunctionSelector,
				CallType:         tf.CallType,
				IncludeReverted:  tf.IncludeReverted,
				IncludeReceipts:  tf.IncludeReceipts,
			})
		}
	}
	return out
}

func transferFragments(tf TransferFilter) []Fragment {
	froms := addressPositions(tf.FromAddress)
	tos := addressPositions(tf.ToAddress)

	var out []Fragment
	for _, from := range froms {
		for _, to := range tos {
			out = append(out, Fragment{
				Kind:            KindTransfer,
				ChainID:         tf.ChainID,
				FromAddress:     from,
				ToAddress:       to,
				IncludeReverted: tf.IncludeReverted,
				IncludeReceipts: tf.IncludeReceipts,
			})
		}
	}
	return out
}

func transactionFragments(tf TransactionFilter) []Fragment {
	froms := addressPositions(tf.FromAddress)
	tos := addressPositions(tf.ToAddress)

	var out []Fragment
	for _, from := range froms {
		for _, to := range tos {
			out = append(out, Fragment{
				Kind:            KindTransaction,
				ChainID:         tf.ChainID,
				FromAddress:     from,
				ToAddress:       to,
				IncludeReverted: tf.IncludeReverted,
			})
		}
	}
	return out
}

func blockFragment(bf BlockFilter) Fragment {
	return Fragment{
		Kind:          KindBlock,
		ChainID:       bf.ChainID,
		BlockInterval: bf.Interval,
		BlockOffset:   bf.Offset,
	}
}

func logFactoryFragment(lf LogFactoryFilter) Fragment {
	addr := nullSentinel
	if opts := addressPositions(lf.Address); len(opts) > 0 {
		addr = opts[0]
	}
	return Fragment{
		Kind:            KindLogFactory,
		ChainID:         lf.ChainID,
		Address:         addr,
		EventSelector:   lf.EventSelector,
		ChildAddressLoc: lf.ChildAddressLocation,
	}
}
