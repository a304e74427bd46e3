package query

import (
	"github.com/turboindex/ixkernel/index/scalar"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// ScalarResult is one row of a scalar/compound/permuted prefix scan.
type ScalarResult struct {
	Key        tuple.Tuple
	PrimaryKey []byte
}

// ScalarScan enumerates every entry of m whose leading tuple components
// equal prefix, in key order, stopping early once limit.MaxResults rows
// have been produced.
func ScalarScan(tx kv.ReadTransaction, m *scalar.Maintainer, prefix tuple.Tuple, limit Limit) ([]ScalarResult, LimitReason, error) {
	opts := kv.RangeOptions{}
	if limit.MaxResults > 0 {
		opts.Limit = limit.MaxResults + 1
	}
	it, err := m.Lookup(tx, prefix, opts)
	if err != nil {
		return nil, LimitNone, err
	}
	defer it.Close()

	var out []ScalarResult
	for it.Next() {
		if reason, hit := limit.reached(len(out)); hit {
			return out, reason, nil
		}
		key, pk, derr := m.DecodeEntry(it.KeyValue().Key)
		if derr != nil {
			return nil, LimitNone, derr
		}
		out = append(out, ScalarResult{Key: key, PrimaryKey: pk})
	}
	if err := it.Err(); err != nil {
		return nil, LimitNone, err
	}
	return out, LimitNone, nil
}
