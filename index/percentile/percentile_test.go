package percentile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/keyexpr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/kv/memkv"
	"github.com/turboindex/ixkernel/tuple"
)

func newMaintainer() *Maintainer {
	return New(catalog.IndexDescriptor{
		Name:            "latencyP99ByRoute",
		Kind:            catalog.KindPercentile,
		KeyExpression:   keyexpr.Concat(keyexpr.Field("route"), keyexpr.Field("latencyMs")),
		RootSubspaceKey: []byte("/I/latencyP99ByRoute/"),
		Compression:     100,
	})
}

func TestQuantileMonotonicWithMoreData(t *testing.T) {
	store := memkv.New()
	m := newMaintainer()
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		rec := catalog.Map{"route": "checkout", "latencyMs": float64(i)}
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.ScanItem(tx, index.Item{PrimaryKey: []byte("pk"), Record: rec})
		})
		require.NoError(t, err)
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		p50, found, err := m.Quantile(tx, tuple.Tuple{"checkout"}, 0.5)
		require.NoError(t, err)
		require.True(t, found)
		p99, found, err := m.Quantile(tx, tuple.Tuple{"checkout"}, 0.99)
		require.NoError(t, err)
		require.True(t, found)
		require.Less(t, p50, p99)

		count, min, max, median, found, err := m.Stats(tx, tuple.Tuple{"checkout"})
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 100, count)
		require.EqualValues(t, 1, min)
		require.EqualValues(t, 100, max)
		require.InDelta(t, 50, median, 5)
		return nil
	})
	require.NoError(t, err)
}
