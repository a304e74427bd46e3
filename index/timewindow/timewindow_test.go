package timewindow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/keyexpr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/kv/memkv"
)

func hourlyMaintainer() *Maintainer {
	return New(catalog.IndexDescriptor{
		Name:            "hourlyHighScore",
		Kind:            catalog.KindTimeWindowLeaderboard,
		KeyExpression:   keyexpr.Concat(keyexpr.Field("ts"), keyexpr.Field("score")),
		RootSubspaceKey: []byte("/I/hourlyHighScore/"),
		Window:          catalog.WindowHourly,
		WindowCount:     3,
	})
}

func TestTopKWithinBucket(t *testing.T) {
	store := memkv.New()
	m := hourlyMaintainer()
	ctx := context.Background()
	const hour0 = int64(10 * 3600)

	insert := func(pk string, ts int64, score float64) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"ts": ts, "score": score})
		})
		require.NoError(t, err)
	}
	insert("A", hour0, 10)
	insert("B", hour0+100, 30)
	insert("C", hour0+3600, 50) // next hour bucket

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		top, err := m.TopK(tx, nil, hour0, 0, 5)
		require.NoError(t, err)
		require.Len(t, top, 2)
		require.Equal(t, "B", string(top[0].PrimaryKey))
		require.Equal(t, "A", string(top[1].PrimaryKey))
		return nil
	})
	require.NoError(t, err)
}

func TestOldBucketsPruned(t *testing.T) {
	store := memkv.New()
	m := hourlyMaintainer() // windowCount = 3
	ctx := context.Background()

	insert := func(pk string, ts int64, score float64) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"ts": ts, "score": score})
		})
		require.NoError(t, err)
	}
	// five sequential hourly buckets for the same group (empty group key)
	for i := int64(0); i < 5; i++ {
		insert("p", i*3600, float64(i))
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		// bucket 0 and 1 should have been pruned; bucket 4 (current) still there.
		_, found, err := m.Rank(tx, nil, 4*3600, 0, 4, []byte("p"))
		require.NoError(t, err)
		require.True(t, found)

		_, found, err = m.Rank(tx, nil, 0, 0, 0, []byte("p"))
		require.NoError(t, err)
		require.False(t, found)
		return nil
	})
	require.NoError(t, err)
}
