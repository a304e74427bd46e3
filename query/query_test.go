package query

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index/bitmap"
	"github.com/turboindex/ixkernel/index/percentile"
	"github.com/turboindex/ixkernel/index/rank"
	"github.com/turboindex/ixkernel/index/scalar"
	"github.com/turboindex/ixkernel/index/version"
	"github.com/turboindex/ixkernel/keyexpr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/kv/memkv"
	"github.com/turboindex/ixkernel/tuple"
)

func TestScalarScanRespectsLimit(t *testing.T) {
	store := memkv.New()
	m := scalar.New(catalog.IndexDescriptor{
		Name:            "byEmail",
		Kind:            catalog.KindScalar,
		KeyExpression:   keyexpr.Field("email"),
		RootSubspaceKey: []byte("/I/byEmail/"),
	})
	ctx := context.Background()

	for _, pk := range []string{"u1", "u2", "u3"} {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"email": "a@x"})
		})
		require.NoError(t, err)
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		out, reason, err := ScalarScan(tx, m, tuple.Tuple{"a@x"}, Limit{MaxResults: 2})
		require.NoError(t, err)
		require.Equal(t, LimitMaxResultsReached, reason)
		require.Len(t, out, 2)

		out, reason, err = ScalarScan(tx, m, tuple.Tuple{"a@x"}, Limit{})
		require.NoError(t, err)
		require.Equal(t, LimitNone, reason)
		require.Len(t, out, 3)
		return nil
	})
	require.NoError(t, err)
}

func TestBitmapSetAlgebra(t *testing.T) {
	store := memkv.New()
	m := bitmap.New(catalog.IndexDescriptor{
		Name:            "byCategory",
		Kind:            catalog.KindBitmap,
		KeyExpression:   keyexpr.Field("category"),
		RootSubspaceKey: []byte("/I/byCategory/"),
	})
	ctx := context.Background()

	insert := func(pk, category string) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"category": category})
		})
		require.NoError(t, err)
	}
	for i := 0; i < 100; i++ {
		insert(string(rune('a'+i%26))+string(rune(i)), "a")
	}
	for i := 0; i < 100; i++ {
		insert(string(rune('A'+i%26))+string(rune(i)), "b")
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		orBM, err := OrQuery(tx, m, []tuple.Tuple{{"a"}, {"b"}})
		require.NoError(t, err)
		require.EqualValues(t, 200, orBM.GetCardinality())

		andBM, err := AndQuery(tx, m, []tuple.Tuple{{"a"}, {"b"}})
		require.NoError(t, err)
		require.EqualValues(t, 0, andBM.GetCardinality())

		values, err := GetAllDistinctValues(tx, m)
		require.NoError(t, err)
		require.Len(t, values, 2)
		return nil
	})
	require.NoError(t, err)
}

func TestRankQueryWrappers(t *testing.T) {
	store := memkv.New()
	m := rank.New(catalog.IndexDescriptor{
		Name:            "highScore",
		Kind:            catalog.KindRank,
		KeyExpression:   keyexpr.Field("score"),
		RootSubspaceKey: []byte("/I/highScore/"),
	})
	ctx := context.Background()

	for pk, score := range map[string]float64{"A": 10, "B": 20, "C": 30} {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"score": score})
		})
		require.NoError(t, err)
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		top, reason, err := TopK(tx, m, nil, 10, Limit{MaxResults: 2})
		require.NoError(t, err)
		require.Equal(t, LimitMaxResultsReached, reason)
		require.Len(t, top, 2)
		require.Equal(t, "C", string(top[0].PrimaryKey))

		r, found, err := RankOf(tx, m, nil, 30, []byte("C"))
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 0, r)
		return nil
	})
	require.NoError(t, err)
}

func TestPercentileQueryWrappers(t *testing.T) {
	store := memkv.New()
	m := percentile.New(catalog.IndexDescriptor{
		Name:            "latency",
		Kind:            catalog.KindPercentile,
		KeyExpression:   keyexpr.Field("latency"),
		RootSubspaceKey: []byte("/I/latency/"),
	})
	ctx := context.Background()

	for i := 1; i <= 100; i++ {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte("x"), nil, catalog.Map{"latency": float64(i)})
		})
		require.NoError(t, err)
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		stats, found, err := GetStatistics(tx, m, tuple.Tuple{})
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 100, stats.Count)

		p50, found, err := GetPercentile(tx, m, tuple.Tuple{}, 0.5)
		require.NoError(t, err)
		require.True(t, found)
		require.InDelta(t, 50, p50, 6)
		return nil
	})
	require.NoError(t, err)
}

func TestVersionQueryWrappers(t *testing.T) {
	store := memkv.New()
	m := version.New(catalog.IndexDescriptor{
		Name:            "docHistory",
		Kind:            catalog.KindVersion,
		RootSubspaceKey: []byte("/I/docHistory/"),
		Retention:       catalog.RetentionPolicy{Kind: catalog.RetentionKeepAll},
	}, func(rec catalog.Record) (version.Snapshot, error) {
		v, _ := rec.Field("value")
		s, _ := v.(string)
		return []byte(s), nil
	})
	ctx := context.Background()

	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("doc1"), nil, catalog.Map{"value": "v1"})
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		latest, found, err := GetLatestVersion(tx, m, []byte("doc1"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "v1", string(latest.Snapshot))
		return nil
	})
	require.NoError(t, err)
}

type sliceRowSource struct {
	rows []catalog.Record
	pos  int
}

func (s *sliceRowSource) Next() bool {
	if s.pos >= len(s.rows) {
		return false
	}
	s.pos++
	return true
}
func (s *sliceRowSource) Record() catalog.Record { return s.rows[s.pos-1] }
func (s *sliceRowSource) Err() error              { return nil }

func TestAggregateFallback(t *testing.T) {
	rows := &sliceRowSource{rows: []catalog.Record{
		catalog.Map{"amount": int64(100)},
		catalog.Map{"amount": int64(200)},
		catalog.Map{"amount": int64(150)},
	}}
	res, err := Aggregate(rows, "amount", AggSum)
	require.NoError(t, err)
	require.EqualValues(t, 450, res.Value)
	require.EqualValues(t, 3, res.Count)

	rows = &sliceRowSource{rows: []catalog.Record{
		catalog.Map{"amount": int64(100)},
		catalog.Map{"amount": int64(200)},
	}}
	res, err = Aggregate(rows, "amount", AggAverage)
	require.NoError(t, err)
	require.EqualValues(t, 150, res.Value)
}
