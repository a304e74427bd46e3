package agg

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/keyexpr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/kv/memkv"
	"github.com/turboindex/ixkernel/tuple"
)

func countMaintainer() *Maintainer {
	return New(catalog.IndexDescriptor{
		Name:            "countByDept",
		Kind:            catalog.KindCount,
		KeyExpression:   keyexpr.Field("dept"),
		RootSubspaceKey: []byte("/I/countByDept/"),
	})
}

func sumMaintainer() *Maintainer {
	return New(catalog.IndexDescriptor{
		Name:            "sumSalaryByDept",
		Kind:            catalog.KindSum,
		KeyExpression:   keyexpr.Concat(keyexpr.Field("dept"), keyexpr.Field("salary")),
		RootSubspaceKey: []byte("/I/sumSalaryByDept/"),
		ValueType:       catalog.TagInt64,
	})
}

func minMaintainer() *Maintainer {
	return New(catalog.IndexDescriptor{
		Name:            "minSalaryByDept",
		Kind:            catalog.KindMin,
		KeyExpression:   keyexpr.Concat(keyexpr.Field("dept"), keyexpr.Field("salary")),
		RootSubspaceKey: []byte("/I/minSalaryByDept/"),
		ValueType:       catalog.TagInt64,
	})
}

func TestCount(t *testing.T) {
	store := memkv.New()
	m := countMaintainer()
	ctx := context.Background()

	insert := func(pk, dept string) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"dept": dept})
		})
		require.NoError(t, err)
	}
	insert("pk1", "eng")
	insert("pk2", "eng")
	insert("pk3", "sales")

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		c, err := m.Count(tx, tuple.Tuple{"eng"})
		require.NoError(t, err)
		require.EqualValues(t, 2, c)
		c, err = m.Count(tx, tuple.Tuple{"sales"})
		require.NoError(t, err)
		require.EqualValues(t, 1, c)
		return nil
	})
	require.NoError(t, err)

	// moving pk1 from eng to sales.
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), catalog.Map{"dept": "eng"}, catalog.Map{"dept": "sales"})
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		c, err := m.Count(tx, tuple.Tuple{"eng"})
		require.NoError(t, err)
		require.EqualValues(t, 1, c)
		c, err = m.Count(tx, tuple.Tuple{"sales"})
		require.NoError(t, err)
		require.EqualValues(t, 2, c)
		return nil
	})
	require.NoError(t, err)
}

func TestSum(t *testing.T) {
	store := memkv.New()
	m := sumMaintainer()
	ctx := context.Background()

	insert := func(pk, dept string, salary int64) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"dept": dept, "salary": salary})
		})
		require.NoError(t, err)
	}
	insert("pk1", "eng", 100)
	insert("pk2", "eng", 200)

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		s, err := m.Sum(tx, tuple.Tuple{"eng"})
		require.NoError(t, err)
		require.EqualValues(t, 300, s)
		return nil
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), catalog.Map{"dept": "eng", "salary": int64(100)}, catalog.Map{"dept": "eng", "salary": int64(150)})
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		s, err := m.Sum(tx, tuple.Tuple{"eng"})
		require.NoError(t, err)
		require.EqualValues(t, 350, s)
		return nil
	})
	require.NoError(t, err)
}

func TestMinMaxSurvivesDeleteOfExtreme(t *testing.T) {
	store := memkv.New()
	m := minMaintainer()
	ctx := context.Background()

	insert := func(pk, dept string, salary int64) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte(pk), nil, catalog.Map{"dept": dept, "salary": salary})
		})
		require.NoError(t, err)
	}
	insert("pk1", "eng", 50)
	insert("pk2", "eng", 100)
	insert("pk3", "eng", 75)

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		v, pk, found, err := m.Extreme(tx, tuple.Tuple{"eng"}, false)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 50, v)
		require.Equal(t, "pk1", string(pk))
		return nil
	})
	require.NoError(t, err)

	// delete pk1, the current min; the next min must be recoverable.
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), catalog.Map{"dept": "eng", "salary": int64(50)}, nil)
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		v, pk, found, err := m.Extreme(tx, tuple.Tuple{"eng"}, false)
		require.NoError(t, err)
		require.True(t, found)
		require.EqualValues(t, 75, v)
		require.Equal(t, "pk3", string(pk))
		return nil
	})
	require.NoError(t, err)
}
