package bitmap

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

func newMaintainer() *Maintainer {
	d := catalog.IndexDescriptor{
		Name:            "byStatus",
		Kind:            catalog.KindBitmap,
		KeyExpression:   keyexpr.Field("status"),
		RootSubspaceKey: []byte("/I/byStatus/"),
	}
	return New(d)
}

func TestAddRemoveMembership(t *testing.T) {
	store := memkv.New()
	m := newMaintainer()
	ctx := context.Background()

	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), nil, catalog.Map{"status": "open"})
	})
	require.NoError(t, err)
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk2"), nil, catalog.Map{"status": "open"})
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		bm, err := m.Bitmap(tx, tuple.Tuple{"open"})
		require.NoError(t, err)
		require.EqualValues(t, 2, bm.GetCardinality())
		return nil
	})
	require.NoError(t, err)

	// moving pk1 from open to closed removes it from open's bitmap.
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), catalog.Map{"status": "open"}, catalog.Map{"status": "closed"})
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		openBM, err := m.Bitmap(tx, tuple.Tuple{"open"})
		require.NoError(t, err)
		require.EqualValues(t, 1, openBM.GetCardinality())

		closedBM, err := m.Bitmap(tx, tuple.Tuple{"closed"})
		require.NoError(t, err)
		require.EqualValues(t, 1, closedBM.GetCardinality())
		return nil
	})
	require.NoError(t, err)
}

func TestSameIDStableAcrossUpdates(t *testing.T) {
	store := memkv.New()
	m := newMaintainer()
	ctx := context.Background()

	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), nil, catalog.Map{"status": "open"})
	})
	require.NoError(t, err)

	var id1, id2 uint32
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		var err error
		id1, err = m.idFor(tx, []byte("pk1"))
		return err
	})
	require.NoError(t, err)
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		var err error
		id2, err = m.idFor(tx, []byte("pk1"))
		return err
	})
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	pk, err := lookupPK(store, m, id1)
	require.NoError(t, err)
	require.Equal(t, "pk1", string(pk))
}

func lookupPK(store kv.Store, m *Maintainer, id uint32) ([]byte, error) {
	var pk []byte
	err := store.ReadTransact(context.Background(), func(tx kv.ReadTransaction) error {
		var err error
		pk, err = m.PrimaryKey(tx, id)
		return err
	})
	return pk, err
}
