package scalar

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/keyexpr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/kv/memkv"
)

func newMaintainer(unique catalog.UniquenessMode) *Maintainer {
	d := catalog.IndexDescriptor{
		Name:            "byEmail",
		Kind:            catalog.KindScalar,
		KeyExpression:   keyexpr.Field("email"),
		RootSubspaceKey: []byte("/I/byEmail/"),
		UniquenessMode:  unique,
	}
	return New(d)
}

func TestInsertUpdateDelete(t *testing.T) {
	store := memkv.New()
	m := newMaintainer(catalog.UniquenessSkip)
	ctx := context.Background()

	rec1 := catalog.Map{"email": "a@x.com"}
	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), nil, rec1)
	})
	require.NoError(t, err)

	// update to a new email: old entry cleared, new entry written.
	rec1b := catalog.Map{"email": "b@x.com"}
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), rec1, rec1b)
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		it, err := m.Lookup(tx, nil, kv.RangeOptions{})
		require.NoError(t, err)
		defer it.Close()
		var count int
		for it.Next() {
			count++
			_, pk, err := m.DecodeEntry(it.KeyValue().Key)
			require.NoError(t, err)
			require.Equal(t, "pk1", string(pk))
		}
		require.Equal(t, 1, count)
		return it.Err()
	})
	require.NoError(t, err)

	// delete.
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), rec1b, nil)
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		it, err := m.Lookup(tx, nil, kv.RangeOptions{})
		require.NoError(t, err)
		defer it.Close()
		require.False(t, it.Next())
		return it.Err()
	})
	require.NoError(t, err)
}

func TestUniquenessImmediateRejectsCollision(t *testing.T) {
	store := memkv.New()
	m := newMaintainer(catalog.UniquenessImmediate)
	ctx := context.Background()

	rec := catalog.Map{"email": "dup@x.com"}
	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), nil, rec)
	})
	require.NoError(t, err)

	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk2"), nil, rec)
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ixerr.UniquenessViolation)
}

func TestNoOpShortCircuit(t *testing.T) {
	store := memkv.New()
	m := newMaintainer(catalog.UniquenessSkip)
	ctx := context.Background()

	rec := catalog.Map{"email": "same@x.com"}
	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), nil, rec)
	})
	require.NoError(t, err)

	// Update called with identical old/new should not alter stored state.
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("pk1"), rec, rec)
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		it, err := m.Lookup(tx, nil, kv.RangeOptions{})
		require.NoError(t, err)
		defer it.Close()
		var count int
		for it.Next() {
			count++
		}
		require.Equal(t, 1, count)
		return it.Err()
	})
	require.NoError(t, err)
}

func TestScanItem(t *testing.T) {
	store := memkv.New()
	m := newMaintainer(catalog.UniquenessSkip)
	ctx := context.Background()

	rec := catalog.Map{"email": "backfill@x.com"}
	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.ScanItem(tx, index.Item{PrimaryKey: []byte("pk9"), Record: rec})
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		it, err := m.Lookup(tx, nil, kv.RangeOptions{})
		require.NoError(t, err)
		defer it.Close()
		require.True(t, it.Next())
		return it.Err()
	})
	require.NoError(t, err)
}
