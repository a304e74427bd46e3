package version

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/kv/memkv"
)

func encodeFunc(rec catalog.Record) (Snapshot, error) {
	v, _ := rec.Field("value")
	s, _ := v.(string)
	return []byte(s), nil
}

func TestLatestAndHistory(t *testing.T) {
	store := memkv.New()
	m := New(catalog.IndexDescriptor{
		Name:            "docHistory",
		Kind:            catalog.KindVersion,
		RootSubspaceKey: []byte("/I/docHistory/"),
		Retention:       catalog.RetentionPolicy{Kind: catalog.RetentionKeepAll},
	}, encodeFunc)
	ctx := context.Background()

	write := func(value string) {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte("doc1"), nil, catalog.Map{"value": value})
		})
		require.NoError(t, err)
	}
	write("v1")
	write("v2")
	write("v3")

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		latest, found, err := m.GetLatestVersion(tx, []byte("doc1"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "v3", string(latest.Snapshot))
		require.False(t, latest.Deleted)

		hist, err := m.GetVersionHistory(tx, []byte("doc1"), 0)
		require.NoError(t, err)
		require.Len(t, hist, 3)
		require.Equal(t, "v3", string(hist[0].Snapshot))
		require.Equal(t, "v2", string(hist[1].Snapshot))
		require.Equal(t, "v1", string(hist[2].Snapshot))
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteWritesTombstone(t *testing.T) {
	store := memkv.New()
	m := New(catalog.IndexDescriptor{
		Name:            "docHistory",
		Kind:            catalog.KindVersion,
		RootSubspaceKey: []byte("/I/docHistory/"),
		Retention:       catalog.RetentionPolicy{Kind: catalog.RetentionKeepAll},
	}, encodeFunc)
	ctx := context.Background()

	err := store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("doc1"), nil, catalog.Map{"value": "v1"})
	})
	require.NoError(t, err)
	err = store.Transact(ctx, func(tx kv.Transaction) error {
		return m.Update(tx, []byte("doc1"), catalog.Map{"value": "v1"}, nil)
	})
	require.NoError(t, err)

	err = store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		latest, found, err := m.GetLatestVersion(tx, []byte("doc1"))
		require.NoError(t, err)
		require.True(t, found)
		require.True(t, latest.Deleted)
		require.Nil(t, latest.Snapshot)
		return nil
	})
	require.NoError(t, err)
}

func TestKeepLastNRetention(t *testing.T) {
	store := memkv.New()
	m := New(catalog.IndexDescriptor{
		Name:            "docHistory",
		Kind:            catalog.KindVersion,
		RootSubspaceKey: []byte("/I/docHistory/"),
		Retention:       catalog.RetentionPolicy{Kind: catalog.RetentionKeepLastN, KeepLastN: 5},
	}, encodeFunc)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		err := store.Transact(ctx, func(tx kv.Transaction) error {
			return m.Update(tx, []byte("doc1"), nil, catalog.Map{"value": string(rune('a' + i))})
		})
		require.NoError(t, err)
	}

	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		hist, err := m.GetVersionHistory(tx, []byte("doc1"), 0)
		require.NoError(t, err)
		require.Len(t, hist, 5)
		require.Equal(t, "j", string(hist[0].Snapshot))

		latest, found, err := m.GetLatestVersion(tx, []byte("doc1"))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, "j", string(latest.Snapshot))
		return nil
	})
	require.NoError(t, err)
}
