// Package scalar implements the Scalar, Compound, and Permuted index
// kinds: an ordered mapping from an extracted key tuple to the primary
// keys of the records that produced it, stored as
//
//	<subspace>/<extracted tuple>/<primary key> -> ()
//
// so a range scan over an extracted-tuple prefix enumerates matching
// primary keys in key order without a separate value decode, the same
// shape turbo-geth uses for GenerateCompositeStorageKey-style secondary
// lookups (a composite ordered key with no payload beyond presence).
package scalar

import (
	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// Maintainer implements index.Maintainer for Scalar, Compound, and
// Permuted descriptors alike: all three produce one ordered tuple per
// record (Permuted additionally reorders its components per
// descriptor.Permutation before storage), so they share this one
// implementation.
type Maintainer struct {
	subspace       tuple.Subspace
	keyExpr        catalog.KeyExpression
	permutation    []int
	uniquenessMode catalog.UniquenessMode
	indexName      string
}

// New builds a Maintainer for d. d.Permutation, when non-nil, must be
// a permutation of [0, len(extracted tuple)) and is applied to every
// extracted tuple before storage.
func New(d catalog.IndexDescriptor) *Maintainer {
	return &Maintainer{
		subspace:       tuple.New(d.RootSubspaceKey),
		keyExpr:        d.KeyExpression,
		permutation:    d.Permutation,
		uniquenessMode: d.UniquenessMode,
		indexName:      d.Name,
	}
}

func (m *Maintainer) extract(rec catalog.Record) (map[string]tuple.Tuple, error) {
	if rec == nil {
		return nil, nil
	}
	tuples, err := m.keyExpr.Extract(rec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]tuple.Tuple, len(tuples))
	for _, t := range tuples {
		t = m.applyPermutation(t)
		packed, err := tuple.Pack(t)
		if err != nil {
			return nil, err
		}
		out[string(packed)] = t
	}
	return out, nil
}

func (m *Maintainer) applyPermutation(t tuple.Tuple) tuple.Tuple {
	if m.permutation == nil {
		return t
	}
	out := make(tuple.Tuple, len(m.permutation))
	for i, src := range m.permutation {
		out[i] = t[src]
	}
	return out
}

// Update reconciles the index entries for id from old's extracted key
// set to new's, writing and clearing only the symmetric difference.
func (m *Maintainer) Update(tx kv.Transaction, id []byte, old, new catalog.Record) error {
	oldKeys, err := m.extract(old)
	if err != nil {
		return err
	}
	newKeys, err := m.extract(new)
	if err != nil {
		return err
	}

	for packed, t := range oldKeys {
		if _, stillPresent := newKeys[packed]; stillPresent {
			continue
		}
		tx.Clear(m.entryKey(t, id))
	}
	for packed, t := range newKeys {
		if _, already := oldKeys[packed]; already {
			continue
		}
		if err := m.insert(tx, t, id); err != nil {
			return err
		}
	}
	return nil
}

// ScanItem inserts item's index entries during an online backfill. It
// is Update(nil, item.Record) with the id threaded through explicitly
// since Item doesn't carry a separate "old" record.
func (m *Maintainer) ScanItem(tx kv.Transaction, item index.Item) error {
	return m.Update(tx, item.PrimaryKey, nil, item.Record)
}

func (m *Maintainer) entryKey(t tuple.Tuple, id []byte) []byte {
	full := append(append(tuple.Tuple{}, t...), id)
	return m.subspace.Pack(full)
}

func (m *Maintainer) insert(tx kv.Transaction, t tuple.Tuple, id []byte) error {
	if m.uniquenessMode != catalog.UniquenessSkip {
		begin, end := m.subspace.RangeForPrefix(t)
		it, err := tx.GetRange(begin, end, kv.RangeOptions{Limit: 1})
		if err != nil {
			return err
		}
		defer it.Close()
		if it.Next() {
			kvPair := it.KeyValue()
			decoded, derr := m.subspace.Unpack(kvPair.Key)
			var existingPK []byte
			if derr == nil && len(decoded) > 0 {
				if b, ok := decoded[len(decoded)-1].([]byte); ok {
					existingPK = b
				}
			}
			if string(existingPK) != string(id) {
				if m.uniquenessMode == catalog.UniquenessImmediate {
					return ixerr.NewViolation(m.indexName, tuple.MustPack(t), existingPK, id)
				}
				m.recordTrackedViolation(tx, t, existingPK, id)
			}
		}
		if err := it.Err(); err != nil {
			return err
		}
	}
	tx.SetValue(m.entryKey(t, id), nil)
	return nil
}

// Lookup returns an iterator over every entry whose leading tuple
// components equal prefix, in key order, for query-side traversal.
func (m *Maintainer) Lookup(tx kv.ReadTransaction, prefix tuple.Tuple, opts kv.RangeOptions) (kv.Iterator, error) {
	begin, end := m.subspace.RangeForPrefix(prefix)
	return tx.GetRange(begin, end, opts)
}

// DecodeEntry splits a raw entry key back into its extracted tuple
// components and the trailing primary key.
func (m *Maintainer) DecodeEntry(key []byte) (t tuple.Tuple, primaryKey []byte, err error) {
	decoded, err := m.subspace.Unpack(key)
	if err != nil {
		return nil, nil, err
	}
	if len(decoded) == 0 {
		return nil, nil, ixerr.Wrap(ixerr.InvalidStructure, "scalar: entry key decoded to empty tuple")
	}
	pk, ok := decoded[len(decoded)-1].([]byte)
	if !ok {
		return nil, nil, ixerr.Wrap(ixerr.InvalidStructure, "scalar: entry key trailing component is not a primary key")
	}
	return decoded[:len(decoded)-1], pk, nil
}

// recordTrackedViolation persists a conflict under a side subspace for
// UniquenessTrack mode instead of rejecting the write, so a later batch
// job can report or reconcile the collision without blocking writers.
func (m *Maintainer) recordTrackedViolation(tx kv.Transaction, t tuple.Tuple, existingPK, newPK []byte) {
	violSpace := m.subspace.Sub(tuple.Tuple{"_violations"})
	key := violSpace.Pack(append(append(tuple.Tuple{}, t...), newPK))
	tx.SetValue(key, existingPK)
}
