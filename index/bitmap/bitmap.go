// Package bitmap implements the Bitmap index kind: a roaring bitmap of
// internal record IDs per distinct extracted key value, sharded by the
// high 16 bits of the ID the way ethdb/bitmapdb shards by block-number
// range so no single shard value grows past a useful serialized size.
//
// Primary keys are opaque byte strings; roaring operates on uint32s, so
// this package keeps a PK<->ID dictionary (assigned via
// kv.Transaction.IncrementSequence, the same sequence primitive
// erigon-lib exposes for auto-increment columns) and bitmaps only ever
// store the assigned IDs.
package bitmap

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring"
	"github.com/c2h5oh/datasize"
	log "github.com/inconshreveable/log15"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// shardBits is the number of low bits of an internal ID carried within
// one shard; IDs are sharded by their remaining high bits, the same
// role the high 16 bits of a block number play for bitmapdb's shard
// key suffix.
const shardBits = 16

// shardWarnThreshold is the serialized shard size past which writeShard
// logs a warning, the same early-warning ethdb/bitmapdb's ShardLimit
// (3KB) gives a caller deciding whether a shard needs splitting sooner
// rather than growing unbounded.
const shardWarnThreshold = 3 * datasize.KB

// Maintainer implements index.Maintainer for Bitmap descriptors.
type Maintainer struct {
	subspace tuple.Subspace
	dictPK   tuple.Subspace // pk -> id
	dictID   tuple.Subspace // id -> pk
	keyExpr  catalog.KeyExpression
	seqName  string
}

// New builds a Maintainer for d.
func New(d catalog.IndexDescriptor) *Maintainer {
	root := tuple.New(d.RootSubspaceKey)
	return &Maintainer{
		subspace: root.Sub(tuple.Tuple{"_bitmaps"}),
		dictPK:   root.Sub(tuple.Tuple{"_dict", "pk"}),
		dictID:   root.Sub(tuple.Tuple{"_dict", "id"}),
		keyExpr:  d.KeyExpression,
		seqName:  "bitmap:" + d.Name,
	}
}

func (m *Maintainer) idFor(tx kv.Transaction, pk []byte) (uint32, error) {
	key := m.dictPK.Pack(tuple.Tuple{pk})
	val, err := tx.GetValue(key)
	if err != nil {
		return 0, err
	}
	if val != nil {
		return binary.BigEndian.Uint32(val), nil
	}
	next, err := tx.IncrementSequence(m.seqName, 1)
	if err != nil {
		return 0, err
	}
	id := uint32(next)
	var idBytes [4]byte
	binary.BigEndian.PutUint32(idBytes[:], id)
	tx.SetValue(key, idBytes[:])
	tx.SetValue(m.dictID.Pack(tuple.Tuple{int64(id)}), pk)
	return id, nil
}

func (m *Maintainer) shardKey(value tuple.Tuple, id uint32) []byte {
	shard := int64(id >> shardBits)
	full := append(append(tuple.Tuple{}, value...), shard)
	return m.subspace.Pack(full)
}

func (m *Maintainer) extractSet(rec catalog.Record) (map[string]tuple.Tuple, error) {
	if rec == nil {
		return nil, nil
	}
	tuples, err := m.keyExpr.Extract(rec)
	if err != nil {
		return nil, err
	}
	out := make(map[string]tuple.Tuple, len(tuples))
	for _, t := range tuples {
		packed, err := tuple.Pack(t)
		if err != nil {
			return nil, err
		}
		out[string(packed)] = t
	}
	return out, nil
}

// Update moves id's membership from old's extracted value set to
// new's, adding it to newly-gained bitmaps and removing it from
// no-longer-extracted ones.
func (m *Maintainer) Update(tx kv.Transaction, id []byte, old, new catalog.Record) error {
	oldKeys, err := m.extractSet(old)
	if err != nil {
		return err
	}
	newKeys, err := m.extractSet(new)
	if err != nil {
		return err
	}
	if len(oldKeys) == 0 && len(newKeys) == 0 {
		return nil
	}

	internalID, err := m.idFor(tx, id)
	if err != nil {
		return err
	}

	for packed, v := range oldKeys {
		if _, stillPresent := newKeys[packed]; stillPresent {
			continue
		}
		if err := m.removeFromShard(tx, v, internalID); err != nil {
			return err
		}
	}
	for packed, v := range newKeys {
		if _, already := oldKeys[packed]; already {
			continue
		}
		if err := m.addToShard(tx, v, internalID); err != nil {
			return err
		}
	}
	return nil
}

// ScanItem adds item to every bitmap its record extracts to.
func (m *Maintainer) ScanItem(tx kv.Transaction, item index.Item) error {
	return m.Update(tx, item.PrimaryKey, nil, item.Record)
}

func (m *Maintainer) addToShard(tx kv.Transaction, value tuple.Tuple, id uint32) error {
	key := m.shardKey(value, id)
	bm, err := m.readShard(tx, key)
	if err != nil {
		return err
	}
	bm.Add(id)
	return m.writeShard(tx, key, bm)
}

func (m *Maintainer) removeFromShard(tx kv.Transaction, value tuple.Tuple, id uint32) error {
	key := m.shardKey(value, id)
	bm, err := m.readShard(tx, key)
	if err != nil {
		return err
	}
	if bm.IsEmpty() {
		return nil
	}
	bm.Remove(id)
	if bm.IsEmpty() {
		tx.Clear(key)
		return nil
	}
	return m.writeShard(tx, key, bm)
}

func (m *Maintainer) readShard(tx kv.Transaction, key []byte) (*roaring.Bitmap, error) {
	val, err := tx.GetValue(key)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return roaring.New(), nil
	}
	bm, err := roaring.Read(val)
	if err != nil {
		return nil, ixerr.Wrap(ixerr.InvalidStructure, "bitmap: decoding shard: %v", err)
	}
	return bm, nil
}

func (m *Maintainer) writeShard(tx kv.Transaction, key []byte, bm *roaring.Bitmap) error {
	bm.RunOptimize()
	size := bm.SerializedSizeInBytes()
	buf := make([]byte, size)
	if err := bm.Write(buf); err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "bitmap: encoding shard: %v", err)
	}
	if datasize.ByteSize(size) > shardWarnThreshold {
		log.Warn("bitmap: shard exceeds warn threshold", "bytes", size, "threshold", shardWarnThreshold.String())
	}
	tx.SetValue(key, buf)
	return nil
}

// Bitmap returns the union of every shard holding value, the full
// membership set for that extracted key -- the read path package
// query (query/bitmap.go) uses to answer an equality lookup.
func (m *Maintainer) Bitmap(tx kv.ReadTransaction, value tuple.Tuple) (*roaring.Bitmap, error) {
	packed, err := tuple.Pack(value)
	if err != nil {
		return nil, err
	}
	prefixSubspace := tuple.New(append(m.subspace.Bytes(), packed...))
	begin, end := prefixSubspace.Range()
	it, err := tx.GetRange(begin, end, kv.RangeOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	out := roaring.New()
	for it.Next() {
		bm, err := roaring.Read(it.KeyValue().Value)
		if err != nil {
			return nil, ixerr.Wrap(ixerr.InvalidStructure, "bitmap: decoding shard: %v", err)
		}
		out.Or(bm)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DistinctValues returns every extracted value that currently has at
// least one shard, deduplicated, in tuple order -- the read path
// getAllDistinctValues uses instead of requiring the caller already
// know which values to query.
func (m *Maintainer) DistinctValues(tx kv.ReadTransaction) ([]tuple.Tuple, error) {
	begin, end := m.subspace.Range()
	it, err := tx.GetRange(begin, end, kv.RangeOptions{})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []tuple.Tuple
	seen := make(map[string]bool)
	for it.Next() {
		decoded, derr := m.subspace.Unpack(it.KeyValue().Key)
		if derr != nil || len(decoded) == 0 {
			continue
		}
		value := decoded[:len(decoded)-1] // drop the trailing shard component
		packed, perr := tuple.Pack(value)
		if perr != nil {
			continue
		}
		if seen[string(packed)] {
			continue
		}
		seen[string(packed)] = true
		out = append(out, value)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PrimaryKey resolves an internal ID back to its primary key.
func (m *Maintainer) PrimaryKey(tx kv.ReadTransaction, id uint32) ([]byte, error) {
	val, err := tx.GetValue(m.dictID.Pack(tuple.Tuple{int64(id)}))
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, ixerr.Wrap(ixerr.NotFound, "bitmap: no primary key for internal id %d", id)
	}
	return val, nil
}
