// Package version implements the Version index kind: a versionstamp-
// keyed history of every record's serialized form, the maintained
// equivalent of turbo-geth's AccountsHistoryBucket/StorageHistoryBucket
// (core/state/history.go's FindByHistory walks exactly this shape --
// per-key entries ordered by a monotonically increasing change index --
// except there the index is a block number the caller already knows,
// and here it is a versionstamp the store assigns at commit).
//
// Key layout: <subspace>/<PK>/"V"/<versionstamp> -> tag byte + record
// bytes, plus a pointer <subspace>/<PK>/"L" -> that version key, updated via
// SetVersionstampedValue so GetLatestVersion is a single point read
// instead of a descending range scan. Retention is evaluated on every
// write per the descriptor's RetentionPolicy.
package version

import (
	"encoding/binary"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// Snapshot encodes the record bytes a caller wants preserved per
// version. The kernel never interprets this payload; record
// serialization is an external collaborator (the wire codec in §6).
type Snapshot = []byte

// Every version entry is tagged with a leading live/tombstone byte:
// nil is ambiguous with "key absent" in the KV contract, and a bare
// sentinel value could coincidentally collide with a real snapshot, so
// the tag is carried alongside the payload instead of standing in for
// it.
const (
	tagLive      byte = 1
	tagTombstone byte = 0
)

// Maintainer implements index.Maintainer for Version descriptors.
// encode must turn a live record into the bytes to preserve; nil
// records (deletes) are stored as a tombstone instead of calling it.
type Maintainer struct {
	subspace  tuple.Subspace
	encode    func(catalog.Record) (Snapshot, error)
	retention catalog.RetentionPolicy
}

// New builds a Maintainer for d. encode is supplied by the caller
// because record serialization is out of the kernel's scope (§1); a
// Maintainer that never needs snapshot bytes (callers who only care
// about retention bookkeeping, say) may pass a no-op func returning
// nil.
func New(d catalog.IndexDescriptor, encode func(catalog.Record) (Snapshot, error)) *Maintainer {
	return &Maintainer{
		subspace:  tuple.New(d.RootSubspaceKey),
		encode:    encode,
		retention: d.Retention,
	}
}

func (m *Maintainer) pkSpace(pk []byte) tuple.Subspace {
	return m.subspace.Sub(tuple.Tuple{pk})
}

func (m *Maintainer) latestKey(pk []byte) []byte {
	return m.pkSpace(pk).Pack(tuple.Tuple{"L"})
}

// versionKeyTemplate returns the unresolved key -- a 10-byte zero
// placeholder where the commit-assigned versionstamp belongs -- plus
// that placeholder's byte offset within the key, which the KV adapter
// contract requires packed into the atomic-op param's trailing two
// bytes (little-endian) for both SetVersionstampedKey and
// SetVersionstampedValue.
func versionKeyTemplate(space tuple.Subspace) (key []byte, offset int) {
	prefix := space.Pack(tuple.Tuple{"V"})
	key = space.Pack(tuple.Tuple{"V", tuple.Versionstamp{}})
	return key, len(prefix) + 1 // +1 skips the versionstamp element's own type tag byte
}

func withOffsetSuffix(param []byte, offset int) []byte {
	out := make([]byte, len(param)+2)
	copy(out, param)
	binary.LittleEndian.PutUint16(out[len(param):], uint16(offset))
	return out
}

// Update appends a new version entry for id whenever new is non-nil
// (an insert or update), or a tombstone when new is nil (a delete);
// old is only consulted to short-circuit a no-op write when both are
// absent. Every entry is appended, regardless of whether fields the
// caller cares about actually changed -- a Version index exists
// precisely to answer "what did this record look like over time", so
// unlike Scalar/Bitmap/Agg there is no delta to compute here.
func (m *Maintainer) Update(tx kv.Transaction, id []byte, old, new catalog.Record) error {
	if old == nil && new == nil {
		return nil
	}
	space := m.pkSpace(id)
	keyTemplate, offset := versionKeyTemplate(space)

	var payload []byte
	if new == nil {
		payload = []byte{tagTombstone}
	} else {
		snap, err := m.encode(new)
		if err != nil {
			return err
		}
		payload = append([]byte{tagLive}, snap...)
	}

	tx.AtomicOp(keyTemplate, withOffsetSuffix(payload, offset), kv.MutationSetVersionstampedKey)
	tx.AtomicOp(m.latestKey(id), withOffsetSuffix(keyTemplate, offset), kv.MutationSetVersionstampedValue)

	return m.applyRetention(tx, id)
}

// ScanItem appends item's current state as a new version during an
// online backfill; it is not idempotent in the literal byte-for-byte
// sense required of the other maintainers (each call mints a fresh
// versionstamp, by design -- a history index has no "already present"
// state to detect), so backfill callers must invoke it at most once
// per record.
func (m *Maintainer) ScanItem(tx kv.Transaction, item index.Item) error {
	return m.Update(tx, item.PrimaryKey, nil, item.Record)
}

// applyRetention prunes id's history per the descriptor's policy.
// KeepForDuration needs the transaction's read version converted to
// wall-clock time via GetApproximateTimestamp, the same version-to-time
// mapping §6 and the KV adapter contract describe.
func (m *Maintainer) applyRetention(tx kv.Transaction, id []byte) error {
	switch m.retention.Kind {
	case catalog.RetentionKeepAll:
		return nil
	case catalog.RetentionKeepLastN:
		return m.pruneKeepLastN(tx, id, m.retention.KeepLastN)
	case catalog.RetentionKeepForDuration:
		return m.pruneOlderThan(tx, id, m.retention.KeepDuration)
	default:
		return nil
	}
}

func (m *Maintainer) pruneKeepLastN(tx kv.Transaction, id []byte, n int) error {
	if n <= 0 {
		return nil
	}
	space := m.pkSpace(id)
	begin, end := space.Sub(tuple.Tuple{"V"}).Range()
	it, err := tx.GetRange(begin, end, kv.RangeOptions{Reverse: true})
	if err != nil {
		return err
	}
	defer it.Close()

	// The entry Update appends in this transaction is a versionstamped
	// write that the scan cannot see yet, so only n-1 existing entries
	// are kept to leave n after commit.
	kept := 0
	for it.Next() {
		kept++
		if kept > n-1 {
			tx.Clear(it.KeyValue().Key)
		}
	}
	return it.Err()
}

func (m *Maintainer) pruneOlderThan(tx kv.Transaction, id []byte, durationSeconds int64) error {
	if durationSeconds <= 0 {
		return nil
	}
	readVersion, err := tx.GetReadVersion()
	if err != nil {
		return err
	}
	nowNanos, err := tx.GetApproximateTimestamp(readVersion)
	if err != nil {
		return err
	}
	cutoff := nowNanos - durationSeconds*1e9

	space := m.pkSpace(id)
	versionSpace := space.Sub(tuple.Tuple{"V"})
	begin, end := versionSpace.Range()
	it, err := tx.GetRange(begin, end, kv.RangeOptions{})
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Next() {
		kvPair := it.KeyValue()
		decoded, derr := versionSpace.Unpack(kvPair.Key)
		if derr != nil || len(decoded) < 2 {
			continue
		}
		vs, ok := decoded[1].(tuple.Versionstamp)
		if !ok {
			continue
		}
		entryNanos, err := tx.GetApproximateTimestamp(versionstampCommitVersion(vs))
		if err != nil {
			return err
		}
		if entryNanos < cutoff {
			tx.Clear(kvPair.Key)
		}
	}
	return it.Err()
}

func versionstampCommitVersion(vs tuple.Versionstamp) int64 {
	return int64(binary.BigEndian.Uint64(vs[:8]))
}

// HistoryEntry is one row of a version history read.
type HistoryEntry struct {
	Versionstamp tuple.Versionstamp
	Snapshot     Snapshot // nil when the entry is a deletion tombstone
	Deleted      bool
}

// GetLatestVersion returns id's newest version entry via the "L"
// pointer, a single point read instead of a descending range scan.
func (m *Maintainer) GetLatestVersion(tx kv.ReadTransaction, id []byte) (HistoryEntry, bool, error) {
	ptr, err := tx.GetValue(m.latestKey(id))
	if err != nil {
		return HistoryEntry{}, false, err
	}
	if ptr == nil {
		return HistoryEntry{}, false, nil
	}
	val, err := tx.GetValue(ptr)
	if err != nil {
		return HistoryEntry{}, false, err
	}
	if val == nil {
		return HistoryEntry{}, false, ixerr.Wrap(ixerr.InvalidStructure, "version: latest pointer for %x references a pruned entry", id)
	}
	decoded, err := m.pkSpace(id).Unpack(ptr)
	if err != nil {
		return HistoryEntry{}, false, err
	}
	entry, err := entryFromDecoded(decoded, val)
	if err != nil {
		return HistoryEntry{}, false, err
	}
	return entry, true, nil
}

// GetVersionHistory returns id's version entries newest first, up to
// limit entries (limit <= 0 means unbounded).
func (m *Maintainer) GetVersionHistory(tx kv.ReadTransaction, id []byte, limit int) ([]HistoryEntry, error) {
	space := m.pkSpace(id)
	versionSpace := space.Sub(tuple.Tuple{"V"})
	begin, end := versionSpace.Range()
	opts := kv.RangeOptions{Reverse: true}
	if limit > 0 {
		opts.Limit = limit
	}
	it, err := tx.GetRange(begin, end, opts)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []HistoryEntry
	for it.Next() {
		kvPair := it.KeyValue()
		decoded, derr := versionSpace.Unpack(kvPair.Key)
		if derr != nil {
			return nil, derr
		}
		entry, err := entryFromDecoded(prependTag(decoded), kvPair.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, it.Err()
}

// prependTag restores the "V" tag decoded relative to the pk subspace
// (as GetLatestVersion's ptr-relative unpack sees it), so
// entryFromDecoded has one shared shape to read regardless of which
// caller produced decoded.
func prependTag(versionRelative tuple.Tuple) tuple.Tuple {
	return append(tuple.Tuple{"V"}, versionRelative...)
}

func entryFromDecoded(decoded tuple.Tuple, val []byte) (HistoryEntry, error) {
	if len(decoded) < 2 {
		return HistoryEntry{}, ixerr.Wrap(ixerr.InvalidStructure, "version: malformed version key")
	}
	vs, ok := decoded[1].(tuple.Versionstamp)
	if !ok {
		return HistoryEntry{}, ixerr.Wrap(ixerr.InvalidStructure, "version: version key missing versionstamp component")
	}
	if len(val) == 0 {
		return HistoryEntry{}, ixerr.Wrap(ixerr.TruncatedData, "version: empty version entry")
	}
	if val[0] == tagTombstone {
		return HistoryEntry{Versionstamp: vs, Deleted: true}, nil
	}
	return HistoryEntry{Versionstamp: vs, Snapshot: val[1:]}, nil
}
