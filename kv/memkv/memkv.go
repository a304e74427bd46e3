// Package memkv is an in-memory reference implementation of kv.Store,
// the role ethdb.NewMemDatabase plays for turbo-geth: a backend good
// enough to develop and test the kernel against without a real cluster.
//
// It trades true MVCC for a single writer mutex: every read-write
// transaction holds an exclusive lock for its whole lifetime, and
// read-only transactions take a snapshot of the current generation
// under a read lock. That is sufficient to exercise every invariant the
// kernel cares about (serializability, atomic commutative ops,
// versionstamp assignment) without implementing a storage engine.
package memkv

import (
	"bytes"
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/turboindex/ixkernel/kv"
)

type entry struct {
	key   []byte
	value []byte
}

// Store is a sorted in-memory keyspace shared by every transaction.
type Store struct {
	mu   sync.RWMutex
	rows []entry // sorted by key, no duplicates

	commitVersion int64
	epoch         int64 // wall-clock nanos at which commitVersion 0 maps to

	seqMu sync.Mutex
	seqs  map[string]int64
}

// New creates an empty store. epoch anchors GetApproximateTimestamp;
// tests that don't care about KeepForDuration can ignore it.
func New() *Store {
	return &Store{
		seqs:  map[string]int64{},
		epoch: time.Now().UnixNano(),
	}
}

func (s *Store) GetCommittedVersion() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commitVersion, nil
}

func (s *Store) Close() error { return nil }

// Transact runs f inside an exclusive read-write transaction, retrying
// automatically while f returns a kv.KindRetryable error -- callers
// writing maintainers never see a retryable error escape.
func (s *Store) Transact(ctx context.Context, f func(kv.Transaction) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.attempt(f)
		if err == nil {
			return nil
		}
		if kv.IsRetryable(err) {
			continue
		}
		return err
	}
}

func (s *Store) attempt(f func(kv.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{store: s, base: s.rows, order: 0}
	if err := f(tx); err != nil {
		return err
	}
	s.commitVersion++
	tx.resolveVersionstamps(s.commitVersion)
	s.rows = tx.apply()
	return nil
}

func (s *Store) ReadTransact(ctx context.Context, f func(kv.ReadTransaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt := &readTransaction{store: s, rows: s.rows}
	return f(rt)
}

func (s *Store) nextSeq(name string, amount int64) int64 {
	s.seqMu.Lock()
	defer s.seqMu.Unlock()
	cur := s.seqs[name]
	s.seqs[name] = cur + amount
	return cur
}

// readTransaction implements kv.ReadTransaction over a frozen snapshot.
type readTransaction struct {
	store *Store
	rows  []entry
}

func (r *readTransaction) GetValue(key []byte) ([]byte, error) {
	i := sort.Search(len(r.rows), func(i int) bool { return bytes.Compare(r.rows[i].key, key) >= 0 })
	if i < len(r.rows) && bytes.Equal(r.rows[i].key, key) {
		return append([]byte(nil), r.rows[i].value...), nil
	}
	return nil, nil
}

func (r *readTransaction) GetRange(begin, end []byte, opts kv.RangeOptions) (kv.Iterator, error) {
	return newSliceIterator(r.rows, begin, end, opts), nil
}

func (r *readTransaction) GetReadVersion() (int64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.commitVersion, nil
}

func (r *readTransaction) GetApproximateTimestamp(version int64) (int64, error) {
	return r.store.epoch + version*int64(time.Second), nil
}

// pendingSet/pendingClear model the write buffer; pendingAtomic is
// resolved against base+writes at apply time.
type mutationKind uint8

const (
	writeSet mutationKind = iota
	writeClear
	writeClearRange
	writeAtomic
	writeVersionstampedKey
	writeVersionstampedValue
)

type mutation struct {
	kind  mutationKind
	key   []byte
	end   []byte // for writeClearRange
	value []byte
	param []byte
	op    kv.MutationType
}

// transaction implements kv.Transaction. Writes are buffered and only
// folded into the store's committed rows at the end of Store.attempt,
// so reads inside the same transaction observe base+buffered-writes.
type transaction struct {
	store *Store
	base  []entry
	muts  []mutation
	order int32 // trailing two bytes of the versionstamp this transaction assigns
}

func (t *transaction) snapshotRows() []entry {
	// Materialize base plus buffered non-versionstamp writes, so Get/GetRange
	// inside the transaction see their own prior writes (read-your-writes).
	rows := append([]entry(nil), t.base...)
	idx := make(map[string]int, len(rows))
	for i, r := range rows {
		idx[string(r.key)] = i
	}
	upsert := func(k, v []byte) {
		if i, ok := idx[string(k)]; ok {
			rows[i].value = v
			return
		}
		idx[string(k)] = len(rows)
		rows = append(rows, entry{key: k, value: v})
	}
	remove := func(k []byte) {
		if i, ok := idx[string(k)]; ok {
			rows[i].value = nil
			rows[i].key = nil // tombstone; filtered out in apply/sort pass below
			delete(idx, string(k))
		}
	}
	for _, m := range t.muts {
		switch m.kind {
		case writeSet:
			upsert(m.key, m.value)
		case writeClear:
			remove(m.key)
		case writeClearRange:
			for i := range rows {
				if rows[i].key != nil && bytes.Compare(rows[i].key, m.key) >= 0 && bytes.Compare(rows[i].key, m.end) < 0 {
					rows[i].key = nil
				}
			}
		case writeAtomic:
			cur := []byte(nil)
			if i, ok := idx[string(m.key)]; ok {
				cur = rows[i].value
			}
			upsert(m.key, applyAtomic(cur, m.param, m.op))
		}
	}
	out := rows[:0]
	for _, r := range rows {
		if r.key != nil {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out
}

func (t *transaction) GetValue(key []byte) ([]byte, error) {
	rows := t.snapshotRows()
	i, ok := find(rows, key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), rows[i].value...), nil
}

func (t *transaction) GetRange(begin, end []byte, opts kv.RangeOptions) (kv.Iterator, error) {
	return newSliceIterator(t.snapshotRows(), begin, end, opts), nil
}

func (t *transaction) SetValue(key, value []byte) {
	t.muts = append(t.muts, mutation{kind: writeSet, key: cp(key), value: cp(value)})
}

func (t *transaction) Clear(key []byte) {
	t.muts = append(t.muts, mutation{kind: writeClear, key: cp(key)})
}

func (t *transaction) ClearRange(begin, end []byte) {
	t.muts = append(t.muts, mutation{kind: writeClearRange, key: cp(begin), end: cp(end)})
}

func (t *transaction) AtomicOp(key, param []byte, op kv.MutationType) {
	switch op {
	case kv.MutationSetVersionstampedKey:
		t.muts = append(t.muts, mutation{kind: writeVersionstampedKey, key: cp(key), param: cp(param), op: op})
	case kv.MutationSetVersionstampedValue:
		t.muts = append(t.muts, mutation{kind: writeVersionstampedValue, key: cp(key), param: cp(param), op: op})
	default:
		t.muts = append(t.muts, mutation{kind: writeAtomic, key: cp(key), param: cp(param), op: op})
	}
}

func (t *transaction) IncrementSequence(name string, amount int64) (int64, error) {
	return t.store.nextSeq(name, amount), nil
}

func (t *transaction) GetReadVersion() (int64, error) {
	return t.store.commitVersion, nil
}

func (t *transaction) GetApproximateTimestamp(version int64) (int64, error) {
	return t.store.epoch + version*int64(time.Second), nil
}

// resolveVersionstamps splices the commit-assigned versionstamp into any
// buffered setVersionstampedKey/Value mutation. Every such mutation in
// one transaction receives the same versionstamp, so a value written
// with setVersionstampedValue can name a key written with
// setVersionstampedKey in the same transaction.
func (t *transaction) resolveVersionstamps(commitVersion int64) {
	vs := make([]byte, kv.VersionstampLen)
	binary.BigEndian.PutUint64(vs[:8], uint64(commitVersion))
	binary.BigEndian.PutUint16(vs[8:], uint16(t.order))
	for i := range t.muts {
		m := &t.muts[i]
		if m.kind != writeVersionstampedKey && m.kind != writeVersionstampedValue {
			continue
		}

		offset := int(binary.LittleEndian.Uint16(m.param[len(m.param)-2:]))
		if m.kind == writeVersionstampedKey {
			out := append([]byte(nil), m.key[:offset]...)
			out = append(out, vs...)
			out = append(out, m.key[offset+kv.VersionstampLen:]...)
			m.key = out
			m.kind = writeSet
			m.value = m.param[:len(m.param)-2]
		} else {
			out := append([]byte(nil), m.param[:offset]...)
			out = append(out, vs...)
			out = append(out, m.param[offset+kv.VersionstampLen:len(m.param)-2]...)
			m.value = out
			m.kind = writeSet
		}
	}
}

// apply folds the resolved write set on top of base, producing the new
// committed generation.
func (t *transaction) apply() []entry {
	return t.snapshotRows()
}

func find(rows []entry, key []byte) (int, bool) {
	i := sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, key) >= 0 })
	if i < len(rows) && bytes.Equal(rows[i].key, key) {
		return i, true
	}
	return i, false
}

func cp(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func applyAtomic(cur, param []byte, op kv.MutationType) []byte {
	switch op {
	case kv.MutationAdd:
		return addInt64(cur, param)
	case kv.MutationMin:
		if cur == nil || bytes.Compare(param, cur) < 0 {
			return append([]byte(nil), param...)
		}
		return cur
	case kv.MutationMax:
		if cur == nil || bytes.Compare(param, cur) > 0 {
			return append([]byte(nil), param...)
		}
		return cur
	case kv.MutationBitOr:
		return bitwise(cur, param, func(a, b byte) byte { return a | b })
	case kv.MutationBitAnd:
		return bitwise(cur, param, func(a, b byte) byte { return a & b })
	default:
		return cur
	}
}

func addInt64(cur, param []byte) []byte {
	var curVal int64
	if len(cur) == 8 {
		curVal = int64(binary.LittleEndian.Uint64(cur))
	}
	var delta int64
	if len(param) == 8 {
		delta = int64(binary.LittleEndian.Uint64(param))
	}
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, uint64(curVal+delta))
	return out
}

func bitwise(cur, param []byte, f func(a, b byte) byte) []byte {
	if cur == nil {
		return append([]byte(nil), param...)
	}
	n := len(cur)
	if len(param) > n {
		n = len(param)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var a, b byte
		if i < len(cur) {
			a = cur[i]
		}
		if i < len(param) {
			b = param[i]
		}
		out[i] = f(a, b)
	}
	return out
}

// sliceIterator implements kv.Iterator over a materialized, already
// sorted slice -- the in-memory analogue of a cursor range scan.
type sliceIterator struct {
	rows    []entry
	idx     []int // indices into rows, in desired traversal order
	pos     int
	cur     kv.KeyValue
}

func newSliceIterator(rows []entry, begin, end []byte, opts kv.RangeOptions) *sliceIterator {
	lo := sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, begin) >= 0 })
	hi := len(rows)
	if end != nil {
		hi = sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, end) >= 0 })
	}
	idx := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		idx = append(idx, i)
	}
	if opts.Reverse {
		for l, r := 0, len(idx)-1; l < r; l, r = l+1, r-1 {
			idx[l], idx[r] = idx[r], idx[l]
		}
	}
	if opts.Limit > 0 && len(idx) > opts.Limit {
		idx = idx[:opts.Limit]
	}
	return &sliceIterator{rows: rows, idx: idx, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	if it.pos >= len(it.idx) {
		return false
	}
	r := it.rows[it.idx[it.pos]]
	it.cur = kv.KeyValue{Key: append([]byte(nil), r.key...), Value: append([]byte(nil), r.value...)}
	return true
}

func (it *sliceIterator) KeyValue() kv.KeyValue { return it.cur }
func (it *sliceIterator) Err() error            { return nil }
func (it *sliceIterator) Close()                {}
