// Package agg implements the Count, Sum, Average, Min, and Max
// aggregation index kinds.
//
// Count and integer Sum accumulate through
// kv.Transaction.AtomicOp(MutationAdd): a commutative add never
// generates a read-conflict range, so many concurrent writers touching
// the same group never abort each other, the same property the
// kernel's KV contract documents for erigon-lib style sequence/counter
// columns. A Sum over float values does not use an atomic add: it reads
// the stored float64, adds, and writes it back, taking a read-conflict
// range on the sum key. Average is derived from a Sum and a
// Count accumulator sharing the same group key.
//
// Min and Max cannot use the same trick: an atomic min/max can only
// move toward the extreme, never recover once its holder is deleted.
// Instead they maintain an ordered value-set per group (value, pk) ->
// (), the same shape index/scalar uses, and answer a read by scanning
// it for the first (Min) or last (Max) entry -- a genuine
// read-modify-write with a conflict range, but one that is always
// correct across deletes, which an un-recoverable atomic accumulator
// is not.
package agg

import (
	"encoding/binary"
	"math"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// Maintainer implements index.Maintainer for Count, Sum, Average, Min,
// and Max descriptors. keyExpr must extract exactly one tuple per
// record; for Count that tuple is the group key, for the other four
// kinds its last component is the value to aggregate and the
// remainder is the group key.
type Maintainer struct {
	kind      catalog.IndexKind
	subspace  tuple.Subspace
	keyExpr   catalog.KeyExpression
	valueType catalog.ValueTypeTag
}

// New builds a Maintainer for d. d.Kind must be one of KindCount,
// KindSum, KindAverage, KindMin, or KindMax.
func New(d catalog.IndexDescriptor) *Maintainer {
	return &Maintainer{
		kind:      d.Kind,
		subspace:  tuple.New(d.RootSubspaceKey),
		keyExpr:   d.KeyExpression,
		valueType: d.ValueType,
	}
}

type contribution struct {
	group tuple.Tuple
	value float64
	isInt bool
	ival  int64
	ok    bool
}

func (m *Maintainer) extract(rec catalog.Record) (contribution, error) {
	if rec == nil {
		return contribution{}, nil
	}
	tuples, err := m.keyExpr.Extract(rec)
	if err != nil {
		return contribution{}, err
	}
	if len(tuples) != 1 {
		return contribution{}, ixerr.Wrap(ixerr.InvalidStructure, "agg: key expression produced %d tuples, expected exactly 1", len(tuples))
	}
	t := tuples[0]
	if m.kind == catalog.KindCount {
		return contribution{group: t, ok: true}, nil
	}
	if len(t) == 0 {
		return contribution{}, ixerr.Wrap(ixerr.InvalidStructure, "agg: key expression produced empty tuple, need a trailing value component")
	}
	group := t[:len(t)-1]
	val := t[len(t)-1]
	c := contribution{group: group, ok: true}
	switch v := val.(type) {
	case int, int32, int64:
		c.isInt = true
		c.ival = toInt64(v)
		c.value = float64(c.ival)
	case float32:
		c.value = float64(v)
	case float64:
		c.value = v
	default:
		return contribution{}, ixerr.Wrap(ixerr.UnsupportedType, "agg: unsupported aggregated value type %T", val)
	}
	return c, nil
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	}
	return 0
}

// Update reconciles the group accumulators id's mutation affects.
func (m *Maintainer) Update(tx kv.Transaction, id []byte, old, new catalog.Record) error {
	oldC, err := m.extract(old)
	if err != nil {
		return err
	}
	newC, err := m.extract(new)
	if err != nil {
		return err
	}
	if !oldC.ok && !newC.ok {
		return nil
	}

	sameGroup := oldC.ok && newC.ok && tuple.Compare(tuple.MustPack(oldC.group), tuple.MustPack(newC.group)) == 0
	if sameGroup && m.kind != catalog.KindMin && m.kind != catalog.KindMax {
		return m.applyNet(tx, newC.group, oldC, newC)
	}

	if m.kind == catalog.KindMin || m.kind == catalog.KindMax {
		return m.updateExtreme(tx, id, oldC, newC, sameGroup)
	}

	if oldC.ok {
		if err := m.applyNet(tx, oldC.group, oldC, contribution{}); err != nil {
			return err
		}
	}
	if newC.ok {
		if err := m.applyNet(tx, newC.group, contribution{}, newC); err != nil {
			return err
		}
	}
	return nil
}

// ScanItem adds item's contribution during an online backfill.
func (m *Maintainer) ScanItem(tx kv.Transaction, item index.Item) error {
	return m.Update(tx, item.PrimaryKey, nil, item.Record)
}

func (m *Maintainer) countKey(group tuple.Tuple) []byte {
	return m.subspace.Pack(append(append(tuple.Tuple{}, group...), "_count"))
}

func (m *Maintainer) sumKey(group tuple.Tuple) []byte {
	return m.subspace.Pack(append(append(tuple.Tuple{}, group...), "_sum"))
}

// applyNet applies the net count/sum delta between old and new
// contributions to the same group in one pass, short-circuiting when
// nothing changed.
func (m *Maintainer) applyNet(tx kv.Transaction, group tuple.Tuple, old, new contribution) error {
	var netCount int64
	if old.ok {
		netCount--
	}
	if new.ok {
		netCount++
	}
	if netCount != 0 && (m.kind == catalog.KindCount || m.kind == catalog.KindAverage) {
		tx.AtomicOp(m.countKey(group), encodeInt64(netCount), kv.MutationAdd)
	}
	if m.kind == catalog.KindCount {
		return nil
	}

	var netValue float64
	if old.ok {
		netValue -= old.value
	}
	if new.ok {
		netValue += new.value
	}
	if netValue == 0 {
		return nil
	}
	return m.addSum(tx, group, netValue, old.isInt || new.isInt)
}

func (m *Maintainer) addSum(tx kv.Transaction, group tuple.Tuple, delta float64, isInt bool) error {
	if isInt {
		tx.AtomicOp(m.sumKey(group), encodeInt64(int64(delta)), kv.MutationAdd)
		return nil
	}
	// Float sums can't use a commutative bitwise atomic add (IEEE-754
	// addition isn't addition of the underlying bit pattern), so this
	// path reads, adds in floating point, and writes back -- correct,
	// but it does take a read-conflict range on the sum key.
	key := m.sumKey(group)
	cur, err := tx.GetValue(key)
	if err != nil {
		return err
	}
	var curVal float64
	if cur != nil {
		curVal = math.Float64frombits(binary.LittleEndian.Uint64(cur))
	}
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], math.Float64bits(curVal+delta))
	tx.SetValue(key, out[:])
	return nil
}

func encodeInt64(v int64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

// updateExtreme maintains the ordered value-set for Min/Max.
func (m *Maintainer) updateExtreme(tx kv.Transaction, id []byte, old, new contribution, sameGroup bool) error {
	if old.ok {
		key := m.valueSetKey(old.group, old, id)
		tx.Clear(key)
	}
	if new.ok {
		key := m.valueSetKey(new.group, new, id)
		tx.SetValue(key, nil)
	}
	_ = sameGroup
	return nil
}

func (m *Maintainer) valueSetKey(group tuple.Tuple, c contribution, id []byte) []byte {
	var valElem interface{}
	if c.isInt {
		valElem = c.ival
	} else {
		valElem = c.value
	}
	full := append(append(tuple.Tuple{}, group...), "_values", valElem, id)
	return m.subspace.Pack(full)
}

// Count returns the current count for group.
func (m *Maintainer) Count(tx kv.ReadTransaction, group tuple.Tuple) (int64, error) {
	val, err := tx.GetValue(m.countKey(group))
	if err != nil {
		return 0, err
	}
	if val == nil {
		return 0, nil
	}
	return int64(binary.LittleEndian.Uint64(val)), nil
}

// Sum returns the current sum for group.
func (m *Maintainer) Sum(tx kv.ReadTransaction, group tuple.Tuple) (float64, error) {
	val, err := tx.GetValue(m.sumKey(group))
	if err != nil {
		return 0, err
	}
	if val == nil {
		return 0, nil
	}
	if m.valueType == catalog.TagFloat32 || m.valueType == catalog.TagFloat64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(val)), nil
	}
	return float64(int64(binary.LittleEndian.Uint64(val))), nil
}

// Average returns sum/count for group, and false if count is zero.
func (m *Maintainer) Average(tx kv.ReadTransaction, group tuple.Tuple) (float64, bool, error) {
	count, err := m.Count(tx, group)
	if err != nil {
		return 0, false, err
	}
	if count == 0 {
		return 0, false, nil
	}
	sum, err := m.Sum(tx, group)
	if err != nil {
		return 0, false, err
	}
	return sum / float64(count), true, nil
}

// Extreme scans the ordered value-set for group and returns the
// minimum (reverse=false) or maximum (reverse=true) entry's value and
// primary key.
func (m *Maintainer) Extreme(tx kv.ReadTransaction, group tuple.Tuple, reverse bool) (value interface{}, primaryKey []byte, found bool, err error) {
	prefix := append(append(tuple.Tuple{}, group...), "_values")
	valueSpace := tuple.New(m.subspace.Pack(prefix))
	begin, end := valueSpace.Range()
	it, err := tx.GetRange(begin, end, kv.RangeOptions{Limit: 1, Reverse: reverse})
	if err != nil {
		return nil, nil, false, err
	}
	defer it.Close()
	if !it.Next() {
		return nil, nil, false, it.Err()
	}
	decoded, err := valueSpace.Unpack(it.KeyValue().Key)
	if err != nil {
		return nil, nil, false, err
	}
	if len(decoded) < 2 {
		return nil, nil, false, ixerr.Wrap(ixerr.InvalidStructure, "agg: malformed value-set entry")
	}
	pk, ok := decoded[len(decoded)-1].([]byte)
	if !ok {
		return nil, nil, false, ixerr.Wrap(ixerr.InvalidStructure, "agg: value-set entry missing primary key component")
	}
	return decoded[len(decoded)-2], pk, true, nil
}
