// Package percentile implements the Percentile index kind: an
// approximate quantile sketch per group, backed by a t-digest
// (github.com/caio/go-tdigest), the same class of structure a
// streaming-quantiles problem reaches for in the wider Go ecosystem
// when no library in the rest of the example pack addresses it.
//
// A t-digest only grows more accurate with more data and never shrinks
// on deletion, so this index tracks count/min/max alongside the digest
// for diagnostics but -- like the original streaming-quantile use case
// -- does not support retracting a single observation. Record deletion
// is a Non-goal for Percentile; see the design notes.
package percentile

import (
	"bytes"
	"encoding/binary"
	"math"

	tdigest "github.com/caio/go-tdigest"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// statsLen is the width of the fixed-size count/min/max header this
// package prefixes onto the digest's own serialized bytes.
const statsLen = 8 + 8 + 8

// Maintainer implements index.Maintainer for Percentile descriptors.
// keyExpr must extract exactly one tuple whose last component is the
// numeric observation and whose remainder is the group key.
type Maintainer struct {
	subspace    tuple.Subspace
	keyExpr     catalog.KeyExpression
	compression float64
}

// New builds a Maintainer for d. d.Compression sets the t-digest's
// compression factor (centroid budget); 100 is a reasonable default
// when unset.
func New(d catalog.IndexDescriptor) *Maintainer {
	compression := float64(d.Compression)
	if compression <= 0 {
		compression = 100
	}
	return &Maintainer{
		subspace:    tuple.New(d.RootSubspaceKey),
		keyExpr:     d.KeyExpression,
		compression: compression,
	}
}

func (m *Maintainer) extract(rec catalog.Record) (group tuple.Tuple, value float64, ok bool, err error) {
	if rec == nil {
		return nil, 0, false, nil
	}
	tuples, err := m.keyExpr.Extract(rec)
	if err != nil {
		return nil, 0, false, err
	}
	if len(tuples) != 1 || len(tuples[0]) == 0 {
		return nil, 0, false, ixerr.Wrap(ixerr.InvalidStructure, "percentile: key expression must produce exactly one non-empty tuple")
	}
	t := tuples[0]
	group = t[:len(t)-1]
	switch v := t[len(t)-1].(type) {
	case int:
		value = float64(v)
	case int32:
		value = float64(v)
	case int64:
		value = float64(v)
	case float32:
		value = float64(v)
	case float64:
		value = v
	default:
		return nil, 0, false, ixerr.Wrap(ixerr.UnsupportedType, "percentile: unsupported observation type %T", v)
	}
	return group, value, true, nil
}

func (m *Maintainer) groupKey(group tuple.Tuple) []byte {
	return m.subspace.Pack(append(append(tuple.Tuple{}, group...), "_digest"))
}

// Update folds new's observation into the group digest. Percentile
// indexes don't support retraction: an old observation present on
// update or delete is intentionally ignored once recorded. An update
// whose old and new records extract the same group and value writes
// nothing.
func (m *Maintainer) Update(tx kv.Transaction, id []byte, old, new catalog.Record) error {
	group, value, ok, err := m.extract(new)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if oldGroup, oldValue, oldOK, oldErr := m.extract(old); oldErr == nil && oldOK && oldValue == value &&
		bytes.Equal(tuple.MustPack(oldGroup), tuple.MustPack(group)) {
		return nil
	}
	return m.observe(tx, group, value)
}

// ScanItem folds item's observation into its group digest.
func (m *Maintainer) ScanItem(tx kv.Transaction, item index.Item) error {
	group, value, ok, err := m.extract(item.Record)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return m.observe(tx, group, value)
}

func (m *Maintainer) observe(tx kv.Transaction, group tuple.Tuple, value float64) error {
	key := m.groupKey(group)
	td, count, min, max, err := m.load(tx, key)
	if err != nil {
		return err
	}
	if err := td.Add(value); err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "percentile: adding observation: %v", err)
	}
	count++
	if count == 1 || value < min {
		min = value
	}
	if count == 1 || value > max {
		max = value
	}
	return m.save(tx, key, td, count, min, max)
}

func (m *Maintainer) newDigest() (*tdigest.TDigest, error) {
	td, err := tdigest.New(tdigest.Compression(m.compression))
	if err != nil {
		return nil, ixerr.Wrap(ixerr.InvalidStructure, "percentile: building digest: %v", err)
	}
	return td, nil
}

func (m *Maintainer) load(tx kv.Transaction, key []byte) (td *tdigest.TDigest, count int64, min, max float64, err error) {
	val, err := tx.GetValue(key)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	if val == nil {
		td, err = m.newDigest()
		return td, 0, 0, 0, err
	}
	if len(val) < statsLen {
		return nil, 0, 0, 0, ixerr.Wrap(ixerr.TruncatedData, "percentile: stored digest shorter than header")
	}
	count = int64(binary.BigEndian.Uint64(val[0:8]))
	min = math.Float64frombits(binary.BigEndian.Uint64(val[8:16]))
	max = math.Float64frombits(binary.BigEndian.Uint64(val[16:24]))
	td, err = tdigest.FromBytes(bytes.NewReader(val[statsLen:]))
	if err != nil {
		return nil, 0, 0, 0, ixerr.Wrap(ixerr.InvalidStructure, "percentile: decoding digest: %v", err)
	}
	return td, count, min, max, nil
}

func (m *Maintainer) save(tx kv.Transaction, key []byte, td *tdigest.TDigest, count int64, min, max float64) error {
	digestBytes, err := td.AsBytes()
	if err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "percentile: encoding digest: %v", err)
	}
	out := make([]byte, statsLen+len(digestBytes))
	binary.BigEndian.PutUint64(out[0:8], uint64(count))
	binary.BigEndian.PutUint64(out[8:16], math.Float64bits(min))
	binary.BigEndian.PutUint64(out[16:24], math.Float64bits(max))
	copy(out[statsLen:], digestBytes)
	tx.SetValue(key, out)
	return nil
}

// Quantile returns the value at quantile q (in [0, 1]) for group's
// digest, and false if the group has no observations yet.
func (m *Maintainer) Quantile(tx kv.ReadTransaction, group tuple.Tuple, q float64) (float64, bool, error) {
	val, err := tx.GetValue(m.groupKey(group))
	if err != nil {
		return 0, false, err
	}
	if val == nil {
		return 0, false, nil
	}
	if len(val) < statsLen {
		return 0, false, ixerr.Wrap(ixerr.TruncatedData, "percentile: stored digest shorter than header")
	}
	td, err := tdigest.FromBytes(bytes.NewReader(val[statsLen:]))
	if err != nil {
		return 0, false, ixerr.Wrap(ixerr.InvalidStructure, "percentile: decoding digest: %v", err)
	}
	return td.Quantile(q), true, nil
}

// Quantiles interpolates every q in qs against a single digest read,
// the "one digest read, many interpolations" shape getPercentiles asks
// for instead of calling Quantile once per requested percentile.
func (m *Maintainer) Quantiles(tx kv.ReadTransaction, group tuple.Tuple, qs []float64) ([]float64, bool, error) {
	val, err := tx.GetValue(m.groupKey(group))
	if err != nil {
		return nil, false, err
	}
	if val == nil {
		return nil, false, nil
	}
	if len(val) < statsLen {
		return nil, false, ixerr.Wrap(ixerr.TruncatedData, "percentile: stored digest shorter than header")
	}
	td, err := tdigest.FromBytes(bytes.NewReader(val[statsLen:]))
	if err != nil {
		return nil, false, ixerr.Wrap(ixerr.InvalidStructure, "percentile: decoding digest: %v", err)
	}
	out := make([]float64, len(qs))
	for i, q := range qs {
		out[i] = td.Quantile(q)
	}
	return out, true, nil
}

// CDF returns the fraction of recorded observations less than or equal
// to v for group's digest, and false if the group has no observations
// yet -- the inverse of Quantile.
func (m *Maintainer) CDF(tx kv.ReadTransaction, group tuple.Tuple, v float64) (float64, bool, error) {
	val, err := tx.GetValue(m.groupKey(group))
	if err != nil {
		return 0, false, err
	}
	if val == nil {
		return 0, false, nil
	}
	if len(val) < statsLen {
		return 0, false, ixerr.Wrap(ixerr.TruncatedData, "percentile: stored digest shorter than header")
	}
	td, err := tdigest.FromBytes(bytes.NewReader(val[statsLen:]))
	if err != nil {
		return 0, false, ixerr.Wrap(ixerr.InvalidStructure, "percentile: decoding digest: %v", err)
	}
	return td.CDF(v), true, nil
}

// Stats returns the observation count, minimum, maximum, and median
// recorded for group, and false if it has no observations yet.
func (m *Maintainer) Stats(tx kv.ReadTransaction, group tuple.Tuple) (count int64, min, max, median float64, found bool, err error) {
	val, err := tx.GetValue(m.groupKey(group))
	if err != nil {
		return 0, 0, 0, 0, false, err
	}
	if val == nil {
		return 0, 0, 0, 0, false, nil
	}
	if len(val) < statsLen {
		return 0, 0, 0, 0, false, ixerr.Wrap(ixerr.TruncatedData, "percentile: stored digest shorter than header")
	}
	count = int64(binary.BigEndian.Uint64(val[0:8]))
	min = math.Float64frombits(binary.BigEndian.Uint64(val[8:16]))
	max = math.Float64frombits(binary.BigEndian.Uint64(val[16:24]))
	td, err := tdigest.FromBytes(bytes.NewReader(val[statsLen:]))
	if err != nil {
		return 0, 0, 0, 0, false, ixerr.Wrap(ixerr.InvalidStructure, "percentile: decoding digest: %v", err)
	}
	median = td.Quantile(0.5)
	return count, min, max, median, true, nil
}
