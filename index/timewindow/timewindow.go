// Package timewindow implements the TimeWindowLeaderboard index kind:
// a leaderboard variant whose index subspace is partitioned by a
// window identifier derived from each record's timestamp (hourly,
// daily, weekly, or monthly buckets), so a query can ask "who led this
// hour" or "top scorers last week" instead of only ever seeing a single
// all-time ranking.
//
// Every bucket is an entirely independent index/rank skip list -- this
// package does no ranking of its own, it only computes which rank
// board a record's (group, bucket) pair routes to and reuses
// rank.Maintainer unchanged for everything below that.
//
// Window-rollover policy (an explicit Open Question in the design):
// buckets older than windowCount relative to the bucket a write just
// landed in are dropped eagerly, in the same transaction as that
// write, via rank.Maintainer.DropBoard. This keeps storage bounded to
// windowCount live buckets per group without a separate GC pass, at
// the cost of only discovering staleness on the next write to that
// group -- a group that goes quiet keeps its trailing buckets until
// something writes to it again. A bucket directory subspace records
// which buckets exist per group so pruning doesn't need to guess
// bucket identities.
package timewindow

import (
	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/index"
	"github.com/turboindex/ixkernel/index/rank"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

const defaultWindowCount = 7

// bucketWidth, in seconds, for each supported window granularity.
// Monthly uses a 30-day approximation, same tradeoff turbo-geth's own
// epoch-based chunking makes for calendar-irregular units.
func bucketWidthSeconds(w catalog.LeaderboardWindow) int64 {
	switch w {
	case catalog.WindowHourly:
		return 3600
	case catalog.WindowDaily:
		return 86400
	case catalog.WindowWeekly:
		return 7 * 86400
	case catalog.WindowMonthly:
		return 30 * 86400
	default:
		return 86400
	}
}

func bucketID(unixSeconds int64, w catalog.LeaderboardWindow) int64 {
	width := bucketWidthSeconds(w)
	return floorDiv(unixSeconds, width)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// wrapKeyExpr adapts a caller key expression producing
// (...group, timestampUnixSeconds, score) into the single-tuple shape
// rank.Maintainer expects, by replacing the timestamp component with
// its computed bucket id: (...group, bucketID, score).
type wrapKeyExpr struct {
	child  catalog.KeyExpression
	window catalog.LeaderboardWindow
}

func (w wrapKeyExpr) Extract(rec catalog.Record) ([]tuple.Tuple, error) {
	tuples, err := w.child.Extract(rec)
	if err != nil {
		return nil, err
	}
	if len(tuples) != 1 || len(tuples[0]) < 2 {
		return nil, ixerr.Wrap(ixerr.InvalidStructure, "timewindow: key expression must produce exactly one tuple of at least (timestamp, score)")
	}
	t := tuples[0]
	ts, err := numeric(t[len(t)-2])
	if err != nil {
		return nil, err
	}
	out := append(append(tuple.Tuple{}, t[:len(t)-2]...), bucketID(int64(ts), w.window), t[len(t)-1])
	return []tuple.Tuple{out}, nil
}

func numeric(v interface{}) (float64, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, ixerr.Wrap(ixerr.UnsupportedType, "timewindow: unsupported timestamp type %T", v)
	}
}

// Maintainer implements index.Maintainer for TimeWindowLeaderboard
// descriptors.
type Maintainer struct {
	inner       *rank.Maintainer
	bucketDir   tuple.Subspace
	keyExpr     catalog.KeyExpression
	window      catalog.LeaderboardWindow
	windowCount int
}

// New builds a Maintainer for d. d.WindowCount defaults to 7 (the
// configuration surface's leaderboard.defaultWindowCount) when unset.
func New(d catalog.IndexDescriptor) *Maintainer {
	windowCount := d.WindowCount
	if windowCount <= 0 {
		windowCount = defaultWindowCount
	}
	innerDesc := d
	innerDesc.KeyExpression = wrapKeyExpr{child: d.KeyExpression, window: d.Window}
	return &Maintainer{
		inner:       rank.New(innerDesc),
		bucketDir:   tuple.New(d.RootSubspaceKey).Sub(tuple.Tuple{"_buckets"}),
		keyExpr:     d.KeyExpression,
		window:      d.Window,
		windowCount: windowCount,
	}
}

func (m *Maintainer) extractGroupBucket(rec catalog.Record) (group tuple.Tuple, bucket int64, ok bool, err error) {
	if rec == nil {
		return nil, 0, false, nil
	}
	tuples, err := m.keyExpr.Extract(rec)
	if err != nil {
		return nil, 0, false, err
	}
	if len(tuples) != 1 || len(tuples[0]) < 2 {
		return nil, 0, false, ixerr.Wrap(ixerr.InvalidStructure, "timewindow: key expression must produce exactly one tuple of at least (timestamp, score)")
	}
	t := tuples[0]
	ts, err := numeric(t[len(t)-2])
	if err != nil {
		return nil, 0, false, err
	}
	return t[:len(t)-2], bucketID(int64(ts), m.window), true, nil
}

// Update delegates the skip-list insert/delete to the wrapped
// rank.Maintainer, then registers new's bucket in the directory and
// prunes any buckets that have aged out of the retention window.
func (m *Maintainer) Update(tx kv.Transaction, id []byte, old, new catalog.Record) error {
	if err := m.inner.Update(tx, id, old, new); err != nil {
		return err
	}
	group, bucket, ok, err := m.extractGroupBucket(new)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	m.registerBucket(tx, group, bucket)
	return m.pruneOldBuckets(tx, group, bucket)
}

// ScanItem inserts item into its bucket during an online backfill.
func (m *Maintainer) ScanItem(tx kv.Transaction, item index.Item) error {
	if err := m.inner.ScanItem(tx, item); err != nil {
		return err
	}
	group, bucket, ok, err := m.extractGroupBucket(item.Record)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	m.registerBucket(tx, group, bucket)
	return m.pruneOldBuckets(tx, group, bucket)
}

func (m *Maintainer) dirKey(group tuple.Tuple, bucket int64) []byte {
	return m.bucketDir.Pack(append(append(tuple.Tuple{}, group...), bucket))
}

func (m *Maintainer) registerBucket(tx kv.Transaction, group tuple.Tuple, bucket int64) {
	tx.SetValue(m.dirKey(group, bucket), nil)
}

// pruneOldBuckets drops every bucket for group strictly older than
// currentBucket - windowCount + 1, the currentBucket being the most
// recent one this call observed a write land in.
func (m *Maintainer) pruneOldBuckets(tx kv.Transaction, group tuple.Tuple, currentBucket int64) error {
	threshold := currentBucket - int64(m.windowCount) + 1
	groupDir := m.bucketDir.Sub(group)
	begin, end := groupDir.Range()
	it, err := tx.GetRange(begin, end, kv.RangeOptions{})
	if err != nil {
		return err
	}
	defer it.Close()

	var stale []int64
	for it.Next() {
		kvPair := it.KeyValue()
		decoded, derr := groupDir.Unpack(kvPair.Key)
		if derr != nil || len(decoded) != 1 {
			continue
		}
		bucket, ok := decoded[0].(int64)
		if !ok || bucket >= threshold {
			continue
		}
		stale = append(stale, bucket)
	}
	if err := it.Err(); err != nil {
		return err
	}

	for _, bucket := range stale {
		board := append(append(tuple.Tuple{}, group...), bucket)
		m.inner.DropBoard(tx, board)
		tx.Clear(m.dirKey(group, bucket))
	}
	return nil
}

// TopK returns the k highest-scoring members of group's bucket at
// windowOffset windows back from now (0 = the current bucket, 1 = the
// previous one, ...), in descending score order.
func (m *Maintainer) TopK(tx kv.ReadTransaction, group tuple.Tuple, nowUnixSeconds int64, windowOffset, k int) ([]rank.RankedEntry, error) {
	board := m.boardFor(group, nowUnixSeconds, windowOffset)
	return m.inner.TopK(tx, board, k)
}

// Rank returns (score, pk)'s rank within group's bucket at
// windowOffset windows back from now, and false if absent.
func (m *Maintainer) Rank(tx kv.ReadTransaction, group tuple.Tuple, nowUnixSeconds int64, windowOffset int, score float64, pk []byte) (int64, bool, error) {
	board := m.boardFor(group, nowUnixSeconds, windowOffset)
	return m.inner.Rank(tx, board, score, pk)
}

// RangeByRank returns the ranked range [loRank, hiRank) within group's
// bucket at windowOffset windows back from now.
func (m *Maintainer) RangeByRank(tx kv.ReadTransaction, group tuple.Tuple, nowUnixSeconds int64, windowOffset int, loRank, hiRank int64) ([]rank.RankedEntry, error) {
	board := m.boardFor(group, nowUnixSeconds, windowOffset)
	return m.inner.RangeByRank(tx, board, loRank, hiRank)
}

func (m *Maintainer) boardFor(group tuple.Tuple, nowUnixSeconds int64, windowOffset int) tuple.Tuple {
	bucket := bucketID(nowUnixSeconds, m.window) - int64(windowOffset)
	return append(append(tuple.Tuple{}, group...), bucket)
}
