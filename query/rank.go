package query

import (
	"github.com/turboindex/ixkernel/index/rank"
	"github.com/turboindex/ixkernel/index/timewindow"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// RankOf returns (score, pk)'s rank within board, and false if absent.
func RankOf(tx kv.ReadTransaction, m *rank.Maintainer, board tuple.Tuple, score float64, pk []byte) (int64, bool, error) {
	return m.Rank(tx, board, score, pk)
}

// TopK returns board's k highest-scoring members, truncated by limit
// on top of k itself so a caller enforcing a global result cap doesn't
// need a second pass.
func TopK(tx kv.ReadTransaction, m *rank.Maintainer, board tuple.Tuple, k int, limit Limit) ([]rank.RankedEntry, LimitReason, error) {
	if limit.MaxResults > 0 && limit.MaxResults < k {
		k = limit.MaxResults
	}
	out, err := m.TopK(tx, board, k)
	if err != nil {
		return nil, LimitNone, err
	}
	if reason, hit := limit.reached(len(out)); hit {
		return out, reason, nil
	}
	return out, LimitNone, nil
}

// RangeByRank returns board's members with rank in [loRank, hiRank).
func RangeByRank(tx kv.ReadTransaction, m *rank.Maintainer, board tuple.Tuple, loRank, hiRank int64) ([]rank.RankedEntry, error) {
	return m.RangeByRank(tx, board, loRank, hiRank)
}

// WindowTopK is TopK against a time-windowed leaderboard bucket
// windowOffset windows back from nowUnixSeconds (0 = current bucket).
func WindowTopK(tx kv.ReadTransaction, m *timewindow.Maintainer, group tuple.Tuple, nowUnixSeconds int64, windowOffset, k int, limit Limit) ([]rank.RankedEntry, LimitReason, error) {
	if limit.MaxResults > 0 && limit.MaxResults < k {
		k = limit.MaxResults
	}
	out, err := m.TopK(tx, group, nowUnixSeconds, windowOffset, k)
	if err != nil {
		return nil, LimitNone, err
	}
	if reason, hit := limit.reached(len(out)); hit {
		return out, reason, nil
	}
	return out, LimitNone, nil
}

// WindowRankOf is RankOf against a time-windowed leaderboard bucket.
func WindowRankOf(tx kv.ReadTransaction, m *timewindow.Maintainer, group tuple.Tuple, nowUnixSeconds int64, windowOffset int, score float64, pk []byte) (int64, bool, error) {
	return m.Rank(tx, group, nowUnixSeconds, windowOffset, score, pk)
}

// WindowRangeByRank is RangeByRank against a time-windowed leaderboard
// bucket.
func WindowRangeByRank(tx kv.ReadTransaction, m *timewindow.Maintainer, group tuple.Tuple, nowUnixSeconds int64, windowOffset int, loRank, hiRank int64) ([]rank.RankedEntry, error) {
	return m.RangeByRank(tx, group, nowUnixSeconds, windowOffset, loRank, hiRank)
}
