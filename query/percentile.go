package query

import (
	"github.com/turboindex/ixkernel/index/percentile"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// GetPercentile answers getPercentile(group, q): the value at quantile
// q (in [0, 1]) for group's digest.
func GetPercentile(tx kv.ReadTransaction, m *percentile.Maintainer, group tuple.Tuple, q float64) (float64, bool, error) {
	return m.Quantile(tx, group, q)
}

// GetPercentiles answers getPercentiles(group, qs): every q interpolated
// against a single digest read.
func GetPercentiles(tx kv.ReadTransaction, m *percentile.Maintainer, group tuple.Tuple, qs []float64) ([]float64, bool, error) {
	return m.Quantiles(tx, group, qs)
}

// GetCDF answers getCDF(group, v): the fraction of observations <= v.
func GetCDF(tx kv.ReadTransaction, m *percentile.Maintainer, group tuple.Tuple, v float64) (float64, bool, error) {
	return m.CDF(tx, group, v)
}

// Statistics is the count/min/max/median quadruple getStatistics
// returns alongside the digest itself.
type Statistics struct {
	Count  int64
	Min    float64
	Max    float64
	Median float64
}

// GetStatistics answers getStatistics(group).
func GetStatistics(tx kv.ReadTransaction, m *percentile.Maintainer, group tuple.Tuple) (Statistics, bool, error) {
	count, min, max, median, found, err := m.Stats(tx, group)
	if err != nil || !found {
		return Statistics{}, found, err
	}
	return Statistics{Count: count, Min: min, Max: max, Median: median}, true, nil
}
