package query

import (
	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/ixerr"
)

// RowSource is a pull-style stream of records for the in-memory
// aggregation fallback, the same Next/Err shape kv.Iterator uses.
// Callers typically build one from a scalar/bitmap scan's resolved
// primary keys plus a record loader.
type RowSource interface {
	Next() bool
	Record() catalog.Record
	Err() error
}

// AggFunc enumerates the aggregation functions the fallback path
// supports -- the same set index/agg maintains incrementally.
type AggFunc uint8

const (
	AggCount AggFunc = iota
	AggSum
	AggAverage
	AggMin
	AggMax
)

// AggregateResult is the outcome of the fallback aggregator. Count is
// always the number of rows observed (with a non-absent field value,
// for every fn other than AggCount); Value holds the sum, average, or
// extreme depending on fn and is meaningless for AggCount.
type AggregateResult struct {
	Value float64
	Count int64
}

func numericField(rec catalog.Record, field string) (float64, bool, error) {
	v, ok := rec.Field(field)
	if !ok {
		return 0, false, nil
	}
	switch x := v.(type) {
	case int:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case float32:
		return float64(x), true, nil
	case float64:
		return x, true, nil
	default:
		return 0, false, ixerr.Wrap(ixerr.UnsupportedType, "query: unsupported aggregation field type %T", v)
	}
}

// Aggregate computes fn over the values field extracts from every
// record rows yields. This is the path a query takes when no
// maintained Count/Sum/Average/Min/Max index matches its group-fields
// and function: a plain scan substitutes for the precomputed counter,
// at the cost of visiting every row instead of one key.
func Aggregate(rows RowSource, field string, fn AggFunc) (AggregateResult, error) {
	var (
		count int64
		sum   float64
		extr  float64
		have  bool
	)
	for rows.Next() {
		if fn == AggCount {
			count++
			continue
		}
		value, ok, err := numericField(rows.Record(), field)
		if err != nil {
			return AggregateResult{}, err
		}
		if !ok {
			continue
		}
		count++
		switch fn {
		case AggSum, AggAverage:
			sum += value
		case AggMin:
			if !have || value < extr {
				extr = value
				have = true
			}
		case AggMax:
			if !have || value > extr {
				extr = value
				have = true
			}
		}
	}
	if err := rows.Err(); err != nil {
		return AggregateResult{}, err
	}

	switch fn {
	case AggCount:
		return AggregateResult{Count: count}, nil
	case AggSum:
		return AggregateResult{Value: sum, Count: count}, nil
	case AggAverage:
		if count == 0 {
			return AggregateResult{Count: 0}, nil
		}
		return AggregateResult{Value: sum / float64(count), Count: count}, nil
	case AggMin, AggMax:
		return AggregateResult{Value: extr, Count: count}, nil
	default:
		return AggregateResult{}, ixerr.Wrap(ixerr.UnsupportedType, "query: unknown aggregation function %d", fn)
	}
}
