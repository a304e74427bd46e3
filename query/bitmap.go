package query

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/turboindex/ixkernel/index/bitmap"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// AndQuery intersects the membership bitmaps for every value in
// values, segment-by-segment the way roaring containers do: a value
// with no shards at all contributes an empty set, so the intersection
// is empty too.
func AndQuery(tx kv.ReadTransaction, m *bitmap.Maintainer, values []tuple.Tuple) (*roaring.Bitmap, error) {
	if len(values) == 0 {
		return roaring.New(), nil
	}
	out, err := m.Bitmap(tx, values[0])
	if err != nil {
		return nil, err
	}
	for _, v := range values[1:] {
		bm, err := m.Bitmap(tx, v)
		if err != nil {
			return nil, err
		}
		out.And(bm)
	}
	return out, nil
}

// OrQuery unions the membership bitmaps for every value in values.
func OrQuery(tx kv.ReadTransaction, m *bitmap.Maintainer, values []tuple.Tuple) (*roaring.Bitmap, error) {
	out := roaring.New()
	for _, v := range values {
		bm, err := m.Bitmap(tx, v)
		if err != nil {
			return nil, err
		}
		out.Or(bm)
	}
	return out, nil
}

// AndNotQuery returns the membership bitmap for a with every member of
// b's bitmap removed.
func AndNotQuery(tx kv.ReadTransaction, m *bitmap.Maintainer, a, b tuple.Tuple) (*roaring.Bitmap, error) {
	bmA, err := m.Bitmap(tx, a)
	if err != nil {
		return nil, err
	}
	bmB, err := m.Bitmap(tx, b)
	if err != nil {
		return nil, err
	}
	bmA.AndNot(bmB)
	return bmA, nil
}

// GetPrimaryKeys resolves every internal ID set in bm back to its
// primary key, in ID order, stopping early once limit.MaxResults keys
// have been resolved.
func GetPrimaryKeys(tx kv.ReadTransaction, m *bitmap.Maintainer, bm *roaring.Bitmap, limit Limit) ([][]byte, LimitReason, error) {
	var out [][]byte
	it := bm.Iterator()
	for it.HasNext() {
		if reason, hit := limit.reached(len(out)); hit {
			return out, reason, nil
		}
		pk, err := m.PrimaryKey(tx, it.Next())
		if err != nil {
			return nil, LimitNone, err
		}
		out = append(out, pk)
	}
	return out, LimitNone, nil
}

// GetAllDistinctValues returns every value m currently has at least
// one member for.
func GetAllDistinctValues(tx kv.ReadTransaction, m *bitmap.Maintainer) ([]tuple.Tuple, error) {
	return m.DistinctValues(tx)
}
