package tuple

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Tuple{
		{nil},
		{true, false},
		{int64(-1), int64(0), int64(1), int64(1 << 40)},
		{float64(-1.5), float64(0), float64(3.25)},
		{"hello\x00world", ""},
		{[]byte{0x00, 0x01, 0xFF}},
		{Tuple{"nested", int64(1)}},
		{Versionstamp{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}},
	}
	for _, c := range cases {
		packed, err := Pack(c)
		require.NoError(t, err)
		got, err := Unpack(packed)
		require.NoError(t, err)
		require.Equal(t, normalize(c), normalize(got))
	}
}

// normalize copies t, recursing into nested Tuples. It converts no
// numeric types, which is why the test table spells every integer as
// int64 (the type Unpack returns).
func normalize(t Tuple) Tuple {
	out := make(Tuple, len(t))
	for i, v := range t {
		if nested, ok := v.(Tuple); ok {
			out[i] = normalize(nested)
			continue
		}
		out[i] = v
	}
	return out
}

func TestOrderPreserved(t *testing.T) {
	ints := []int64{-100, -2, -1, 0, 1, 2, 100}
	var packed [][]byte
	for _, v := range ints {
		b, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed = append(packed, b)
	}
	require.True(t, sort.SliceIsSorted(packed, func(i, j int) bool { return Compare(packed[i], packed[j]) < 0 }))

	floats := []float64{-10.5, -1, 0, 0.5, 10.5}
	packed = nil
	for _, v := range floats {
		b, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed = append(packed, b)
	}
	require.True(t, sort.SliceIsSorted(packed, func(i, j int) bool { return Compare(packed[i], packed[j]) < 0 }))

	strs := []string{"a", "aa", "ab", "b", "ba"}
	packed = nil
	for _, v := range strs {
		b, err := Pack(Tuple{v})
		require.NoError(t, err)
		packed = append(packed, b)
	}
	require.True(t, sort.SliceIsSorted(packed, func(i, j int) bool { return Compare(packed[i], packed[j]) < 0 }))
}

func TestSubspaceRangeAndPrefix(t *testing.T) {
	root := New([]byte("/I/byEmail/"))
	k1 := root.Pack(Tuple{"a@x", "u1"})
	k2 := root.Pack(Tuple{"b@x", "u2"})

	begin, end := root.Range()
	require.True(t, Compare(begin, k1) <= 0)
	require.True(t, Compare(k2, end) < 0)

	decoded, err := root.Unpack(k1)
	require.NoError(t, err)
	require.Equal(t, Tuple{"a@x", "u1"}, decoded)

	pBegin, pEnd := root.RangeForPrefix(Tuple{"a@x"})
	require.True(t, Compare(pBegin, k1) <= 0 && Compare(k1, pEnd) < 0)
	require.False(t, Compare(pBegin, k2) <= 0 && Compare(k2, pEnd) < 0)
}
