package keyexpr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/tuple"
)

func TestField(t *testing.T) {
	rec := catalog.Map{"email": "a@x.com"}
	vs, err := Field("email").Extract(rec)
	require.NoError(t, err)
	require.Equal(t, []tuple.Tuple{{"a@x.com"}}, vs)

	_, err = Field("missing").Extract(rec)
	require.Error(t, err)
}

func TestConcat(t *testing.T) {
	rec := catalog.Map{"last": "Doe", "first": "Jane"}
	expr := Concat(Field("last"), Field("first"))
	vs, err := expr.Extract(rec)
	require.NoError(t, err)
	require.Equal(t, []tuple.Tuple{{"Doe", "Jane"}}, vs)
}

func TestFanout(t *testing.T) {
	rec := catalog.Map{"tags": []interface{}{"a", "b", "c"}}
	vs, err := Fanout("tags").Extract(rec)
	require.NoError(t, err)
	require.Equal(t, []tuple.Tuple{{"a"}, {"b"}, {"c"}}, vs)
}

func TestVersionstamped(t *testing.T) {
	rec := catalog.Map{"status": "open"}
	expr := Versionstamped(Field("status"))
	vs, err := expr.Extract(rec)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	require.Len(t, vs[0], 2)
	require.Equal(t, "open", vs[0][0])
	_, ok := vs[0][1].(tuple.Versionstamp)
	require.True(t, ok)
}

func TestConcatRejectsFanoutChild(t *testing.T) {
	rec := catalog.Map{"tags": []interface{}{"a", "b"}, "owner": "u1"}
	expr := Concat(Fanout("tags"), Field("owner"))
	_, err := expr.Extract(rec)
	require.Error(t, err)
}
