// Package keyexpr implements key expressions: pure functions from a
// catalog.Record to the ordered tuple(s) an index derives from it.
// Each constructor returns a catalog.KeyExpression so descriptors never
// need to know which concrete expression shape produced their key.
package keyexpr

import (
	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/tuple"
)

// field projects a single named record field into a one-element tuple.
type field struct {
	name string
}

// Field builds a key expression that reads one field by name.
// Extract returns ixerr.NotFound if the field is absent.
func Field(name string) catalog.KeyExpression {
	return field{name: name}
}

func (f field) Extract(rec catalog.Record) ([]tuple.Tuple, error) {
	v, ok := rec.Field(f.name)
	if !ok {
		return nil, ixerr.Wrap(ixerr.NotFound, "keyexpr: field %q absent on record", f.name)
	}
	return []tuple.Tuple{{v}}, nil
}

// concat concatenates the single tuple each child expression produces,
// in order, for compound keys. A concat whose child fans out (produces
// more than one tuple) is a usage error: callers with a to-many
// component must place it at the top via Fanout, not nested under
// Concat.
type concat struct {
	children []catalog.KeyExpression
}

// Concat builds a compound key expression from several single-valued
// children, e.g. Concat(Field("lastName"), Field("firstName")).
func Concat(children ...catalog.KeyExpression) catalog.KeyExpression {
	return concat{children: children}
}

func (c concat) Extract(rec catalog.Record) ([]tuple.Tuple, error) {
	out := make(tuple.Tuple, 0, len(c.children))
	for _, child := range c.children {
		vs, err := child.Extract(rec)
		if err != nil {
			return nil, err
		}
		if len(vs) != 1 {
			return nil, ixerr.Wrap(ixerr.InvalidStructure, "keyexpr: concat child produced %d tuples, expected exactly 1 (to-many components belong under Fanout)", len(vs))
		}
		out = append(out, vs[0]...)
	}
	return []tuple.Tuple{out}, nil
}

// fanout extracts a repeated field and produces one tuple per element,
// for to-many index components (e.g. indexing every tag on a record).
type fanout struct {
	fieldName string
}

// Fanout builds a key expression over a record field holding a slice,
// emitting one tuple per element of the slice.
func Fanout(fieldName string) catalog.KeyExpression {
	return fanout{fieldName: fieldName}
}

func (f fanout) Extract(rec catalog.Record) ([]tuple.Tuple, error) {
	v, ok := rec.Field(f.fieldName)
	if !ok {
		return nil, ixerr.Wrap(ixerr.NotFound, "keyexpr: field %q absent on record", f.fieldName)
	}
	elems, ok := v.([]interface{})
	if !ok {
		return nil, ixerr.Wrap(ixerr.UnsupportedType, "keyexpr: field %q is %T, expected []interface{} for Fanout", f.fieldName, v)
	}
	out := make([]tuple.Tuple, len(elems))
	for i, e := range elems {
		out[i] = tuple.Tuple{e}
	}
	return out, nil
}

// versionstamped wraps a child expression's single produced tuple with
// a trailing tuple.Versionstamp placeholder, so a key built from it
// orders by commit version. The Version maintainer (index/version)
// builds its own versionstamped keys and does not use it.
type versionstamped struct {
	child catalog.KeyExpression
}

// Versionstamped appends a placeholder tuple.Versionstamp{} to the
// child's single produced tuple. The maintainer writing the resulting
// key is responsible for issuing it through a versionstamped KV
// mutation so the store fills in the real value at commit.
func Versionstamped(child catalog.KeyExpression) catalog.KeyExpression {
	return versionstamped{child: child}
}

func (v versionstamped) Extract(rec catalog.Record) ([]tuple.Tuple, error) {
	vs, err := v.child.Extract(rec)
	if err != nil {
		return nil, err
	}
	if len(vs) != 1 {
		return nil, ixerr.Wrap(ixerr.InvalidStructure, "keyexpr: versionstamped child produced %d tuples, expected exactly 1", len(vs))
	}
	out := append(tuple.Tuple{}, vs[0]...)
	out = append(out, tuple.Versionstamp{})
	return []tuple.Tuple{out}, nil
}
