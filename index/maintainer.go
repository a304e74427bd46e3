// Package index declares the maintainer protocol every index kind
// implements and a few helpers shared across the per-kind subpackages
// (index/scalar, index/bitmap, index/agg, index/percentile, index/rank,
// index/version).
package index

import (
	"github.com/turboindex/ixkernel/catalog"
	"github.com/turboindex/ixkernel/kv"
)

// Item is one record as seen by a maintainer: its primary key and the
// decoded record to extract index keys from.
type Item struct {
	PrimaryKey []byte
	Record     catalog.Record
}

// Maintainer is the uniform contract every index kind implements.
// Update is called on every record mutation (insert: old == nil,
// update: both non-nil, delete: new == nil) and must leave the index
// consistent with exactly the new state. ScanItem is called once per
// record during an online backfill and must produce the same result
// as calling Update(nil, item) from empty.
//
// Implementations compute the key sets old and new would extract and
// short-circuit to a no-op when they're equal, rather than exposing a
// separate "did this change" predicate -- the maintainer already has
// to extract both sets to compute the delta, so a second pass over the
// same data would just repeat the work.
type Maintainer interface {
	Update(tx kv.Transaction, id []byte, old, new catalog.Record) error
	ScanItem(tx kv.Transaction, item Item) error
}

// Descriptor is the subset of catalog.IndexDescriptor every maintainer
// constructor needs, named here so subpackages don't each re-import
// catalog's full descriptor type in their exported constructors.
type Descriptor = catalog.IndexDescriptor
