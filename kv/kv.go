// Package kv is the thin contract the index kernel uses to talk to the
// underlying ordered key/value store. It plays the same role here that
// github.com/ledgerwatch/erigon-lib/kv's Tx/Cursor pair plays for
// turbo-geth: a small surface the rest of the kernel is written against,
// so a real backend (FoundationDB, MDBX, a cloud KV service) can be
// dropped in without touching a single maintainer.
//
// Variables Naming (same convention erigon-lib documents):
//
//	tx   - transaction
//	k, v - key, value
//	ro   - read-only
//	rw   - read-write
package kv

import (
	"context"
	"errors"
)

// ErrorKind classifies an error returned by the store so callers know
// whether to replay the logical operation from scratch.
type ErrorKind uint8

const (
	KindFatal ErrorKind = iota
	KindRetryable
	KindTransactionTooOld
	KindNotCommitted
)

// StoreError wraps a backend-specific failure with its classification.
type StoreError struct {
	Kind ErrorKind
	Err  error
}

func (e *StoreError) Error() string { return e.Err.Error() }
func (e *StoreError) Unwrap() error { return e.Err }

// IsRetryable reports whether err (or any error it wraps) demands the
// caller replay the whole logical operation, from the first read.
func IsRetryable(err error) bool {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Kind == KindRetryable
	}
	return false
}

// MutationType enumerates the atomic operations the store must support
// without generating a read-conflict range. add/min/max/bitOr/bitAnd
// commute; the two versionstamp ops are write-only placeholders resolved
// at commit time.
type MutationType uint8

const (
	MutationAdd MutationType = iota
	MutationMin
	MutationMax
	MutationBitOr
	MutationBitAnd
	// MutationSetVersionstampedKey treats the key as a template: the two
	// little-endian bytes at the end of param give the offset (within
	// key) where the commit-assigned 10-byte versionstamp is spliced in.
	MutationSetVersionstampedKey
	// MutationSetVersionstampedValue does the same substitution inside
	// value instead of key.
	MutationSetVersionstampedValue
)

// VersionstampLen is the width of a commit-assigned versionstamp: 8
// bytes of transaction (commit) version plus 2 bytes of in-transaction
// order.
const VersionstampLen = 10

// KeyValue is one row of a range scan.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// RangeOptions configures a GetRange call. Limit <= 0 means unbounded.
type RangeOptions struct {
	Limit   int
	Reverse bool
}

// Iterator is a restartable forward (or reverse) stream over a range
// scan. Implementations must not assume a single scan spans a
// transaction boundary: on retry the caller restarts from scratch using
// the last key it successfully consumed.
type Iterator interface {
	// Next advances the iterator. It returns false when the stream is
	// exhausted; callers must check Err() afterwards.
	Next() bool
	KeyValue() KeyValue
	Err() error
	Close()
}

// Transaction is the live handle every maintainer operation executes
// against. It is not safe for concurrent use and must not escape the
// callback it was handed to.
type Transaction interface {
	GetValue(key []byte) ([]byte, error)
	GetRange(begin, end []byte, opts RangeOptions) (Iterator, error)

	SetValue(key, value []byte)
	Clear(key []byte)
	ClearRange(begin, end []byte)

	// AtomicOp applies a commutative mutation. It never generates a
	// read-conflict range, so two transactions touching the same key
	// with AtomicOp never abort each other.
	AtomicOp(key, param []byte, op MutationType)

	// IncrementSequence returns a fresh monotonically increasing value
	// scoped to name, read-modify-write (unlike AtomicOp, the result is
	// visible to the caller inside the same transaction). Modeled on
	// erigon-lib kv.StatelessWriteTx.IncrementSequence.
	IncrementSequence(name string, amount int64) (int64, error)

	GetReadVersion() (int64, error)
	// GetApproximateTimestamp converts a commit version (or a
	// versionstamp's leading 8 bytes) to an approximate wall-clock
	// time, backing KeepForDuration retention.
	GetApproximateTimestamp(version int64) (unixNanos int64, err error)
}

// ReadTransaction is the read-only half of Transaction, used for
// snapshot reads and query-side traversal that never need to write.
type ReadTransaction interface {
	GetValue(key []byte) ([]byte, error)
	GetRange(begin, end []byte, opts RangeOptions) (Iterator, error)
	GetReadVersion() (int64, error)
	GetApproximateTimestamp(version int64) (unixNanos int64, err error)
}

// Store is the database handle. Transact retries the callback for as
// long as it returns a KindRetryable error; ReadTransact runs a single
// snapshot read with no mutation capability.
type Store interface {
	Transact(ctx context.Context, f func(Transaction) error) error
	ReadTransact(ctx context.Context, f func(ReadTransaction) error) error
	GetCommittedVersion() (int64, error)
	Close() error
}
