// Package ixerr defines the error taxonomy shared across the index
// maintenance and query kernel. Every kind named in the design is a
// sentinel wrapped with fmt.Errorf("...: %w") context at the call site,
// the same way turbo-geth wraps ethdb.ErrKeyNotFound.
package ixerr

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Use errors.Is(err, ixerr.SchemaMismatch) etc. to
// classify an error returned from the kernel.
var (
	SchemaMismatch       = errors.New("ixkernel: schema mismatch")
	FieldCountMismatch   = errors.New("ixkernel: field count mismatch")
	UnsupportedType      = errors.New("ixkernel: unsupported type")
	TypeConversionOverflow = errors.New("ixkernel: type conversion overflow")
	UniquenessViolation  = errors.New("ixkernel: uniqueness violation")
	IndexStateViolation  = errors.New("ixkernel: index state violation")
	NotFound             = errors.New("ixkernel: not found")
	InvalidStructure     = errors.New("ixkernel: invalid structure")
	TruncatedData        = errors.New("ixkernel: truncated data")
	UnknownWireType      = errors.New("ixkernel: unknown wire type")
	VarintOverflow       = errors.New("ixkernel: varint overflow")
	Retryable            = errors.New("ixkernel: retryable")
	TransactionTooOld    = errors.New("ixkernel: transaction too old")
	Cancelled            = errors.New("ixkernel: cancelled")
	Timeout              = errors.New("ixkernel: timeout")
)

// Violation carries the structured detail for a UniquenessViolation error.
// It is both returned to the immediate-mode caller and, in track mode,
// persisted under the index's violations subspace.
type Violation struct {
	IndexName  string
	Value      []byte
	ExistingPK []byte
	NewPK      []byte
}

func (v *Violation) Error() string {
	return fmt.Sprintf("ixkernel: uniqueness violation on index %q: existing PK %x conflicts with new PK %x", v.IndexName, v.ExistingPK, v.NewPK)
}

func (v *Violation) Unwrap() error { return UniquenessViolation }

// NewViolation builds a Violation error ready to wrap or persist.
func NewViolation(index string, value, existingPK, newPK []byte) *Violation {
	return &Violation{IndexName: index, Value: append([]byte(nil), value...), ExistingPK: append([]byte(nil), existingPK...), NewPK: append([]byte(nil), newPK...)}
}

// Wrap attaches context to a sentinel kind the way the teacher wraps
// ethdb.ErrKeyNotFound: fmt.Errorf("...: %w", err).
func Wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}
