package tuple

// Subspace is a byte-prefix namespace with order-preserving tuple
// pack/unpack, the tuple-layer analogue of a turbo-geth bucket name:
// every key an index writes lives under exactly one Subspace, and a
// prefix scan of the Subspace's Range() finds every row belonging to
// it regardless of how deep its internal key structure goes.
type Subspace struct {
	prefix []byte
}

// New builds the root Subspace for the given raw byte prefix, e.g.
// []byte("/I/byEmail/").
func New(prefix []byte) Subspace {
	return Subspace{prefix: append([]byte(nil), prefix...)}
}

// Sub derives a child subspace by appending a packed tuple to the
// prefix, e.g. root.Sub(Tuple{"byEmail"}) under an index-family root.
func (s Subspace) Sub(t Tuple) Subspace {
	packed := MustPack(t)
	np := make([]byte, 0, len(s.prefix)+len(packed))
	np = append(np, s.prefix...)
	np = append(np, packed...)
	return Subspace{prefix: np}
}

// Bytes returns the raw prefix.
func (s Subspace) Bytes() []byte { return append([]byte(nil), s.prefix...) }

// Pack appends the packed encoding of t to the subspace prefix,
// producing a full key.
func (s Subspace) Pack(t Tuple) []byte {
	packed := MustPack(t)
	out := make([]byte, 0, len(s.prefix)+len(packed))
	out = append(out, s.prefix...)
	out = append(out, packed...)
	return out
}

// Unpack strips the subspace prefix from key and decodes the remainder
// as a Tuple. It errors if key does not belong to this subspace.
func (s Subspace) Unpack(key []byte) (Tuple, error) {
	rest, ok := stripPrefix(key, s.prefix)
	if !ok {
		return nil, errNotInSubspace
	}
	return Unpack(rest)
}

// Range returns [begin, end) bounding every key in the subspace: begin
// is the bare prefix, end is the prefix with 0xFF appended so it sorts
// after every tuple-packed key under the prefix (no packed element
// starts with a byte higher than the tagVersionstamp tag, which is far
// below 0xFF).
func (s Subspace) Range() (begin, end []byte) {
	begin = append([]byte(nil), s.prefix...)
	end = append([]byte(nil), s.prefix...)
	end = append(end, 0xFF)
	return begin, end
}

// RangeForPrefix returns [begin, end) for an equality prefix scan on
// the given leading tuple values, i.e. every key whose first
// len(values) components equal values, in declared order.
func (s Subspace) RangeForPrefix(values Tuple) (begin, end []byte) {
	packed := MustPack(values)
	begin = append(append([]byte(nil), s.prefix...), packed...)
	end = append(append([]byte(nil), s.prefix...), packed...)
	end = append(end, 0xFF)
	return begin, end
}

func stripPrefix(key, prefix []byte) ([]byte, bool) {
	if len(key) < len(prefix) {
		return nil, false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return nil, false
		}
	}
	return key[len(prefix):], true
}

type subspaceError string

func (e subspaceError) Error() string { return string(e) }

var errNotInSubspace = subspaceError("tuple: key does not belong to subspace")
