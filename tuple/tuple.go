// Package tuple implements order-preserving, lexicographic packing of
// composite keys, the same role dbutils.EncodeBlockNumber and
// dbutils.GenerateCompositeStorageKey play for turbo-geth, generalized
// to an arbitrary typed tuple instead of one hand-written key shape per
// bucket.
//
// Every element is encoded with a leading type tag so Unpack can
// recover the original Go value, and every encoding is constructed so
// that byte-lexicographic order on the packed form matches the logical
// order of the value (bool < int < float < string < bytes < tuple <
// versionstamp, and within a type, encoded order matches value order).
package tuple

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/turboindex/ixkernel/ixerr"
)

// Versionstamp is a commit-assigned 10-byte identifier: 8 bytes of
// transaction version plus 2 bytes of in-transaction order.
type Versionstamp [10]byte

// Tuple is an ordered list of typed components. nil, bool, int, int32,
// int64, uint, uint32, uint64 (up to math.MaxInt64), float32, float64,
// string, []byte, Versionstamp, and nested Tuple are supported
// directly; Unpack returns every integer as int64 and every float as
// float64. Other Go types must be converted by the caller.
type Tuple []interface{}

const (
	tagNil byte = iota + 1
	tagFalse
	tagTrue
	tagNegInt
	tagPosInt
	tagFloat
	tagString
	tagBytes
	tagTuple
	tagVersionstamp
)

// Pack encodes t into its order-preserving byte representation.
func Pack(t Tuple) ([]byte, error) {
	var buf bytes.Buffer
	if err := packInto(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustPack panics on error; convenient for static subspace layout keys.
func MustPack(t Tuple) []byte {
	b, err := Pack(t)
	if err != nil {
		panic(err)
	}
	return b
}

func packInto(buf *bytes.Buffer, t Tuple) error {
	for _, el := range t {
		if err := packElem(buf, el); err != nil {
			return err
		}
	}
	return nil
}

func packElem(buf *bytes.Buffer, el interface{}) error {
	switch v := el.(type) {
	case nil:
		buf.WriteByte(tagNil)
	case bool:
		if v {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case int:
		return packInt(buf, int64(v))
	case int32:
		return packInt(buf, int64(v))
	case int64:
		return packInt(buf, v)
	case uint:
		return packInt(buf, int64(v))
	case uint32:
		return packInt(buf, int64(v))
	case uint64:
		if v > math.MaxInt64 {
			return ixerr.Wrap(ixerr.TypeConversionOverflow, "uint64 %d exceeds signed range", v)
		}
		return packInt(buf, int64(v))
	case float32:
		return packFloat(buf, float64(v), 4)
	case float64:
		return packFloat(buf, v, 8)
	case string:
		packEscaped(buf, tagString, []byte(v))
	case []byte:
		packEscaped(buf, tagBytes, v)
	case Versionstamp:
		buf.WriteByte(tagVersionstamp)
		buf.Write(v[:])
	case Tuple:
		buf.WriteByte(tagTuple)
		if err := packInto(buf, v); err != nil {
			return err
		}
		buf.WriteByte(0x00) // end-of-nested-tuple marker
	default:
		return ixerr.Wrap(ixerr.UnsupportedType, "tuple: unsupported component type %T", el)
	}
	return nil
}

// packInt uses sign-magnitude: the tag byte itself encodes sign so that
// all negative-tagged values sort before all positive-tagged ones, and
// negative magnitudes are bit-inverted so a more-negative value packs
// smaller.
func packInt(buf *bytes.Buffer, v int64) error {
	var mag uint64
	if v < 0 {
		mag = uint64(-(v + 1)) // avoid overflow on MinInt64
		mag = ^mag
		buf.WriteByte(tagNegInt)
	} else {
		mag = uint64(v)
		buf.WriteByte(tagPosInt)
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], mag)
	buf.Write(b[:])
	return nil
}

// packFloat reinterprets the IEEE-754 bits and, for negative values,
// inverts every bit (for positive values only the sign bit is flipped)
// so that big-endian byte order on the transformed bits matches
// numeric order, the classic "sign-adjusted IEEE bitwise
// reinterpretation" trick named in the design.
func packFloat(buf *bytes.Buffer, v float64, width int) error {
	bits := math.Float64bits(v)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf.WriteByte(tagFloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], bits)
	buf.Write(b[:])
	return nil
}

// packEscaped 0x00-escapes the payload (0x00 -> 0x00 0xFF) so embedded
// NUL bytes can't be mistaken for element or nested-tuple terminators,
// then terminates with 0x00 0x00.
func packEscaped(buf *bytes.Buffer, tag byte, payload []byte) {
	buf.WriteByte(tag)
	for _, b := range payload {
		if b == 0x00 {
			buf.WriteByte(0x00)
			buf.WriteByte(0xFF)
		} else {
			buf.WriteByte(b)
		}
	}
	buf.WriteByte(0x00)
	buf.WriteByte(0x00)
}

// Unpack decodes the packed byte representation back into a Tuple.
func Unpack(b []byte) (Tuple, error) {
	t, rest, err := unpackUntil(b, false)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ixerr.Wrap(ixerr.InvalidStructure, "tuple: trailing bytes after decode")
	}
	return t, nil
}

// unpackUntil decodes elements until input is exhausted (top level) or
// the nested-tuple terminator 0x00 is seen (nested == true).
func unpackUntil(b []byte, nested bool) (Tuple, []byte, error) {
	var out Tuple
	for {
		if len(b) == 0 {
			if nested {
				return nil, nil, ixerr.Wrap(ixerr.TruncatedData, "tuple: missing nested terminator")
			}
			return out, nil, nil
		}
		if nested && b[0] == 0x00 {
			return out, b[1:], nil
		}
		el, rest, err := unpackElem(b)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, el)
		b = rest
	}
}

func unpackElem(b []byte) (interface{}, []byte, error) {
	tag := b[0]
	b = b[1:]
	switch tag {
	case tagNil:
		return nil, b, nil
	case tagFalse:
		return false, b, nil
	case tagTrue:
		return true, b, nil
	case tagNegInt, tagPosInt:
		if len(b) < 8 {
			return nil, nil, ixerr.Wrap(ixerr.TruncatedData, "tuple: short int")
		}
		mag := binary.BigEndian.Uint64(b[:8])
		if tag == tagNegInt {
			mag = ^mag
			return -int64(mag) - 1, b[8:], nil
		}
		return int64(mag), b[8:], nil
	case tagFloat:
		if len(b) < 8 {
			return nil, nil, ixerr.Wrap(ixerr.TruncatedData, "tuple: short float")
		}
		bits := binary.BigEndian.Uint64(b[:8])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), b[8:], nil
	case tagString, tagBytes:
		payload, rest, err := unescapeUntilDoubleNul(b)
		if err != nil {
			return nil, nil, err
		}
		if tag == tagString {
			return string(payload), rest, nil
		}
		return payload, rest, nil
	case tagVersionstamp:
		if len(b) < 10 {
			return nil, nil, ixerr.Wrap(ixerr.TruncatedData, "tuple: short versionstamp")
		}
		var vs Versionstamp
		copy(vs[:], b[:10])
		return vs, b[10:], nil
	case tagTuple:
		inner, rest, err := unpackUntil(b, true)
		if err != nil {
			return nil, nil, err
		}
		return inner, rest, nil
	default:
		return nil, nil, ixerr.Wrap(ixerr.InvalidStructure, "tuple: unknown tag 0x%02x", tag)
	}
}

func unescapeUntilDoubleNul(b []byte) ([]byte, []byte, error) {
	var out []byte
	for i := 0; i < len(b); i++ {
		if b[i] == 0x00 {
			if i+1 >= len(b) {
				return nil, nil, ixerr.Wrap(ixerr.TruncatedData, "tuple: unterminated string/bytes")
			}
			if b[i+1] == 0xFF {
				out = append(out, 0x00)
				i++
				continue
			}
			// 0x00 0x00 terminator
			return out, b[i+2:], nil
		}
		out = append(out, b[i])
	}
	return nil, nil, ixerr.Wrap(ixerr.TruncatedData, "tuple: unterminated string/bytes")
}

// Compare reports the lexicographic order of two packed keys, exposed
// for callers that want to avoid re-deriving bytes.Compare semantics.
func Compare(a, b []byte) int { return bytes.Compare(a, b) }
