package catalog

import "github.com/turboindex/ixkernel/tuple"

// FieldType is the wire-level scalar type of a schema field, mirrored
// from the external record codec's schema catalog (protobuf-like
// field descriptors): only the tag is needed here, not the codec.
type FieldType uint8

const (
	FieldInt32 FieldType = iota
	FieldInt64
	FieldUint32
	FieldUint64
	FieldFloat32
	FieldFloat64
	FieldBool
	FieldString
	FieldBytes
	FieldEnum
)

// Field describes one schema field, matching the persisted
// /_schema/<entity> layout: {name, fieldNumber, type, optional, isArray}.
type Field struct {
	Name        string    `json:"name"`
	FieldNumber int       `json:"fieldNumber"`
	Type        FieldType `json:"type"`
	Optional    bool      `json:"optional"`
	IsArray     bool      `json:"isArray"`
}

// EnumMetadata maps an enum field's declared type name to its ordinal
// labels, carried alongside field descriptors the way a protobuf enum
// descriptor would be.
type EnumMetadata struct {
	TypeName string            `json:"typeName"`
	Values   map[int32]string  `json:"values"`
}

// ValueTypeTag is the erased-generic dispatch tag named in the design's
// "type-parameterized kinds with erased value types" note: Sum<V>,
// Rank<Score> and friends were source-level generics; on disk only a
// tag survives restart, so every aggregation/rank descriptor carries
// one of these instead of a Go type parameter.
type ValueTypeTag uint8

const (
	TagInt32 ValueTypeTag = iota
	TagInt64
	TagFloat32
	TagFloat64
)

// UniquenessMode selects how a Scalar/Compound/Permuted index reacts to
// a colliding field-prefix on insert.
type UniquenessMode uint8

const (
	UniquenessSkip UniquenessMode = iota
	UniquenessImmediate
	UniquenessTrack
)

// RetentionKind selects a Version index's pruning policy.
type RetentionKind uint8

const (
	RetentionKeepAll RetentionKind = iota
	RetentionKeepLastN
	RetentionKeepForDuration
)

// RetentionPolicy is the Version index's configured retention.
type RetentionPolicy struct {
	Kind         RetentionKind `json:"kind"`
	KeepLastN    int           `json:"keepLastN,omitempty"`
	KeepDuration int64         `json:"keepDurationSeconds,omitempty"`
}

// LeaderboardWindow selects a TimeWindowLeaderboard's bucket size.
type LeaderboardWindow uint8

const (
	WindowHourly LeaderboardWindow = iota
	WindowDaily
	WindowWeekly
	WindowMonthly
)

// IndexKind is the tagged variant identifying which maintainer owns a
// descriptor.
type IndexKind uint8

const (
	KindScalar IndexKind = iota
	KindCompound
	KindPermuted
	KindBitmap
	KindCount
	KindSum
	KindAverage
	KindMin
	KindMax
	KindRank
	KindTimeWindowLeaderboard
	KindPercentile
	KindVersion
)

func (k IndexKind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindCompound:
		return "Compound"
	case KindPermuted:
		return "Permuted"
	case KindBitmap:
		return "Bitmap"
	case KindCount:
		return "Count"
	case KindSum:
		return "Sum"
	case KindAverage:
		return "Average"
	case KindMin:
		return "Min"
	case KindMax:
		return "Max"
	case KindRank:
		return "Rank"
	case KindTimeWindowLeaderboard:
		return "TimeWindowLeaderboard"
	case KindPercentile:
		return "Percentile"
	case KindVersion:
		return "Version"
	default:
		return "Unknown"
	}
}

// KeyExpression is a pure function from a record to the ordered key
// tuple(s) it contributes to an index. Implementations live in package
// keyexpr; the interface is declared here so IndexDescriptor doesn't
// need to import keyexpr, and keyexpr doesn't need to import the rest
// of catalog.
type KeyExpression interface {
	Extract(rec Record) ([]tuple.Tuple, error)
}

// IndexDescriptor is immutable after creation; it is cached in memory
// and invalidated on catalog mutation, never mutated in place.
type IndexDescriptor struct {
	Name                     string          `json:"name"`
	Kind                     IndexKind       `json:"kind"`
	KeyExpression            KeyExpression   `json:"-"`
	RootSubspaceKey          []byte          `json:"rootSubspaceKey"`
	ParticipatingRecordTypes []string        `json:"participatingRecordTypes"`
	UniquenessMode           UniquenessMode  `json:"uniquenessMode"`

	// Permuted
	Permutation []int `json:"permutation,omitempty"`

	// Sum/Min/Max
	ValueType ValueTypeTag `json:"valueType,omitempty"`

	// Rank / TimeWindowLeaderboard
	BucketSize int               `json:"bucketSize,omitempty"`
	MaxLevels  int               `json:"maxLevels,omitempty"`
	Window     LeaderboardWindow `json:"window,omitempty"`
	WindowCount int              `json:"windowCount,omitempty"`

	// Percentile
	Compression int `json:"compression,omitempty"`

	// Version
	Retention RetentionPolicy `json:"retention,omitempty"`
}

// EntitySchema is the persisted per-entity schema document stored at
// /_schema/<entityName>.
type EntitySchema struct {
	Name                string            `json:"name"`
	Fields              []Field           `json:"fields"`
	DirectoryComponents []string          `json:"directoryComponents"`
	IndexDescriptors     []IndexDescriptor `json:"indexDescriptors"`
	EnumMetadata        []EnumMetadata    `json:"enumMetadata"`
}
