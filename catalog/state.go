package catalog

import (
	"context"
	"encoding/json"

	"github.com/turboindex/ixkernel/ixerr"
	"github.com/turboindex/ixkernel/kv"
	"github.com/turboindex/ixkernel/tuple"
)

// BuildPhase is the online-builder lifecycle stage of an index: a
// newly created index starts Disabled, moves to WriteOnly once new
// mutations begin populating it, and only becomes ReadWrite once a
// backfill over every existing record has completed.
type BuildPhase uint8

const (
	PhaseDisabled BuildPhase = iota
	PhaseWriteOnly
	PhaseReadWrite
)

func (p BuildPhase) String() string {
	switch p {
	case PhaseDisabled:
		return "Disabled"
	case PhaseWriteOnly:
		return "WriteOnly"
	case PhaseReadWrite:
		return "ReadWrite"
	default:
		return "Unknown"
	}
}

// IndexState is the persisted build state for one index, stored at
// /I/<indexName>/_state. BuildCursor is the last primary key the
// backfill scanner completed, nil until a backfill has started and
// cleared once it reaches PhaseReadWrite.
type IndexState struct {
	IndexName   string     `json:"indexName"`
	Phase       BuildPhase `json:"phase"`
	BuildCursor []byte     `json:"buildCursor,omitempty"`
}

func stateKey(indexName string) []byte {
	return tuple.New([]byte("/I/")).Sub(tuple.Tuple{indexName}).Pack(tuple.Tuple{"_state"})
}

// LoadState reads the current build state for indexName, defaulting to
// PhaseDisabled with no cursor if none has ever been written.
func LoadState(ctx context.Context, store kv.Store, indexName string) (*IndexState, error) {
	var state *IndexState
	err := store.ReadTransact(ctx, func(tx kv.ReadTransaction) error {
		val, err := tx.GetValue(stateKey(indexName))
		if err != nil {
			return err
		}
		if val == nil {
			state = &IndexState{IndexName: indexName, Phase: PhaseDisabled}
			return nil
		}
		var s IndexState
		if err := json.Unmarshal(val, &s); err != nil {
			return ixerr.Wrap(ixerr.InvalidStructure, "catalog: decoding index state for %q: %v", indexName, err)
		}
		state = &s
		return nil
	})
	return state, err
}

// SaveState persists state within its own transaction.
func SaveState(ctx context.Context, store kv.Store, state *IndexState) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "catalog: encoding index state for %q: %v", state.IndexName, err)
	}
	return store.Transact(ctx, func(tx kv.Transaction) error {
		tx.SetValue(stateKey(state.IndexName), encoded)
		return nil
	})
}

// Advance validates and applies the one legal forward transition
// (Disabled->WriteOnly->ReadWrite) within tx, so a caller building an
// index can fold the state write into the same transaction as the last
// backfill batch. It refuses to skip a phase or move backward.
func Advance(tx kv.Transaction, state *IndexState, next BuildPhase) error {
	switch {
	case state.Phase == PhaseDisabled && next == PhaseWriteOnly:
	case state.Phase == PhaseWriteOnly && next == PhaseReadWrite:
	default:
		return ixerr.Wrap(ixerr.IndexStateViolation, "catalog: illegal transition %s -> %s for index %q", state.Phase, next, state.IndexName)
	}
	state.Phase = next
	if next == PhaseReadWrite {
		state.BuildCursor = nil
	}
	encoded, err := json.Marshal(state)
	if err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "catalog: encoding index state for %q: %v", state.IndexName, err)
	}
	tx.SetValue(stateKey(state.IndexName), encoded)
	return nil
}

// AdvanceCursor persists a new backfill cursor without changing phase,
// the steady-state write of a resumable backfill loop.
func AdvanceCursor(tx kv.Transaction, state *IndexState, cursor []byte) error {
	state.BuildCursor = cursor
	encoded, err := json.Marshal(state)
	if err != nil {
		return ixerr.Wrap(ixerr.InvalidStructure, "catalog: encoding index state for %q: %v", state.IndexName, err)
	}
	tx.SetValue(stateKey(state.IndexName), encoded)
	return nil
}

// Readable reports whether queries may use the index for full,
// consistent answers. WriteOnly indexes are being kept in sync but
// have not finished a backfill over records written before the index
// was created, so serving a query from them would silently omit rows.
func (s *IndexState) Readable() bool { return s.Phase == PhaseReadWrite }

// Writable reports whether record mutations must maintain the index.
func (s *IndexState) Writable() bool { return s.Phase != PhaseDisabled }
