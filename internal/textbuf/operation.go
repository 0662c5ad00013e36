package textbuf

import (
	"encoding/json"
	"fmt"

	"cothread/internal/clock"
)

// ElementID identifies one inserted byte: the edit operation that produced
// it plus the byte's ordinal within that operation.
type ElementID struct {
	Op  clock.Lamport `json:"op"`
	Ord uint32        `json:"ord"`
}

// Operation is a replicated buffer mutation. Applying the same set of
// operations in any causally consistent order yields the same buffer state.
type Operation interface {
	OperationID() clock.Lamport
	// Dependencies is the version the generating replica had observed when
	// it produced the operation. An operation is applied only once the local
	// version dominates it.
	Dependencies() clock.Global
}

// InsertedRun is a contiguous chunk of text inserted by one edit. Element
// ids for the run's bytes are (op, Ord), (op, Ord+1), and so on; Positions
// holds one dense position per byte.
type InsertedRun struct {
	Ord       uint32     `json:"ord"`
	Text      string     `json:"text"`
	Positions []Position `json:"positions"`
}

// EditOperation replaces ranges of text: it tombstones the deleted elements
// and inserts new runs at pre-generated positions.
type EditOperation struct {
	ID       clock.Lamport `json:"id"`
	Version  clock.Global  `json:"version"`
	Deleted  []ElementID   `json:"deleted,omitempty"`
	Inserted []InsertedRun `json:"inserted,omitempty"`
}

func (op *EditOperation) OperationID() clock.Lamport { return op.ID }
func (op *EditOperation) Dependencies() clock.Global { return op.Version }

// UndoOperation toggles the effect of earlier edits. Counts carries the undo
// count per edit operation and merges by maximum; an even count leaves the
// edit in force, an odd count suspends it. Max-merging makes concurrent
// undo/redo commutative.
type UndoOperation struct {
	ID      clock.Lamport            `json:"id"`
	Version clock.Global             `json:"version"`
	Counts  map[clock.Lamport]uint32 `json:"counts"`
}

func (op *UndoOperation) OperationID() clock.Lamport { return op.ID }
func (op *UndoOperation) Dependencies() clock.Global { return op.Version }

type operationEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// EncodeOperation serializes a buffer operation for the wire.
func EncodeOperation(op Operation) ([]byte, error) {
	var kind string
	switch op.(type) {
	case *EditOperation:
		kind = "edit"
	case *UndoOperation:
		kind = "undo"
	default:
		return nil, fmt.Errorf("unknown buffer operation type %T", op)
	}
	body, err := json.Marshal(op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(operationEnvelope{Kind: kind, Body: body})
}

// DecodeOperation deserializes a buffer operation from the wire.
func DecodeOperation(data []byte) (Operation, error) {
	var env operationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding buffer operation envelope: %w", err)
	}
	switch env.Kind {
	case "edit":
		op := &EditOperation{}
		if err := json.Unmarshal(env.Body, op); err != nil {
			return nil, fmt.Errorf("decoding edit operation: %w", err)
		}
		return op, nil
	case "undo":
		op := &UndoOperation{}
		if err := json.Unmarshal(env.Body, op); err != nil {
			return nil, fmt.Errorf("decoding undo operation: %w", err)
		}
		return op, nil
	default:
		return nil, fmt.Errorf("unknown buffer operation kind %q", env.Kind)
	}
}
