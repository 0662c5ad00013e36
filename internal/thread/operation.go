package thread

import (
	"encoding/json"
	"fmt"

	"cothread/internal/clock"
	"cothread/internal/textbuf"
)

// Operation is a replicated document mutation. Every operation carries the
// document version its author had observed; application is deferred until
// the local replica dominates that version.
type Operation interface {
	// OpTimestamp orders operations and keys deduplication.
	OpTimestamp() clock.Lamport
	// OpVersion is the author's document version at creation time. Buffer
	// operations return nil; the buffer tracks its own dependencies.
	OpVersion() clock.Global
}

// InsertMessageOp introduces a message boundary. Application is idempotent:
// a boundary whose id is already known is ignored.
type InsertMessageOp struct {
	Anchor   MessageAnchor   `json:"anchor"`
	Metadata MessageMetadata `json:"metadata"`
	Version  clock.Global    `json:"version"`
}

func (op *InsertMessageOp) OpTimestamp() clock.Lamport { return op.Anchor.ID }
func (op *InsertMessageOp) OpVersion() clock.Global    { return op.Version }

// UpdateMessageOp replaces a message's metadata. Concurrent updates resolve
// last-writer-wins by the metadata timestamp.
type UpdateMessageOp struct {
	MessageID MessageID       `json:"message_id"`
	Metadata  MessageMetadata `json:"metadata"`
	Version   clock.Global    `json:"version"`
}

func (op *UpdateMessageOp) OpTimestamp() clock.Lamport { return op.Metadata.Timestamp }
func (op *UpdateMessageOp) OpVersion() clock.Global    { return op.Version }

// UpdateSummaryOp replaces the document summary, last-writer-wins.
type UpdateSummaryOp struct {
	Summary Summary      `json:"summary"`
	Version clock.Global `json:"version"`
}

func (op *UpdateSummaryOp) OpTimestamp() clock.Lamport { return op.Summary.Timestamp }
func (op *UpdateSummaryOp) OpVersion() clock.Global    { return op.Version }

// CommandStartedOp announces a slash-command invocation and the anchored
// range its output occupies.
type CommandStartedOp struct {
	ID          CommandID           `json:"id"`
	OutputRange textbuf.AnchorRange `json:"output_range"`
	Name        string              `json:"name"`
	Version     clock.Global        `json:"version"`
}

func (op *CommandStartedOp) OpTimestamp() clock.Lamport { return op.ID }
func (op *CommandStartedOp) OpVersion() clock.Global    { return op.Version }

// SectionAddedOp records a completed output section.
type SectionAddedOp struct {
	Timestamp clock.Lamport `json:"timestamp"`
	Section   OutputSection `json:"section"`
	Version   clock.Global  `json:"version"`
}

func (op *SectionAddedOp) OpTimestamp() clock.Lamport { return op.Timestamp }
func (op *SectionAddedOp) OpVersion() clock.Global    { return op.Version }

// CommandFinishedOp resolves an invocation to finished or errored. Stale
// finishes (older timestamp than the invocation's current one) are ignored.
type CommandFinishedOp struct {
	ID        CommandID     `json:"id"`
	Timestamp clock.Lamport `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
	Version   clock.Global  `json:"version"`
}

func (op *CommandFinishedOp) OpTimestamp() clock.Lamport { return op.Timestamp }
func (op *CommandFinishedOp) OpVersion() clock.Global    { return op.Version }

// BufferOp wraps a text-buffer operation for transport alongside document
// operations.
type BufferOp struct {
	Op textbuf.Operation
}

func (op *BufferOp) OpTimestamp() clock.Lamport { return op.Op.OperationID() }
func (op *BufferOp) OpVersion() clock.Global    { return nil }

// ============================================================================
// WIRE CODEC
// ============================================================================

type wireEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// EncodeOperation serializes an operation for the network. Cache markers in
// message metadata never cross the wire; MessageMetadata excludes them from
// its JSON form.
func EncodeOperation(op Operation) ([]byte, error) {
	var kind string
	var body any
	switch o := op.(type) {
	case *InsertMessageOp:
		kind = "insert_message"
		body = o
	case *UpdateMessageOp:
		kind = "update_message"
		body = o
	case *UpdateSummaryOp:
		kind = "update_summary"
		body = o
	case *CommandStartedOp:
		kind = "command_started"
		body = o
	case *SectionAddedOp:
		kind = "section_added"
		body = o
	case *CommandFinishedOp:
		kind = "command_finished"
		body = o
	case *BufferOp:
		kind = "buffer"
		data, err := textbuf.EncodeOperation(o.Op)
		if err != nil {
			return nil, err
		}
		return json.Marshal(wireEnvelope{Kind: kind, Body: data})
	default:
		return nil, fmt.Errorf("unknown operation type %T", op)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Kind: kind, Body: data})
}

// DecodeOperation deserializes an operation from the network.
func DecodeOperation(data []byte) (Operation, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding operation envelope: %w", err)
	}

	var op Operation
	switch env.Kind {
	case "insert_message":
		op = &InsertMessageOp{}
	case "update_message":
		op = &UpdateMessageOp{}
	case "update_summary":
		op = &UpdateSummaryOp{}
	case "command_started":
		op = &CommandStartedOp{}
	case "section_added":
		op = &SectionAddedOp{}
	case "command_finished":
		op = &CommandFinishedOp{}
	case "buffer":
		inner, err := textbuf.DecodeOperation(env.Body)
		if err != nil {
			return nil, err
		}
		return &BufferOp{Op: inner}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", env.Kind)
	}

	if err := json.Unmarshal(env.Body, op); err != nil {
		return nil, fmt.Errorf("decoding %s operation: %w", env.Kind, err)
	}
	return op, nil
}
