// Package thread implements replicated conversation-context documents: a
// shared text buffer layered with message boundaries, streamed slash-command
// output, patch annotations, and cache-anchor bookkeeping. Replicas exchange
// operations through an unreliable network and converge on the same state.
package thread

import (
	"github.com/google/uuid"

	"cothread/internal/clock"
	"cothread/internal/textbuf"
)

// ============================================================================
// IDENTIFIERS
// ============================================================================

// ID uniquely identifies a document across replicas.
type ID string

// NewID returns a fresh random document id.
func NewID() ID {
	return ID(uuid.NewString())
}

// MessageID identifies a message: the timestamp of the operation that
// created it.
type MessageID = clock.Lamport

// CommandID identifies one slash-command invocation.
type CommandID = clock.Lamport

// firstMessageID is the id of the message every document starts with. It is
// the same constant on every replica, which is what lets independently
// constructed replicas of one document agree on the initial message.
var firstMessageID = MessageID{}

// ============================================================================
// MESSAGES
// ============================================================================

// Role is the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Cycle returns the next role in the user -> assistant -> system rotation.
func (r Role) Cycle() Role {
	switch r {
	case RoleUser:
		return RoleAssistant
	case RoleAssistant:
		return RoleSystem
	default:
		return RoleUser
	}
}

// MessageState is the lifecycle state of a message.
type MessageState string

const (
	StatePending  MessageState = "pending"
	StateDone     MessageState = "done"
	StateError    MessageState = "error"
	StateCanceled MessageState = "canceled"
)

// MessageStatus combines a lifecycle state with an optional error message.
type MessageStatus struct {
	State MessageState `json:"state"`
	Error string       `json:"error,omitempty"`
}

var (
	StatusPending  = MessageStatus{State: StatePending}
	StatusDone     = MessageStatus{State: StateDone}
	StatusCanceled = MessageStatus{State: StateCanceled}
)

// StatusError returns an error status carrying the given message.
func StatusError(message string) MessageStatus {
	return MessageStatus{State: StateError, Error: message}
}

// CacheStatus tracks whether a cache anchor has been written upstream.
type CacheStatus string

const (
	CachePending CacheStatus = "pending"
	CacheCached  CacheStatus = "cached"
)

// CacheMarker is the cache bookkeeping attached to a message. CachedAt is
// the buffer version the marker was computed against; any later edit inside
// the message invalidates it.
type CacheMarker struct {
	IsAnchor      bool         `json:"is_anchor"`
	IsFinalAnchor bool         `json:"is_final_anchor"`
	Status        CacheStatus  `json:"status"`
	CachedAt      clock.Global `json:"cached_at"`
}

// MessageMetadata is the replicated per-message record. Timestamp is the
// last-writer-wins tiebreaker for concurrent updates. Cache is local-only
// and never crosses the wire.
type MessageMetadata struct {
	Role      Role          `json:"role"`
	Status    MessageStatus `json:"status"`
	Timestamp clock.Lamport `json:"timestamp"`
	Cache     *CacheMarker  `json:"-"`
}

// MessageAnchor ties a message id to its start position in the buffer.
type MessageAnchor struct {
	ID    MessageID      `json:"id"`
	Start textbuf.Anchor `json:"start"`
}

// Range is a half-open span of buffer offsets.
type Range struct {
	Start int
	End   int
}

// Len returns the number of bytes the range covers.
func (r Range) Len() int { return r.End - r.Start }

// Contains reports whether offset lies inside the range.
func (r Range) Contains(offset int) bool { return offset >= r.Start && offset < r.End }

// Message is a resolved message: its extent runs from its own anchor to the
// next valid anchor. IndexRange covers the message's anchor plus any
// following invalid anchors absorbed into it.
type Message struct {
	ID          MessageID
	Role        Role
	Status      MessageStatus
	Cache       *CacheMarker
	OffsetRange Range
	AnchorRange textbuf.AnchorRange
	IndexRange  Range
}

// ============================================================================
// SUMMARY
// ============================================================================

// Summary is the document's replicated title. Concurrent updates resolve
// last-writer-wins by timestamp.
type Summary struct {
	Text      string        `json:"text"`
	Done      bool          `json:"done"`
	Timestamp clock.Lamport `json:"timestamp"`
}

// ============================================================================
// SLASH COMMAND ANNOTATIONS
// ============================================================================

// ParsedCommand is a slash-command invocation recognized in the text but not
// yet run. SourceRange covers "/name" through the last argument.
type ParsedCommand struct {
	Name        string
	Arguments   []string
	SourceRange textbuf.AnchorRange
}

// InvokedState is the lifecycle state of a running command invocation.
type InvokedState string

const (
	InvokedRunning  InvokedState = "running"
	InvokedError    InvokedState = "error"
	InvokedFinished InvokedState = "finished"
)

// InvokedCommand is a slash command whose output is streaming into the
// document. Its range anchors the whole output region; when either anchor
// becomes invalid the invocation is finished ("invalidated").
type InvokedCommand struct {
	Name                string
	Range               textbuf.AnchorRange
	RunCommandsInRanges []textbuf.AnchorRange
	State               InvokedState
	Error               string
	Timestamp           clock.Lamport
}

// OutputSection labels a region of streamed command output.
type OutputSection struct {
	Range    textbuf.AnchorRange `json:"range"`
	Icon     string              `json:"icon"`
	Label    string              `json:"label"`
	Metadata map[string]any      `json:"metadata,omitempty"`
}

// ============================================================================
// PATCH ANNOTATIONS
// ============================================================================

// XMLTagKind enumerates the tag names recognized inside assistant messages.
type XMLTagKind string

const (
	TagPatch       XMLTagKind = "patch"
	TagTitle       XMLTagKind = "title"
	TagEdit        XMLTagKind = "edit"
	TagPath        XMLTagKind = "path"
	TagDescription XMLTagKind = "description"
	TagOldText     XMLTagKind = "old_text"
	TagNewText     XMLTagKind = "new_text"
	TagOperation   XMLTagKind = "operation"
)

var xmlTagKinds = map[string]XMLTagKind{
	"patch":       TagPatch,
	"title":       TagTitle,
	"edit":        TagEdit,
	"path":        TagPath,
	"description": TagDescription,
	"old_text":    TagOldText,
	"new_text":    TagNewText,
	"operation":   TagOperation,
}

// XMLTag is one recognized tag occurrence in the text.
type XMLTag struct {
	Kind   XMLTagKind
	Range  textbuf.AnchorRange
	IsOpen bool
}

// PatchOperation is the kind of change a patch edit describes.
type PatchOperation string

const (
	OpUpdate       PatchOperation = "update"
	OpInsertBefore PatchOperation = "insert_before"
	OpInsertAfter  PatchOperation = "insert_after"
	OpCreate       PatchOperation = "create"
	OpDelete       PatchOperation = "delete"
)

// PatchEdit is one file edit extracted from a patch block.
type PatchEdit struct {
	Path        string
	Operation   PatchOperation
	OldText     *string
	NewText     *string
	Description *string
}

// PatchStatus reports whether the patch block is fully closed in the text.
type PatchStatus string

const (
	PatchPending PatchStatus = "pending"
	PatchReady   PatchStatus = "ready"
)

// Patch is a suggested multi-file change parsed from an assistant message.
// An unterminated patch stays Pending and extends to the message end.
type Patch struct {
	Range  textbuf.AnchorRange
	Title  string
	Edits  []PatchEdit
	Status PatchStatus
}

// ============================================================================
// CACHE POLICY
// ============================================================================

// CacheConfig bounds the cache-anchor policy. MaxCacheAnchors caps how many
// messages carry anchors (one is always held back for interactive use);
// MinTotalTokens disables caching for small documents.
type CacheConfig struct {
	MaxCacheAnchors int  `yaml:"max_cache_anchors"`
	ShouldSpeculate bool `yaml:"should_speculate"`
	MinTotalTokens  int  `yaml:"min_total_tokens"`
}
