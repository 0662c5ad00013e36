// Package textbuf implements the replicated text buffer underlying a
// conversation document. Every byte of text is an element with a dense
// position identifier and a stable id; deletions tombstone elements instead
// of removing them, and undo is replicated as per-operation counters.
// Replicas applying the same operations converge regardless of delivery
// order.
package textbuf

import (
	"sort"
	"strings"

	"cothread/internal/clock"
)

type element struct {
	pos     Position
	id      ElementID
	ch      byte
	deletes []clock.Lamport
}

// Edit replaces the text in [Start, End) with Text. Offsets are in the
// buffer's current visible coordinates.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Range is a half-open span of visible buffer offsets.
type Range struct {
	Start int
	End   int
}

// Buffer is one replica of the shared text.
type Buffer struct {
	replica    clock.ReplicaID
	clock      *clock.Clock
	version    clock.Global
	elems      []*element
	byID       map[ElementID]*element
	undoCounts map[clock.Lamport]uint32
	visibleLen int

	ops     []Operation
	applied map[clock.Lamport]bool
	pending []Operation

	undoStack []transaction
	redoStack []transaction
	txDepth   int
	openTx    *transaction

	subs []*Subscription

	// onLocalOp fires for operations this replica generates, so the owning
	// document can broadcast them. onChange fires after any batch of
	// mutations, local or remote.
	onLocalOp func(Operation)
	onChange  func()
}

type transaction struct {
	edits []clock.Lamport
}

// NewBuffer returns an empty buffer for the given replica.
func NewBuffer(replica clock.ReplicaID) *Buffer {
	return &Buffer{
		replica:    replica,
		clock:      clock.NewClock(replica),
		version:    clock.Global{},
		byID:       make(map[ElementID]*element),
		undoCounts: make(map[clock.Lamport]uint32),
		applied:    make(map[clock.Lamport]bool),
	}
}

// Replica returns the id of this replica.
func (b *Buffer) Replica() clock.ReplicaID { return b.replica }

// OnLocalOperation registers the hook invoked for locally generated
// operations.
func (b *Buffer) OnLocalOperation(fn func(Operation)) { b.onLocalOp = fn }

// OnChange registers the hook invoked after the buffer text changes.
func (b *Buffer) OnChange(fn func()) { b.onChange = fn }

// Version returns a copy of the version vector of applied operations.
func (b *Buffer) Version() clock.Global { return b.version.Clone() }

// HasObserved reports whether the buffer has applied the operation with the
// given timestamp.
func (b *Buffer) HasObserved(t clock.Lamport) bool { return b.version.Observed(t) }

// Len returns the visible text length in bytes.
func (b *Buffer) Len() int { return b.visibleLen }

// Text returns the visible text.
func (b *Buffer) Text() string {
	var sb strings.Builder
	sb.Grow(b.visibleLen)
	for _, e := range b.elems {
		if b.isVisible(e) {
			sb.WriteByte(e.ch)
		}
	}
	return sb.String()
}

// TextRange returns the visible text in [start, end).
func (b *Buffer) TextRange(start, end int) string {
	text := b.Text()
	if start < 0 {
		start = 0
	}
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

func (b *Buffer) isVisible(e *element) bool {
	if b.undoCounts[e.id.Op]%2 == 1 {
		return false
	}
	for _, d := range e.deletes {
		if b.undoCounts[d]%2 == 0 {
			return false
		}
	}
	return true
}

// visibleElement returns the element holding the byte at the given visible
// offset, or nil past the end.
func (b *Buffer) visibleElement(offset int) *element {
	if offset < 0 || offset >= b.visibleLen {
		return nil
	}
	seen := 0
	for _, e := range b.elems {
		if b.isVisible(e) {
			if seen == offset {
				return e
			}
			seen++
		}
	}
	return nil
}

func (b *Buffer) visibleCountBefore(target *element) int {
	count := 0
	for _, e := range b.elems {
		if e == target {
			return count
		}
		if b.isVisible(e) {
			count++
		}
	}
	return count
}

// fullIndexOfVisible returns the index in the full element list of the k-th
// visible element, or len(elems) when k equals the visible length.
func (b *Buffer) fullIndexOfVisible(k int) int {
	if k >= b.visibleLen {
		return len(b.elems)
	}
	seen := 0
	for i, e := range b.elems {
		if b.isVisible(e) {
			if seen == k {
				return i
			}
			seen++
		}
	}
	return len(b.elems)
}

func (b *Buffer) recomputeVisibleLen() {
	n := 0
	for _, e := range b.elems {
		if b.isVisible(e) {
			n++
		}
	}
	b.visibleLen = n
}

// insertElement splices e into the ordered element list.
func (b *Buffer) insertElement(e *element) {
	ix := sort.Search(len(b.elems), func(i int) bool {
		return comparePositions(b.elems[i].pos, e.pos) > 0
	})
	b.elems = append(b.elems, nil)
	copy(b.elems[ix+1:], b.elems[ix:])
	b.elems[ix] = e
	b.byID[e.id] = e
}

// ============================================================================
// Local editing
// ============================================================================

// StartTransaction opens an undo grouping; edits until the matching
// EndTransaction undo together.
func (b *Buffer) StartTransaction() {
	b.txDepth++
	if b.openTx == nil {
		b.openTx = &transaction{}
	}
}

// EndTransaction closes the current undo grouping.
func (b *Buffer) EndTransaction() {
	if b.txDepth == 0 {
		return
	}
	b.txDepth--
	if b.txDepth == 0 {
		if b.openTx != nil && len(b.openTx.edits) > 0 {
			b.undoStack = append(b.undoStack, *b.openTx)
		}
		b.openTx = nil
	}
}

// ApplyEdits replaces the given ranges with new text in a single replicated
// operation. Ranges must be ascending and non-overlapping, in current
// coordinates. Returns the generated operation.
func (b *Buffer) ApplyEdits(edits []Edit) *EditOperation {
	if len(edits) == 0 {
		return nil
	}

	op := &EditOperation{
		ID:      b.clock.Tick(),
		Version: b.version.Clone(),
	}

	// Resolve every range against the pre-edit state before mutating
	// anything: deletions never move elements, so pointers stay good.
	type insertion struct {
		left  *element // full-list neighbor, nil at buffer start
		right *element // full-list neighbor, nil at buffer end
		text  string
	}
	var insertions []insertion
	for _, e := range edits {
		start, end := clampRange(e.Start, e.End, b.visibleLen)
		fi := b.fullIndexOfVisible(start)

		remaining := end - start
		for i := fi; i < len(b.elems) && remaining > 0; i++ {
			el := b.elems[i]
			if b.isVisible(el) {
				op.Deleted = append(op.Deleted, el.id)
				remaining--
			}
		}

		if e.Text != "" {
			ins := insertion{text: e.Text}
			if fi > 0 {
				ins.left = b.elems[fi-1]
			}
			if fi < len(b.elems) {
				ins.right = b.elems[fi]
			}
			insertions = append(insertions, ins)
		}
	}

	ord := uint32(0)
	for _, ins := range insertions {
		run := InsertedRun{Ord: ord, Text: ins.text}
		var left, right Position
		if ins.left != nil {
			left = ins.left.pos
		}
		if ins.right != nil {
			right = ins.right.pos
		}
		prev := left
		for i := 0; i < len(ins.text); i++ {
			p := betweenPositions(prev, right, b.replica)
			run.Positions = append(run.Positions, p)
			prev = p
		}
		ord += uint32(len(ins.text))
		op.Inserted = append(op.Inserted, run)
	}

	b.applyEdit(op)
	b.version.Observe(op.ID)
	b.clock.Observe(op.ID)
	b.ops = append(b.ops, op)
	b.applied[op.ID] = true

	b.recordTransactionEdit(op.ID)

	if b.onLocalOp != nil {
		b.onLocalOp(op)
	}
	if b.onChange != nil {
		b.onChange()
	}
	return op
}

func (b *Buffer) recordTransactionEdit(id clock.Lamport) {
	b.redoStack = nil
	if b.openTx != nil {
		b.openTx.edits = append(b.openTx.edits, id)
	} else {
		b.undoStack = append(b.undoStack, transaction{edits: []clock.Lamport{id}})
	}
}

func clampRange(start, end, max int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end > max {
		end = max
	}
	if end < start {
		end = start
	}
	return start, end
}

// ============================================================================
// Undo / redo
// ============================================================================

// Undo reverts the most recent local transaction. Returns false when there
// is nothing to undo.
func (b *Buffer) Undo() bool {
	if len(b.undoStack) == 0 {
		return false
	}
	tx := b.undoStack[len(b.undoStack)-1]
	b.undoStack = b.undoStack[:len(b.undoStack)-1]
	b.applyLocalUndo(tx)
	b.redoStack = append(b.redoStack, tx)
	return true
}

// Redo reapplies the most recently undone transaction.
func (b *Buffer) Redo() bool {
	if len(b.redoStack) == 0 {
		return false
	}
	tx := b.redoStack[len(b.redoStack)-1]
	b.redoStack = b.redoStack[:len(b.redoStack)-1]
	b.applyLocalUndo(tx)
	b.undoStack = append(b.undoStack, tx)
	return true
}

func (b *Buffer) applyLocalUndo(tx transaction) {
	counts := make(map[clock.Lamport]uint32, len(tx.edits))
	for _, id := range tx.edits {
		counts[id] = b.undoCounts[id] + 1
	}
	op := &UndoOperation{
		ID:      b.clock.Tick(),
		Version: b.version.Clone(),
		Counts:  counts,
	}
	b.applyUndo(op)
	b.version.Observe(op.ID)
	b.clock.Observe(op.ID)
	b.ops = append(b.ops, op)
	b.applied[op.ID] = true
	if b.onLocalOp != nil {
		b.onLocalOp(op)
	}
	if b.onChange != nil {
		b.onChange()
	}
}

// ============================================================================
// Remote operations
// ============================================================================

// ApplyOps integrates remote operations, deferring any whose dependencies
// have not been observed yet. Reapplying an operation is a no-op.
func (b *Buffer) ApplyOps(ops []Operation) {
	for _, op := range ops {
		if b.applied[op.OperationID()] {
			continue
		}
		b.pending = append(b.pending, op)
	}
	appliedAny := b.flushPending()
	if appliedAny && b.onChange != nil {
		b.onChange()
	}
}

func (b *Buffer) flushPending() bool {
	appliedAny := false
	for {
		progress := false
		remaining := b.pending[:0]
		for _, op := range b.pending {
			if b.applied[op.OperationID()] {
				progress = true
				continue
			}
			if !b.version.ObservedAll(op.Dependencies()) {
				remaining = append(remaining, op)
				continue
			}
			switch o := op.(type) {
			case *EditOperation:
				b.applyEdit(o)
			case *UndoOperation:
				b.applyUndo(o)
			}
			b.version.Observe(op.OperationID())
			b.clock.Observe(op.OperationID())
			b.ops = append(b.ops, op)
			b.applied[op.OperationID()] = true
			progress = true
			appliedAny = true
		}
		b.pending = remaining
		if !progress {
			break
		}
	}
	return appliedAny
}

// DeferredLen returns the number of operations waiting on unmet
// dependencies.
func (b *Buffer) DeferredLen() int { return len(b.pending) }

func (b *Buffer) applyEdit(op *EditOperation) {
	for _, id := range op.Deleted {
		elem, ok := b.byID[id]
		if !ok {
			continue
		}
		if b.isVisible(elem) {
			offset := b.visibleCountBefore(elem)
			elem.deletes = append(elem.deletes, op.ID)
			b.recomputeVisibleLen()
			b.recordChange(offset, 1, 0)
		} else {
			elem.deletes = append(elem.deletes, op.ID)
		}
	}

	for _, run := range op.Inserted {
		for i := 0; i < len(run.Text); i++ {
			elem := &element{
				pos: run.Positions[i],
				id:  ElementID{Op: op.ID, Ord: run.Ord + uint32(i)},
				ch:  run.Text[i],
			}
			if _, exists := b.byID[elem.id]; exists {
				continue
			}
			b.insertElement(elem)
			if b.isVisible(elem) {
				b.recomputeVisibleLen()
				b.recordChange(b.visibleCountBefore(elem), 0, 1)
			}
		}
	}
	b.recomputeVisibleLen()
}

func (b *Buffer) applyUndo(op *UndoOperation) {
	changed := make(map[clock.Lamport]bool)
	for id, count := range op.Counts {
		if count > b.undoCounts[id] {
			before := b.undoCounts[id] % 2
			b.undoCounts[id] = count
			if count%2 != before {
				changed[id] = true
			}
		}
	}
	if len(changed) == 0 {
		return
	}

	// Find the span of elements whose visibility may have flipped and
	// report it as one conservative edit.
	first, last := -1, -1
	for i, e := range b.elems {
		affected := changed[e.id.Op]
		if !affected {
			for _, d := range e.deletes {
				if changed[d] {
					affected = true
					break
				}
			}
		}
		if affected {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return
	}

	// Visibility before the merge is recovered by re-evaluating the span
	// with the toggled parities flipped back.
	oldSpan, newSpan := 0, 0
	for i := first; i <= last; i++ {
		e := b.elems[i]
		if b.elemVisibleWithCounts(e, changed) {
			oldSpan++
		}
		if b.isVisible(e) {
			newSpan++
		}
	}
	prefix := 0
	for i := 0; i < first; i++ {
		if b.elemVisibleWithCounts(b.elems[i], nil) {
			prefix++
		}
	}
	b.recomputeVisibleLen()
	b.recordChange(prefix, oldSpan, newSpan)
}

// elemVisibleWithCounts evaluates visibility, flipping the parity of ops in
// toggled to recover the pre-merge state. A nil toggled set evaluates the
// current state.
func (b *Buffer) elemVisibleWithCounts(e *element, toggled map[clock.Lamport]bool) bool {
	parity := func(id clock.Lamport) uint32 {
		p := b.undoCounts[id] % 2
		if toggled != nil && toggled[id] {
			p ^= 1
		}
		return p
	}
	if parity(e.id.Op) == 1 {
		return false
	}
	for _, d := range e.deletes {
		if parity(d) == 0 {
			return false
		}
	}
	return true
}

// ============================================================================
// Operation log
// ============================================================================

// OperationsSince returns applied operations not yet observed by the given
// version, sorted by timestamp.
func (b *Buffer) OperationsSince(since clock.Global) []Operation {
	var out []Operation
	for _, op := range b.ops {
		if !since.Observed(op.OperationID()) {
			out = append(out, op)
		}
	}
	for _, op := range b.pending {
		if !since.Observed(op.OperationID()) {
			out = append(out, op)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OperationID().Cmp(out[j].OperationID()) < 0
	})
	return out
}

// HasEditsSince reports whether any visible or tombstoned text inside
// [start, end) was touched by operations the given version has not observed.
func (b *Buffer) HasEditsSince(since clock.Global, start, end int) bool {
	vi := 0
	for _, e := range b.elems {
		if b.isVisible(e) {
			if vi >= start && vi < end && !since.Observed(e.id.Op) {
				return true
			}
			vi++
			if vi > end {
				break
			}
		} else {
			if vi >= start && vi <= end {
				if !since.Observed(e.id.Op) {
					return true
				}
				for _, d := range e.deletes {
					if b.undoCounts[d]%2 == 0 && !since.Observed(d) {
						return true
					}
				}
			}
		}
	}
	return false
}
