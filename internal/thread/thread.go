package thread

import (
	"context"
	"sort"
	"sync"

	"cothread/internal/clock"
	"cothread/internal/logging"
	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
)

// Version is the pair of version vectors identifying how much of a document a
// replica has seen: one for document operations, one for buffer operations.
type Version struct {
	Thread clock.Global `json:"thread"`
	Buffer clock.Global `json:"buffer"`
}

// Thread is one replica of a conversation document. All exported methods are
// safe for concurrent use; events are dispatched synchronously while the
// internal lock is held, so subscribers must not call back into the thread.
type Thread struct {
	mu      sync.Mutex
	id      ID
	replica clock.ReplicaID
	buffer  *textbuf.Buffer
	clock   *clock.Clock
	version clock.Global

	operations []Operation
	pendingOps []Operation

	messageAnchors   []MessageAnchor
	messagesMetadata map[MessageID]MessageMetadata
	summary          *Summary

	parsedCommands  []ParsedCommand
	invokedCommands map[CommandID]*InvokedCommand
	outputSections  []OutputSection

	xmlTags []XMLTag
	patches []Patch

	editsSinceParse *textbuf.Subscription
	registry        *slashcmd.Registry

	cacheConfig CacheConfig
	tokenCount  int

	subscribers map[int]func(Event)
	nextSubID   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log     *logging.Logger
	syncLog *logging.Logger
}

// New creates a replica of the document with the given id. Every replica of
// one document starts with the same initial user message, so freshly
// constructed replicas already agree.
func New(id ID, replica clock.ReplicaID, registry *slashcmd.Registry, cacheConfig CacheConfig) *Thread {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Thread{
		id:               id,
		replica:          replica,
		buffer:           textbuf.NewBuffer(replica),
		clock:            clock.NewClock(replica),
		version:          clock.Global{},
		messagesMetadata: make(map[MessageID]MessageMetadata),
		invokedCommands:  make(map[CommandID]*InvokedCommand),
		registry:         registry,
		cacheConfig:      cacheConfig,
		subscribers:      make(map[int]func(Event)),
		ctx:              ctx,
		cancel:           cancel,
		log:              logging.Get(logging.CategoryThread),
		syncLog:          logging.Get(logging.CategorySync),
	}

	t.editsSinceParse = t.buffer.Subscribe()
	t.buffer.OnLocalOperation(func(op textbuf.Operation) {
		t.clock.Observe(op.OperationID())
		t.emit(OperationEmitted{Operation: &BufferOp{Op: op}})
	})
	t.buffer.OnChange(func() {
		t.bufferChanged()
	})

	first := MessageAnchor{ID: firstMessageID, Start: textbuf.AnchorMin}
	t.messageAnchors = append(t.messageAnchors, first)
	t.messagesMetadata[first.ID] = MessageMetadata{
		Role:      RoleUser,
		Status:    StatusDone,
		Timestamp: first.ID,
	}
	return t
}

// Close cancels any running slash commands and waits for their goroutines.
func (t *Thread) Close() {
	t.cancel()
	t.wg.Wait()
}

// ID returns the document id.
func (t *Thread) ID() ID { return t.id }

// Replica returns this replica's id.
func (t *Thread) Replica() clock.ReplicaID { return t.replica }

// Version returns the replica's current document and buffer versions.
func (t *Thread) Version() Version {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Version{Thread: t.version.Clone(), Buffer: t.buffer.Version()}
}

// Text returns the full visible document text.
func (t *Thread) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.Text()
}

// Summary returns the current summary, or nil when none has been set.
func (t *Thread) Summary() *Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.summary == nil {
		return nil
	}
	s := *t.summary
	return &s
}

// SetSummary replaces the summary and replicates the change.
func (t *Thread) SetSummary(text string, done bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	version := t.version.Clone()
	timestamp := t.nextTimestamp()
	t.summary = &Summary{Text: text, Done: done, Timestamp: timestamp}
	t.pushOp(&UpdateSummaryOp{Summary: *t.summary, Version: version})
	t.emit(SummaryChanged{})
}

// Subscribe registers an event handler and returns a function that removes
// it. Handlers run synchronously under the thread lock.
func (t *Thread) Subscribe(fn func(Event)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSubID
	t.nextSubID++
	t.subscribers[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subscribers, id)
	}
}

func (t *Thread) emit(ev Event) {
	for _, fn := range t.subscribers {
		fn(ev)
	}
}

// nextTimestamp ticks the document clock and records the result as observed.
func (t *Thread) nextTimestamp() clock.Lamport {
	timestamp := t.clock.Tick()
	t.version.Observe(timestamp)
	return timestamp
}

// pushOp records a locally generated operation and hands it to subscribers
// for broadcast.
func (t *Thread) pushOp(op Operation) {
	t.operations = append(t.operations, op)
	t.emit(OperationEmitted{Operation: op})
}

// bufferChanged runs after every buffer mutation, local or remote, while the
// lock is held.
func (t *Thread) bufferChanged() {
	t.reparse()
	t.emit(MessagesEdited{})
}

// ============================================================================
// EDITING
// ============================================================================

// EditBuffer applies text edits to the document buffer as one undo
// transaction.
func (t *Thread) EditBuffer(edits []textbuf.Edit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buffer.ApplyEdits(edits)
}

// Undo reverts the most recent local buffer transaction.
func (t *Thread) Undo() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.Undo()
}

// Redo reapplies the most recently undone buffer transaction.
func (t *Thread) Redo() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.Redo()
}

// ============================================================================
// MESSAGES
// ============================================================================

// Messages returns the current messages in document order.
func (t *Thread) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messagesLocked()
}

// messagesLocked resolves anchors to messages. Each anchor with metadata
// yields a message extending to the next valid anchor; invalid anchors in
// between are absorbed into the preceding message's index range.
func (t *Thread) messagesLocked() []Message {
	var out []Message
	i := 0
	for i < len(t.messageAnchors) {
		anchor := t.messageAnchors[i]
		md, ok := t.messagesMetadata[anchor.ID]
		if !ok {
			break
		}

		startIx := i
		endIx := i
		j := i + 1
		endAnchor := textbuf.AnchorMax
		for j < len(t.messageAnchors) {
			if t.buffer.IsValidAnchor(t.messageAnchors[j].Start) {
				endAnchor = t.messageAnchors[j].Start
				break
			}
			endIx++
			j++
		}

		startOff := t.buffer.Offset(anchor.Start)
		endOff := t.buffer.Len()
		if endAnchor != textbuf.AnchorMax {
			endOff = t.buffer.Offset(endAnchor)
		}

		cache := md.Cache
		if cache != nil {
			cloned := *cache
			cache = &cloned
		}
		out = append(out, Message{
			ID:          anchor.ID,
			Role:        md.Role,
			Status:      md.Status,
			Cache:       cache,
			OffsetRange: Range{Start: startOff, End: endOff},
			AnchorRange: textbuf.AnchorRange{Start: anchor.Start, End: endAnchor},
			IndexRange:  Range{Start: startIx, End: endIx},
		})
		i = j
	}
	return out
}

// MessagesForOffsets returns the message containing each offset, deduplicated
// and in order. Offsets must be ascending. Offsets past the last message end
// resolve to the last message.
func (t *Thread) MessagesForOffsets(offsets []int) []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messagesForOffsetsLocked(offsets)
}

func (t *Thread) messagesForOffsetsLocked(offsets []int) []Message {
	msgs := t.messagesLocked()
	if len(msgs) == 0 {
		return nil
	}
	var result []Message
	mi := 0
	oi := 0
	for oi < len(offsets) {
		offset := offsets[oi]
		oi++
		for mi < len(msgs)-1 && !msgs[mi].OffsetRange.Contains(offset) {
			mi++
		}
		message := msgs[mi]
		// Skip further offsets landing in the same message.
		for oi < len(offsets) &&
			(message.OffsetRange.Contains(offsets[oi]) || mi == len(msgs)-1) {
			oi++
		}
		result = append(result, message)
	}
	return result
}

func (t *Thread) messageForOffsetLocked(offset int) (Message, bool) {
	msgs := t.messagesForOffsetsLocked([]int{offset})
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[0], true
}

// MessageForOffset returns the message containing the given offset.
func (t *Thread) MessageForOffset(offset int) (Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.messageForOffsetLocked(offset)
}

// InsertMessageAfter starts a new message after the given one and returns its
// anchor. Returns false when no message with that id exists.
func (t *Thread) InsertMessageAfter(messageID MessageID, role Role, status MessageStatus) (MessageAnchor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prevIx := -1
	for i, anchor := range t.messageAnchors {
		if anchor.ID == messageID {
			prevIx = i
			break
		}
	}
	if prevIx < 0 {
		return MessageAnchor{}, false
	}

	// Find the next valid anchor after the given message.
	nextIx := prevIx + 1
	for nextIx < len(t.messageAnchors) && !t.buffer.IsValidAnchor(t.messageAnchors[nextIx].Start) {
		nextIx++
	}

	offset := t.buffer.Len()
	if nextIx < len(t.messageAnchors) {
		offset = t.buffer.Offset(t.messageAnchors[nextIx].Start) - 1
		if offset < 0 {
			offset = 0
		}
	}
	return t.insertMessageAtOffsetLocked(offset, role, status), true
}

// InsertMessageAtOffset starts a new message at the given buffer offset,
// regardless of the surrounding message structure.
func (t *Thread) InsertMessageAtOffset(offset int, role Role, status MessageStatus) MessageAnchor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset < 0 {
		offset = 0
	}
	if offset > t.buffer.Len() {
		offset = t.buffer.Len()
	}
	return t.insertMessageAtOffsetLocked(offset, role, status)
}

// insertMessageAtOffsetLocked opens a message boundary at offset: a separator
// newline is inserted and the new message starts right after it.
func (t *Thread) insertMessageAtOffsetLocked(offset int, role Role, status MessageStatus) MessageAnchor {
	t.buffer.ApplyEdits([]textbuf.Edit{{Start: offset, End: offset, Text: "\n"}})
	start := t.buffer.AnchorBefore(offset + 1)

	version := t.version.Clone()
	anchor := MessageAnchor{ID: t.nextTimestamp(), Start: start}
	metadata := MessageMetadata{Role: role, Status: status, Timestamp: anchor.ID}
	t.insertMessageLocked(anchor, metadata)
	t.pushOp(&InsertMessageOp{Anchor: anchor, Metadata: metadata, Version: version})
	return anchor
}

// insertMessageLocked splices an anchor into the sorted anchor list.
// Concurrent inserts at the same position order newer-id-first, which keeps
// all replicas agreeing on message order.
func (t *Thread) insertMessageLocked(anchor MessageAnchor, metadata MessageMetadata) {
	t.messagesMetadata[anchor.ID] = metadata

	insertionIx := len(t.messageAnchors)
	for i, existing := range t.messageAnchors {
		c := t.buffer.CompareAnchors(anchor.Start, existing.Start)
		if c < 0 || (c == 0 && anchor.ID.Cmp(existing.ID) > 0) {
			insertionIx = i
			break
		}
	}
	t.messageAnchors = append(t.messageAnchors, MessageAnchor{})
	copy(t.messageAnchors[insertionIx+1:], t.messageAnchors[insertionIx:])
	t.messageAnchors[insertionIx] = anchor
	t.emit(MessagesEdited{})
}

// SplitMessage splits the message containing [start, end) into up to three
// parts: the text before start, the selected text, and the text after end.
// Returns the anchors of the selection message and the suffix message when
// they were created. Splitting a range that spans messages is a no-op.
func (t *Thread) SplitMessage(start, end int) (selection, suffix *MessageAnchor) {
	t.mu.Lock()
	defer t.mu.Unlock()

	startMessage, ok := t.messageForOffsetLocked(start)
	if !ok {
		return nil, nil
	}
	endMessage, ok := t.messageForOffsetLocked(end)
	if !ok || startMessage.ID != endMessage.ID {
		return nil, nil
	}

	message := startMessage
	atEnd := end >= message.OffsetRange.End-1
	roleAfter := message.Role
	if start == end || atEnd {
		roleAfter = RoleUser
	}
	role := message.Role

	// Reuse an existing newline at the selection end instead of inserting
	// another one.
	suffixStart := -1
	if start > message.OffsetRange.Start && end < message.OffsetRange.End-1 {
		if t.charAt(end) == '\n' {
			suffixStart = end + 1
		} else if t.charBefore(end) == '\n' {
			suffixStart = end
		}
	}

	version := t.version.Clone()
	var suffixAnchor MessageAnchor
	if suffixStart >= 0 {
		suffixAnchor = MessageAnchor{ID: t.nextTimestamp(), Start: t.buffer.AnchorBefore(suffixStart)}
	} else {
		t.buffer.ApplyEdits([]textbuf.Edit{{Start: end, End: end, Text: "\n"}})
		suffixAnchor = MessageAnchor{ID: t.nextTimestamp(), Start: t.buffer.AnchorBefore(end + 1)}
	}
	suffixMetadata := MessageMetadata{Role: roleAfter, Status: StatusDone, Timestamp: suffixAnchor.ID}
	t.insertMessageLocked(suffixAnchor, suffixMetadata)
	t.pushOp(&InsertMessageOp{Anchor: suffixAnchor, Metadata: suffixMetadata, Version: version})

	if start == end || start == message.OffsetRange.Start {
		selection = nil
	} else {
		prefixEnd := -1
		if start > message.OffsetRange.Start && end < message.OffsetRange.End-1 {
			if t.charAt(start) == '\n' {
				prefixEnd = start + 1
			} else if t.charBefore(start) == '\n' {
				prefixEnd = start
			}
		}

		version := t.version.Clone()
		var selectionAnchor MessageAnchor
		if prefixEnd >= 0 {
			selectionAnchor = MessageAnchor{ID: t.nextTimestamp(), Start: t.buffer.AnchorBefore(prefixEnd)}
		} else {
			t.buffer.ApplyEdits([]textbuf.Edit{{Start: start, End: start, Text: "\n"}})
			selectionAnchor = MessageAnchor{ID: t.nextTimestamp(), Start: t.buffer.AnchorBefore(end + 1)}
		}
		selectionMetadata := MessageMetadata{Role: role, Status: StatusDone, Timestamp: selectionAnchor.ID}
		t.insertMessageLocked(selectionAnchor, selectionMetadata)
		t.pushOp(&InsertMessageOp{Anchor: selectionAnchor, Metadata: selectionMetadata, Version: version})
		selection = &selectionAnchor
	}
	return selection, &suffixAnchor
}

func (t *Thread) charAt(offset int) byte {
	text := t.buffer.TextRange(offset, offset+1)
	if text == "" {
		return 0
	}
	return text[0]
}

func (t *Thread) charBefore(offset int) byte {
	if offset <= 0 {
		return 0
	}
	return t.charAt(offset - 1)
}

// UpdateMetadata mutates a message's metadata through f and replicates the
// result. The metadata timestamp is refreshed, making this the newest write.
func (t *Thread) UpdateMetadata(id MessageID, f func(*MessageMetadata)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateMetadataLocked(id, f)
}

func (t *Thread) updateMetadataLocked(id MessageID, f func(*MessageMetadata)) {
	version := t.version.Clone()
	timestamp := t.nextTimestamp()
	metadata, ok := t.messagesMetadata[id]
	if !ok {
		return
	}
	f(&metadata)
	metadata.Timestamp = timestamp
	t.messagesMetadata[id] = metadata
	t.pushOp(&UpdateMessageOp{MessageID: id, Metadata: metadata, Version: version})
	t.emit(MessagesEdited{})
}

// UpdateMessageStatus sets a message's status.
func (t *Thread) UpdateMessageStatus(id MessageID, status MessageStatus) {
	t.UpdateMetadata(id, func(m *MessageMetadata) { m.Status = status })
}

// CycleMessageRoles rotates the role of each given message.
func (t *Thread) CycleMessageRoles(ids map[MessageID]bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range ids {
		if metadata, ok := t.messagesMetadata[id]; ok {
			role := metadata.Role.Cycle()
			t.updateMetadataLocked(id, func(m *MessageMetadata) { m.Role = role })
		}
	}
	t.messageRolesUpdatedLocked(ids)
}

// messageRolesUpdatedLocked reparses patches inside the affected messages;
// patch annotations only exist in assistant messages, so role changes can
// create or remove them.
func (t *Thread) messageRolesUpdatedLocked(ids map[MessageID]bool) {
	var ranges []textbuf.AnchorRange
	for _, message := range t.messagesLocked() {
		if ids[message.ID] {
			ranges = append(ranges, message.AnchorRange)
		}
	}

	var updated, removed []Range
	for _, r := range ranges {
		t.reparsePatchesInRange(r, &updated, &removed)
	}
	if len(updated) > 0 || len(removed) > 0 {
		t.emit(PatchesUpdated{RemovedRanges: removed, UpdatedRanges: updated})
	}
}

// ============================================================================
// REPLICATION
// ============================================================================

// ApplyOps integrates operations received from peers. Operations whose
// dependencies are missing are held until the gaps fill in; duplicates are
// ignored.
func (t *Thread) ApplyOps(ops []Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var bufferOps []textbuf.Operation
	for _, op := range ops {
		if bufOp, ok := op.(*BufferOp); ok {
			bufferOps = append(bufferOps, bufOp.Op)
		} else {
			t.pendingOps = append(t.pendingOps, op)
		}
	}
	if len(bufferOps) > 0 {
		t.buffer.ApplyOps(bufferOps)
	}
	t.flushOpsLocked()
}

func (t *Thread) flushOpsLocked() {
	changedMessages := make(map[MessageID]bool)
	summaryChanged := false

	sort.SliceStable(t.pendingOps, func(i, j int) bool {
		return t.pendingOps[i].OpTimestamp().Cmp(t.pendingOps[j].OpTimestamp()) < 0
	})

	pending := t.pendingOps
	t.pendingOps = nil
	for _, op := range pending {
		if !t.canApplyOpLocked(op) {
			t.pendingOps = append(t.pendingOps, op)
			continue
		}

		timestamp := op.OpTimestamp()
		switch o := op.(type) {
		case *InsertMessageOp:
			if _, ok := t.messagesMetadata[o.Anchor.ID]; !ok {
				changedMessages[o.Anchor.ID] = true
				t.insertMessageLocked(o.Anchor, o.Metadata)
			}
		case *UpdateMessageOp:
			metadata := t.messagesMetadata[o.MessageID]
			if o.Metadata.Timestamp.Cmp(metadata.Timestamp) > 0 {
				t.messagesMetadata[o.MessageID] = o.Metadata
				changedMessages[o.MessageID] = true
			}
		case *UpdateSummaryOp:
			if t.summary == nil || o.Summary.Timestamp.Cmp(t.summary.Timestamp) > 0 {
				s := o.Summary
				t.summary = &s
				summaryChanged = true
			}
		case *CommandStartedOp:
			t.invokedCommands[o.ID] = &InvokedCommand{
				Name:      o.Name,
				Range:     o.OutputRange,
				State:     InvokedRunning,
				Timestamp: o.ID,
			}
			t.emit(InvokedCommandChanged{CommandID: o.ID})
		case *SectionAddedOp:
			t.insertOutputSectionLocked(o.Section)
		case *CommandFinishedOp:
			if invoked, ok := t.invokedCommands[o.ID]; ok && o.Timestamp.Cmp(invoked.Timestamp) > 0 {
				invoked.Timestamp = o.Timestamp
				if o.Error != "" {
					invoked.State = InvokedError
					invoked.Error = o.Error
				} else {
					invoked.State = InvokedFinished
				}
				t.emit(InvokedCommandChanged{CommandID: o.ID})
			}
		}

		t.version.Observe(timestamp)
		t.clock.Observe(timestamp)
		t.operations = append(t.operations, op)
	}

	if len(t.pendingOps) > 0 {
		t.syncLog.Debug("deferred %d operations with unmet dependencies", len(t.pendingOps))
	}

	if len(changedMessages) > 0 {
		t.messageRolesUpdatedLocked(changedMessages)
		t.emit(MessagesEdited{})
	}
	if summaryChanged {
		t.emit(SummaryChanged{})
	}
}

func (t *Thread) canApplyOpLocked(op Operation) bool {
	if !t.version.ObservedAll(op.OpVersion()) {
		return false
	}
	switch o := op.(type) {
	case *InsertMessageOp:
		return t.buffer.HasObserved(o.Anchor.Start.Timestamp())
	case *UpdateMessageOp:
		_, ok := t.messagesMetadata[o.MessageID]
		return ok
	case *UpdateSummaryOp:
		return true
	case *CommandStartedOp:
		return t.hasReceivedOperationsForAnchorRange(o.OutputRange)
	case *SectionAddedOp:
		return t.hasReceivedOperationsForAnchorRange(o.Section.Range)
	case *CommandFinishedOp:
		return true
	}
	return false
}

func (t *Thread) hasReceivedOperationsForAnchorRange(r textbuf.AnchorRange) bool {
	return t.buffer.HasObserved(r.Start.Timestamp()) && t.buffer.HasObserved(r.End.Timestamp())
}

// insertOutputSectionLocked keeps output sections sorted by range, ignoring
// exact duplicates.
func (t *Thread) insertOutputSectionLocked(section OutputSection) {
	ix := sort.Search(len(t.outputSections), func(i int) bool {
		return t.compareAnchorRanges(t.outputSections[i].Range, section.Range) >= 0
	})
	if ix < len(t.outputSections) && t.compareAnchorRanges(t.outputSections[ix].Range, section.Range) == 0 {
		return
	}
	t.outputSections = append(t.outputSections, OutputSection{})
	copy(t.outputSections[ix+1:], t.outputSections[ix:])
	t.outputSections[ix] = section
	t.emit(OutputSectionAdded{Section: section})
}

func (t *Thread) compareAnchorRanges(a, b textbuf.AnchorRange) int {
	if c := t.buffer.CompareAnchors(a.Start, b.Start); c != 0 {
		return c
	}
	return t.buffer.CompareAnchors(a.End, b.End)
}

// SerializeOps returns every operation the given version has not observed,
// buffer operations first, each ready for the wire.
func (t *Thread) SerializeOps(since Version) []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Operation
	for _, op := range t.buffer.OperationsSince(since.Buffer) {
		out = append(out, &BufferOp{Op: op})
	}

	var threadOps []Operation
	for _, op := range t.operations {
		if !since.Thread.Observed(op.OpTimestamp()) {
			threadOps = append(threadOps, op)
		}
	}
	threadOps = append(threadOps, t.pendingOps...)
	sort.SliceStable(threadOps, func(i, j int) bool {
		return threadOps[i].OpTimestamp().Cmp(threadOps[j].OpTimestamp()) < 0
	})
	return append(out, threadOps...)
}

// DeferredOps returns how many document operations are waiting on missing
// dependencies.
func (t *Thread) DeferredOps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendingOps) + t.buffer.DeferredLen()
}

// ============================================================================
// ANNOTATION ACCESSORS
// ============================================================================

// ParsedCommands returns the pending slash-command invocations.
func (t *Thread) ParsedCommands() []ParsedCommand {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ParsedCommand, len(t.parsedCommands))
	copy(out, t.parsedCommands)
	return out
}

// InvokedCommand returns the invocation with the given id.
func (t *Thread) InvokedCommand(id CommandID) (InvokedCommand, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	invoked, ok := t.invokedCommands[id]
	if !ok {
		return InvokedCommand{}, false
	}
	return *invoked, true
}

// OutputSections returns the streamed output sections in document order,
// resolved to current offsets alongside their anchors.
func (t *Thread) OutputSections() []OutputSection {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]OutputSection, len(t.outputSections))
	copy(out, t.outputSections)
	return out
}

// Patches returns the patches parsed from assistant messages.
func (t *Thread) Patches() []Patch {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Patch, len(t.patches))
	copy(out, t.patches)
	return out
}

// PatchContaining returns the patch whose resolved range contains the given
// offset.
func (t *Thread) PatchContaining(offset int) (Patch, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.patches {
		start := t.buffer.Offset(p.Range.Start)
		end := t.buffer.Offset(p.Range.End)
		if offset >= start && offset <= end {
			return p, true
		}
	}
	return Patch{}, false
}

// OffsetForAnchor resolves an anchor against the current buffer.
func (t *Thread) OffsetForAnchor(a textbuf.Anchor) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.Offset(a)
}

// ResolveRange resolves an anchor range to current offsets.
func (t *Thread) ResolveRange(r textbuf.AnchorRange) Range {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Range{Start: t.buffer.Offset(r.Start), End: t.buffer.Offset(r.End)}
}
