package thread

import (
	"sort"
	"strings"

	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
)

// reparse re-derives slash-command and patch annotations for the regions the
// buffer reports as edited since the last parse. Edited offset ranges are
// widened to whole lines and coalesced before scanning.
func (t *Thread) reparse() {
	text := t.buffer.Text()
	edits := t.editsSinceParse.Consume()
	if len(edits) == 0 {
		return
	}

	lineStarts := lineStartOffsets(text)
	rowRanges := make([]Range, 0, len(edits))
	for _, edit := range edits {
		startRow := rowForOffset(lineStarts, edit.Start)
		endRow := rowForOffset(lineStarts, edit.End) + 1
		rowRanges = append(rowRanges, Range{Start: startRow, End: endRow})
	}

	var (
		updatedCommands bool
		removedCommands bool
		updatedPatches  []Range
		removedPatches  []Range
	)
	for i := 0; i < len(rowRanges); i++ {
		rowRange := rowRanges[i]
		for i+1 < len(rowRanges) && rowRange.End >= rowRanges[i+1].Start {
			rowRange.End = rowRanges[i+1].End
			i++
		}

		startOffset := lineStarts[rowRange.Start]
		endOffset := lineEndOffset(text, lineStarts, rowRange.End-1)
		queryRange := textbuf.AnchorRange{
			Start: t.buffer.AnchorBefore(startOffset),
			End:   t.buffer.AnchorAfter(endOffset),
		}

		u, r := t.reparseSlashCommandsInRange(queryRange, text, startOffset, endOffset)
		updatedCommands = updatedCommands || u
		removedCommands = removedCommands || r
		t.invalidatePendingCommandsLocked()
		t.reparsePatchesInRange(queryRange, &updatedPatches, &removedPatches)
	}

	if updatedCommands || removedCommands {
		commands := make([]ParsedCommand, len(t.parsedCommands))
		copy(commands, t.parsedCommands)
		t.emit(ParsedCommandsUpdated{Commands: commands})
	}
	if len(updatedPatches) > 0 || len(removedPatches) > 0 {
		t.emit(PatchesUpdated{RemovedRanges: removedPatches, UpdatedRanges: updatedPatches})
	}
}

// reparseSlashCommandsInRange rescans the lines inside the range and splices
// the recognized invocations over the annotations the range previously held.
func (t *Thread) reparseSlashCommandsInRange(r textbuf.AnchorRange, text string, startOffset, endOffset int) (updated, removed bool) {
	oldStart, oldEnd := t.commandIndicesIntersecting(r)

	var newCommands []ParsedCommand
	offset := startOffset
	for offset <= endOffset && offset < len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += offset
		}
		line := text[offset:lineEnd]

		if parsed := slashcmd.ParseLine(line); parsed != nil {
			name := line[parsed.Name.Start:parsed.Name.End]
			var arguments []string
			for _, span := range parsed.Arguments {
				if span.End > span.Start {
					arguments = append(arguments, line[span.Start:span.End])
				}
			}
			if cmd, err := t.registry.Get(name); err == nil &&
				(!cmd.RequiresArgument() || len(arguments) > 0) {
				startIx := offset + parsed.Name.Start - 1
				endIx := offset + parsed.Name.End
				if len(parsed.Arguments) > 0 {
					endIx = offset + parsed.Arguments[len(parsed.Arguments)-1].End
				}
				newCommands = append(newCommands, ParsedCommand{
					Name:      name,
					Arguments: arguments,
					SourceRange: textbuf.AnchorRange{
						Start: t.buffer.AnchorAfter(startIx),
						End:   t.buffer.AnchorAfter(endIx),
					},
				})
			}
		}
		offset = lineEnd + 1
	}

	updated = len(newCommands) > 0
	removed = oldEnd > oldStart
	spliced := make([]ParsedCommand, 0, len(t.parsedCommands)-(oldEnd-oldStart)+len(newCommands))
	spliced = append(spliced, t.parsedCommands[:oldStart]...)
	spliced = append(spliced, newCommands...)
	spliced = append(spliced, t.parsedCommands[oldEnd:]...)
	t.parsedCommands = spliced
	return updated, removed
}

// invalidatePendingCommandsLocked finishes every running invocation whose
// output range lost an endpoint, replicating the state change.
func (t *Thread) invalidatePendingCommandsLocked() {
	var invalidated []CommandID
	for id, invoked := range t.invokedCommands {
		if invoked.State != InvokedFinished &&
			(!t.buffer.IsValidAnchor(invoked.Range.Start) || !t.buffer.IsValidAnchor(invoked.Range.End)) {
			invoked.State = InvokedFinished
			t.emit(InvokedCommandChanged{CommandID: id})
			invalidated = append(invalidated, id)
		}
	}
	sort.Slice(invalidated, func(i, j int) bool { return invalidated[i].Cmp(invalidated[j]) < 0 })

	for _, id := range invalidated {
		t.log.Debug("invalidated slash command %s", id)
		version := t.version.Clone()
		timestamp := t.nextTimestamp()
		t.pushOp(&CommandFinishedOp{ID: id, Timestamp: timestamp, Version: version})
	}
}

// ParsedCommandForOffset returns the pending invocation whose source range
// contains the given offset.
func (t *Thread) ParsedCommandForOffset(offset int) (ParsedCommand, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	position := t.buffer.AnchorBefore(offset)
	ix := sort.Search(len(t.parsedCommands), func(i int) bool {
		return t.buffer.CompareAnchors(t.parsedCommands[i].SourceRange.End, position) >= 0
	})
	if ix >= len(t.parsedCommands) {
		return ParsedCommand{}, false
	}
	cmd := t.parsedCommands[ix]
	if t.buffer.CompareAnchors(position, cmd.SourceRange.Start) >= 0 &&
		t.buffer.CompareAnchors(position, cmd.SourceRange.End) <= 0 {
		return cmd, true
	}
	return ParsedCommand{}, false
}

// commandIndicesIntersecting returns the index range of parsed commands whose
// source range intersects the given anchor range.
func (t *Thread) commandIndicesIntersecting(r textbuf.AnchorRange) (int, int) {
	return t.indicesIntersecting(len(t.parsedCommands), r, func(i int) textbuf.AnchorRange {
		return t.parsedCommands[i].SourceRange
	})
}

// indicesIntersecting computes the [start, end) slice of sorted annotations
// intersecting an anchor range. Annotations touching the range boundary
// count as intersecting.
func (t *Thread) indicesIntersecting(n int, r textbuf.AnchorRange, rangeAt func(int) textbuf.AnchorRange) (int, int) {
	startIx := sort.Search(n, func(i int) bool {
		return t.buffer.CompareAnchors(rangeAt(i).End, r.Start) >= 0
	})
	endIx := sort.Search(n, func(i int) bool {
		return t.buffer.CompareAnchors(rangeAt(i).Start, r.End) >= 0
	})
	if endIx < n && t.buffer.CompareAnchors(rangeAt(endIx).Start, r.End) == 0 {
		endIx++
	}
	return startIx, endIx
}

// lineStartOffsets returns the offset of the first byte of every line.
func lineStartOffsets(text string) []int {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// rowForOffset returns the row containing the given offset.
func rowForOffset(lineStarts []int, offset int) int {
	ix := sort.Search(len(lineStarts), func(i int) bool { return lineStarts[i] > offset })
	return ix - 1
}

// lineEndOffset returns the offset just past the last byte of the row's
// content, excluding its newline.
func lineEndOffset(text string, lineStarts []int, row int) int {
	if row+1 < len(lineStarts) {
		return lineStarts[row+1] - 1
	}
	return len(text)
}
