package thread

import (
	"fmt"

	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
)

// pendingOutputEndMarker holds the place where streamed output will land
// until the command completes.
const pendingOutputEndMarker = "…"

// RunCommand looks up a parsed invocation in the registry, starts it, and
// streams its output into the document. The returned id identifies the
// invocation until it finishes.
func (t *Thread) RunCommand(parsed ParsedCommand, ensureTrailingNewline bool) (CommandID, error) {
	cmd, err := t.registry.Get(parsed.Name)
	if err != nil {
		return CommandID{}, err
	}
	if cmd.RequiresArgument() && len(parsed.Arguments) == 0 {
		return CommandID{}, fmt.Errorf("command %q requires an argument", parsed.Name)
	}
	events, runErr := cmd.Run(t.ctx, parsed.Arguments)
	return t.InsertCommandOutput(parsed.SourceRange, parsed.Name, events, runErr, ensureTrailingNewline), nil
}

// InsertCommandOutput begins streaming command output into the document at
// the end of the command's source text. A newline and an end marker are
// inserted immediately; events arriving on the channel insert text before
// the marker. When the stream closes cleanly the source text and marker are
// deleted, leaving only the output.
//
// When runErr is non-nil, or the stream yields an error event, the source
// text and marker are left in place and the invocation is marked errored.
func (t *Thread) InsertCommandOutput(
	sourceRange textbuf.AnchorRange,
	name string,
	events <-chan slashcmd.Event,
	runErr error,
	ensureTrailingNewline bool,
) CommandID {
	t.mu.Lock()

	version := t.version.Clone()
	commandID := t.nextTimestamp()
	t.log.Debug("command %s started: /%s", commandID, name)

	sourceStart := t.buffer.Offset(sourceRange.Start)
	sourceEnd := t.buffer.Offset(sourceRange.End)

	insertion := "\n" + pendingOutputEndMarker
	if ensureTrailingNewline {
		insertion += "\n"
	}
	t.buffer.ApplyEdits([]textbuf.Edit{{Start: sourceEnd, End: sourceEnd, Text: insertion}})

	insertPosition := t.buffer.AnchorAfter(sourceEnd + 1)
	commandRange := textbuf.AnchorRange{
		Start: t.buffer.AnchorAfter(sourceStart),
		End:   t.buffer.AnchorBefore(sourceEnd + 1 + len(pendingOutputEndMarker)),
	}
	deletableSourceRange := textbuf.AnchorRange{
		Start: t.buffer.AnchorBefore(sourceStart),
		End:   t.buffer.AnchorBefore(sourceEnd + 1),
	}

	t.invokedCommands[commandID] = &InvokedCommand{
		Name:      name,
		Range:     commandRange,
		State:     InvokedRunning,
		Timestamp: commandID,
	}
	t.emit(InvokedCommandChanged{CommandID: commandID})
	t.pushOp(&CommandStartedOp{
		ID:          commandID,
		OutputRange: commandRange,
		Name:        name,
		Version:     version,
	})
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		err := runErr
		if err == nil {
			err = t.streamCommandOutput(commandID, events, insertPosition, deletableSourceRange, commandRange, ensureTrailingNewline)
		}
		t.finishCommand(commandID, err)
	}()
	return commandID
}

type pendingSection struct {
	start    textbuf.Anchor
	icon     string
	label    string
	metadata map[string]any
}

// streamCommandOutput consumes the event channel, editing the document for
// each event. On a clean end of stream it removes the command source text
// and the pending marker; an error event or cancellation aborts and leaves
// the document as it stands.
func (t *Thread) streamCommandOutput(
	commandID CommandID,
	events <-chan slashcmd.Event,
	insertPosition textbuf.Anchor,
	sourceRange, commandRange textbuf.AnchorRange,
	ensureTrailingNewline bool,
) error {
	var sectionStack []pendingSection
	var lastSectionRange *textbuf.AnchorRange

	for {
		var (
			event slashcmd.Event
			ok    bool
		)
		select {
		case <-t.ctx.Done():
			return t.ctx.Err()
		case event, ok = <-events:
		}
		if !ok {
			break
		}

		t.mu.Lock()
		switch ev := event.(type) {
		case slashcmd.StartSection:
			offset := t.buffer.Offset(insertPosition)
			if offset > 0 && t.charBefore(offset) != '\n' {
				t.buffer.ApplyEdits([]textbuf.Edit{{Start: offset, End: offset, Text: "\n"}})
				offset = t.buffer.Offset(insertPosition)
			}
			sectionStack = append(sectionStack, pendingSection{
				start:    t.buffer.AnchorBefore(offset),
				icon:     ev.Icon,
				label:    ev.Label,
				metadata: ev.Metadata,
			})

		case slashcmd.Content:
			start := t.buffer.AnchorBefore(t.buffer.Offset(insertPosition))
			offset := t.buffer.Offset(insertPosition)
			t.buffer.ApplyEdits([]textbuf.Edit{{Start: offset, End: offset, Text: ev.Text}})
			end := t.buffer.AnchorBefore(t.buffer.Offset(insertPosition))
			if ev.RunCommands {
				if invoked, ok := t.invokedCommands[commandID]; ok {
					invoked.RunCommandsInRanges = append(invoked.RunCommandsInRanges,
						textbuf.AnchorRange{Start: start, End: end})
				}
			}

		case slashcmd.EndSection:
			if len(sectionStack) == 0 {
				break
			}
			pending := sectionStack[len(sectionStack)-1]
			sectionStack = sectionStack[:len(sectionStack)-1]
			startOff := t.buffer.Offset(pending.start)
			endOff := t.buffer.Offset(insertPosition)
			if endOff > startOff {
				sectionRange := textbuf.AnchorRange{
					Start: t.buffer.AnchorAfter(startOff),
					End:   t.buffer.AnchorBefore(endOff),
				}
				t.addOutputSectionLocked(OutputSection{
					Range:    sectionRange,
					Icon:     pending.icon,
					Label:    pending.label,
					Metadata: pending.metadata,
				})
				lastSectionRange = &sectionRange
			}

		case slashcmd.Error:
			t.mu.Unlock()
			return ev.Err
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	deletions := []textbuf.Edit{{
		Start: t.buffer.Offset(sourceRange.Start),
		End:   t.buffer.Offset(sourceRange.End),
	}}
	insertOffset := t.buffer.Offset(insertPosition)
	commandRangeEnd := t.buffer.Offset(commandRange.End)

	if t.buffer.TextRange(insertOffset, insertOffset+len(pendingOutputEndMarker)) == pendingOutputEndMarker {
		deletions = append(deletions, textbuf.Edit{
			Start: insertOffset,
			End:   insertOffset + len(pendingOutputEndMarker),
		})
	}

	// The command inserted a trailing newline of its own: drop the one we
	// added up front, unless the final section claims the character before
	// the insert position.
	if ensureTrailingNewline && t.charAt(commandRangeEnd) == '\n' &&
		insertOffset >= 2 && t.charAt(insertOffset-2) == '\n' {
		inLastSection := false
		if lastSectionRange != nil {
			start := t.buffer.Offset(lastSectionRange.Start)
			end := t.buffer.Offset(lastSectionRange.End)
			prev := insertOffset - 1
			inLastSection = prev >= start && prev < end
		}
		if !inLastSection {
			deletions = append(deletions, textbuf.Edit{Start: commandRangeEnd, End: commandRangeEnd + 1})
		}
	}

	t.buffer.ApplyEdits(deletions)
	return nil
}

// addOutputSectionLocked records a streamed section locally and replicates
// it.
func (t *Thread) addOutputSectionLocked(section OutputSection) {
	t.insertOutputSectionLocked(section)
	version := t.version.Clone()
	timestamp := t.nextTimestamp()
	t.pushOp(&SectionAddedOp{Timestamp: timestamp, Section: section, Version: version})
}

// finishCommand resolves the invocation and replicates the outcome.
func (t *Thread) finishCommand(commandID CommandID, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	version := t.version.Clone()
	timestamp := t.nextTimestamp()
	invoked, ok := t.invokedCommands[commandID]
	if !ok {
		return
	}
	errMessage := ""
	if err != nil {
		errMessage = err.Error()
		invoked.State = InvokedError
		invoked.Error = errMessage
		t.log.Warn("command %s failed: %v", commandID, err)
	} else {
		invoked.State = InvokedFinished
		t.log.Debug("command %s finished", commandID)
	}
	invoked.Timestamp = timestamp
	t.emit(InvokedCommandChanged{CommandID: commandID})
	t.pushOp(&CommandFinishedOp{
		ID:        commandID,
		Timestamp: timestamp,
		Error:     errMessage,
		Version:   version,
	})
}
