package thread

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"cothread/internal/textbuf"
)

// reparsePatchesInRange rebuilds the XML tag index for the given range and
// reparses every patch the range touches. Resolved ranges of new and removed
// patches are appended to updated and removed.
func (t *Thread) reparsePatchesInRange(r textbuf.AnchorRange, updated, removed *[]Range) {
	tagStart, tagEnd := t.indicesIntersecting(len(t.xmlTags), r, func(i int) textbuf.AnchorRange {
		return t.xmlTags[i].Range
	})
	newTags := t.parseXMLTagsInRange(r)
	splicedTags := make([]XMLTag, 0, len(t.xmlTags)-(tagEnd-tagStart)+len(newTags))
	splicedTags = append(splicedTags, t.xmlTags[:tagStart]...)
	splicedTags = append(splicedTags, newTags...)
	splicedTags = append(splicedTags, t.xmlTags[tagEnd:]...)
	t.xmlTags = splicedTags

	patchStart, patchEnd := t.indicesIntersecting(len(t.patches), r, func(i int) textbuf.AnchorRange {
		return t.patches[i].Range
	})

	// Resume tag scanning just past the last patch that the change left
	// intact.
	tagsStartIx := 0
	if patchStart > 0 {
		preceding := t.patches[patchStart-1]
		tagsStartIx = sort.Search(len(t.xmlTags), func(i int) bool {
			return t.buffer.CompareAnchors(t.xmlTags[i].Range.Start, preceding.Range.End) > 0
		})
	}

	newPatches := t.parsePatches(tagsStartIx, r.End)
	newRanges := make(map[textbuf.AnchorRange]bool, len(newPatches))
	for _, p := range newPatches {
		newRanges[p.Range] = true
		*updated = append(*updated, t.resolveRangeLocked(p.Range))
	}
	for _, p := range t.patches[patchStart:patchEnd] {
		if !newRanges[p.Range] {
			*removed = append(*removed, t.resolveRangeLocked(p.Range))
		}
	}

	splicedPatches := make([]Patch, 0, len(t.patches)-(patchEnd-patchStart)+len(newPatches))
	splicedPatches = append(splicedPatches, t.patches[:patchStart]...)
	splicedPatches = append(splicedPatches, newPatches...)
	splicedPatches = append(splicedPatches, t.patches[patchEnd:]...)
	t.patches = splicedPatches
}

func (t *Thread) resolveRangeLocked(r textbuf.AnchorRange) Range {
	return Range{Start: t.buffer.Offset(r.Start), End: t.buffer.Offset(r.End)}
}

// parseXMLTagsInRange scans the lines inside the range for recognized tags.
// Only assistant messages are scanned; tags in other messages are plain text.
func (t *Thread) parseXMLTagsInRange(r textbuf.AnchorRange) []XMLTag {
	text := t.buffer.Text()
	startOff := t.buffer.Offset(r.Start)
	endOff := t.buffer.Offset(r.End)
	messages := t.messagesLocked()

	var tags []XMLTag
	mi := 0
	offset := startOff
	for offset <= endOff && offset < len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		if lineEnd < 0 {
			lineEnd = len(text)
		} else {
			lineEnd += offset
		}
		line := text[offset:lineEnd]

		for mi < len(messages) && offset >= messages[mi].OffsetRange.End {
			mi++
		}
		if mi < len(messages) && messages[mi].Role == RoleAssistant {
			for startIx := 0; startIx < len(line); startIx++ {
				if line[startIx] != '<' {
					continue
				}
				rel := strings.IndexByte(line[startIx:], '>')
				if rel < 0 {
					continue
				}
				closingIx := startIx + rel
				endIx := closingIx + 1
				nameStartIx := startIx + 1
				isOpen := true
				if nameStartIx < closingIx && line[nameStartIx] == '/' {
					nameStartIx++
					isOpen = false
				}
				inner := line[nameStartIx:closingIx]
				nameLen := strings.IndexFunc(inner, unicode.IsSpace)
				if nameLen < 0 {
					nameLen = len(inner)
				}
				if kind, ok := xmlTagKinds[inner[:nameLen]]; ok {
					tags = append(tags, XMLTag{
						Kind:   kind,
						IsOpen: isOpen,
						Range: textbuf.AnchorRange{
							Start: t.buffer.AnchorAfter(offset + startIx),
							End:   t.buffer.AnchorBefore(offset + endIx),
						},
					})
				}
			}
		}
		offset = lineEnd + 1
	}
	return tags
}

// parsePatches assembles patches from the tag index starting at tagsStartIx
// and stopping once a tag starts past bufferEnd at patch depth zero. A patch
// whose closing tag has not arrived yet stays Pending and extends to the end
// of its message.
func (t *Thread) parsePatches(tagsStartIx int, bufferEnd textbuf.Anchor) []Patch {
	var newPatches []Patch
	var pendingPatch *Patch
	depth := 0
	tags := t.xmlTags

	i := tagsStartIx
outer:
	for i < len(tags) {
		tag := tags[i]
		i++
		if depth == 0 && t.buffer.CompareAnchors(tag.Range.Start, bufferEnd) > 0 {
			break
		}
		if tag.Kind != TagPatch || !tag.IsOpen {
			continue
		}

		depth++
		patchStart := tag.Range.Start
		var edits []PatchEdit
		patch := Patch{
			Range:  textbuf.AnchorRange{Start: patchStart, End: patchStart},
			Status: PatchPending,
		}

		for i < len(tags) {
			tag := tags[i]
			i++

			if tag.Kind == TagPatch && !tag.IsOpen {
				depth--
				if depth == 0 {
					patch.Range.End = tag.Range.End

					// Absorb the line right after the closing tag when it is
					// empty and still inside the same message.
					patchEndOffset := t.buffer.Offset(patch.Range.End)
					c0 := t.charAt(patchEndOffset)
					c1 := t.charAt(patchEndOffset + 1)
					if c0 == '\n' && (c1 == 0 || c1 == '\n') {
						messages := t.messagesForOffsetsLocked([]int{patchEndOffset, patchEndOffset + 1})
						if len(messages) == 1 {
							patch.Range.End = t.buffer.AnchorBefore(patchEndOffset + 1)
						}
					}

					sort.SliceStable(edits, func(a, b int) bool {
						return edits[a].Path < edits[b].Path
					})
					patch.Edits = edits
					patch.Status = PatchReady
					newPatches = append(newPatches, patch)
					continue outer
				}
			}

			if tag.Kind == TagTitle && tag.IsOpen {
				contentStart := tag.Range.End
				for i < len(tags) {
					closing := tags[i]
					i++
					if closing.Kind == TagTitle && !closing.IsOpen {
						patch.Title = t.trimmedTextInRange(contentStart, closing.Range.Start)
						break
					}
				}
			}

			if tag.Kind == TagEdit && tag.IsOpen {
				var path, oldText, newText, operation, description *string
				for i < len(tags) {
					fieldTag := tags[i]
					i++
					if fieldTag.Kind == TagEdit && !fieldTag.IsOpen {
						edit, err := newPatchEdit(path, operation, oldText, newText, description)
						if err != nil {
							t.log.Debug("dropping malformed patch edit: %v", err)
						} else {
							edits = append(edits, edit)
						}
						break
					}

					if fieldTag.IsOpen && isEditFieldKind(fieldTag.Kind) {
						kind := fieldTag.Kind
						contentStart := fieldTag.Range.End
						if i < len(tags) && tags[i].Kind == kind && !tags[i].IsOpen {
							closing := tags[i]
							i++
							content := t.trimmedTextInRange(contentStart, closing.Range.Start)
							switch kind {
							case TagPath:
								path = &content
							case TagOperation:
								operation = &content
							case TagOldText:
								oldText = nonEmpty(content)
							case TagNewText:
								newText = nonEmpty(content)
							case TagDescription:
								description = nonEmpty(content)
							}
						}
					}
				}
			}
		}

		patch.Edits = edits
		pendingPatch = &patch
	}

	if pendingPatch != nil {
		patchStart := t.buffer.Offset(pendingPatch.Range.Start)
		if message, ok := t.messageForOffsetLocked(patchStart); ok {
			if message.AnchorRange.End == textbuf.AnchorMax {
				pendingPatch.Range.End = textbuf.AnchorMax
			} else {
				pendingPatch.Range.End = t.buffer.AnchorAfter(message.OffsetRange.End - 1)
			}
		} else {
			pendingPatch.Range.End = textbuf.AnchorMax
		}
		newPatches = append(newPatches, *pendingPatch)
	}
	return newPatches
}

// trimmedTextInRange returns the text between two anchors with leading
// newlines and trailing whitespace removed.
func (t *Thread) trimmedTextInRange(start, end textbuf.Anchor) string {
	content := t.buffer.TextRange(t.buffer.Offset(start), t.buffer.Offset(end))
	content = strings.TrimLeft(content, "\n")
	return strings.TrimRightFunc(content, unicode.IsSpace)
}

func isEditFieldKind(kind XMLTagKind) bool {
	switch kind {
	case TagPath, TagOldText, TagNewText, TagOperation, TagDescription:
		return true
	}
	return false
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// newPatchEdit validates the extracted fields of an <edit> block. Every edit
// needs a path and a recognized operation; operations that locate existing
// text also need old_text.
func newPatchEdit(path, operation, oldText, newText, description *string) (PatchEdit, error) {
	if path == nil {
		return PatchEdit{}, fmt.Errorf("edit is missing a path")
	}
	if operation == nil {
		return PatchEdit{}, fmt.Errorf("edit %q is missing an operation", *path)
	}
	op := PatchOperation(*operation)
	switch op {
	case OpUpdate, OpInsertBefore, OpInsertAfter, OpDelete:
		if oldText == nil {
			return PatchEdit{}, fmt.Errorf("%s edit for %q requires old_text", op, *path)
		}
	case OpCreate:
	default:
		return PatchEdit{}, fmt.Errorf("unknown operation %q", *operation)
	}
	return PatchEdit{
		Path:        *path,
		Operation:   op,
		OldText:     oldText,
		NewText:     newText,
		Description: description,
	}, nil
}
