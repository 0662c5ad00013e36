package thread

import (
	"encoding/json"
	"fmt"

	"cothread/internal/clock"
	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
)

// SavedThreadVersion is the on-disk format version this package writes.
const SavedThreadVersion = "1.0.0"

// SavedMessage is one message boundary in a saved document.
type SavedMessage struct {
	ID       MessageID       `json:"id"`
	Start    int             `json:"start"`
	Metadata MessageMetadata `json:"metadata"`
}

// SavedSection is one output section in a saved document, with its range
// resolved to offsets.
type SavedSection struct {
	Start    int            `json:"start"`
	End      int            `json:"end"`
	Icon     string         `json:"icon"`
	Label    string         `json:"label"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SavedThread is the on-disk form of a document: plain text plus enough
// structure to rebuild messages, sections, and the summary as operations.
type SavedThread struct {
	ID       ID             `json:"id"`
	Version  string         `json:"version"`
	Text     string         `json:"text"`
	Messages []SavedMessage `json:"messages"`
	Summary  string         `json:"summary"`
	Sections []SavedSection `json:"sections"`
}

// ParseSavedThread decodes a saved document, rejecting unknown format
// versions.
func ParseSavedThread(data []byte) (*SavedThread, error) {
	var probe struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("reading saved thread: %w", err)
	}
	if probe.Version != SavedThreadVersion {
		return nil, fmt.Errorf("unrecognized saved thread version %q", probe.Version)
	}
	var saved SavedThread
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("reading saved thread: %w", err)
	}
	return &saved, nil
}

// Serialize captures the document for persistence. Sections whose anchors
// have been invalidated by edits are dropped.
func (t *Thread) Serialize() *SavedThread {
	t.mu.Lock()
	defer t.mu.Unlock()

	saved := &SavedThread{
		ID:      t.id,
		Version: SavedThreadVersion,
		Text:    t.buffer.Text(),
	}
	for _, message := range t.messagesLocked() {
		saved.Messages = append(saved.Messages, SavedMessage{
			ID:       message.ID,
			Start:    message.OffsetRange.Start,
			Metadata: t.messagesMetadata[message.ID],
		})
	}
	if t.summary != nil {
		saved.Summary = t.summary.Text
	}
	for _, section := range t.outputSections {
		if !t.buffer.IsValidAnchor(section.Range.Start) || !t.buffer.IsValidAnchor(section.Range.End) {
			continue
		}
		saved.Sections = append(saved.Sections, SavedSection{
			Start:    t.buffer.Offset(section.Range.Start),
			End:      t.buffer.Offset(section.Range.End),
			Icon:     section.Icon,
			Label:    section.Label,
			Metadata: section.Metadata,
		})
	}
	return saved
}

// Deserialize rebuilds a document from its saved form: the text is restored
// with a local edit and the remaining structure is replayed as operations,
// which also re-derives every annotation.
func Deserialize(saved *SavedThread, registry *slashcmd.Registry, cacheConfig CacheConfig) *Thread {
	t := New(saved.ID, 0, registry, cacheConfig)
	t.mu.Lock()
	t.buffer.ApplyEdits([]textbuf.Edit{{Start: 0, End: 0, Text: saved.Text}})
	ops := saved.intoOps(t.buffer)
	t.mu.Unlock()
	t.ApplyOps(ops)
	return t
}

// intoOps converts the saved structure into operations a fresh replica can
// apply. The first message already exists on every replica, so only its
// metadata is replayed.
func (s *SavedThread) intoOps(buffer *textbuf.Buffer) []Operation {
	var operations []Operation
	version := clock.Global{}
	timestamps := clock.NewClock(0)

	var firstMessageMetadata *MessageMetadata
	for _, message := range s.Messages {
		if message.ID == firstMessageID {
			metadata := message.Metadata
			firstMessageMetadata = &metadata
			continue
		}
		operations = append(operations, &InsertMessageOp{
			Anchor: MessageAnchor{ID: message.ID, Start: buffer.AnchorBefore(message.Start)},
			Metadata: MessageMetadata{
				Role:      message.Metadata.Role,
				Status:    message.Metadata.Status,
				Timestamp: message.Metadata.Timestamp,
			},
			Version: version.Clone(),
		})
		version.Observe(message.ID)
		timestamps.Observe(message.ID)
	}

	if firstMessageMetadata != nil {
		timestamp := timestamps.Tick()
		operations = append(operations, &UpdateMessageOp{
			MessageID: firstMessageID,
			Metadata: MessageMetadata{
				Role:      firstMessageMetadata.Role,
				Status:    firstMessageMetadata.Status,
				Timestamp: timestamp,
			},
			Version: version.Clone(),
		})
		version.Observe(timestamp)
	}

	for _, section := range s.Sections {
		timestamp := timestamps.Tick()
		operations = append(operations, &SectionAddedOp{
			Timestamp: timestamp,
			Section: OutputSection{
				Range: textbuf.AnchorRange{
					Start: buffer.AnchorAfter(section.Start),
					End:   buffer.AnchorBefore(section.End),
				},
				Icon:     section.Icon,
				Label:    section.Label,
				Metadata: section.Metadata,
			},
			Version: version.Clone(),
		})
		version.Observe(timestamp)
	}

	timestamp := timestamps.Tick()
	operations = append(operations, &UpdateSummaryOp{
		Summary: Summary{Text: s.Summary, Done: true, Timestamp: timestamp},
		Version: version.Clone(),
	})

	return operations
}
