package thread

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
)

// TestSerializationRoundTrip saves a document and rebuilds it, checking that
// text, message boundaries, ids, and the summary all survive.
func TestSerializationRoundTrip(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID

	m2, ok := th.InsertMessageAfter(m1, RoleAssistant, StatusDone)
	require.True(t, ok)
	m3, ok := th.InsertMessageAfter(m2.ID, RoleSystem, StatusDone)
	require.True(t, ok)
	th.EditBuffer([]textbuf.Edit{
		{Start: 0, End: 0, Text: "a"},
		{Start: 1, End: 1, Text: "b\nc"},
	})
	_, ok = th.InsertMessageAfter(m3.ID, RoleSystem, StatusDone)
	require.True(t, ok)
	require.True(t, th.Undo())
	th.SetSummary("a summary", true)

	require.Equal(t, "a\nb\nc\n", th.Text())
	expected := []messageState{
		{m1, RoleUser, Range{0, 2}},
		{m2.ID, RoleAssistant, Range{2, 6}},
		{m3.ID, RoleSystem, Range{6, 6}},
	}
	require.Equal(t, expected, messageStates(th))

	saved := th.Serialize()
	assert.Equal(t, th.ID(), saved.ID)
	assert.Equal(t, SavedThreadVersion, saved.Version)

	// The saved form must survive a trip through JSON, like the store does.
	data, err := json.Marshal(saved)
	require.NoError(t, err)
	parsed, err := ParseSavedThread(data)
	require.NoError(t, err)

	restored := Deserialize(parsed, slashcmd.NewRegistry(), CacheConfig{})
	t.Cleanup(restored.Close)

	assert.Equal(t, "a\nb\nc\n", restored.Text())
	assert.Equal(t, expected, messageStates(restored))
	summary := restored.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, "a summary", summary.Text)
	assert.True(t, summary.Done)
	assert.Zero(t, restored.DeferredOps())
}

func TestDeserializeRestoresSections(t *testing.T) {
	saved := &SavedThread{
		ID:      NewID(),
		Version: SavedThreadVersion,
		Text:    "hello\nworld\n",
		Messages: []SavedMessage{{
			ID:       MessageID{},
			Start:    0,
			Metadata: MessageMetadata{Role: RoleUser, Status: StatusDone},
		}},
		Summary: "sections",
		Sections: []SavedSection{{
			Start: 6,
			End:   11,
			Icon:  "file",
			Label: "world",
		}},
	}

	th := Deserialize(saved, slashcmd.NewRegistry(), CacheConfig{})
	t.Cleanup(th.Close)

	assert.Equal(t, "hello\nworld\n", th.Text())
	sections := th.OutputSections()
	require.Len(t, sections, 1)
	assert.Equal(t, "world", sections[0].Label)
	assert.Equal(t, Range{6, 11}, th.ResolveRange(sections[0].Range))
}

func TestSerializeDropsInvalidatedSections(t *testing.T) {
	th := newCommandThread(t, &stubCommand{name: "file", requiresArg: true})
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "/file x"}})
	commands := th.ParsedCommands()
	require.Len(t, commands, 1)

	events := make(chan slashcmd.Event, 3)
	events <- slashcmd.StartSection{Icon: "file", Label: "x"}
	events <- slashcmd.Content{Text: "output"}
	events <- slashcmd.EndSection{}
	close(events)
	id := th.InsertCommandOutput(commands[0].SourceRange, "file", events, nil, true)
	waitForState(t, th, id, InvokedFinished)
	require.Len(t, th.OutputSections(), 1)

	// Deleting the section's text invalidates its anchors.
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: th.OffsetForAnchor(textbuf.AnchorMax)}})
	saved := th.Serialize()
	assert.Empty(t, saved.Sections)
}

func TestParseSavedThreadRejectsUnknownVersion(t *testing.T) {
	_, err := ParseSavedThread([]byte(`{"version": "9.9.9"}`))
	assert.Error(t, err)

	_, err = ParseSavedThread([]byte(`not json`))
	assert.Error(t, err)
}
