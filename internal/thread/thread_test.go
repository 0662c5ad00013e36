package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cothread/internal/clock"
	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestThread(t *testing.T, replica clock.ReplicaID) *Thread {
	t.Helper()
	th := New(NewID(), replica, slashcmd.NewRegistry(), CacheConfig{})
	t.Cleanup(th.Close)
	return th
}

// messageState is the observable shape of one message, used to assert the
// full message list in a single comparison.
type messageState struct {
	ID    MessageID
	Role  Role
	Range Range
}

func messageStates(th *Thread) []messageState {
	var out []messageState
	for _, m := range th.Messages() {
		out = append(out, messageState{ID: m.ID, Role: m.Role, Range: m.OffsetRange})
	}
	return out
}

// TestInsertingAndRemovingMessages walks a document through boundary
// insertion, interleaved edits, a deletion that merges messages, and undo/redo
// of that merge.
func TestInsertingAndRemovingMessages(t *testing.T) {
	th := newTestThread(t, 1)

	m1 := th.Messages()[0].ID
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 0}},
	}, messageStates(th))

	m2, ok := th.InsertMessageAfter(m1, RoleAssistant, StatusDone)
	require.True(t, ok)
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 1}},
		{m2.ID, RoleAssistant, Range{1, 1}},
	}, messageStates(th))

	th.EditBuffer([]textbuf.Edit{
		{Start: 0, End: 0, Text: "1"},
		{Start: 1, End: 1, Text: "2"},
	})
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 2}},
		{m2.ID, RoleAssistant, Range{2, 3}},
	}, messageStates(th))

	m3, ok := th.InsertMessageAfter(m2.ID, RoleUser, StatusDone)
	require.True(t, ok)
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 2}},
		{m2.ID, RoleAssistant, Range{2, 4}},
		{m3.ID, RoleUser, Range{4, 4}},
	}, messageStates(th))

	// A second insertion at the same boundary lands before the earlier one.
	m4, ok := th.InsertMessageAfter(m2.ID, RoleUser, StatusDone)
	require.True(t, ok)
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 2}},
		{m2.ID, RoleAssistant, Range{2, 4}},
		{m4.ID, RoleUser, Range{4, 5}},
		{m3.ID, RoleUser, Range{5, 5}},
	}, messageStates(th))

	th.EditBuffer([]textbuf.Edit{
		{Start: 4, End: 4, Text: "C"},
		{Start: 5, End: 5, Text: "D"},
	})
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 2}},
		{m2.ID, RoleAssistant, Range{2, 4}},
		{m4.ID, RoleUser, Range{4, 6}},
		{m3.ID, RoleUser, Range{6, 7}},
	}, messageStates(th))

	// Deleting across message boundaries merges the messages.
	th.EditBuffer([]textbuf.Edit{{Start: 1, End: 4}})
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 3}},
		{m3.ID, RoleUser, Range{3, 4}},
	}, messageStates(th))

	// Undoing the deletion also undoes the merge.
	require.True(t, th.Undo())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 2}},
		{m2.ID, RoleAssistant, Range{2, 4}},
		{m4.ID, RoleUser, Range{4, 6}},
		{m3.ID, RoleUser, Range{6, 7}},
	}, messageStates(th))

	// Redoing the deletion redoes the merge.
	require.True(t, th.Redo())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 3}},
		{m3.ID, RoleUser, Range{3, 4}},
	}, messageStates(th))

	// Inserting after a merged message still works.
	m5, ok := th.InsertMessageAfter(m1, RoleSystem, StatusDone)
	require.True(t, ok)
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 3}},
		{m5.ID, RoleSystem, Range{3, 4}},
		{m3.ID, RoleUser, Range{4, 5}},
	}, messageStates(th))
}

// TestMessageSplitting splits a message repeatedly and checks that existing
// newlines are recycled in the middle of a message but not at its edges.
func TestMessageSplitting(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID

	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "aaa\nbbb\nccc\nddd\n"}})

	sel, m2 := th.SplitMessage(3, 3)
	require.Nil(t, sel)
	require.NotNil(t, m2)
	assert.Equal(t, "aaa\nbbb\nccc\nddd\n", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m2.ID, RoleUser, Range{4, 16}},
	}, messageStates(th))

	// Splitting at the end of a message inserts a fresh newline.
	sel, m3 := th.SplitMessage(3, 3)
	require.Nil(t, sel)
	require.NotNil(t, m3)
	assert.Equal(t, "aaa\n\nbbb\nccc\nddd\n", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m3.ID, RoleUser, Range{4, 5}},
		{m2.ID, RoleUser, Range{5, 17}},
	}, messageStates(th))

	sel, m4 := th.SplitMessage(9, 9)
	require.Nil(t, sel)
	require.NotNil(t, m4)
	assert.Equal(t, "aaa\n\nbbb\nccc\nddd\n", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m3.ID, RoleUser, Range{4, 5}},
		{m2.ID, RoleUser, Range{5, 9}},
		{m4.ID, RoleUser, Range{9, 17}},
	}, messageStates(th))

	sel, m5 := th.SplitMessage(9, 9)
	require.Nil(t, sel)
	require.NotNil(t, m5)
	assert.Equal(t, "aaa\n\nbbb\n\nccc\nddd\n", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m3.ID, RoleUser, Range{4, 5}},
		{m2.ID, RoleUser, Range{5, 9}},
		{m4.ID, RoleUser, Range{9, 10}},
		{m5.ID, RoleUser, Range{10, 18}},
	}, messageStates(th))

	// A non-empty selection yields both a selection and a suffix message.
	m6, m7 := th.SplitMessage(14, 16)
	require.NotNil(t, m6)
	require.NotNil(t, m7)
	assert.Equal(t, "aaa\n\nbbb\n\nccc\ndd\nd\n", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m3.ID, RoleUser, Range{4, 5}},
		{m2.ID, RoleUser, Range{5, 9}},
		{m4.ID, RoleUser, Range{9, 10}},
		{m5.ID, RoleUser, Range{10, 14}},
		{m6.ID, RoleUser, Range{14, 17}},
		{m7.ID, RoleUser, Range{17, 19}},
	}, messageStates(th))
}

func TestMessagesForOffsets(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID

	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "aaa"}})
	m2, ok := th.InsertMessageAfter(m1, RoleUser, StatusDone)
	require.True(t, ok)
	th.EditBuffer([]textbuf.Edit{{Start: 4, End: 4, Text: "bbb"}})

	m3, ok := th.InsertMessageAfter(m2.ID, RoleUser, StatusDone)
	require.True(t, ok)
	th.EditBuffer([]textbuf.Edit{{Start: 8, End: 8, Text: "ccc"}})

	require.Equal(t, "aaa\nbbb\nccc", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m2.ID, RoleUser, Range{4, 8}},
		{m3.ID, RoleUser, Range{8, 11}},
	}, messageStates(th))

	idsForOffsets := func(offsets ...int) []MessageID {
		var ids []MessageID
		for _, m := range th.MessagesForOffsets(offsets) {
			ids = append(ids, m.ID)
		}
		return ids
	}

	assert.Equal(t, []MessageID{m1, m2.ID, m3.ID}, idsForOffsets(0, 4, 9))
	// Offsets in the same message deduplicate; offsets past the end resolve
	// to the last message.
	assert.Equal(t, []MessageID{m1, m3.ID}, idsForOffsets(0, 1, 11))

	m4, ok := th.InsertMessageAfter(m3.ID, RoleUser, StatusDone)
	require.True(t, ok)
	require.Equal(t, "aaa\nbbb\nccc\n", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 4}},
		{m2.ID, RoleUser, Range{4, 8}},
		{m3.ID, RoleUser, Range{8, 12}},
		{m4.ID, RoleUser, Range{12, 12}},
	}, messageStates(th))
	assert.Equal(t, []MessageID{m1, m2.ID, m3.ID, m4.ID}, idsForOffsets(0, 4, 8, 12))
}

func TestInsertMessageAfterUnknownID(t *testing.T) {
	th := newTestThread(t, 1)
	_, ok := th.InsertMessageAfter(MessageID{Replica: 9, Value: 42}, RoleUser, StatusDone)
	assert.False(t, ok)
	assert.Len(t, th.Messages(), 1)
}

// TestInsertEventSeesNewMessage checks that by the time subscribers hear
// about a boundary insertion, the anchor is already in the message list.
// Handlers run under the thread lock, so they read the anchors directly.
func TestInsertEventSeesNewMessage(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID

	var anchorCounts []int
	unsubscribe := th.Subscribe(func(ev Event) {
		if _, ok := ev.(MessagesEdited); ok {
			anchorCounts = append(anchorCounts, len(th.messageAnchors))
		}
	})
	defer unsubscribe()

	_, ok := th.InsertMessageAfter(m1, RoleAssistant, StatusDone)
	require.True(t, ok)
	require.NotEmpty(t, anchorCounts)
	assert.Equal(t, 2, anchorCounts[len(anchorCounts)-1])
}

func TestInsertMessageAtOffset(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "aaaa"}})

	anchor := th.InsertMessageAtOffset(2, RoleAssistant, StatusPending)
	assert.Equal(t, "aa\naa", th.Text())
	assert.Equal(t, []messageState{
		{m1, RoleUser, Range{0, 3}},
		{anchor.ID, RoleAssistant, Range{3, 5}},
	}, messageStates(th))

	th.UpdateMessageStatus(anchor.ID, StatusDone)
	assert.Equal(t, StatusDone, th.Messages()[1].Status)
}

func TestSplitAcrossMessagesIsNoOp(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "aaa"}})
	_, ok := th.InsertMessageAfter(m1, RoleUser, StatusDone)
	require.True(t, ok)
	th.EditBuffer([]textbuf.Edit{{Start: 4, End: 4, Text: "bbb"}})

	sel, suffix := th.SplitMessage(1, 6)
	assert.Nil(t, sel)
	assert.Nil(t, suffix)
	assert.Equal(t, "aaa\nbbb", th.Text())
}

func TestCycleMessageRoles(t *testing.T) {
	th := newTestThread(t, 1)
	m1 := th.Messages()[0].ID

	th.CycleMessageRoles(map[MessageID]bool{m1: true})
	assert.Equal(t, RoleAssistant, th.Messages()[0].Role)
	th.CycleMessageRoles(map[MessageID]bool{m1: true})
	assert.Equal(t, RoleSystem, th.Messages()[0].Role)
	th.CycleMessageRoles(map[MessageID]bool{m1: true})
	assert.Equal(t, RoleUser, th.Messages()[0].Role)
}

func TestSummary(t *testing.T) {
	th := newTestThread(t, 1)
	require.Nil(t, th.Summary())

	var changed int
	unsubscribe := th.Subscribe(func(ev Event) {
		if _, ok := ev.(SummaryChanged); ok {
			changed++
		}
	})
	defer unsubscribe()

	th.SetSummary("investigating flaky test", false)
	summary := th.Summary()
	require.NotNil(t, summary)
	assert.Equal(t, "investigating flaky test", summary.Text)
	assert.False(t, summary.Done)
	assert.Equal(t, 1, changed)

	th.SetSummary("flaky test root cause", true)
	summary = th.Summary()
	assert.True(t, summary.Done)
	assert.Equal(t, 2, changed)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abcdefgh"))

	th := newTestThread(t, 1)
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "aaaabbbbcccc"}})
	assert.Equal(t, 3, th.CountTokens())
	th.SetTokenCount(99)
	assert.Equal(t, 99, th.TokenCount())
}
