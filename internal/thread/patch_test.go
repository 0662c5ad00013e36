package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cothread/internal/textbuf"
)

func newAssistantThread(t *testing.T) (*Thread, MessageID) {
	t.Helper()
	th := newTestThread(t, 1)
	id := th.Messages()[0].ID
	th.CycleMessageRoles(map[MessageID]bool{id: true})
	require.Equal(t, RoleAssistant, th.Messages()[0].Role)
	return th, id
}

// TestPatchParsing parses a complete patch block out of an assistant message.
func TestPatchParsing(t *testing.T) {
	th, _ := newAssistantThread(t)

	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: `<patch>
<title>Fix error handling</title>
<edit>
<path>src/b.rs</path>
<operation>update</operation>
<old_text>one()</old_text>
<new_text>two()</new_text>
<description>Swap the call</description>
</edit>
<edit>
<path>src/a.rs</path>
<operation>create</operation>
<new_text>fn a() {}</new_text>
</edit>
</patch>
`}})

	patches := th.Patches()
	require.Len(t, patches, 1)
	patch := patches[0]
	assert.Equal(t, PatchReady, patch.Status)
	assert.Equal(t, "Fix error handling", patch.Title)
	assert.Equal(t, Range{0, len(th.Text())}, th.ResolveRange(patch.Range))

	// Edits come out sorted by path.
	require.Len(t, patch.Edits, 2)
	create := patch.Edits[0]
	assert.Equal(t, "src/a.rs", create.Path)
	assert.Equal(t, OpCreate, create.Operation)
	assert.Nil(t, create.OldText)
	require.NotNil(t, create.NewText)
	assert.Equal(t, "fn a() {}", *create.NewText)

	update := patch.Edits[1]
	assert.Equal(t, "src/b.rs", update.Path)
	assert.Equal(t, OpUpdate, update.Operation)
	require.NotNil(t, update.OldText)
	assert.Equal(t, "one()", *update.OldText)
	require.NotNil(t, update.NewText)
	assert.Equal(t, "two()", *update.NewText)
	require.NotNil(t, update.Description)
	assert.Equal(t, "Swap the call", *update.Description)

	found, ok := th.PatchContaining(5)
	require.True(t, ok)
	assert.Equal(t, patch.Title, found.Title)
}

// TestUnterminatedPatchStaysPending streams a patch in two pieces and checks
// the pending-to-ready transition when the closing tag arrives.
func TestUnterminatedPatchStaysPending(t *testing.T) {
	th, _ := newAssistantThread(t)

	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "<patch>\n<title>WIP</title>\n"}})
	patches := th.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, PatchPending, patches[0].Status)
	assert.Equal(t, "WIP", patches[0].Title)
	assert.Equal(t, Range{0, len(th.Text())}, th.ResolveRange(patches[0].Range),
		"a pending patch should extend to the end of its message")

	th.EditBuffer([]textbuf.Edit{{Start: len(th.Text()), End: len(th.Text()), Text: "</patch>\n"}})
	patches = th.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, PatchReady, patches[0].Status)
}

// TestPatchesFollowRoleChanges checks that patch annotations appear and
// disappear as the surrounding message cycles through roles.
func TestPatchesFollowRoleChanges(t *testing.T) {
	th := newTestThread(t, 1)
	id := th.Messages()[0].ID

	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: "<patch>\n<title>T</title>\n</patch>\n"}})
	assert.Empty(t, th.Patches(), "patches are only recognized in assistant messages")

	var updates int
	unsubscribe := th.Subscribe(func(ev Event) {
		if _, ok := ev.(PatchesUpdated); ok {
			updates++
		}
	})
	defer unsubscribe()

	th.CycleMessageRoles(map[MessageID]bool{id: true}) // user -> assistant
	require.Len(t, th.Patches(), 1)
	assert.Equal(t, "T", th.Patches()[0].Title)
	assert.Equal(t, 1, updates)

	th.CycleMessageRoles(map[MessageID]bool{id: true}) // assistant -> system
	assert.Empty(t, th.Patches())
	assert.Equal(t, 2, updates)
}

func TestMalformedPatchEditsAreDropped(t *testing.T) {
	th, _ := newAssistantThread(t)

	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: `<patch>
<title>Broken</title>
<edit>
<path>src/a.rs</path>
<operation>frobnicate</operation>
</edit>
<edit>
<operation>create</operation>
</edit>
<edit>
<path>src/ok.rs</path>
<operation>delete</operation>
<old_text>fn gone() {}</old_text>
</edit>
</patch>
`}})

	patches := th.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, PatchReady, patches[0].Status)
	require.Len(t, patches[0].Edits, 1, "edits with unknown operations or no path are dropped")
	assert.Equal(t, "src/ok.rs", patches[0].Edits[0].Path)
	assert.Equal(t, OpDelete, patches[0].Edits[0].Operation)
}

// TestMultiplePatchesInOneMessage checks patch ordering and removal when one
// of two patches is deleted.
func TestMultiplePatchesInOneMessage(t *testing.T) {
	th, _ := newAssistantThread(t)

	first := "<patch>\n<title>one</title>\n</patch>\n"
	second := "<patch>\n<title>two</title>\n</patch>\n"
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: first + "\n" + second}})

	patches := th.Patches()
	require.Len(t, patches, 2)
	assert.Equal(t, "one", patches[0].Title)
	assert.Equal(t, "two", patches[1].Title)

	// Deleting the first block leaves only the second.
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: len(first) + 1}})
	patches = th.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, "two", patches[0].Title)
}
