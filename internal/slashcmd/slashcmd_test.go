package slashcmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Run("name only", func(t *testing.T) {
		line := ParseLine("/tidy")
		require.NotNil(t, line)
		assert.Equal(t, Span{Start: 1, End: 5}, line.Name)
		assert.Empty(t, line.Arguments)
	})

	t.Run("name with arguments", func(t *testing.T) {
		line := ParseLine("/file src/lib.rs extra")
		require.NotNil(t, line)
		assert.Equal(t, "file", "/file src/lib.rs extra"[line.Name.Start:line.Name.End])
		require.Len(t, line.Arguments, 2)
		assert.Equal(t, Span{Start: 6, End: 16}, line.Arguments[0])
		assert.Equal(t, Span{Start: 17, End: 22}, line.Arguments[1])
	})

	t.Run("not an invocation", func(t *testing.T) {
		assert.Nil(t, ParseLine("plain text"))
		assert.Nil(t, ParseLine("/"))
		assert.Nil(t, ParseLine("/ spaced"))
		assert.Nil(t, ParseLine(""))
		assert.Nil(t, ParseLine(" /indented"))
	})

	t.Run("trailing whitespace", func(t *testing.T) {
		line := ParseLine("/cmd arg  ")
		require.NotNil(t, line)
		require.Len(t, line.Arguments, 1)
		assert.Equal(t, Span{Start: 5, End: 8}, line.Arguments[0])
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(FileCommand{})

	assert.True(t, reg.Has("file"))
	assert.False(t, reg.Has("tab"))

	cmd, err := reg.Get("file")
	require.NoError(t, err)
	assert.True(t, cmd.RequiresArgument())

	_, err = reg.Get("missing")
	assert.Error(t, err)

	assert.Equal(t, []string{"file"}, reg.Names())

	reg.Unregister("file")
	assert.False(t, reg.Has("file"))
}

func TestFileCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello from disk"), 0o644))

	events, err := FileCommand{}.Run(context.Background(), []string{path})
	require.NoError(t, err)

	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	require.Len(t, collected, 3)
	assert.IsType(t, StartSection{}, collected[0])
	content, ok := collected[1].(Content)
	require.True(t, ok)
	assert.Equal(t, "hello from disk", content.Text)
	assert.IsType(t, EndSection{}, collected[2])

	_, err = FileCommand{}.Run(context.Background(), nil)
	assert.Error(t, err)
}
