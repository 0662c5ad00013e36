package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"cothread/internal/slashcmd"
	"cothread/internal/textbuf"
	"cothread/internal/thread"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSavedThread(t *testing.T, text string) *thread.SavedThread {
	t.Helper()
	th := thread.New(thread.NewID(), 1, slashcmd.NewRegistry(), thread.CacheConfig{})
	defer th.Close()
	th.EditBuffer([]textbuf.Edit{{Start: 0, End: 0, Text: text}})
	th.SetSummary("test thread", true)
	return th.Serialize()
}

func TestSaveLoadDelete(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	saved := newSavedThread(t, "hello world")
	require.NoError(t, s.Save(saved))

	loaded, err := s.Load(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Text, loaded.Text)
	assert.Equal(t, saved.Summary, loaded.Summary)

	require.NoError(t, s.Delete(saved.ID))
	_, err = s.Load(saved.ID)
	assert.Error(t, err)
}

func TestListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	first := newSavedThread(t, "first")
	second := newSavedThread(t, "second")
	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(second))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.json"), []byte("{not json"), 0o644))

	metas, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 2)
	for _, meta := range metas {
		assert.Equal(t, "test thread", meta.Summary)
		assert.NotZero(t, meta.SavedAt)
	}
}

func TestGC(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	old := newSavedThread(t, "old")
	require.NoError(t, s.Save(old))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(s.pathFor(old.ID), past, past))

	fresh := newSavedThread(t, "fresh")
	require.NoError(t, s.Save(fresh))

	removed, err := s.GC(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	metas, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, fresh.ID, metas[0].ID)
}

func TestWatch(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	changes, err := s.Watch(ctx)
	require.NoError(t, err)

	saved := newSavedThread(t, "watched")
	require.NoError(t, s.Save(saved))

	select {
	case change := <-changes:
		assert.Equal(t, saved.ID, change.ID)
		assert.Equal(t, ChangeSaved, change.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	cancel()
	for range changes {
	}
}
