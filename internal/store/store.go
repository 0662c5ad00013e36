// Package store persists conversation documents as JSON files, one per
// document, and can watch the directory for changes made by other processes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"cothread/internal/logging"
	"cothread/internal/thread"
)

const fileExtension = ".json"

// Metadata describes one saved document without loading its full contents.
type Metadata struct {
	ID       thread.ID
	Summary  string
	Path     string
	SavedAt  time.Time
	Messages int
}

// Store is a directory of saved documents.
type Store struct {
	dir string
	log *logging.Logger
}

// Open ensures the directory exists and returns a store over it.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Store{dir: dir, log: logging.Get(logging.CategoryStore)}, nil
}

// Dir returns the store's directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) pathFor(id thread.ID) string {
	return filepath.Join(s.dir, string(id)+fileExtension)
}

// Save writes a document's saved form, replacing any previous version
// atomically.
func (s *Store) Save(saved *thread.SavedThread) error {
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding thread %s: %w", saved.ID, err)
	}

	path := s.pathFor(saved.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing thread %s: %w", saved.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing thread %s: %w", saved.ID, err)
	}
	s.log.Debug("saved thread %s (%d bytes)", saved.ID, len(data))
	return nil
}

// Load reads one saved document by id.
func (s *Store) Load(id thread.ID) (*thread.SavedThread, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", id, err)
	}
	return thread.ParseSavedThread(data)
}

// Delete removes a saved document.
func (s *Store) Delete(id thread.ID) error {
	if err := os.Remove(s.pathFor(id)); err != nil {
		return fmt.Errorf("deleting thread %s: %w", id, err)
	}
	s.log.Debug("deleted thread %s", id)
	return nil
}

// List scans the directory and returns metadata for every saved document,
// newest first. Files are parsed concurrently; unreadable files are skipped
// with a warning.
func (s *Store) List(ctx context.Context) ([]Metadata, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading store directory: %w", err)
	}

	var mu sync.Mutex
	var results []Metadata
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileExtension) {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			meta, err := s.readMetadata(path)
			if err != nil {
				s.log.Warn("skipping %s: %v", path, err)
				return nil
			}
			mu.Lock()
			results = append(results, meta)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].SavedAt.After(results[j].SavedAt)
	})
	return results, nil
}

func (s *Store) readMetadata(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, err
	}
	saved, err := thread.ParseSavedThread(data)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		ID:       saved.ID,
		Summary:  saved.Summary,
		Path:     path,
		SavedAt:  info.ModTime(),
		Messages: len(saved.Messages),
	}, nil
}

// GC deletes saved documents not written since the cutoff and returns how
// many were removed.
func (s *Store) GC(ctx context.Context, cutoff time.Time) (int, error) {
	metas, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, meta := range metas {
		if meta.SavedAt.Before(cutoff) {
			if err := s.Delete(meta.ID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// ChangeKind says what happened to a saved document on disk.
type ChangeKind string

const (
	ChangeSaved   ChangeKind = "saved"
	ChangeRemoved ChangeKind = "removed"
)

// Change is one observed mutation of the store directory.
type Change struct {
	ID   thread.ID
	Kind ChangeKind
}

// Watch reports saved-document changes until the context is canceled. The
// returned channel is closed when watching stops.
func (s *Store) Watch(ctx context.Context) (<-chan Change, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting store watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", s.dir, err)
	}

	changes := make(chan Change)
	go func() {
		defer close(changes)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := filepath.Base(event.Name)
				if !strings.HasSuffix(name, fileExtension) {
					continue
				}
				id := thread.ID(strings.TrimSuffix(name, fileExtension))
				var change Change
				switch {
				case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
					change = Change{ID: id, Kind: ChangeSaved}
				case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
					change = Change{ID: id, Kind: ChangeRemoved}
				default:
					continue
				}
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("store watcher: %v", err)
			}
		}
	}()
	return changes, nil
}
