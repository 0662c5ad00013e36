// Package slashcmd defines the slash-command capability and its registry.
// A document scans its text for /name invocations; the registry decides
// which names are live, and a command's Run streams output events back into
// the document.
package slashcmd

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Event is one unit of streamed command output.
type Event interface{ isEvent() }

// StartSection opens a labeled output section. Sections may nest.
type StartSection struct {
	Icon     string
	Label    string
	Metadata map[string]any
}

// Content appends text to the current output. RunCommands marks output that
// should itself be scanned for slash commands.
type Content struct {
	Text        string
	RunCommands bool
}

// EndSection closes the most recently started section.
type EndSection struct{}

// Error aborts the invocation mid-stream. The command should close the
// channel right after sending it.
type Error struct {
	Err error
}

func (StartSection) isEvent() {}
func (Content) isEvent()      {}
func (EndSection) isEvent()   {}
func (Error) isEvent()        {}

// Command is a named capability invocable from document text.
type Command interface {
	Name() string
	Description() string
	RequiresArgument() bool
	// Run streams output events. The channel must be closed when the
	// command finishes; a non-nil error aborts the invocation instead.
	Run(ctx context.Context, arguments []string) (<-chan Event, error)
}

// Registry is the set of commands available to a document. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command. Re-registering a name replaces the previous
// command.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands[cmd.Name()] = cmd
}

// Unregister removes a command by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.commands, name)
}

// Get returns the command registered under name.
func (r *Registry) Get(name string) (Command, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("unknown slash command %q", name)
	}
	return cmd, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[name]
	return ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
