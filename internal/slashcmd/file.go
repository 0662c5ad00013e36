package slashcmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileCommand streams the contents of a file into the document as a single
// output section labeled with the path.
type FileCommand struct{}

func (FileCommand) Name() string           { return "file" }
func (FileCommand) Description() string    { return "insert the contents of a file" }
func (FileCommand) RequiresArgument() bool { return true }

func (FileCommand) Run(ctx context.Context, arguments []string) (<-chan Event, error) {
	if len(arguments) == 0 {
		return nil, fmt.Errorf("file command requires a path argument")
	}
	path := arguments[0]
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	events := make(chan Event, 3)
	go func() {
		defer close(events)
		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(StartSection{Icon: "file", Label: filepath.ToSlash(path)}) {
			return
		}
		if !send(Content{Text: string(data)}) {
			return
		}
		send(EndSection{})
	}()
	return events, nil
}
