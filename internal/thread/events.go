package thread

// Event is a notification emitted by a Thread after its state changes.
// Events are dispatched synchronously while the thread lock is held;
// subscribers must not call back into the thread from their handler.
type Event interface{ threadEvent() }

// MessagesEdited fires when message boundaries or metadata change, or when
// buffer edits move message extents.
type MessagesEdited struct{}

// SummaryChanged fires when the document summary is replaced.
type SummaryChanged struct{}

// ParsedCommandsUpdated fires when reparsing changes the set of pending
// slash-command invocations. Commands carries the full current set.
type ParsedCommandsUpdated struct {
	Commands []ParsedCommand
}

// InvokedCommandChanged fires when a running invocation changes state.
type InvokedCommandChanged struct {
	CommandID CommandID
}

// OutputSectionAdded fires when a streamed output section is completed.
type OutputSectionAdded struct {
	Section OutputSection
}

// PatchesUpdated fires when reparsing changes the set of patches. Ranges are
// resolved against the buffer at emission time.
type PatchesUpdated struct {
	RemovedRanges []Range
	UpdatedRanges []Range
}

// OperationEmitted fires for every locally generated operation, in causal
// order. Transports forward these to peers.
type OperationEmitted struct {
	Operation Operation
}

func (MessagesEdited) threadEvent()        {}
func (SummaryChanged) threadEvent()        {}
func (ParsedCommandsUpdated) threadEvent() {}
func (InvokedCommandChanged) threadEvent() {}
func (OutputSectionAdded) threadEvent()    {}
func (PatchesUpdated) threadEvent()        {}
func (OperationEmitted) threadEvent()      {}
