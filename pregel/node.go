package pregel

import "context"

// TaskInput is what a Node receives when the runner executes its Task. It
// carries the projection of the node's subscribed channels, not the whole
// checkpoint — nodes cannot see channels they did not declare triggers/reads
// for.
type TaskInput struct {
	// Values is keyed by channel name, holding each subscribed channel's
	// current value (post the prior superstep's writes).
	Values map[string]any
	// Triggers names the channels whose version bump caused this task to be
	// scheduled (or ["__push__"] for a Send-dispatched task).
	Triggers []string
	// TaskID is this execution's deterministic task identity.
	TaskID string
	// Step is the current superstep number.
	Step int
	// Attempt is the zero-based retry attempt (0 = first try).
	Attempt int

	resumes      map[int]any
	interruptIdx *int
}

// Interrupt pauses the enclosing task cooperatively. On first call
// for a given ordinal it returns a non-nil *GraphInterrupt error that the
// runner records as a checkpointed write and treats as "paused" rather than
// failed. On re-invocation, if the caller supplied a resume value (via
// WithResume) that the Loop matched to this task's outstanding interrupt by
// ordinal, it instead returns that value and no error, letting the node
// proceed.
func (in *TaskInput) Interrupt(payload any) (any, error) {
	if in.interruptIdx == nil {
		idx := 0
		in.interruptIdx = &idx
	}
	idx := *in.interruptIdx
	*in.interruptIdx++

	if in.resumes != nil {
		if v, ok := in.resumes[idx]; ok {
			return v, nil
		}
	}
	return nil, &GraphInterrupt{TaskID: in.TaskID, Index: idx, Payload: payload}
}

// TaskResult is a Node's output: a plain channel-write update, or a Command
// for routing/resume, or an error. Update and Cmd are mutually exclusive in
// the common case; a Command may itself carry an Update.
type TaskResult struct {
	Update map[string]any
	Cmd    *Command
	Err    error
}

// Node is the sole contract the engine has with user code: arbitrary logic
// that reads a projection of channels and returns an update, a routing
// Command, an interrupt, or an error. Node bodies are explicitly out of
// scope for this module — the engine only ever calls Run.
type Node interface {
	Run(ctx context.Context, in TaskInput) TaskResult
}

// NodeFunc adapts a plain function to Node, a thin functional wrapper.
type NodeFunc func(ctx context.Context, in TaskInput) TaskResult

func (f NodeFunc) Run(ctx context.Context, in TaskInput) TaskResult { return f(ctx, in) }
