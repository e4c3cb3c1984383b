package pregel

// Send is a dynamic task: a direct dispatch of targetNode in the next
// superstep, regardless of that node's channel subscriptions. Produced by a
// node's Command.Goto and drained by the planner's dynamic-tasks step.
type Send struct {
	Target  string
	Payload any
}

// Command is a node's alternative return shape: instead of (or alongside) a
// plain channel-write update, a node can redirect control flow and resume
// interrupts in one step.
type Command struct {
	// Update is applied through the normal channel reducers, exactly like a
	// plain TaskResult.Update.
	Update map[string]any
	// Goto enqueues one Send per entry for the next superstep.
	Goto []Send
	// Resume, set on a Command a node bubbles up via ParentCommand, tells
	// the enclosing caller what value to hand back in via WithResume on its
	// own next invocation — used when the interrupt actually belongs to a
	// nested subgraph, not this graph directly.
	Resume any
}

// Task is one planned execution of a node for one superstep. Its ID is a
// pure function of (node, step, sorted triggers) so that replays after a
// crash recompute the identical ID and the planner can detect "already
// completed" via pending writes.
type Task struct {
	ID       string
	Name     string
	Step     int
	Input    map[string]any
	Triggers []string

	// CacheKey is carried on the task; the Runner in this package does not
	// read it, so no cache lookup takes place and the node always runs.
	CacheKey string
	// RetryPolicy overrides the node's default/registered retry policy for
	// this task, if set.
	RetryPolicy *RetryPolicy
	// Defer marks a task that should only run if every other task in the
	// step has completed without producing further writes to its inputs
	// (used for e.g. finalizer nodes); the planner/runner in this
	// implementation schedules deferred tasks in a trailing sub-round.
	Defer bool
}

// TaskOutcome is what the runner produces for one executed task: either a
// set of writes, an interrupt, or a terminal error. Exactly one of Writes
// being non-nil, Interrupt being non-nil, or Err being non-nil describes a
// completed attempt; ParentCmd may additionally be set alongside Writes.
type TaskOutcome struct {
	TaskID    string
	Name      string
	Writes    []PendingWrite
	// Sends accumulates any Command.Goto entries the node returned, to be
	// appended to the next checkpoint's PendingSends by the Loop.
	Sends     []Send
	Interrupt *GraphInterrupt
	ParentCmd *Command
	Err       error
	// Attempts is the number of execution attempts actually made (1 = no
	// retries needed).
	Attempts int
}
