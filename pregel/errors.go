// Package pregel is the core superstep execution engine: channels, the task
// planner and runner, the superstep loop, checkpointing, streaming and the
// state API. Graph construction, node bodies, and checkpoint storage
// backends are external collaborators consumed through narrow interfaces.
package pregel

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the loop and runner. Each wraps enough context
// for callers to distinguish recoverable conditions (interrupts, retries)
// from fatal ones (recursion limit, validation).
var (
	// ErrNoCheckpointer is returned when Run is called without a bound
	// Checkpointer and none was supplied via WithCheckpointer.
	ErrNoCheckpointer = errors.New("pregel: no checkpointer configured")

	// ErrEmptyChannel is returned by Channel.Get when the channel has never
	// been written and carries no default value.
	ErrEmptyChannel = errors.New("pregel: channel is empty")

	// ErrChannelMismatch names a conflict between two declarations of the
	// same channel name that are not Equals. No code path in this package
	// returns it: declarations are not compared against each other.
	ErrChannelMismatch = errors.New("pregel: conflicting channel declaration")

	// ErrNodeNotFound is returned when a task references a node absent from
	// the compiled graph's node registry.
	ErrNodeNotFound = errors.New("pregel: node not found")

	// ErrNoStartNode names a graph with no entry trigger and no pending
	// sends. No code path in this package returns it: such a run plans no
	// task and finishes with the current channel values.
	ErrNoStartNode = errors.New("pregel: graph has no runnable entry node")

	// ErrCancelled is returned when the loop or runner unwind due to an
	// external cancellation signal, distinct from a task-local error.
	ErrCancelled = errors.New("pregel: run cancelled")
)

// GraphValidationError indicates the compiled graph description itself is
// malformed (unknown channel referenced by a node, reserved name collision,
// duplicate channel declarations with incompatible kinds).
type GraphValidationError struct {
	Message string
	Cause   error
}

func (e *GraphValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("graph validation: %s: %v", e.Message, e.Cause)
	}
	return "graph validation: " + e.Message
}

func (e *GraphValidationError) Unwrap() error { return e.Cause }

// GraphValueError indicates an invalid run option value, such as a recursion
// limit below 1 passed to WithRecursionLimit. A missing Checkpointer is
// reported as ErrNoCheckpointer instead.
type GraphValueError struct {
	Message string
}

func (e *GraphValueError) Error() string { return "graph value error: " + e.Message }

// GraphRecursionError is returned when a run exceeds RecursionLimit
// supersteps without reaching a stop condition.
type GraphRecursionError struct {
	Limit int
	Step  int
}

func (e *GraphRecursionError) Error() string {
	return fmt.Sprintf("graph recursion: exceeded limit of %d supersteps (reached step %d)", e.Limit, e.Step)
}

// InvalidUpdateError is returned by updateState/bulkUpdateState when asNode
// is ambiguous (omitted with more than one candidate writer) or references a
// node absent from the graph.
type InvalidUpdateError struct {
	Message string
}

func (e *InvalidUpdateError) Error() string { return "invalid update: " + e.Message }

// EmptyChannelError is the typed form of ErrEmptyChannel, carrying the
// channel name for diagnostics. Callers distinguish "empty" from "null
// value" by checking for this type (or errors.Is against ErrEmptyChannel).
type EmptyChannelError struct {
	Channel string
}

func (e *EmptyChannelError) Error() string {
	return "pregel: channel " + e.Channel + " is empty"
}

func (e *EmptyChannelError) Unwrap() error { return ErrEmptyChannel }

// GraphInterrupt is raised by a node (via the Interrupt helper on TaskInput)
// to pause the graph cooperatively. It is not a task failure: the runner
// records it as a special (INTERRUPT, payload) write and the task is
// reported as paused rather than errored.
type GraphInterrupt struct {
	// TaskID identifies the task that raised the interrupt.
	TaskID string
	// Index is the ordinal of this interrupt within the task (a task may
	// call Interrupt more than once across resumes).
	Index int
	// Payload is the arbitrary value surfaced in GetState's
	// StateSnapshot.Interrupts (the node stays listed in Next) and published
	// on the debug stream mode.
	Payload any
}

func (e *GraphInterrupt) Error() string {
	return fmt.Sprintf("pregel: interrupt raised by task %s[%d]", e.TaskID, e.Index)
}

// ParentCommand is raised by a node to hand a Command up to the enclosing
// graph (used by subgraphs to request the parent reroute or resume on their
// behalf). The runner propagates it without treating the task as failed.
type ParentCommand struct {
	Command Command
}

func (e *ParentCommand) Error() string {
	return "pregel: parent command raised"
}

// IsInterrupt reports whether err (or any error it wraps) is a
// *GraphInterrupt.
func IsInterrupt(err error) (*GraphInterrupt, bool) {
	var gi *GraphInterrupt
	if errors.As(err, &gi) {
		return gi, true
	}
	return nil, false
}

// IsParentCommand reports whether err (or any error it wraps) is a
// *ParentCommand.
func IsParentCommand(err error) (*ParentCommand, bool) {
	var pc *ParentCommand
	if errors.As(err, &pc) {
		return pc, true
	}
	return nil, false
}
