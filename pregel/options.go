package pregel

import "time"

// Durability controls when a superstep's checkpoint is considered durable
// relative to the tasks that produced it.
type Durability string

const (
	// DurabilitySync commits the checkpoint before dispatching the next
	// superstep's tasks — the strongest guarantee, default for production.
	DurabilitySync Durability = "sync"
	// DurabilityAsync commits the checkpoint concurrently with dispatching
	// the next superstep, trading a small replay window for latency.
	DurabilityAsync Durability = "async"
	// DurabilityExit only guarantees the checkpoint is durable once Run
	// returns, suitable for short-lived or test invocations with no
	// Checkpointer at all.
	DurabilityExit Durability = "exit"
)

// Options configures a single Run invocation. Build one with the functional
// options below; the zero value is a valid, minimal configuration.
type Options struct {
	StreamModes []StreamMode

	// InputKeys restricts which top-level input fields seed channels at
	// invocation; nil means "use every key present in the input".
	InputKeys []string
	// OutputKeys restricts which channels are projected into the final
	// values snapshot; nil means "every channel".
	OutputKeys []string

	InterruptBefore []string
	InterruptAfter  []string

	RecursionLimit int
	Durability     Durability
	MaxConcurrency int
	StepTimeout    time.Duration

	// StreamSubgraphs, if true, also publishes nested-subgraph events under
	// their own namespace instead of only the root graph's.
	StreamSubgraphs bool

	Checkpointer Checkpointer
	RunConfig    RunConfig

	// Resume carries the value a re-invocation hands back to whichever
	// interrupt is outstanding on the addressed thread. It is matched to the
	// interrupt's (taskID, ordinal) recovered from the loaded checkpoint's
	// pending writes, not addressed by the caller directly.
	Resume any
}

// Option mutates an Options being built, matching the functional-options
// convention used throughout this package.
type Option func(*Options) error

const defaultRecursionLimit = 25

// defaultOptions returns the baseline Options every Run starts from before
// applying overrides.
func defaultOptions() Options {
	return Options{
		RecursionLimit: defaultRecursionLimit,
		Durability:     DurabilitySync,
		MaxConcurrency: 0,
	}
}

// ApplyOptions folds opts onto the defaults and returns the result, or the
// first error an option reports.
func ApplyOptions(opts ...Option) (Options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return Options{}, err
		}
	}
	return o, nil
}

// WithStreamMode selects which Stream Bus modes Run publishes to (default:
// StreamValues only).
func WithStreamMode(modes ...StreamMode) Option {
	return func(o *Options) error {
		o.StreamModes = modes
		return nil
	}
}

// WithInputKeys restricts which input fields seed channels.
func WithInputKeys(keys ...string) Option {
	return func(o *Options) error {
		o.InputKeys = keys
		return nil
	}
}

// WithOutputKeys restricts which channels are projected into the result.
func WithOutputKeys(keys ...string) Option {
	return func(o *Options) error {
		o.OutputKeys = keys
		return nil
	}
}

// WithInterruptBefore pauses the run before any of the named nodes executes.
func WithInterruptBefore(nodes ...string) Option {
	return func(o *Options) error {
		o.InterruptBefore = nodes
		return nil
	}
}

// WithInterruptAfter pauses the run after any of the named nodes executes.
func WithInterruptAfter(nodes ...string) Option {
	return func(o *Options) error {
		o.InterruptAfter = nodes
		return nil
	}
}

// WithRecursionLimit overrides the default superstep ceiling.
func WithRecursionLimit(limit int) Option {
	return func(o *Options) error {
		if limit < 1 {
			return &GraphValueError{Message: "recursion limit must be >= 1"}
		}
		o.RecursionLimit = limit
		return nil
	}
}

// WithDurability sets the checkpoint-commit timing.
func WithDurability(d Durability) Option {
	return func(o *Options) error {
		o.Durability = d
		return nil
	}
}

// WithCheckpointDuring is a legacy-compatible alias: true maps to
// DurabilitySync, false to DurabilityExit, matching the boolean knob
// earlier LangGraph-style runners exposed before durability gained a third
// state.
func WithCheckpointDuring(enabled bool) Option {
	return func(o *Options) error {
		if enabled {
			o.Durability = DurabilitySync
		} else {
			o.Durability = DurabilityExit
		}
		return nil
	}
}

// WithMaxConcurrency bounds how many tasks the Runner executes at once
// within a superstep (0 = unbounded).
func WithMaxConcurrency(n int) Option {
	return func(o *Options) error {
		o.MaxConcurrency = n
		return nil
	}
}

// WithStepTimeout bounds each task attempt's execution time.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Options) error {
		o.StepTimeout = d
		return nil
	}
}

// WithStreamSubgraphs also publishes nested-subgraph Stream Bus events.
func WithStreamSubgraphs(enabled bool) Option {
	return func(o *Options) error {
		o.StreamSubgraphs = enabled
		return nil
	}
}

// WithCheckpointer overrides the graph-level default Checkpointer for this
// Run only.
func WithCheckpointer(c Checkpointer) Option {
	return func(o *Options) error {
		o.Checkpointer = c
		return nil
	}
}

// WithRunConfig sets the thread/namespace/checkpoint the Run addresses.
func WithRunConfig(cfg RunConfig) Option {
	return func(o *Options) error {
		o.RunConfig = cfg
		return nil
	}
}

// WithResume supplies the value a re-invocation delivers to the outstanding
// interrupt on the addressed thread. The engine matches it to whichever
// (taskID, ordinal) pair the loaded checkpoint's pending writes record as
// unresolved; the node blocked in Interrupt() receives it as that call's
// return value instead of pausing again.
func WithResume(value any) Option {
	return func(o *Options) error {
		o.Resume = value
		return nil
	}
}
