package pregel

import (
	"context"
	"sort"
	"time"
)

// Engine binds a compiled Graph to a default Checkpointer and metrics sink,
// and is the entry point for Invoke and Stream. It holds no per-run state —
// everything run-specific lives in a loopState built fresh by each call.
type Engine struct {
	graph        *Graph
	checkpointer Checkpointer
	metrics      *PrometheusMetrics
}

// EngineOption configures an Engine at construction.
type EngineOption func(*Engine)

// WithEngineCheckpointer sets the graph-wide default Checkpointer, used
// whenever a Run does not override it via WithCheckpointer.
func WithEngineCheckpointer(c Checkpointer) EngineOption {
	return func(e *Engine) { e.checkpointer = c }
}

// WithEngineMetrics attaches a Prometheus sink to every Run on this Engine.
func WithEngineMetrics(m *PrometheusMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// New validates graph and returns a bound Engine.
func New(graph *Graph, opts ...EngineOption) (*Engine, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{graph: graph}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Invoke runs the graph to completion (or to the next interrupt) and
// returns the final channel values, blocking until the run finishes. It
// runs the loop directly (not through Stream), draining and discarding its
// own Stream Bus subscription.
func (e *Engine) Invoke(ctx context.Context, input map[string]any, opts ...Option) (map[string]any, error) {
	o, err := ApplyOptions(opts...)
	if err != nil {
		return nil, err
	}
	ls, err := e.newLoopState(o)
	if err != nil {
		return nil, err
	}
	defer ls.bus.Close(nil)

	sub := ls.bus.Subscribe(64)
	go func() {
		for range sub.C {
		}
	}()

	return ls.run(ctx, input)
}

// Stream runs the graph and returns a live Subscription to its Stream Bus
// alongside a done channel closed when the run finishes; the run's error
// (nil on success) is delivered as the terminal StreamItem.Err and also
// sent once on errc before it is closed.
func (e *Engine) Stream(ctx context.Context, input map[string]any, opts ...Option) (*Subscription, <-chan error, error) {
	o, err := ApplyOptions(opts...)
	if err != nil {
		return nil, nil, err
	}
	ls, err := e.newLoopState(o)
	if err != nil {
		return nil, nil, err
	}

	modes := o.StreamModes
	if len(modes) == 0 {
		modes = []StreamMode{StreamValues}
	}
	sub := ls.bus.Subscribe(64, modes...)

	errc := make(chan error, 1)
	go func() {
		_, runErr := ls.run(ctx, input)
		errc <- runErr
		close(errc)
		ls.bus.Close(runErr)
	}()

	return sub, errc, nil
}

// loopState is the mutable, per-invocation home for everything the Planner,
// Runner, and Checkpointer calls need; it is never shared across runs.
type loopState struct {
	engine       *Engine
	opts         Options
	checkpointer Checkpointer
	planner      *Planner
	runner       *Runner
	bus          *StreamBus
	cfg          RunConfig
}

func (e *Engine) newLoopState(o Options) (*loopState, error) {
	cp := o.Checkpointer
	if cp == nil {
		cp = e.checkpointer
	}
	if cp == nil && o.Durability != DurabilityExit {
		return nil, ErrNoCheckpointer
	}

	cfg := o.RunConfig
	bus := NewStreamBus(cfg.ThreadID, e.metrics)

	return &loopState{
		engine:       e,
		opts:         o,
		checkpointer: cp,
		planner:      NewPlanner(e.graph),
		runner:       NewRunner(e.graph, o.MaxConcurrency, e.metrics, bus, cfg.ThreadID),
		bus:          bus,
		cfg:          cfg,
	}, nil
}

// run executes superstep after superstep until the planner produces no
// tasks, an interrupt pauses the run, or the recursion limit is hit.
func (ls *loopState) run(ctx context.Context, input map[string]any) (map[string]any, error) {
	channels := ls.engine.graph.materialize()

	chk, err := ls.loadOrSeed(ctx, channels, input)
	if err != nil {
		return nil, err
	}

	for step := chk.stepAfter(); step <= ls.opts.RecursionLimit; step++ {
		// chk.pendingWrites is only ever populated on the checkpoint
		// loadOrSeed returned; every checkpoint advance produces has it nil,
		// so this only fires crash-recovery reuse on the first superstep
		// after a load.
		completed, byTask := completedFromPendingWrites(chk.pendingWrites)

		tasks, skipped, err := ls.planner.Plan(step, chk.Checkpoint, channels, completed)
		if err != nil {
			return nil, err
		}
		if len(tasks) == 0 && len(skipped) == 0 {
			break
		}

		if blocked := ls.interruptedBy(tasks, ls.opts.InterruptBefore); blocked != nil {
			return ls.projectOutput(channels), ls.commitInterrupt(ctx, chk, blocked)
		}

		ls.publishTasks(ctx, step, tasks)

		outcomes := ls.runner.Run(ctx, tasks, ls.opts.StepTimeout, ls.resumesFor(chk))
		sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].TaskID < outcomes[j].TaskID })

		if gi := firstInterrupt(outcomes); gi != nil {
			return ls.projectOutput(channels), ls.commitInterruptOutcome(ctx, chk, gi, outcomes)
		}
		if pc := firstParentCommand(outcomes); pc != nil {
			return ls.projectOutput(channels), &ParentCommand{Command: *pc}
		}
		if taskErr := firstError(outcomes); taskErr != nil {
			return ls.projectOutput(channels), taskErr
		}

		allTasks := append(append([]Task(nil), tasks...), skipped...)
		allOutcomes := append(append([]TaskOutcome(nil), outcomes...), outcomesFromRecovered(skipped, byTask)...)

		next, err := ls.advance(ctx, chk, channels, allTasks, allOutcomes, step)
		if err != nil {
			return nil, err
		}
		chk = next

		if blocked := ls.interruptedByNames(tasks, ls.opts.InterruptAfter); blocked != "" {
			return ls.projectOutput(channels), ls.commitInterrupt(ctx, chk, &GraphInterrupt{TaskID: blocked})
		}

		if ctx.Err() != nil {
			return ls.projectOutput(channels), ErrCancelled
		}
	}

	if chk.stepAfter() > ls.opts.RecursionLimit {
		return ls.projectOutput(channels), &GraphRecursionError{Limit: ls.opts.RecursionLimit, Step: chk.Step()}
	}

	for _, ch := range channels {
		ch.Finish()
	}
	ls.commitFinal(ctx, chk, channels)

	return ls.projectOutput(channels), nil
}

// stepAfter/Step are tiny helpers kept off Checkpoint itself since the step
// number lives in CheckpointMetadata, not the Checkpoint (see design notes).
type checkpointCursor struct {
	*Checkpoint
	step int

	// pendingWrites is whatever the Checkpointer had on file for this
	// checkpoint at load time: writes from tasks that ran (or partially ran)
	// before a crash or process exit. Consumed once, by the first superstep
	// after load, then discarded — later supersteps accumulate their own via
	// advance.
	pendingWrites []PendingWrite
}

func (ls *loopState) loadOrSeed(ctx context.Context, channels map[string]Channel, input map[string]any) (*checkpointCursor, error) {
	if ls.checkpointer != nil {
		tuple, err := ls.checkpointer.GetTuple(ctx, ls.cfg)
		if err != nil {
			return nil, err
		}
		if tuple != nil {
			for name, snap := range tuple.Checkpoint.ChannelValues {
				if ch, ok := channels[name]; ok {
					if err := ch.Restore(snap); err != nil {
						return nil, err
					}
				}
			}
			return &checkpointCursor{Checkpoint: tuple.Checkpoint, step: tuple.Metadata.Step, pendingWrites: tuple.PendingWrites}, nil
		}
	}

	keys := ls.opts.InputKeys
	if keys == nil {
		for k := range input {
			keys = append(keys, k)
		}
	}
	versions := map[string]uint64{}
	for _, k := range keys {
		ch, ok := channels[k]
		if !ok {
			continue
		}
		if _, err := ch.Update([]any{input[k]}); err != nil {
			return nil, err
		}
		v, err := ls.nextVersion(ctx, k, 0)
		if err != nil {
			return nil, err
		}
		versions[k] = v
	}

	chk := &Checkpoint{
		ID:              newCheckpointID(time.Now(), 0),
		Ts:              time.Now(),
		ChannelValues:   snapshotAll(channels),
		ChannelVersions: versions,
		VersionsSeen:    map[string]map[string]uint64{},
	}
	if ls.checkpointer != nil {
		if _, err := ls.checkpointer.Put(ctx, ls.cfg, chk, CheckpointMetadata{Source: "input", Step: 0}); err != nil {
			return nil, err
		}
	}
	return &checkpointCursor{Checkpoint: chk, step: 0}, nil
}

func (c *checkpointCursor) stepAfter() int { return c.step + 1 }
func (c *checkpointCursor) Step() int      { return c.step }

// completedFromPendingWrites groups a checkpoint's persisted pending writes
// by taskID, excluding the reserved sentinel channels (interrupt/error/
// resume markers, not actual node output). A taskID with at least one
// terminal write is "completed": the planner skips re-scheduling it and the
// Loop reuses its recorded writes instead of running the node again.
func completedFromPendingWrites(writes []PendingWrite) (completed map[string]bool, byTask map[string][]PendingWrite) {
	completed = map[string]bool{}
	byTask = map[string][]PendingWrite{}
	for _, w := range writes {
		switch w.Channel {
		case WriteChannelInterrupt, WriteChannelError, WriteChannelResume:
			continue
		}
		completed[w.TaskID] = true
		byTask[w.TaskID] = append(byTask[w.TaskID], w)
	}
	return completed, byTask
}

// outcomesFromRecovered synthesizes a TaskOutcome for each skipped task from
// its previously persisted writes, so advance applies them to channel state
// exactly once without invoking the Runner — the crash-recovery path's
// "already completed" branch.
func outcomesFromRecovered(skipped []Task, byTask map[string][]PendingWrite) []TaskOutcome {
	out := make([]TaskOutcome, 0, len(skipped))
	for _, t := range skipped {
		out = append(out, TaskOutcome{
			TaskID: t.ID,
			Name:   t.Name,
			Writes: byTask[t.ID],
		})
	}
	return out
}

func (ls *loopState) nextVersion(ctx context.Context, channel string, prev uint64) (uint64, error) {
	if ls.checkpointer == nil {
		return prev + 1, nil
	}
	return ls.checkpointer.GetNextVersion(ctx, ls.cfg, channel, prev)
}

func snapshotAll(channels map[string]Channel) map[string]any {
	out := make(map[string]any, len(channels))
	for name, ch := range channels {
		out[name] = ch.Snapshot()
	}
	return out
}

// advance applies one superstep's writes to channels, bumps versions,
// advances VersionsSeen, consumes triggered channels, and commits the
// resulting checkpoint per the configured Durability.
func (ls *loopState) advance(ctx context.Context, chk *checkpointCursor, channels map[string]Channel, tasks []Task, outcomes []TaskOutcome, step int) (*checkpointCursor, error) {
	byChannel := map[string][]any{}
	var sends []Send
	for _, o := range outcomes {
		for _, w := range o.Writes {
			byChannel[w.Channel] = append(byChannel[w.Channel], w.Value)
		}
		sends = append(sends, o.Sends...)

		if ls.checkpointer != nil {
			if err := ls.checkpointer.PutWrites(ctx, ls.cfg, o.Writes, o.TaskID); err != nil {
				return nil, err
			}
		}
	}

	next := chk.clone()
	next.PendingSends = sends

	touched := make([]string, 0, len(byChannel))
	for name := range byChannel {
		touched = append(touched, name)
	}
	sort.Strings(touched)

	for _, name := range touched {
		ch, ok := channels[name]
		if !ok {
			continue
		}
		if _, err := ch.Update(byChannel[name]); err != nil {
			return nil, err
		}
		v, err := ls.nextVersion(ctx, name, next.ChannelVersions[name])
		if err != nil {
			return nil, err
		}
		next.ChannelVersions[name] = v
	}

	firedByNode := map[string][]string{}
	for i, t := range tasks {
		if outcomes[i].Err != nil || outcomes[i].Interrupt != nil {
			continue
		}
		firedByNode[t.Name] = t.Triggers
	}
	for node, triggers := range firedByNode {
		next.VersionsSeen[node] = advanceVersionsSeen(next.VersionsSeen[node], next, triggers)
		for _, trig := range triggers {
			if ch, ok := channels[trig]; ok {
				ch.Consume()
			}
		}
	}

	next.ChannelValues = snapshotAll(channels)
	next.ID = newCheckpointID(time.Now(), step)
	next.Ts = time.Now()

	meta := CheckpointMetadata{Source: "loop", Step: step}
	if ls.checkpointer != nil {
		switch ls.opts.Durability {
		case DurabilityAsync:
			go func() { ls.checkpointer.Put(context.WithoutCancel(ctx), ls.cfg, next, meta) }() //nolint:errcheck
		default:
			if _, err := ls.checkpointer.Put(ctx, ls.cfg, next, meta); err != nil {
				return nil, err
			}
		}
	}

	ls.publishCheckpoint(ctx, next, meta)
	return &checkpointCursor{Checkpoint: next, step: step}, nil
}

func (ls *loopState) commitFinal(ctx context.Context, chk *checkpointCursor, channels map[string]Channel) {
	if ls.checkpointer == nil {
		return
	}
	final := chk.clone()
	final.ChannelValues = snapshotAll(channels)
	final.ID = newCheckpointID(time.Now(), chk.step+1)
	final.Ts = time.Now()
	ls.checkpointer.Put(ctx, ls.cfg, final, CheckpointMetadata{Source: "loop", Step: chk.step + 1}) //nolint:errcheck
}

func (ls *loopState) commitInterrupt(ctx context.Context, chk *checkpointCursor, gi *GraphInterrupt) error {
	if gi == nil {
		return nil
	}
	ls.bus.Publish(ctx, ls.cfg.Namespace, StreamDebug, gi)
	if ls.checkpointer != nil {
		write := PendingWrite{TaskID: gi.TaskID, Channel: WriteChannelInterrupt, Value: gi.Payload, Idx: gi.Index}
		ls.checkpointer.PutWrites(ctx, ls.cfg, []PendingWrite{write}, gi.TaskID) //nolint:errcheck
	}
	return gi
}

func (ls *loopState) commitInterruptOutcome(ctx context.Context, chk *checkpointCursor, gi *GraphInterrupt, outcomes []TaskOutcome) error {
	if ls.checkpointer != nil {
		for _, o := range outcomes {
			if len(o.Writes) > 0 {
				ls.checkpointer.PutWrites(ctx, ls.cfg, o.Writes, o.TaskID) //nolint:errcheck
			}
		}
	}
	return ls.commitInterrupt(ctx, chk, gi)
}

// resumesFor builds the taskID -> ordinal -> value map the Runner threads
// into TaskInput.Interrupt. A task's ID is a pure function of (node, step,
// triggers), and interrupting a task never advances the checkpoint, so a
// re-invocation that fires the same trigger at the same step recomputes the
// identical ID — the outstanding WriteChannelInterrupt pending write names
// exactly the (taskID, ordinal) pair ls.opts.Resume is meant to answer.
func (ls *loopState) resumesFor(chk *checkpointCursor) map[string]map[int]any {
	out := map[string]map[int]any{}
	if ls.opts.Resume == nil {
		return out
	}
	for _, w := range chk.pendingWrites {
		if w.Channel != WriteChannelInterrupt {
			continue
		}
		if out[w.TaskID] == nil {
			out[w.TaskID] = map[int]any{}
		}
		out[w.TaskID][w.Idx] = ls.opts.Resume
	}
	return out
}

func (ls *loopState) interruptedBy(tasks []Task, nodes []string) *GraphInterrupt {
	if len(nodes) == 0 {
		return nil
	}
	set := map[string]bool{}
	for _, n := range nodes {
		set[n] = true
	}
	for _, t := range tasks {
		if set[t.Name] {
			return &GraphInterrupt{TaskID: t.ID}
		}
	}
	return nil
}

func (ls *loopState) interruptedByNames(tasks []Task, nodes []string) string {
	if len(nodes) == 0 {
		return ""
	}
	set := map[string]bool{}
	for _, n := range nodes {
		set[n] = true
	}
	for _, t := range tasks {
		if set[t.Name] {
			return t.ID
		}
	}
	return ""
}

func (ls *loopState) publishTasks(ctx context.Context, step int, tasks []Task) {
	ls.bus.Publish(ctx, ls.cfg.Namespace, StreamTasks, tasks)
}

func (ls *loopState) publishCheckpoint(ctx context.Context, chk *Checkpoint, meta CheckpointMetadata) {
	ls.bus.Publish(ctx, ls.cfg.Namespace, StreamCheckpoints, CheckpointTuple{Config: ls.cfg, Checkpoint: chk, Metadata: meta})
	ls.bus.Publish(ctx, ls.cfg.Namespace, StreamValues, chk.ChannelValues)
}

func (ls *loopState) projectOutput(channels map[string]Channel) map[string]any {
	keys := ls.opts.OutputKeys
	out := map[string]any{}
	if keys == nil {
		for name, ch := range channels {
			if v, err := ch.Get(); err == nil {
				out[name] = v
			}
		}
		return out
	}
	for _, name := range keys {
		if ch, ok := channels[name]; ok {
			if v, err := ch.Get(); err == nil {
				out[name] = v
			}
		}
	}
	return out
}

func firstInterrupt(outcomes []TaskOutcome) *GraphInterrupt {
	for _, o := range outcomes {
		if o.Interrupt != nil {
			return o.Interrupt
		}
	}
	return nil
}

func firstParentCommand(outcomes []TaskOutcome) *Command {
	for _, o := range outcomes {
		if o.ParentCmd != nil {
			return o.ParentCmd
		}
	}
	return nil
}

func firstError(outcomes []TaskOutcome) error {
	for _, o := range outcomes {
		if o.Err != nil {
			return o.Err
		}
	}
	return nil
}
