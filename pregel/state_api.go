package pregel

import (
	"context"
	"sort"
	"time"
)

// AsNode sentinels accepted by UpdateState/BulkUpdateState in place of a
// real node name.
const (
	// AsNodeInput attributes the update to the graph's input seeding step,
	// as if it had arrived as part of the original invocation.
	AsNodeInput = "__input__"
	// AsNodeEnd attributes the update to the graph's terminal step.
	AsNodeEnd = "__end__"
	// AsNodeCopy forks the checkpoint without attributing the update to any
	// node — the update is applied but neither ChannelVersions nor
	// VersionsSeen changes, so the planner schedules no node because of it.
	AsNodeCopy = "__copy__"
)

// StateSnapshot is a point-in-time read of a thread's state: the projected
// channel values, which nodes are slated to run next, and enough of the
// checkpoint's identity to address it again or walk its history.
type StateSnapshot struct {
	Config       RunConfig
	ParentConfig *RunConfig
	Values       map[string]any
	// Next lists the node names the planner would schedule if the run
	// resumed from this checkpoint right now.
	Next []string
	// Interrupts lists any GraphInterrupt writes pending at this checkpoint.
	Interrupts []GraphInterrupt
	Metadata   CheckpointMetadata
}

// StateUpdate is one entry in a BulkUpdateState call: an update attributed
// to a single node (or an AsNode sentinel).
type StateUpdate struct {
	Values map[string]any
	AsNode string
}

// GetState returns the current state snapshot addressed by cfg (the latest
// checkpoint in its thread/namespace if cfg.CheckpointID is empty).
func (e *Engine) GetState(ctx context.Context, cfg RunConfig) (*StateSnapshot, error) {
	if e.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	tuple, err := e.checkpointer.GetTuple(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if tuple == nil {
		return nil, nil
	}
	return e.snapshotFromTuple(tuple), nil
}

// GetStateHistory returns state snapshots for cfg.ThreadID/Namespace, most
// recent first, honoring opts (pagination/filter).
func (e *Engine) GetStateHistory(ctx context.Context, cfg RunConfig, opts ListOptions) ([]StateSnapshot, error) {
	if e.checkpointer == nil {
		return nil, ErrNoCheckpointer
	}
	tuples, err := e.checkpointer.List(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	out := make([]StateSnapshot, 0, len(tuples))
	for i := range tuples {
		out = append(out, *e.snapshotFromTuple(&tuples[i]))
	}
	return out, nil
}

func (e *Engine) snapshotFromTuple(tuple *CheckpointTuple) *StateSnapshot {
	channels := e.graph.materialize()
	for name, snap := range tuple.Checkpoint.ChannelValues {
		if ch, ok := channels[name]; ok {
			ch.Restore(snap) //nolint:errcheck
		}
	}

	values := make(map[string]any, len(channels))
	for name, ch := range channels {
		if v, err := ch.Get(); err == nil {
			values[name] = v
		}
	}

	planner := NewPlanner(e.graph)
	tasks, _, _ := planner.Plan(tuple.Metadata.Step+1, tuple.Checkpoint, channels, map[string]bool{})
	next := make([]string, 0, len(tasks))
	for _, t := range tasks {
		next = append(next, t.Name)
	}
	sort.Strings(next)

	var interrupts []GraphInterrupt
	for _, w := range tuple.PendingWrites {
		if w.Channel == WriteChannelInterrupt {
			interrupts = append(interrupts, GraphInterrupt{TaskID: w.TaskID, Payload: w.Value})
		}
	}

	return &StateSnapshot{
		Config:       tuple.Config,
		ParentConfig: tuple.ParentConfig,
		Values:       values,
		Next:         next,
		Interrupts:   interrupts,
		Metadata:     tuple.Metadata,
	}
}

// UpdateState applies values as if produced by asNode (or an AsNode
// sentinel), forking a new checkpoint from the one addressed by cfg, and
// returns the RunConfig of the new checkpoint. It is the single-update
// convenience form of BulkUpdateState.
func (e *Engine) UpdateState(ctx context.Context, cfg RunConfig, values map[string]any, asNode string) (RunConfig, error) {
	return e.BulkUpdateState(ctx, cfg, []StateUpdate{{Values: values, AsNode: asNode}})
}

// BulkUpdateState applies every update in updates against the checkpoint
// addressed by cfg in order, as a single new committed checkpoint.
// asNode must name a node in the graph, or be one of the AsNode sentinels;
// an empty AsNode is resolved separately for each update and is only valid
// when the graph has exactly one candidate writer for the channels that
// update touches, otherwise it is ambiguous.
func (e *Engine) BulkUpdateState(ctx context.Context, cfg RunConfig, updates []StateUpdate) (RunConfig, error) {
	if e.checkpointer == nil {
		return RunConfig{}, ErrNoCheckpointer
	}
	tuple, err := e.checkpointer.GetTuple(ctx, cfg)
	if err != nil {
		return RunConfig{}, err
	}

	channels := e.graph.materialize()
	var base *Checkpoint
	step := 0
	if tuple != nil {
		base = tuple.Checkpoint
		step = tuple.Metadata.Step
		for name, snap := range base.ChannelValues {
			if ch, ok := channels[name]; ok {
				if err := ch.Restore(snap); err != nil {
					return RunConfig{}, err
				}
			}
		}
	} else {
		base = &Checkpoint{ChannelVersions: map[string]uint64{}, VersionsSeen: map[string]map[string]uint64{}}
	}
	next := base.clone()

	for _, u := range updates {
		asNode := u.AsNode
		if asNode == "" {
			resolved, err := e.resolveAmbiguousAsNode(u.Values)
			if err != nil {
				return RunConfig{}, err
			}
			asNode = resolved
		} else if asNode != AsNodeInput && asNode != AsNodeEnd && asNode != AsNodeCopy {
			if _, ok := e.graph.Nodes[asNode]; !ok {
				return RunConfig{}, &InvalidUpdateError{Message: "unknown node " + asNode}
			}
		}

		for name, v := range u.Values {
			ch, ok := channels[name]
			if !ok {
				return RunConfig{}, &InvalidUpdateError{Message: "unknown channel " + name}
			}
			if _, err := ch.Update([]any{v}); err != nil {
				return RunConfig{}, err
			}
			switch asNode {
			case AsNodeCopy:
				// Fork only: ChannelVersions and VersionsSeen are left
				// untouched, so the update schedules no node.
			case AsNodeInput:
				// Mirrors loadOrSeed's input-seeding: the channel is treated
				// as freshly seeded, so its version advances from zero
				// rather than from whatever it last held.
				v, err := e.nextVersionFor(ctx, cfg, name, 0)
				if err != nil {
					return RunConfig{}, err
				}
				next.ChannelVersions[name] = v
			default:
				v, err := e.nextVersionFor(ctx, cfg, name, next.ChannelVersions[name])
				if err != nil {
					return RunConfig{}, err
				}
				next.ChannelVersions[name] = v
			}
		}

		if asNode == AsNodeEnd {
			// The terminal step has no continuation: whatever dynamic tasks
			// were queued for after this point are moot.
			next.PendingSends = nil
		}
	}

	next.ChannelValues = snapshotAll(channels)
	next.ID = newCheckpointID(time.Now(), step+1)
	next.Ts = time.Now()

	return e.checkpointer.Put(ctx, cfg, next, CheckpointMetadata{Source: "update", Step: step + 1})
}

// writersOf returns every node name whose NodeSpec.Writes declares channel.
func (e *Engine) writersOf(channel string) []string {
	var out []string
	for name, spec := range e.graph.Nodes {
		for _, w := range spec.Writes {
			if w == channel {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// resolveAmbiguousAsNode picks the node an empty AsNode should be attributed
// to: the single node that is the declared writer of every channel touched
// by values. It is only an error when that candidate set is empty (no
// declared writer) or has more than one member (genuinely ambiguous) — a
// lone consistent candidate is accepted without requiring the caller to
// name it.
func (e *Engine) resolveAmbiguousAsNode(values map[string]any) (string, error) {
	candidates := map[string]bool{}
	first := true
	for name := range values {
		writers := e.writersOf(name)
		if len(writers) == 0 {
			return "", &InvalidUpdateError{Message: "no declared writer for channel " + name + "; asNode is required"}
		}
		this := map[string]bool{}
		for _, w := range writers {
			this[w] = true
		}
		if first {
			candidates = this
			first = false
			continue
		}
		for c := range candidates {
			if !this[c] {
				delete(candidates, c)
			}
		}
	}
	if len(candidates) == 0 {
		return "", &InvalidUpdateError{Message: "asNode is required: no single node writes every touched channel"}
	}
	if len(candidates) > 1 {
		return "", &InvalidUpdateError{Message: "asNode is required: ambiguous among multiple candidate writers"}
	}
	for c := range candidates {
		return c, nil
	}
	return "", &InvalidUpdateError{Message: "asNode is required"}
}

func (e *Engine) nextVersionFor(ctx context.Context, cfg RunConfig, channel string, prev uint64) (uint64, error) {
	if e.checkpointer == nil {
		return prev + 1, nil
	}
	return e.checkpointer.GetNextVersion(ctx, cfg, channel, prev)
}
