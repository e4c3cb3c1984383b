package pregel

import (
	"sort"
	"strconv"
)

// Planner computes the set of Tasks to run for one superstep, given the
// compiled Graph and the checkpoint committed by the previous superstep. It
// holds no state of its own: every call is a pure function of its
// arguments, so replay after a crash reproduces the identical task set.
type Planner struct {
	graph *Graph
}

// NewPlanner returns a Planner bound to graph.
func NewPlanner(graph *Graph) *Planner {
	return &Planner{graph: graph}
}

// Plan returns the deterministically ordered tasks for the superstep after
// chk, plus, separately, the tasks that would have been planned but were
// already present in completed — a prior, crashed attempt's persisted
// pending writes. The Loop reuses those writes instead of calling the
// Runner a second time for the same task identity. channels holds the
// live, already-updated Channel instances for this invocation (the Loop
// applies chk's writes to them before calling Plan).
func (p *Planner) Plan(step int, chk *Checkpoint, channels map[string]Channel, completed map[string]bool) (tasks []Task, skipped []Task, err error) {
	pushTasks, skippedPushes, err := p.planPushes(step, chk, completed)
	if err != nil {
		return nil, nil, err
	}
	tasks = append(tasks, pushTasks...)
	skipped = append(skipped, skippedPushes...)

	triggered, skippedTriggered, err := p.planTriggered(step, chk, channels, completed)
	if err != nil {
		return nil, nil, err
	}
	tasks = append(tasks, triggered...)
	skipped = append(skipped, skippedTriggered...)

	sortTasks(tasks)
	sortTasks(skipped)
	return tasks, skipped, nil
}

// planPushes drains Command.Goto-produced Sends recorded on the checkpoint
// into dynamic tasks, regardless of the target node's channel subscriptions.
func (p *Planner) planPushes(step int, chk *Checkpoint, completed map[string]bool) (tasks []Task, skipped []Task, err error) {
	for i, send := range chk.PendingSends {
		if _, ok := p.graph.Nodes[send.Target]; !ok {
			return nil, nil, &GraphValidationError{Message: "Send targets unknown node " + send.Target}
		}
		id := taskID(send.Target, step, []string{triggerPush, strconv.Itoa(i)})
		t := Task{
			ID:       id,
			Name:     send.Target,
			Step:     step,
			Input:    map[string]any{triggerPush: send.Payload},
			Triggers: []string{triggerPush},
		}
		if completed[id] {
			skipped = append(skipped, t)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, skipped, nil
}

// planTriggered compares each node's declared trigger channels against the
// per-node VersionsSeen recorded in chk to decide which subscriptions fired,
// then projects that node's Reads channels into the task's input.
func (p *Planner) planTriggered(step int, chk *Checkpoint, channels map[string]Channel, completed map[string]bool) (tasks []Task, skipped []Task, err error) {
	for name, spec := range p.graph.Nodes {
		if len(spec.Triggers) == 0 {
			continue
		}
		seen := chk.VersionsSeen[name]

		var fired []string
		for _, trigger := range spec.Triggers {
			cur, ok := chk.ChannelVersions[trigger]
			if !ok {
				continue
			}
			if seen == nil || cur > seen[trigger] {
				fired = append(fired, trigger)
			}
		}
		if len(fired) == 0 {
			continue
		}
		sort.Strings(fired)

		id := taskID(name, step, fired)

		input := make(map[string]any, len(spec.Reads))
		for _, ch := range spec.Reads {
			cell, ok := channels[ch]
			if !ok {
				return nil, nil, &GraphValidationError{Message: "node " + name + " reads undeclared channel " + ch}
			}
			v, err := cell.Get()
			if err != nil {
				if _, empty := err.(*EmptyChannelError); empty {
					continue
				}
				return nil, nil, err
			}
			input[ch] = v
		}

		t := Task{
			ID:       id,
			Name:     name,
			Step:     step,
			Input:    input,
			Triggers: fired,
			Defer:    spec.Defer,
		}
		if completed[id] {
			skipped = append(skipped, t)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, skipped, nil
}

// sortTasks orders tasks deterministically: non-deferred before deferred,
// then by node name, then by task ID, so goroutine scheduling never affects
// execution order observed by the Stream Bus or checkpoint writes.
func sortTasks(tasks []Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Defer != tasks[j].Defer {
			return !tasks[i].Defer
		}
		if tasks[i].Name != tasks[j].Name {
			return tasks[i].Name < tasks[j].Name
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// advanceVersionsSeen returns a copy of seen with every trigger channel used
// by task bumped to its current checkpoint version, committed by the Loop
// once the task's writes have themselves been committed.
func advanceVersionsSeen(seen map[string]uint64, chk *Checkpoint, triggers []string) map[string]uint64 {
	out := make(map[string]uint64, len(seen)+len(triggers))
	for k, v := range seen {
		out[k] = v
	}
	for _, t := range triggers {
		if t == triggerPush {
			continue
		}
		out[t] = chk.ChannelVersions[t]
	}
	return out
}
