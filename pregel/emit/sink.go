package emit

import (
	"context"

	"github.com/supersteps/pregel"
)

// BusSink bridges a pregel.StreamBus to an Emitter, translating stream
// items from a run into Events so existing log/trace/metrics backends can
// observe execution without subscribing to the bus directly.
type BusSink struct {
	emitter Emitter
	sub     *pregel.Subscription
	done    chan struct{}
}

// NewBusSink subscribes sub's bus to task and checkpoint events and starts
// forwarding them to emitter in a background goroutine. Call Close to stop
// forwarding and release the subscription.
func NewBusSink(bus *pregel.StreamBus, emitter Emitter) *BusSink {
	sub := bus.Subscribe(64, pregel.StreamTasks, pregel.StreamCheckpoints)
	s := &BusSink{emitter: emitter, sub: sub, done: make(chan struct{})}
	go s.loop()
	return s
}

func (s *BusSink) loop() {
	defer close(s.done)
	for item := range s.sub.C {
		s.emitter.Emit(eventFromItem(item))
	}
}

func eventFromItem(item pregel.StreamItem) Event {
	ev := Event{Meta: map[string]any{}}
	if item.Err != nil {
		ev.Msg = "run_error"
		ev.Meta["error"] = item.Err.Error()
		return ev
	}

	switch item.Mode {
	case pregel.StreamTasks:
		ev.Msg = "superstep_tasks"
		if tasks, ok := item.Payload.([]pregel.Task); ok {
			ev.Step = tasksStep(tasks)
			ev.Meta["count"] = len(tasks)
		}
	case pregel.StreamCheckpoints:
		ev.Msg = "checkpoint_committed"
		if tuple, ok := item.Payload.(pregel.CheckpointTuple); ok {
			ev.Step = tuple.Metadata.Step
			ev.RunID = tuple.Config.ThreadID
			ev.Meta["checkpoint_id"] = tuple.Checkpoint.ID
			ev.Meta["source"] = tuple.Metadata.Source
		}
	default:
		ev.Msg = string(item.Mode)
	}
	return ev
}

func tasksStep(tasks []pregel.Task) int {
	if len(tasks) == 0 {
		return 0
	}
	return tasks[0].Step
}

// Flush flushes the underlying Emitter.
func (s *BusSink) Flush(ctx context.Context) error { return s.emitter.Flush(ctx) }

// Close unsubscribes from the bus and waits for the forwarding goroutine to
// drain.
func (s *BusSink) Close() {
	s.sub.Unsubscribe()
	<-s.done
}
