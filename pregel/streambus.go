package pregel

import (
	"context"
	"sync"
)

// StreamMode selects which events a Stream Bus subscriber receives.
type StreamMode string

const (
	StreamValues      StreamMode = "values"
	StreamUpdates     StreamMode = "updates"
	StreamDebug       StreamMode = "debug"
	StreamMessages    StreamMode = "messages"
	StreamCustom      StreamMode = "custom"
	StreamCheckpoints StreamMode = "checkpoints"
	StreamTasks       StreamMode = "tasks"
	StreamEvents      StreamMode = "events"
)

// StreamItem is one (namespace, mode, payload) triple delivered to a
// subscriber. Namespace is the subgraph path that produced it ("" for the
// root graph). Err is set, with Payload nil, on the terminal item every
// subscriber channel receives before it is closed.
type StreamItem struct {
	Namespace string
	Mode      StreamMode
	Payload   any
	Err       error
}

// Subscription is a single consumer's view of the bus: a receive-only
// channel plus an Unsubscribe to stop delivery early and release its
// buffer. The channel is closed after the terminal error item (nil on clean
// completion).
type Subscription struct {
	C <-chan StreamItem

	bus *StreamBus
	id  uint64
	ch  chan StreamItem
}

// Unsubscribe detaches this subscription from the bus. Safe to call more
// than once.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// StreamBus is the multi-producer, multi-consumer event stream a Run
// publishes to: every superstep's writes, checkpoints, task outcomes, and
// custom node events, multiplexed by mode and namespace, back-pressured per
// subscriber. Publish delivers to subscribers one after another and waits on
// a full buffer, so a slow consumer delays delivery to the subscribers after
// it until it drains or the publishing ctx is done. Generalized from a
// single Emitter shape to mode-filtered triples and from a single sink to
// many independent subscribers.
type StreamBus struct {
	mu      sync.Mutex
	nextID  uint64
	subs    map[uint64]*subscriber
	closed  bool
	metrics *PrometheusMetrics
	threadID string
}

type subscriber struct {
	ch    chan StreamItem
	modes map[StreamMode]bool
}

// NewStreamBus returns an empty bus. metrics may be nil.
func NewStreamBus(threadID string, metrics *PrometheusMetrics) *StreamBus {
	return &StreamBus{subs: make(map[uint64]*subscriber), metrics: metrics, threadID: threadID}
}

// Subscribe registers a new consumer for the given modes (all modes if none
// given), with bufferSize buffered items of slack before Publish blocks.
func (b *StreamBus) Subscribe(bufferSize int, modes ...StreamMode) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	set := make(map[StreamMode]bool, len(modes))
	for _, m := range modes {
		set[m] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan StreamItem, bufferSize)
	sub := &subscriber{ch: ch, modes: set}
	if b.closed {
		close(ch)
		return &Subscription{C: ch, bus: b, id: id, ch: ch}
	}
	b.subs[id] = sub
	return &Subscription{C: ch, bus: b, id: id, ch: ch}
}

func (b *StreamBus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (sub *subscriber) wants(mode StreamMode) bool {
	if len(sub.modes) == 0 {
		return true
	}
	return sub.modes[mode]
}

// Publish delivers item to every subscriber interested in its mode, one
// after another. When a subscriber's buffer is full it records a
// backpressure metric and blocks until that subscriber has room or ctx is
// done; in the latter case the item is dropped for that subscriber.
func (b *StreamBus) Publish(ctx context.Context, namespace string, mode StreamMode, payload any) {
	item := StreamItem{Namespace: namespace, Mode: mode, Payload: payload}

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		if sub.wants(mode) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- item:
		default:
			if b.metrics != nil {
				b.metrics.IncrementBackpressure(b.threadID, string(mode))
			}
			select {
			case sub.ch <- item:
			case <-ctx.Done():
			}
		}
	}
}

// Close sends a terminal item (carrying err, nil on clean completion) to
// every current subscriber and closes their channels. Idempotent: later
// calls are no-ops. No further Publish calls are delivered after Close.
func (b *StreamBus) Close(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.ch <- StreamItem{Mode: StreamEvents, Err: err}
		close(sub.ch)
		delete(b.subs, id)
	}
}
