package pregel

import "fmt"

// Channel is a typed, versioned cell with a reducer. Values are modeled as
// opaque payloads (any) rather than a generic type parameter: a compiled
// Graph stores heterogeneously-typed channels in one map, and the engine
// never needs to introspect a payload except for the INTERRUPT, ERROR, PUSH
// and RESUME sentinels defined alongside Task. Concrete node code recovers
// the concrete type via a type assertion, exactly as a workflow's Reducer
// closures do for workflow state.
//
// Implementations must be safe to call only from the Loop goroutine — the
// engine is the sole mutator of channel state (see the concurrency model).
type Channel interface {
	// Update applies one or more pending updates, in order, and reports
	// whether the channel's value changed. Reducers must be deterministic;
	// when a channel is written by more than one task in the same
	// superstep, Update is called once with all of that superstep's
	// updates so ordering is controlled by the caller (the Loop), never by
	// goroutine completion order.
	Update(values []any) (bool, error)

	// Get returns the current value, or an *EmptyChannelError if the
	// channel has never been written and carries no default.
	Get() (any, error)

	// Snapshot returns an opaque, JSON-marshalable representation of the
	// channel's current value suitable for Checkpoint.ChannelValues.
	Snapshot() any

	// Restore replaces the channel's value from a snapshot produced by
	// Snapshot on a channel of the same kind. restore(snapshot()) must be
	// lossless: the resulting channel must be Equals to the original.
	Restore(snapshot any) error

	// Consume is called after a superstep in which this channel triggered
	// at least one node, so ephemeral and barrier channels can reset before
	// the next superstep. Returns whether the channel's observable state
	// changed as a result.
	Consume() bool

	// Finish is called once at graph termination so AfterFinish variants
	// can flip their barrier and become readable.
	Finish() bool

	// Equals reports whether other is a channel of the same kind and
	// equivalent configuration (reducer identity and stored values are not
	// compared — only kind and kind-specific flags: whether a default is
	// set, Topic's accumulate flag, a barrier's member names and
	// after-finish flag; a LastValue accepts any other kind). The engine
	// does not call it: declarations of the same channel name are not
	// checked against each other.
	Equals(other Channel) bool

	// Kind returns the channel variant's stable type tag, used both for
	// Equals and for selecting the right zero-value constructor on
	// restore.
	Kind() string
}

// BinaryOperator is an associative reducer: reduce(current, update) ->
// current. Must be deterministic and, because multiple tasks may write the
// same channel within a superstep, associative/commutative across the
// multiset of updates delivered in one Update call.
type BinaryOperator func(current, update any) any

// ---- LastValue -------------------------------------------------------

// LastValueChannel stores the most recently written value. It is the
// read-only-compatible variant: per the conflict rule, a LastValue
// declaration is allowed to coexist with any other declaration for the same
// channel name (it never contests ownership of the reducer).
type LastValueChannel struct {
	value   any
	hasVal  bool
	hasDflt bool
	dflt    any
}

// NewLastValueChannel constructs a LastValue channel. If hasDefault is true,
// Get returns dflt before the first write instead of EmptyChannelError.
func NewLastValueChannel(dflt any, hasDefault bool) *LastValueChannel {
	return &LastValueChannel{dflt: dflt, hasDflt: hasDefault}
}

func (c *LastValueChannel) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	// Last write in the batch wins.
	c.value = values[len(values)-1]
	c.hasVal = true
	return true, nil
}

func (c *LastValueChannel) Get() (any, error) {
	if c.hasVal {
		return c.value, nil
	}
	if c.hasDflt {
		return c.dflt, nil
	}
	return nil, &EmptyChannelError{}
}

func (c *LastValueChannel) Snapshot() any {
	return lastValueSnapshot{Value: c.value, HasValue: c.hasVal}
}

func (c *LastValueChannel) Restore(snapshot any) error {
	s, ok := snapshot.(lastValueSnapshot)
	if !ok {
		return fmt.Errorf("pregel: bad snapshot type for LastValue: %T", snapshot)
	}
	c.value, c.hasVal = s.Value, s.HasValue
	return nil
}

func (c *LastValueChannel) Consume() bool { return false }
func (c *LastValueChannel) Finish() bool  { return false }
func (c *LastValueChannel) Kind() string  { return "LastValue" }

func (c *LastValueChannel) Equals(other Channel) bool {
	o, ok := other.(*LastValueChannel)
	if !ok {
		// LastValue is the universal read-only-compatible declaration.
		return true
	}
	return c.hasDflt == o.hasDflt
}

type lastValueSnapshot struct {
	Value    any
	HasValue bool
}

// ---- LastValueAfterFinish ---------------------------------------------

// LastValueAfterFinishChannel behaves like LastValueChannel but Get returns
// EmptyChannelError until Finish has been called, modeling the "visible
// only after the owning group completes" barrier semantics.
type LastValueAfterFinishChannel struct {
	LastValueChannel
	finished bool
}

func NewLastValueAfterFinishChannel() *LastValueAfterFinishChannel {
	return &LastValueAfterFinishChannel{}
}

func (c *LastValueAfterFinishChannel) Get() (any, error) {
	if !c.finished {
		return nil, &EmptyChannelError{}
	}
	return c.LastValueChannel.Get()
}

func (c *LastValueAfterFinishChannel) Finish() bool {
	if c.finished {
		return false
	}
	c.finished = true
	return c.hasVal
}

func (c *LastValueAfterFinishChannel) Kind() string { return "LastValueAfterFinish" }

func (c *LastValueAfterFinishChannel) Snapshot() any {
	return lastValueAfterFinishSnapshot{Inner: c.LastValueChannel.Snapshot().(lastValueSnapshot), Finished: c.finished}
}

func (c *LastValueAfterFinishChannel) Restore(snapshot any) error {
	s, ok := snapshot.(lastValueAfterFinishSnapshot)
	if !ok {
		return fmt.Errorf("pregel: bad snapshot type for LastValueAfterFinish: %T", snapshot)
	}
	c.finished = s.Finished
	return c.LastValueChannel.Restore(s.Inner)
}

func (c *LastValueAfterFinishChannel) Equals(other Channel) bool {
	_, ok := other.(*LastValueAfterFinishChannel)
	return ok
}

type lastValueAfterFinishSnapshot struct {
	Inner    lastValueSnapshot
	Finished bool
}

// ---- BinaryOperatorAggregate --------------------------------------------

// BinaryOperatorAggregateChannel reduces every update through an associative
// operator, seeding from an optional default. This is the channel kind used
// by counters, accumulators, and any fan-in that must tolerate writes from
// multiple tasks within a single superstep.
type BinaryOperatorAggregateChannel struct {
	op      BinaryOperator
	value   any
	hasVal  bool
	hasDflt bool
	dflt    any
}

func NewBinaryOperatorAggregateChannel(op BinaryOperator, dflt any, hasDefault bool) *BinaryOperatorAggregateChannel {
	return &BinaryOperatorAggregateChannel{op: op, dflt: dflt, hasDflt: hasDefault}
}

func (c *BinaryOperatorAggregateChannel) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	cur := c.value
	if !c.hasVal {
		if c.hasDflt {
			cur = c.dflt
		}
	}
	for _, v := range values {
		cur = c.op(cur, v)
	}
	c.value = cur
	c.hasVal = true
	return true, nil
}

func (c *BinaryOperatorAggregateChannel) Get() (any, error) {
	if c.hasVal {
		return c.value, nil
	}
	if c.hasDflt {
		return c.dflt, nil
	}
	return nil, &EmptyChannelError{}
}

func (c *BinaryOperatorAggregateChannel) Snapshot() any {
	return lastValueSnapshot{Value: c.value, HasValue: c.hasVal}
}

func (c *BinaryOperatorAggregateChannel) Restore(snapshot any) error {
	s, ok := snapshot.(lastValueSnapshot)
	if !ok {
		return fmt.Errorf("pregel: bad snapshot type for BinaryOperatorAggregate: %T", snapshot)
	}
	c.value, c.hasVal = s.Value, s.HasValue
	return nil
}

func (c *BinaryOperatorAggregateChannel) Consume() bool { return false }
func (c *BinaryOperatorAggregateChannel) Finish() bool   { return false }
func (c *BinaryOperatorAggregateChannel) Kind() string   { return "BinaryOperatorAggregate" }

func (c *BinaryOperatorAggregateChannel) Equals(other Channel) bool {
	o, ok := other.(*BinaryOperatorAggregateChannel)
	if !ok {
		return false
	}
	return c.hasDflt == o.hasDflt
}

// ---- Topic ---------------------------------------------------------------

// TopicChannel accumulates a list of values written within a superstep. By
// default it is cleared at the superstep boundary (via Consume); pass
// accumulate=true to retain prior values across supersteps (e.g. a running
// transcript).
type TopicChannel struct {
	values     []any
	accumulate bool
}

func NewTopicChannel(accumulate bool) *TopicChannel {
	return &TopicChannel{accumulate: accumulate}
}

func (c *TopicChannel) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	c.values = append(c.values, values...)
	return true, nil
}

func (c *TopicChannel) Get() (any, error) {
	if c.values == nil {
		return nil, &EmptyChannelError{}
	}
	out := make([]any, len(c.values))
	copy(out, c.values)
	return out, nil
}

func (c *TopicChannel) Snapshot() any {
	out := make([]any, len(c.values))
	copy(out, c.values)
	return topicSnapshot{Values: out}
}

func (c *TopicChannel) Restore(snapshot any) error {
	s, ok := snapshot.(topicSnapshot)
	if !ok {
		return fmt.Errorf("pregel: bad snapshot type for Topic: %T", snapshot)
	}
	c.values = append([]any(nil), s.Values...)
	return nil
}

func (c *TopicChannel) Consume() bool {
	if c.accumulate || len(c.values) == 0 {
		return false
	}
	c.values = nil
	return true
}

func (c *TopicChannel) Finish() bool { return false }
func (c *TopicChannel) Kind() string { return "Topic" }

func (c *TopicChannel) Equals(other Channel) bool {
	o, ok := other.(*TopicChannel)
	if !ok {
		return false
	}
	return c.accumulate == o.accumulate
}

type topicSnapshot struct {
	Values []any
}

// ---- NamedBarrierValue ---------------------------------------------------

// NamedBarrierValueChannel tracks a fixed set of member names and becomes
// available once every member has written at least once in the (possibly
// multi-superstep) window since the barrier was last reset.
type NamedBarrierValueChannel struct {
	members   map[string]struct{}
	seen      map[string]struct{}
	afterFin  bool
	finished  bool
	available bool
}

// NewNamedBarrierValueChannel constructs a barrier over the given member
// names. afterFinish models NamedBarrierValueAfterFinish: per the sticky
// resolution of the open question in the design notes, barrier state
// (seen) survives checkpoints across interrupts until every member has
// written, rather than resetting on each resume.
func NewNamedBarrierValueChannel(members []string, afterFinish bool) *NamedBarrierValueChannel {
	m := make(map[string]struct{}, len(members))
	for _, name := range members {
		m[name] = struct{}{}
	}
	return &NamedBarrierValueChannel{members: m, seen: make(map[string]struct{}), afterFin: afterFinish}
}

// Update expects each value to be the member name that just wrote.
func (c *NamedBarrierValueChannel) Update(values []any) (bool, error) {
	changed := false
	for _, v := range values {
		name, ok := v.(string)
		if !ok {
			return changed, fmt.Errorf("pregel: NamedBarrierValue update must be a member name, got %T", v)
		}
		if _, known := c.members[name]; !known {
			return changed, fmt.Errorf("pregel: %q is not a declared barrier member", name)
		}
		if _, already := c.seen[name]; !already {
			c.seen[name] = struct{}{}
			changed = true
		}
	}
	if len(c.seen) == len(c.members) {
		c.available = true
	}
	return changed, nil
}

func (c *NamedBarrierValueChannel) Get() (any, error) {
	if c.afterFin && !c.finished {
		return nil, &EmptyChannelError{}
	}
	if !c.available {
		return nil, &EmptyChannelError{}
	}
	return true, nil
}

func (c *NamedBarrierValueChannel) Snapshot() any {
	seen := make([]string, 0, len(c.seen))
	for name := range c.seen {
		seen = append(seen, name)
	}
	return barrierSnapshot{Seen: seen, Finished: c.finished}
}

func (c *NamedBarrierValueChannel) Restore(snapshot any) error {
	s, ok := snapshot.(barrierSnapshot)
	if !ok {
		return fmt.Errorf("pregel: bad snapshot type for NamedBarrierValue: %T", snapshot)
	}
	c.seen = make(map[string]struct{}, len(s.Seen))
	for _, name := range s.Seen {
		c.seen[name] = struct{}{}
	}
	c.finished = s.Finished
	c.available = len(c.seen) == len(c.members)
	return nil
}

func (c *NamedBarrierValueChannel) Consume() bool {
	if !c.available {
		return false
	}
	// Sticky: do not clear `seen` here. A fresh round is only started by
	// the owning node explicitly re-declaring membership (out of scope for
	// the engine itself); the barrier otherwise stays tripped.
	return false
}

func (c *NamedBarrierValueChannel) Finish() bool {
	if c.finished {
		return false
	}
	c.finished = true
	return c.available
}

func (c *NamedBarrierValueChannel) Kind() string {
	if c.afterFin {
		return "NamedBarrierValueAfterFinish"
	}
	return "NamedBarrierValue"
}

func (c *NamedBarrierValueChannel) Equals(other Channel) bool {
	o, ok := other.(*NamedBarrierValueChannel)
	if !ok {
		return false
	}
	if c.afterFin != o.afterFin || len(c.members) != len(o.members) {
		return false
	}
	for name := range c.members {
		if _, ok := o.members[name]; !ok {
			return false
		}
	}
	return true
}

type barrierSnapshot struct {
	Seen     []string
	Finished bool
}

// ---- EphemeralValue --------------------------------------------------

// EphemeralValueChannel holds a value for exactly one superstep: Consume
// always clears it, regardless of whether it triggered a node, so stale
// values never leak into the next round.
type EphemeralValueChannel struct {
	value  any
	hasVal bool
}

func NewEphemeralValueChannel() *EphemeralValueChannel {
	return &EphemeralValueChannel{}
}

func (c *EphemeralValueChannel) Update(values []any) (bool, error) {
	if len(values) == 0 {
		return false, nil
	}
	c.value = values[len(values)-1]
	c.hasVal = true
	return true, nil
}

func (c *EphemeralValueChannel) Get() (any, error) {
	if !c.hasVal {
		return nil, &EmptyChannelError{}
	}
	return c.value, nil
}

func (c *EphemeralValueChannel) Snapshot() any {
	return lastValueSnapshot{Value: c.value, HasValue: c.hasVal}
}

func (c *EphemeralValueChannel) Restore(snapshot any) error {
	s, ok := snapshot.(lastValueSnapshot)
	if !ok {
		return fmt.Errorf("pregel: bad snapshot type for EphemeralValue: %T", snapshot)
	}
	c.value, c.hasVal = s.Value, s.HasValue
	return nil
}

func (c *EphemeralValueChannel) Consume() bool {
	if !c.hasVal {
		return false
	}
	c.value = nil
	c.hasVal = false
	return true
}

func (c *EphemeralValueChannel) Finish() bool { return false }
func (c *EphemeralValueChannel) Kind() string { return "EphemeralValue" }

func (c *EphemeralValueChannel) Equals(other Channel) bool {
	_, ok := other.(*EphemeralValueChannel)
	return ok
}
