package pregel

import "testing"

func TestLastValueChannel(t *testing.T) {
	c := NewLastValueChannel(nil, false)
	if _, err := c.Get(); err == nil {
		t.Fatal("expected EmptyChannelError before first write")
	}

	changed, err := c.Update([]any{1, 2, 3})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("expected changed=true")
	}
	v, err := c.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 3 {
		t.Fatalf("expected last write to win, got %v", v)
	}

	snap := c.Snapshot()
	restored := NewLastValueChannel(nil, false)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !restored.Equals(c) {
		t.Fatal("restored channel should equal original")
	}
}

func TestLastValueChannelDefault(t *testing.T) {
	c := NewLastValueChannel(42, true)
	v, err := c.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected default 42, got %v", v)
	}
}

func TestLastValueChannelEqualsUniversalCompat(t *testing.T) {
	lv := NewLastValueChannel(nil, false)
	other := NewTopicChannel(false)
	if !lv.Equals(other) {
		t.Fatal("LastValue must be compatible with any other declaration")
	}
}

func TestLastValueAfterFinishChannel(t *testing.T) {
	c := NewLastValueAfterFinishChannel()
	if _, err := c.Get(); err == nil {
		t.Fatal("expected EmptyChannelError before Finish")
	}
	if _, err := c.Update([]any{"hello"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.Get(); err == nil {
		t.Fatal("expected EmptyChannelError still before Finish")
	}
	changed := c.Finish()
	if !changed {
		t.Fatal("expected Finish to report a change since a value was written")
	}
	v, err := c.Get()
	if err != nil {
		t.Fatalf("get after finish: %v", err)
	}
	if v != "hello" {
		t.Fatalf("expected hello, got %v", v)
	}
	if c.Finish() {
		t.Fatal("second Finish call must be a no-op")
	}
}

func TestBinaryOperatorAggregateChannel(t *testing.T) {
	sum := func(cur, upd any) any {
		if cur == nil {
			return upd
		}
		return cur.(int) + upd.(int)
	}
	c := NewBinaryOperatorAggregateChannel(sum, 0, true)
	if _, err := c.Update([]any{1, 2, 3}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := c.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != 6 {
		t.Fatalf("expected 6, got %v", v)
	}
	// Second superstep accumulates onto the prior value.
	if _, err := c.Update([]any{4}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, _ = c.Get()
	if v != 10 {
		t.Fatalf("expected 10, got %v", v)
	}
}

func TestTopicChannelConsumeClears(t *testing.T) {
	c := NewTopicChannel(false)
	if _, err := c.Update([]any{"a", "b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := c.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := v.([]any); len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
	if changed := c.Consume(); !changed {
		t.Fatal("expected Consume to report a change")
	}
	if _, err := c.Get(); err == nil {
		t.Fatal("expected empty after Consume clears a non-accumulating topic")
	}
}

func TestTopicChannelAccumulates(t *testing.T) {
	c := NewTopicChannel(true)
	if _, err := c.Update([]any{"a"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	c.Consume()
	if _, err := c.Update([]any{"b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, _ := c.Get()
	got := v.([]any)
	if len(got) != 2 {
		t.Fatalf("expected accumulated values across supersteps, got %v", got)
	}
}

func TestNamedBarrierValueChannel(t *testing.T) {
	c := NewNamedBarrierValueChannel([]string{"a", "b"}, false)
	if _, err := c.Get(); err == nil {
		t.Fatal("expected empty before all members seen")
	}
	if _, err := c.Update([]any{"a"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.Get(); err == nil {
		t.Fatal("expected still empty with one of two members seen")
	}
	if _, err := c.Update([]any{"b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := c.Get()
	if err != nil {
		t.Fatalf("expected available once all members seen: %v", err)
	}
	if v != true {
		t.Fatalf("expected true, got %v", v)
	}
}

func TestNamedBarrierValueChannelUnknownMember(t *testing.T) {
	c := NewNamedBarrierValueChannel([]string{"a"}, false)
	if _, err := c.Update([]any{"z"}); err == nil {
		t.Fatal("expected error for unknown member name")
	}
}

func TestNamedBarrierValueChannelRoundTrip(t *testing.T) {
	c := NewNamedBarrierValueChannel([]string{"a", "b"}, false)
	if _, err := c.Update([]any{"a"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	snap := c.Snapshot()
	restored := NewNamedBarrierValueChannel([]string{"a", "b"}, false)
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, err := restored.Update([]any{"b"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := restored.Get(); err != nil {
		t.Fatalf("expected restored barrier to keep its seen set: %v", err)
	}
}

func TestEphemeralValueChannel(t *testing.T) {
	c := NewEphemeralValueChannel()
	if _, err := c.Update([]any{"x"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	v, err := c.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v != "x" {
		t.Fatalf("expected x, got %v", v)
	}
	if changed := c.Consume(); !changed {
		t.Fatal("expected Consume to clear and report a change")
	}
	if _, err := c.Get(); err == nil {
		t.Fatal("expected empty after Consume")
	}
}

func TestChannelKindsAreStable(t *testing.T) {
	cases := []struct {
		ch   Channel
		kind string
	}{
		{NewLastValueChannel(nil, false), "LastValue"},
		{NewLastValueAfterFinishChannel(), "LastValueAfterFinish"},
		{NewBinaryOperatorAggregateChannel(func(a, b any) any { return b }, nil, false), "BinaryOperatorAggregate"},
		{NewTopicChannel(false), "Topic"},
		{NewNamedBarrierValueChannel(nil, false), "NamedBarrierValue"},
		{NewNamedBarrierValueChannel(nil, true), "NamedBarrierValueAfterFinish"},
		{NewEphemeralValueChannel(), "EphemeralValue"},
	}
	for _, tc := range cases {
		if got := tc.ch.Kind(); got != tc.kind {
			t.Errorf("expected kind %q, got %q", tc.kind, got)
		}
	}
}
