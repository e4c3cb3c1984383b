package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/supersteps/pregel"
)

func testCfg() pregel.RunConfig {
	return pregel.RunConfig{ThreadID: "t1", Namespace: ""}
}

func TestMemCheckpointerGetTupleEmpty(t *testing.T) {
	m := NewMemCheckpointer()
	tuple, err := m.GetTuple(context.Background(), testCfg())
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tuple != nil {
		t.Fatalf("expected nil tuple, got %+v", tuple)
	}
}

func TestMemCheckpointerPutAndGetLatest(t *testing.T) {
	m := NewMemCheckpointer()
	cfg := testCfg()

	chk1 := &pregel.Checkpoint{ID: "cp-1", Ts: time.Unix(1, 0), ChannelValues: map[string]any{"a": 1}}
	if _, err := m.Put(context.Background(), cfg, chk1, pregel.CheckpointMetadata{Source: "input", Step: 0}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	chk2 := &pregel.Checkpoint{ID: "cp-2", Ts: time.Unix(2, 0), ChannelValues: map[string]any{"a": 2}}
	if _, err := m.Put(context.Background(), cfg, chk2, pregel.CheckpointMetadata{Source: "loop", Step: 1}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tuple, err := m.GetTuple(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tuple == nil || tuple.Checkpoint.ID != "cp-2" {
		t.Fatalf("expected latest checkpoint cp-2, got %+v", tuple)
	}
	if tuple.ParentConfig == nil || tuple.ParentConfig.CheckpointID != "cp-1" {
		t.Fatalf("expected parent cp-1, got %+v", tuple.ParentConfig)
	}

	pinned, err := m.GetTuple(context.Background(), pregel.RunConfig{ThreadID: "t1", CheckpointID: "cp-1"})
	if err != nil {
		t.Fatalf("GetTuple pinned: %v", err)
	}
	if pinned == nil || pinned.Checkpoint.ID != "cp-1" {
		t.Fatalf("expected pinned checkpoint cp-1, got %+v", pinned)
	}
}

func TestMemCheckpointerPutWritesIdempotent(t *testing.T) {
	m := NewMemCheckpointer()
	cfg := testCfg()
	chk := &pregel.Checkpoint{ID: "cp-1", Ts: time.Unix(1, 0)}
	if _, err := m.Put(context.Background(), cfg, chk, pregel.CheckpointMetadata{Source: "input"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	writes := []pregel.PendingWrite{{TaskID: "task-a", Channel: "out", Value: 1}}
	if err := m.PutWrites(context.Background(), cfg, writes, "task-a"); err != nil {
		t.Fatalf("PutWrites: %v", err)
	}
	// Retry with the same taskID/channel must not duplicate.
	if err := m.PutWrites(context.Background(), cfg, writes, "task-a"); err != nil {
		t.Fatalf("PutWrites retry: %v", err)
	}

	tuple, err := m.GetTuple(context.Background(), cfg)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if len(tuple.PendingWrites) != 1 {
		t.Fatalf("expected 1 deduped write, got %d", len(tuple.PendingWrites))
	}
}

func TestMemCheckpointerGetNextVersionMonotone(t *testing.T) {
	m := NewMemCheckpointer()
	cfg := testCfg()

	v1, err := m.GetNextVersion(context.Background(), cfg, "a", 0)
	if err != nil || v1 != 1 {
		t.Fatalf("expected version 1, got %d err %v", v1, err)
	}
	v2, err := m.GetNextVersion(context.Background(), cfg, "a", 0)
	if err != nil || v2 != 2 {
		t.Fatalf("expected version 2, got %d err %v", v2, err)
	}
	// A higher prev floor pushes the counter forward.
	v3, err := m.GetNextVersion(context.Background(), cfg, "a", 10)
	if err != nil || v3 != 11 {
		t.Fatalf("expected version 11, got %d err %v", v3, err)
	}
}

func TestMemCheckpointerListOrderAndLimit(t *testing.T) {
	m := NewMemCheckpointer()
	cfg := testCfg()
	for i, id := range []string{"cp-1", "cp-2", "cp-3"} {
		chk := &pregel.Checkpoint{ID: id, Ts: time.Unix(int64(i), 0)}
		if _, err := m.Put(context.Background(), cfg, chk, pregel.CheckpointMetadata{Step: i}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	tuples, err := m.List(context.Background(), cfg, pregel.ListOptions{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tuples) != 3 || tuples[0].Checkpoint.ID != "cp-3" {
		t.Fatalf("expected most-recent-first order, got %+v", tuples)
	}

	limited, err := m.List(context.Background(), cfg, pregel.ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Checkpoint.ID != "cp-3" {
		t.Fatalf("expected 1 result cp-3, got %+v", limited)
	}

	before, err := m.List(context.Background(), cfg, pregel.ListOptions{Before: "cp-3"})
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	if len(before) != 2 {
		t.Fatalf("expected 2 results before cp-3, got %d", len(before))
	}
}

func TestMemCheckpointerDistinctThreads(t *testing.T) {
	m := NewMemCheckpointer()
	cfgA := pregel.RunConfig{ThreadID: "a"}
	cfgB := pregel.RunConfig{ThreadID: "b"}

	if _, err := m.Put(context.Background(), cfgA, &pregel.Checkpoint{ID: "a1"}, pregel.CheckpointMetadata{}); err != nil {
		t.Fatalf("Put a: %v", err)
	}
	tuple, err := m.GetTuple(context.Background(), cfgB)
	if err != nil {
		t.Fatalf("GetTuple b: %v", err)
	}
	if tuple != nil {
		t.Fatalf("expected thread b to have no checkpoints, got %+v", tuple)
	}
}
