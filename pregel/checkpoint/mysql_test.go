package checkpoint

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/supersteps/pregel"
)

// TestMySQLCheckpointer exercises MySQLCheckpointer against a real server.
// Skipped unless PREGEL_MYSQL_DSN is set, since it requires network access
// to a running MySQL instance — not run as part of the default test suite.
func TestMySQLCheckpointer(t *testing.T) {
	dsn := os.Getenv("PREGEL_MYSQL_DSN")
	if dsn == "" {
		t.Skip("PREGEL_MYSQL_DSN not set, skipping MySQL integration test")
	}

	ctx := context.Background()
	m, err := NewMySQLCheckpointer(ctx, dsn)
	if err != nil {
		t.Fatalf("NewMySQLCheckpointer: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })

	cfg := pregel.RunConfig{ThreadID: "mysql-test-" + time.Now().UTC().Format(time.RFC3339Nano)}
	chk := &pregel.Checkpoint{
		ID:              "cp-1",
		Ts:              time.Now().UTC(),
		ChannelValues:   map[string]any{"a": float64(1)},
		ChannelVersions: map[string]uint64{"a": 1},
		VersionsSeen:    map[string]map[string]uint64{},
	}
	if _, err := m.Put(ctx, cfg, chk, pregel.CheckpointMetadata{Source: "input", Step: 0}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	tuple, err := m.GetTuple(ctx, cfg)
	if err != nil {
		t.Fatalf("GetTuple: %v", err)
	}
	if tuple == nil || tuple.Checkpoint.ID != "cp-1" {
		t.Fatalf("expected cp-1, got %+v", tuple)
	}

	v, err := m.GetNextVersion(ctx, cfg, "a", 0)
	if err != nil || v != 1 {
		t.Fatalf("expected version 1, got %d err %v", v, err)
	}
}
