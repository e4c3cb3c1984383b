package pregel

import "context"

// RunConfig identifies a specific point in a thread's checkpoint history —
// the "configurable" bag callers address a run by, modeled as a typed
// struct rather than a raw map for compile-time safety.
type RunConfig struct {
	// ThreadID scopes a logical sequence of checkpoints.
	ThreadID string
	// Namespace is the hierarchical subgraph path ("" for the root graph).
	Namespace string
	// CheckpointID pins a specific checkpoint; empty means "latest".
	CheckpointID string
}

// CheckpointTuple bundles a checkpoint with its metadata, pending writes,
// and the config of its parent, exactly as returned by GetTuple.
type CheckpointTuple struct {
	Config       RunConfig
	Checkpoint   *Checkpoint
	Metadata     CheckpointMetadata
	PendingWrites []PendingWrite
	ParentConfig  *RunConfig
}

// ListOptions filters Checkpointer.List.
type ListOptions struct {
	// Before, if set, only returns checkpoints committed strictly before
	// this checkpoint ID.
	Before string
	// Limit caps the number of tuples returned; 0 means unbounded.
	Limit int
	// Filter, if non-nil, is applied to CheckpointMetadata; only tuples for
	// which Filter returns true are returned.
	Filter func(CheckpointMetadata) bool
}

// Checkpointer persists and retrieves checkpoints and pending writes. It is
// an external collaborator: the engine only ever calls this interface, never
// assumes a storage technology. Implementations live in the sibling
// checkpoint package (in-memory, SQLite, MySQL backed).
//
// Required guarantees:
//   - Put is atomic per (ThreadID, Namespace, CheckpointID).
//   - PutWrites is idempotent on retry: the same taskID with the same
//     (channel, value) is a no-op or overwrite, never a duplicate row.
//   - GetNextVersion is monotone and is the sole source of channel
//     versions — the engine never increments a version itself.
type Checkpointer interface {
	// GetTuple loads the checkpoint named by config (or the latest one in
	// its thread/namespace if config.CheckpointID is empty). Returns
	// (nil, nil) — not an error — when no checkpoint exists yet.
	GetTuple(ctx context.Context, config RunConfig) (*CheckpointTuple, error)

	// List returns checkpoint tuples for config.ThreadID/Namespace in
	// reverse chronological order (most recent first).
	List(ctx context.Context, config RunConfig, opts ListOptions) ([]CheckpointTuple, error)

	// Put persists checkpoint with metadata under config, returning the
	// RunConfig a subsequent call should use to address it (normally config
	// with CheckpointID set to checkpoint.ID).
	Put(ctx context.Context, config RunConfig, checkpoint *Checkpoint, metadata CheckpointMetadata) (RunConfig, error)

	// PutWrites appends writes produced by taskID under the latest
	// committed checkpoint of config.ThreadID/Namespace (the backends in
	// package checkpoint do not read config.CheckpointID here, and fail when
	// no checkpoint is committed). Idempotent: replaying the same taskID/writes after a
	// crash must not create duplicate rows.
	PutWrites(ctx context.Context, config RunConfig, writes []PendingWrite, taskID string) error

	// GetNextVersion returns a version greater than prev for the named
	// channel. The engine calls this exactly once per mutated channel per
	// superstep, in the Loop's single mutator goroutine.
	GetNextVersion(ctx context.Context, config RunConfig, channel string, prev uint64) (uint64, error)
}
