// Package checkpoint provides Checkpointer implementations for the pregel
// engine: an in-memory store for tests and short-lived runs, and SQLite/
// MySQL backed stores for durable, resumable runs.
package checkpoint

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/supersteps/pregel"
)

// ErrNotFound is a sentinel for a missing checkpoint. None of the backends
// in this package return it: Checkpointer.GetTuple returns (nil, nil) for a
// missing checkpoint, per the interface contract.
var ErrNotFound = errors.New("checkpoint: not found")

// key identifies one checkpoint within a thread's namespace.
type key struct {
	thread string
	ns     string
	id     string
}

// threadKey identifies a (thread, namespace) pair, used to find the latest
// checkpoint and to scope version counters.
type threadKey struct {
	thread string
	ns     string
}

// MemCheckpointer is an in-memory pregel.Checkpointer. It is the default
// for tests and for Durability: "exit" runs that never need to survive a
// process restart.
type MemCheckpointer struct {
	mu       sync.RWMutex
	byKey    map[key]*entry
	order    map[threadKey][]string // checkpoint IDs in commit order
	versions map[threadKey]map[string]uint64
}

type entry struct {
	checkpoint *pregel.Checkpoint
	metadata   pregel.CheckpointMetadata
	writes     []pregel.PendingWrite
	writeSeen  map[string]bool // "taskID|channel" seen for idempotent PutWrites
	parent     *pregel.RunConfig
}

// NewMemCheckpointer returns an empty in-memory checkpointer.
func NewMemCheckpointer() *MemCheckpointer {
	return &MemCheckpointer{
		byKey:    make(map[key]*entry),
		order:    make(map[threadKey][]string),
		versions: make(map[threadKey]map[string]uint64),
	}
}

func (m *MemCheckpointer) GetTuple(ctx context.Context, cfg pregel.RunConfig) (*pregel.CheckpointTuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tk := threadKey{thread: cfg.ThreadID, ns: cfg.Namespace}
	id := cfg.CheckpointID
	if id == "" {
		ids := m.order[tk]
		if len(ids) == 0 {
			return nil, nil
		}
		id = ids[len(ids)-1]
	}

	e, ok := m.byKey[key{thread: cfg.ThreadID, ns: cfg.Namespace, id: id}]
	if !ok {
		return nil, nil
	}
	return e.tuple(cfg, id), nil
}

func (m *MemCheckpointer) List(ctx context.Context, cfg pregel.RunConfig, opts pregel.ListOptions) ([]pregel.CheckpointTuple, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tk := threadKey{thread: cfg.ThreadID, ns: cfg.Namespace}
	ids := m.order[tk]

	out := make([]pregel.CheckpointTuple, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		if opts.Before != "" && id >= opts.Before {
			continue
		}
		e := m.byKey[key{thread: cfg.ThreadID, ns: cfg.Namespace, id: id}]
		if e == nil {
			continue
		}
		if opts.Filter != nil && !opts.Filter(e.metadata) {
			continue
		}
		out = append(out, *e.tuple(cfg, id))
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemCheckpointer) Put(ctx context.Context, cfg pregel.RunConfig, chk *pregel.Checkpoint, meta pregel.CheckpointMetadata) (pregel.RunConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tk := threadKey{thread: cfg.ThreadID, ns: cfg.Namespace}
	k := key{thread: cfg.ThreadID, ns: cfg.Namespace, id: chk.ID}

	var parent *pregel.RunConfig
	if ids := m.order[tk]; len(ids) > 0 {
		p := cfg
		p.CheckpointID = ids[len(ids)-1]
		parent = &p
	}

	if _, exists := m.byKey[k]; !exists {
		m.order[tk] = append(m.order[tk], chk.ID)
	}
	m.byKey[k] = &entry{checkpoint: chk, metadata: meta, writeSeen: map[string]bool{}, parent: parent}

	out := cfg
	out.CheckpointID = chk.ID
	return out, nil
}

func (m *MemCheckpointer) PutWrites(ctx context.Context, cfg pregel.RunConfig, writes []pregel.PendingWrite, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tk := threadKey{thread: cfg.ThreadID, ns: cfg.Namespace}
	ids := m.order[tk]
	if len(ids) == 0 {
		return errors.New("checkpoint: PutWrites with no committed checkpoint")
	}
	e := m.byKey[key{thread: cfg.ThreadID, ns: cfg.Namespace, id: ids[len(ids)-1]}]

	for _, w := range writes {
		seenKey := taskID + "|" + w.Channel
		if e.writeSeen[seenKey] {
			continue
		}
		e.writeSeen[seenKey] = true
		e.writes = append(e.writes, w)
	}
	return nil
}

func (m *MemCheckpointer) GetNextVersion(ctx context.Context, cfg pregel.RunConfig, channel string, prev uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tk := threadKey{thread: cfg.ThreadID, ns: cfg.Namespace}
	vers, ok := m.versions[tk]
	if !ok {
		vers = map[string]uint64{}
		m.versions[tk] = vers
	}
	next := vers[channel]
	if prev > next {
		next = prev
	}
	next++
	vers[channel] = next
	return next, nil
}

func (e *entry) tuple(cfg pregel.RunConfig, id string) *pregel.CheckpointTuple {
	writes := make([]pregel.PendingWrite, len(e.writes))
	copy(writes, e.writes)
	sort.Slice(writes, func(i, j int) bool { return writes[i].TaskID < writes[j].TaskID })

	out := cfg
	out.CheckpointID = id
	return &pregel.CheckpointTuple{
		Config:        out,
		Checkpoint:    e.checkpoint,
		Metadata:      e.metadata,
		PendingWrites: writes,
		ParentConfig:  e.parent,
	}
}
