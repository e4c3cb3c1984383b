package pregel

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"
)

// Checkpoint is an immutable snapshot of every channel's value and version,
// plus the bookkeeping the planner needs to decide what runs next. It is the
// unit the Checkpointer persists; the wire layout (field names and the
// (thread_id, checkpoint_ns, checkpoint_id) key) is bit-exact across
// implementations per the external interface contract.
type Checkpoint struct {
	// ID is an opaque, time-ordered identifier, unique within a
	// (ThreadID, Namespace).
	ID string
	// Ts is the commit time.
	Ts time.Time
	// ChannelValues holds Channel.Snapshot() output keyed by channel name.
	ChannelValues map[string]any
	// ChannelVersions holds the monotone version last assigned to each
	// channel by Checkpointer.GetNextVersion.
	ChannelVersions map[string]uint64
	// VersionsSeen records, per node, the last channel version that node
	// had observed as of this checkpoint — the planner diffs against this
	// to decide which subscriptions fired.
	VersionsSeen map[string]map[string]uint64
	// PendingSends are dynamic tasks enqueued by Command.Goto during the
	// superstep that produced this checkpoint, to be drained by the
	// planner on the next tick.
	PendingSends []Send
}

// clone returns a deep-enough copy for safe mutation by the loop without
// aliasing the committed checkpoint's maps/slices.
func (c *Checkpoint) clone() *Checkpoint {
	out := &Checkpoint{
		ID:              c.ID,
		Ts:              c.Ts,
		ChannelValues:   make(map[string]any, len(c.ChannelValues)),
		ChannelVersions: make(map[string]uint64, len(c.ChannelVersions)),
		VersionsSeen:    make(map[string]map[string]uint64, len(c.VersionsSeen)),
		PendingSends:    append([]Send(nil), c.PendingSends...),
	}
	for k, v := range c.ChannelValues {
		out.ChannelValues[k] = v
	}
	for k, v := range c.ChannelVersions {
		out.ChannelVersions[k] = v
	}
	for node, m := range c.VersionsSeen {
		cp := make(map[string]uint64, len(m))
		for ch, v := range m {
			cp[ch] = v
		}
		out.VersionsSeen[node] = cp
	}
	return out
}

// CheckpointMetadata accompanies a Checkpoint in the Checkpointer's put/get
// calls; it is not itself part of the replay-critical channel state.
type CheckpointMetadata struct {
	// Source identifies what produced this checkpoint: "input" (seeded by
	// invoke's initial input), "loop" (a normal superstep), "update" (a
	// State API write), or "fork" (branched via updateState COPY).
	Source string
	// Step is the superstep number this checkpoint was committed after.
	Step int
	// Parents maps namespace to parent checkpoint ID, used to reconstruct
	// getStateHistory's DAG across forks.
	Parents map[string]string
}

// PendingWrite is one buffered write produced by a task, persisted
// separately from checkpoints so partial progress survives a crash between
// checkpoint commits.
type PendingWrite struct {
	TaskID  string
	Channel string
	Value   any
	// Idx orders multiple writes from the same task to the same channel,
	// matching the persisted layout's (taskId, channel, value, idx) rows.
	// On a WriteChannelInterrupt write it instead carries the interrupt's
	// ordinal within its task, letting a resume value address a specific
	// outstanding Interrupt() call.
	Idx int
}

// Reserved pending-write channel sentinels the engine treats specially; see
// the design notes on opaque payloads. Node code never writes these
// directly — they are produced by the runner from a task's outcome.
const (
	WriteChannelInterrupt = "__interrupt__"
	WriteChannelError     = "__error__"
	WriteChannelResume    = "__resume__"
)

// newCheckpointID returns an opaque, time-ordered identifier. Uniqueness
// within a (thread, namespace) is guaranteed by combining wall-clock
// nanoseconds with a counter-derived suffix supplied by the caller (the
// Loop's monotonically increasing step number), not by the clock alone.
func newCheckpointID(now time.Time, step int) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(now.UnixNano()))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(step))
	h.Write(buf[:])
	sum := h.Sum(nil)
	// Prefix with the nanosecond timestamp (hex) so lexicographic order on
	// ID matches chronological order, then append a short hash suffix for
	// uniqueness when two checkpoints share a timestamp.
	var tsbuf [8]byte
	binary.BigEndian.PutUint64(tsbuf[:], uint64(now.UnixNano()))
	return hex.EncodeToString(tsbuf[:]) + "-" + hex.EncodeToString(sum[:6])
}

// taskID computes the deterministic hash a task's identity rests on: stable
// across replays so idempotent commits detect duplicates. It is a pure
// function of the node name, the superstep number, and the sorted set of
// triggering channel names.
func taskID(node string, step int, triggers []string) string {
	sorted := append([]string(nil), triggers...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(node))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(step))
	h.Write(buf[:])
	for _, t := range sorted {
		h.Write([]byte{0})
		h.Write([]byte(t))
	}
	return hex.EncodeToString(h.Sum(nil))
}
