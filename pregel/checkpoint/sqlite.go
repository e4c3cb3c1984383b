package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/supersteps/pregel"
	_ "modernc.org/sqlite"
)

// SQLiteCheckpointer is a SQLite-backed pregel.Checkpointer. Designed for
// single-process, durable runs and local development — zero external
// dependencies, WAL mode for concurrent reads, one writer at a time.
//
// Schema:
//   - checkpoints: one row per committed Checkpoint, keyed by
//     (thread_id, checkpoint_ns, checkpoint_id)
//   - checkpoint_writes: pending writes, keyed additionally by
//     (task_id, channel) so PutWrites is idempotent on retry
//   - channel_version_counters: the monotone counter GetNextVersion reads
//     and bumps, one row per (thread_id, checkpoint_ns, channel)
type SQLiteCheckpointer struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewSQLiteCheckpointer opens (creating if absent) a SQLite database at
// path and ensures its schema exists. Use ":memory:" for an ephemeral,
// single-connection database.
func NewSQLiteCheckpointer(path string) (*SQLiteCheckpointer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("checkpoint: %s: %w", pragma, err)
		}
	}

	s := &SQLiteCheckpointer{db: db, path: path}
	if err := s.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteCheckpointer) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			parent_checkpoint_id TEXT,
			ts TIMESTAMP NOT NULL,
			source TEXT NOT NULL,
			step INTEGER NOT NULL,
			channel_values TEXT NOT NULL,
			channel_versions TEXT NOT NULL,
			versions_seen TEXT NOT NULL,
			pending_sends TEXT NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_thread ON checkpoints(thread_id, checkpoint_ns, checkpoint_id)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			checkpoint_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			idx INTEGER NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, channel)
		)`,
		`CREATE TABLE IF NOT EXISTS channel_version_counters (
			thread_id TEXT NOT NULL,
			checkpoint_ns TEXT NOT NULL DEFAULT '',
			channel TEXT NOT NULL,
			version INTEGER NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, channel)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteCheckpointer) GetTuple(ctx context.Context, cfg pregel.RunConfig) (*pregel.CheckpointTuple, error) {
	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends
			FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	} else {
		row = s.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends
			FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?
			ORDER BY checkpoint_id DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace)
	}

	tuple, err := s.scanTuple(ctx, cfg, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tuple, err
}

func (s *SQLiteCheckpointer) List(ctx context.Context, cfg pregel.RunConfig, opts pregel.ListOptions) ([]pregel.CheckpointTuple, error) {
	query := `
		SELECT checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends
		FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?`
	args := []any{cfg.ThreadID, cfg.Namespace}
	if opts.Before != "" {
		query += " AND checkpoint_id < ?"
		args = append(args, opts.Before)
	}
	query += " ORDER BY checkpoint_id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []pregel.CheckpointTuple
	for rows.Next() {
		tuple, err := s.scanTupleRow(ctx, cfg, rows)
		if err != nil {
			return nil, err
		}
		if opts.Filter != nil && !opts.Filter(tuple.Metadata) {
			continue
		}
		out = append(out, *tuple)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteCheckpointer) scanTuple(ctx context.Context, cfg pregel.RunConfig, row scanner) (*pregel.CheckpointTuple, error) {
	return s.scanTupleRow(ctx, cfg, row)
}

func (s *SQLiteCheckpointer) scanTupleRow(ctx context.Context, cfg pregel.RunConfig, row scanner) (*pregel.CheckpointTuple, error) {
	var (
		id, parentID, source                                  string
		parentIDNull                                          sql.NullString
		ts                                                     time.Time
		step                                                   int
		valuesJSON, versionsJSON, versionsSeenJSON, sendsJSON  string
	)
	if err := row.Scan(&id, &parentIDNull, &ts, &source, &step, &valuesJSON, &versionsJSON, &versionsSeenJSON, &sendsJSON); err != nil {
		return nil, err
	}
	parentID = parentIDNull.String

	chk := &pregel.Checkpoint{ID: id, Ts: ts}
	if err := json.Unmarshal([]byte(valuesJSON), &chk.ChannelValues); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal channel_values: %w", err)
	}
	if err := json.Unmarshal([]byte(versionsJSON), &chk.ChannelVersions); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal channel_versions: %w", err)
	}
	if err := json.Unmarshal([]byte(versionsSeenJSON), &chk.VersionsSeen); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal versions_seen: %w", err)
	}
	if err := json.Unmarshal([]byte(sendsJSON), &chk.PendingSends); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal pending_sends: %w", err)
	}

	writes, err := s.loadWrites(ctx, cfg, id)
	if err != nil {
		return nil, err
	}

	out := cfg
	out.CheckpointID = id
	var parent *pregel.RunConfig
	if parentID != "" {
		p := cfg
		p.CheckpointID = parentID
		parent = &p
	}

	return &pregel.CheckpointTuple{
		Config:        out,
		Checkpoint:    chk,
		Metadata:      pregel.CheckpointMetadata{Source: source, Step: step},
		PendingWrites: writes,
		ParentConfig:  parent,
	}, nil
}

func (s *SQLiteCheckpointer) loadWrites(ctx context.Context, cfg pregel.RunConfig, checkpointID string) ([]pregel.PendingWrite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, channel, idx, value FROM checkpoint_writes
		WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?
		ORDER BY task_id, channel`, cfg.ThreadID, cfg.Namespace, checkpointID)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load writes: %w", err)
	}
	defer rows.Close()

	var out []pregel.PendingWrite
	for rows.Next() {
		var w pregel.PendingWrite
		var valueJSON string
		if err := rows.Scan(&w.TaskID, &w.Channel, &w.Idx, &valueJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(valueJSON), &w.Value); err != nil {
			return nil, fmt.Errorf("checkpoint: unmarshal write value: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *SQLiteCheckpointer) Put(ctx context.Context, cfg pregel.RunConfig, chk *pregel.Checkpoint, meta pregel.CheckpointMetadata) (pregel.RunConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	valuesJSON, err := json.Marshal(chk.ChannelValues)
	if err != nil {
		return pregel.RunConfig{}, err
	}
	versionsJSON, err := json.Marshal(chk.ChannelVersions)
	if err != nil {
		return pregel.RunConfig{}, err
	}
	versionsSeenJSON, err := json.Marshal(chk.VersionsSeen)
	if err != nil {
		return pregel.RunConfig{}, err
	}
	sendsJSON, err := json.Marshal(chk.PendingSends)
	if err != nil {
		return pregel.RunConfig{}, err
	}

	var parentID sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT 1`, cfg.ThreadID, cfg.Namespace).Scan(&parentID); err != nil && err != sql.ErrNoRows {
		return pregel.RunConfig{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, checkpoint_ns, checkpoint_id) DO UPDATE SET
			ts = excluded.ts, source = excluded.source, step = excluded.step,
			channel_values = excluded.channel_values, channel_versions = excluded.channel_versions,
			versions_seen = excluded.versions_seen, pending_sends = excluded.pending_sends`,
		cfg.ThreadID, cfg.Namespace, chk.ID, parentID, chk.Ts, meta.Source, meta.Step,
		string(valuesJSON), string(versionsJSON), string(versionsSeenJSON), string(sendsJSON))
	if err != nil {
		return pregel.RunConfig{}, fmt.Errorf("checkpoint: put: %w", err)
	}

	out := cfg
	out.CheckpointID = chk.ID
	return out, nil
}

func (s *SQLiteCheckpointer) PutWrites(ctx context.Context, cfg pregel.RunConfig, writes []pregel.PendingWrite, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var checkpointID string
	if err := s.db.QueryRowContext(ctx, `
		SELECT checkpoint_id FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT 1`, cfg.ThreadID, cfg.Namespace).Scan(&checkpointID); err != nil {
		return fmt.Errorf("checkpoint: put writes: no committed checkpoint: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	for _, w := range writes {
		valueJSON, err := json.Marshal(w.Value)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, channel, idx, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id, checkpoint_ns, checkpoint_id, task_id, channel) DO NOTHING`,
			cfg.ThreadID, cfg.Namespace, checkpointID, taskID, w.Channel, w.Idx, string(valueJSON)); err != nil {
			return fmt.Errorf("checkpoint: put writes: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteCheckpointer) GetNextVersion(ctx context.Context, cfg pregel.RunConfig, channel string, prev uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	var current uint64
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM channel_version_counters WHERE thread_id = ? AND checkpoint_ns = ? AND channel = ?`,
		cfg.ThreadID, cfg.Namespace, channel).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	if prev > current {
		current = prev
	}
	current++

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO channel_version_counters (thread_id, checkpoint_ns, channel, version)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thread_id, checkpoint_ns, channel) DO UPDATE SET version = excluded.version`,
		cfg.ThreadID, cfg.Namespace, channel, current); err != nil {
		return 0, err
	}
	return current, tx.Commit()
}

// Close closes the underlying database connection.
func (s *SQLiteCheckpointer) Close() error {
	return s.db.Close()
}

// Path returns the database file path this checkpointer was opened with.
func (s *SQLiteCheckpointer) Path() string { return s.path }
