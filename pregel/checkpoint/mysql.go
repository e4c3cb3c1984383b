package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/supersteps/pregel"
)

// MySQLCheckpointer is a MySQL-backed pregel.Checkpointer for multi-process
// deployments that need a shared, durable checkpoint store. Same schema and
// semantics as SQLiteCheckpointer, translated to MySQL's dialect (JSON
// columns, AUTO_INCREMENT-free composite keys, ON DUPLICATE KEY UPDATE in
// place of SQLite's ON CONFLICT).
type MySQLCheckpointer struct {
	db *sql.DB
}

// NewMySQLCheckpointer opens a MySQL connection using dsn (see
// github.com/go-sql-driver/mysql's DSN format) and ensures its schema
// exists.
func NewMySQLCheckpointer(ctx context.Context, dsn string) (*MySQLCheckpointer, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("checkpoint: ping mysql: %w", err)
	}

	m := &MySQLCheckpointer{db: db}
	if err := m.createSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func (m *MySQLCheckpointer) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_ns VARCHAR(255) NOT NULL DEFAULT '',
			checkpoint_id VARCHAR(255) NOT NULL,
			parent_checkpoint_id VARCHAR(255),
			ts DATETIME(6) NOT NULL,
			source VARCHAR(64) NOT NULL,
			step INT NOT NULL,
			channel_values JSON NOT NULL,
			channel_versions JSON NOT NULL,
			versions_seen JSON NOT NULL,
			pending_sends JSON NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_ns VARCHAR(255) NOT NULL DEFAULT '',
			checkpoint_id VARCHAR(255) NOT NULL,
			task_id VARCHAR(255) NOT NULL,
			channel VARCHAR(255) NOT NULL,
			idx INT NOT NULL,
			value JSON NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, checkpoint_id, task_id, channel)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS channel_version_counters (
			thread_id VARCHAR(255) NOT NULL,
			checkpoint_ns VARCHAR(255) NOT NULL DEFAULT '',
			channel VARCHAR(255) NOT NULL,
			version BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (thread_id, checkpoint_ns, channel)
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("checkpoint: create schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLCheckpointer) GetTuple(ctx context.Context, cfg pregel.RunConfig) (*pregel.CheckpointTuple, error) {
	var row *sql.Row
	if cfg.CheckpointID != "" {
		row = m.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends
			FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ? AND checkpoint_id = ?`,
			cfg.ThreadID, cfg.Namespace, cfg.CheckpointID)
	} else {
		row = m.db.QueryRowContext(ctx, `
			SELECT checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends
			FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?
			ORDER BY checkpoint_id DESC LIMIT 1`,
			cfg.ThreadID, cfg.Namespace)
	}

	tuple, err := m.scanTuple(ctx, cfg, row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return tuple, err
}

func (m *MySQLCheckpointer) List(ctx context.Context, cfg pregel.RunConfig, opts pregel.ListOptions) ([]pregel.CheckpointTuple, error) {
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

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list: %w", err)
	}
	defer rows.Close()

	var out []pregel.CheckpointTuple
	for rows.Next() {
		tuple, err := m.scanTupleRow(ctx, cfg, rows)
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

func (m *MySQLCheckpointer) scanTuple(ctx context.Context, cfg pregel.RunConfig, row scanner) (*pregel.CheckpointTuple, error) {
	return m.scanTupleRow(ctx, cfg, row)
}

func (m *MySQLCheckpointer) scanTupleRow(ctx context.Context, cfg pregel.RunConfig, row scanner) (*pregel.CheckpointTuple, error) {
	var (
		id, source                                            string
		parentIDNull                                          sql.NullString
		ts                                                     time.Time
		step                                                   int
		valuesJSON, versionsJSON, versionsSeenJSON, sendsJSON  string
	)
	if err := row.Scan(&id, &parentIDNull, &ts, &source, &step, &valuesJSON, &versionsJSON, &versionsSeenJSON, &sendsJSON); err != nil {
		return nil, err
	}

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

	writes, err := m.loadWrites(ctx, cfg, id)
	if err != nil {
		return nil, err
	}

	out := cfg
	out.CheckpointID = id
	var parent *pregel.RunConfig
	if parentIDNull.String != "" {
		p := cfg
		p.CheckpointID = parentIDNull.String
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

func (m *MySQLCheckpointer) loadWrites(ctx context.Context, cfg pregel.RunConfig, checkpointID string) ([]pregel.PendingWrite, error) {
	rows, err := m.db.QueryContext(ctx, `
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

func (m *MySQLCheckpointer) Put(ctx context.Context, cfg pregel.RunConfig, chk *pregel.Checkpoint, meta pregel.CheckpointMetadata) (pregel.RunConfig, error) {
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
	if err := m.db.QueryRowContext(ctx, `
		SELECT checkpoint_id FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT 1`, cfg.ThreadID, cfg.Namespace).Scan(&parentID); err != nil && err != sql.ErrNoRows {
		return pregel.RunConfig{}, err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO checkpoints
			(thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, ts, source, step, channel_values, channel_versions, versions_seen, pending_sends)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			ts = VALUES(ts), source = VALUES(source), step = VALUES(step),
			channel_values = VALUES(channel_values), channel_versions = VALUES(channel_versions),
			versions_seen = VALUES(versions_seen), pending_sends = VALUES(pending_sends)`,
		cfg.ThreadID, cfg.Namespace, chk.ID, parentID, chk.Ts, meta.Source, meta.Step,
		string(valuesJSON), string(versionsJSON), string(versionsSeenJSON), string(sendsJSON))
	if err != nil {
		return pregel.RunConfig{}, fmt.Errorf("checkpoint: put: %w", err)
	}

	out := cfg
	out.CheckpointID = chk.ID
	return out, nil
}

func (m *MySQLCheckpointer) PutWrites(ctx context.Context, cfg pregel.RunConfig, writes []pregel.PendingWrite, taskID string) error {
	var checkpointID string
	if err := m.db.QueryRowContext(ctx, `
		SELECT checkpoint_id FROM checkpoints WHERE thread_id = ? AND checkpoint_ns = ?
		ORDER BY checkpoint_id DESC LIMIT 1`, cfg.ThreadID, cfg.Namespace).Scan(&checkpointID); err != nil {
		return fmt.Errorf("checkpoint: put writes: no committed checkpoint: %w", err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
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
			INSERT IGNORE INTO checkpoint_writes (thread_id, checkpoint_ns, checkpoint_id, task_id, channel, idx, value)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cfg.ThreadID, cfg.Namespace, checkpointID, taskID, w.Channel, w.Idx, string(valueJSON)); err != nil {
			return fmt.Errorf("checkpoint: put writes: %w", err)
		}
	}
	return tx.Commit()
}

func (m *MySQLCheckpointer) GetNextVersion(ctx context.Context, cfg pregel.RunConfig, channel string, prev uint64) (uint64, error) {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() //nolint:errcheck

	var current uint64
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM channel_version_counters WHERE thread_id = ? AND checkpoint_ns = ? AND channel = ? FOR UPDATE`,
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
		ON DUPLICATE KEY UPDATE version = VALUES(version)`,
		cfg.ThreadID, cfg.Namespace, channel, current); err != nil {
		return 0, err
	}
	return current, tx.Commit()
}

// Close closes the underlying database connection pool.
func (m *MySQLCheckpointer) Close() error {
	return m.db.Close()
}
