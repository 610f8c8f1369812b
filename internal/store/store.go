// Package store provides SQLite-backed persistence for agents, tasks,
// the work queue, and engine logs. The store is the single linearization
// point for writes: all components serialize writes through the writer
// connection while readers proceed concurrently via WAL snapshots.
package store

import (
	"github.com/jmoiron/sqlx"

	"github.com/vibesuite/orchestrator/internal/common/errors"
	"github.com/vibesuite/orchestrator/internal/db"
)

// Store provides durable persistence for the workflow engine.
type Store struct {
	pool *db.Pool
}

// Open opens the database at dbPath and initializes the schema.
func Open(dbPath string) (*Store, error) {
	pool, err := db.Open(dbPath)
	if err != nil {
		return nil, errors.StoreError("failed to open database", err)
	}
	s := &Store{pool: pool}
	if err := s.initSchema(); err != nil {
		_ = pool.Close()
		return nil, errors.StoreError("failed to initialize schema", err)
	}
	return s, nil
}

// NewWithPool creates a Store on an existing pool (shared ownership).
func NewWithPool(pool *db.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.initSchema(); err != nil {
		return nil, errors.StoreError("failed to initialize schema", err)
	}
	return s, nil
}

// Close closes the underlying connections.
func (s *Store) Close() error {
	return s.pool.Close()
}

func (s *Store) writer() *sqlx.DB { return s.pool.Writer() }
func (s *Store) reader() *sqlx.DB { return s.pool.Reader() }

// initSchema creates the database tables and indexes if they don't exist.
func (s *Store) initSchema() error {
	if err := s.initAgentSchema(); err != nil {
		return err
	}
	if err := s.initTaskSchema(); err != nil {
		return err
	}
	if err := s.initQueueSchema(); err != nil {
		return err
	}
	return s.initLogSchema()
}

func (s *Store) initAgentSchema() error {
	_, err := s.writer().Exec(`
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL DEFAULT '',
		sandbox_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'starting',
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		exit_code INTEGER,
		error TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agent_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		stream TEXT NOT NULL DEFAULT 'combined',
		line TEXT NOT NULL,
		FOREIGN KEY (agent_id) REFERENCES agents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_agents_task_id ON agents(task_id);
	CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
	CREATE INDEX IF NOT EXISTS idx_agent_logs_agent_id ON agent_logs(agent_id);
	`)
	return err
}

func (s *Store) initTaskSchema() error {
	_, err := s.writer().Exec(`
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'feature',
		status TEXT NOT NULL DEFAULT 'pending',
		repo TEXT NOT NULL DEFAULT '',
		repos TEXT NOT NULL DEFAULT '[]',
		investigation_only INTEGER NOT NULL DEFAULT 0,
		plan TEXT NOT NULL DEFAULT '',
		assigned_agent_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`)
	return err
}

func (s *Store) initQueueSchema() error {
	_, err := s.writer().Exec(`
	CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL UNIQUE,
		position INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'queued',
		queued_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS queue_settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_position ON queue(position);
	`)
	return err
}

func (s *Store) initLogSchema() error {
	_, err := s.writer().Exec(`
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		level TEXT NOT NULL DEFAULT 'info',
		component TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_logs_component ON logs(component);
	`)
	return err
}
