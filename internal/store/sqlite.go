package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/agentconsole/internal/domain"
	"github.com/ashureev/agentconsole/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		model TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		config_json TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		trace_kind TEXT,
		trace_text TEXT,
		state TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_workspace ON messages(workspace_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const agentColumns = `id, name, type, model, system_prompt, config_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (domain.Agent, error) {
	var a domain.Agent
	var configJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Model, &a.SystemPrompt, &configJSON, &createdAt, &updatedAt); err != nil {
		return domain.Agent{}, err
	}
	if err := json.Unmarshal([]byte(configJSON), &a.Config); err != nil {
		return domain.Agent{}, fmt.Errorf("decode config of agent %s: %w", a.ID, err)
	}
	a.CreatedAt = time.UnixMilli(createdAt)
	a.UpdatedAt = time.UnixMilli(updatedAt)
	return a, nil
}

// ListAgents returns all agents in creation order.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	agents := []domain.Agent{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return agents, nil
}

// GetAgent retrieves an agent by id.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("scan agent row: %w", err)
	}
	return a, nil
}

// CreateAgent inserts a new agent.
func (s *SQLiteStore) CreateAgent(ctx context.Context, a domain.Agent) error {
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	query := `INSERT INTO agents (` + agentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	return shared.RetryOnConflict(ctx, "create agent", func() error {
		_, err := s.db.ExecContext(ctx, query,
			a.ID, a.Name, a.Type, a.Model, a.SystemPrompt, string(configJSON),
			a.CreatedAt.UnixMilli(), a.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert agent: %w", err)
		}
		return nil
	})
}

// UpdateAgent replaces an existing agent.
func (s *SQLiteStore) UpdateAgent(ctx context.Context, a domain.Agent) error {
	configJSON, err := json.Marshal(a.Config)
	if err != nil {
		return fmt.Errorf("encode agent config: %w", err)
	}
	query := `
		UPDATE agents SET name = ?, type = ?, model = ?, system_prompt = ?,
		       config_json = ?, updated_at = ?
		WHERE id = ?`
	return s.execOne(ctx, "update agent", "agent", a.ID, query,
		a.Name, a.Type, a.Model, a.SystemPrompt, string(configJSON), a.UpdatedAt.UnixMilli(), a.ID)
}

// DeleteAgent removes an agent. Its messages stay in workspace history.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	return s.execOne(ctx, "delete agent", "agent", id, `DELETE FROM agents WHERE id = ?`, id)
}

const workspaceColumns = `id, name, description, created_at, updated_at`

func scanWorkspace(row rowScanner) (domain.Workspace, error) {
	var w domain.Workspace
	var createdAt, updatedAt int64
	if err := row.Scan(&w.ID, &w.Name, &w.Description, &createdAt, &updatedAt); err != nil {
		return domain.Workspace{}, err
	}
	w.CreatedAt = time.UnixMilli(createdAt)
	w.UpdatedAt = time.UnixMilli(updatedAt)
	return w, nil
}

// ListWorkspaces returns all workspaces in creation order.
func (s *SQLiteStore) ListWorkspaces(ctx context.Context) ([]domain.Workspace, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close workspace rows", "error", closeErr)
		}
	}()

	workspaces := []domain.Workspace{}
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace row: %w", err)
		}
		workspaces = append(workspaces, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return workspaces, nil
}

// GetWorkspace retrieves a workspace by id.
func (s *SQLiteStore) GetWorkspace(ctx context.Context, id string) (domain.Workspace, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = ?`, id)
	w, err := scanWorkspace(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Workspace{}, fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Workspace{}, fmt.Errorf("scan workspace row: %w", err)
	}
	return w, nil
}

// CreateWorkspace inserts a new workspace.
func (s *SQLiteStore) CreateWorkspace(ctx context.Context, w domain.Workspace) error {
	query := `INSERT INTO workspaces (` + workspaceColumns + `) VALUES (?, ?, ?, ?, ?)`
	return shared.RetryOnConflict(ctx, "create workspace", func() error {
		_, err := s.db.ExecContext(ctx, query, w.ID, w.Name, w.Description, w.CreatedAt.UnixMilli(), w.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert workspace: %w", err)
		}
		return nil
	})
}

// UpdateWorkspace replaces an existing workspace.
func (s *SQLiteStore) UpdateWorkspace(ctx context.Context, w domain.Workspace) error {
	query := `UPDATE workspaces SET name = ?, description = ?, updated_at = ? WHERE id = ?`
	return s.execOne(ctx, "update workspace", "workspace", w.ID, query, w.Name, w.Description, w.UpdatedAt.UnixMilli(), w.ID)
}

// DeleteWorkspace removes a workspace and its conversation history.
func (s *SQLiteStore) DeleteWorkspace(ctx context.Context, id string) error {
	return shared.RetryOnConflict(ctx, "delete workspace", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back workspace delete", "error", rbErr)
			}
		}()

		res, err := tx.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete workspace: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE workspace_id = ?`, id); err != nil {
			return fmt.Errorf("delete workspace messages: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit workspace delete: %w", err)
		}
		return nil
	})
}

// AppendMessage stores a finished message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, m domain.Message) error {
	var traceKind, traceText any
	if m.Trace != nil {
		traceKind, traceText = string(m.Trace.Kind), m.Trace.Text
	}
	query := `
		INSERT INTO messages (id, workspace_id, agent_id, role, content, trace_kind, trace_text, state, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	return shared.RetryOnConflict(ctx, "append message", func() error {
		_, err := s.db.ExecContext(ctx, query,
			m.ID, m.WorkspaceID, m.AgentID, m.Role, m.Content, traceKind, traceText,
			m.State, m.FailureReason, m.Timestamp.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// ListMessages returns up to limit of the most recent messages, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, workspaceID, agentID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = domain.DefaultMemoryLimit
	}
	query := `
		SELECT id, workspace_id, agent_id, role, content, trace_kind, trace_text, state, failure_reason, created_at
		FROM (
			SELECT rowid AS seq, * FROM messages
			WHERE workspace_id = ? AND (? = '' OR agent_id = ?)
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		)
		ORDER BY created_at, seq`

	rows, err := s.db.QueryContext(ctx, query, workspaceID, agentID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	msgs := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var traceKind, traceText sql.NullString
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.AgentID, &m.Role, &m.Content,
			&traceKind, &traceText, &m.State, &m.FailureReason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		if traceKind.Valid {
			m.Trace = &domain.Trace{Kind: domain.TraceKind(traceKind.String), Text: traceText.String}
		}
		m.Timestamp = time.UnixMilli(createdAt)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// Stats counts stored records.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM agents),
		       (SELECT COUNT(*) FROM workspaces),
		       (SELECT COUNT(*) FROM messages)`)
	if err := row.Scan(&st.Agents, &st.Workspaces, &st.Messages); err != nil {
		return Stats{}, fmt.Errorf("count records: %w", err)
	}
	return st, nil
}

// execOne runs a statement that must affect exactly one row.
func (s *SQLiteStore) execOne(ctx context.Context, op, kind, id, query string, args ...any) error {
	return shared.RetryOnConflict(ctx, op, func() error {
		result, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
		}
		return nil
	})
}
