package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/models"
)

// Index is the queryable workflow summary table. The in-memory store
// answers live lookups; the index answers "what ran last week" across
// process restarts. sqlite3 is the default driver, postgres is
// supported through the same statements.
type Index struct {
	logger *zap.Logger
	db     *sqlx.DB
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS workflows (
	workflow_id    TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	storage_path   TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	execution_path TEXT NOT NULL DEFAULT '',
	started_at     TIMESTAMP NOT NULL,
	finished_at    TIMESTAMP
)`

// OpenIndex connects and ensures the schema.
func OpenIndex(logger *zap.Logger, driver, dsn string) (*Index, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open workflow index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure workflow index schema: %w", err)
	}
	return &Index{logger: logger, db: db}, nil
}

// NewIndexWithDB wraps an existing connection; tests use this with a
// mocked driver.
func NewIndexWithDB(logger *zap.Logger, db *sqlx.DB) *Index {
	return &Index{logger: logger, db: db}
}

type indexRow struct {
	WorkflowID    string       `db:"workflow_id"`
	Status        string       `db:"status"`
	StoragePath   string       `db:"storage_path"`
	Error         string       `db:"error"`
	ExecutionPath string       `db:"execution_path"`
	StartedAt     time.Time    `db:"started_at"`
	FinishedAt    sql.NullTime `db:"finished_at"`
}

// Save upserts the record's summary row.
func (ix *Index) Save(ctx context.Context, rec *models.WorkflowRecord) error {
	row := indexRow{
		WorkflowID:    rec.WorkflowID,
		Status:        rec.Status,
		StoragePath:   rec.StoragePath,
		Error:         rec.Error,
		ExecutionPath: strings.Join(rec.ExecutionPath, ","),
		StartedAt:     rec.StartedAt,
	}
	if !rec.FinishedAt.IsZero() {
		row.FinishedAt = sql.NullTime{Time: rec.FinishedAt, Valid: true}
	}

	_, err := ix.db.NamedExecContext(ctx, `
		INSERT INTO workflows (workflow_id, status, storage_path, error, execution_path, started_at, finished_at)
		VALUES (:workflow_id, :status, :storage_path, :error, :execution_path, :started_at, :finished_at)
		ON CONFLICT (workflow_id) DO UPDATE SET
			status = excluded.status,
			storage_path = excluded.storage_path,
			error = excluded.error,
			execution_path = excluded.execution_path,
			finished_at = excluded.finished_at`, row)
	if err != nil {
		return fmt.Errorf("index workflow %s: %w", rec.WorkflowID, err)
	}
	return nil
}

// Summary is one indexed workflow row.
type Summary struct {
	WorkflowID    string
	Status        string
	StoragePath   string
	Error         string
	ExecutionPath []string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Get returns one indexed workflow, or false when unknown.
func (ix *Index) Get(ctx context.Context, workflowID string) (*Summary, bool, error) {
	var row indexRow
	err := ix.db.GetContext(ctx, &row, ix.db.Rebind(`
		SELECT workflow_id, status, storage_path, error, execution_path, started_at, finished_at
		FROM workflows WHERE workflow_id = ?`), workflowID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read workflow index: %w", err)
	}
	return row.summary(), true, nil
}

// Recent lists the newest workflows, most recently started first.
func (ix *Index) Recent(ctx context.Context, limit int) ([]*Summary, error) {
	var rows []indexRow
	err := ix.db.SelectContext(ctx, &rows, ix.db.Rebind(`
		SELECT workflow_id, status, storage_path, error, execution_path, started_at, finished_at
		FROM workflows ORDER BY started_at DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow index: %w", err)
	}
	out := make([]*Summary, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].summary())
	}
	return out, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

func (r *indexRow) summary() *Summary {
	s := &Summary{
		WorkflowID:  r.WorkflowID,
		Status:      r.Status,
		StoragePath: r.StoragePath,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
	}
	if r.ExecutionPath != "" {
		s.ExecutionPath = strings.Split(r.ExecutionPath, ",")
	}
	if r.FinishedAt.Valid {
		s.FinishedAt = r.FinishedAt.Time
	}
	return s
}
