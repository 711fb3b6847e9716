package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/shipway/shipway/internal/core/promotion"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens the journal database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations applies the embedded SQL migrations.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Rows
// =============================================================================

// runRow represents a promotion run row in the database.
type runRow struct {
	ID          string  `db:"id"`
	Stage       string  `db:"stage"`
	Environment string  `db:"environment"`
	Status      string  `db:"status"`
	ArtifactRef string  `db:"artifact_ref"`
	ProducedTag string  `db:"produced_tag"`
	Diagnostics string  `db:"diagnostics"`
	StartedAt   string  `db:"started_at"`
	FinishedAt  *string `db:"finished_at"`
}

func toRow(run *promotion.Run) map[string]any {
	var finishedAt *string
	if run.FinishedAt != nil {
		s := run.FinishedAt.UTC().Format(time.RFC3339Nano)
		finishedAt = &s
	}
	return map[string]any{
		"id":           run.ID,
		"stage":        string(run.Stage),
		"environment":  run.Environment,
		"status":       string(run.Status),
		"artifact_ref": run.ArtifactRef,
		"produced_tag": run.ProducedTag,
		"diagnostics":  run.Diagnostics,
		"started_at":   run.StartedAt.UTC().Format(time.RFC3339Nano),
		"finished_at":  finishedAt,
	}
}

func rowToRun(row *runRow) promotion.Run {
	startedAt, _ := time.Parse(time.RFC3339Nano, row.StartedAt)
	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t, _ := time.Parse(time.RFC3339Nano, *row.FinishedAt)
		finishedAt = &t
	}
	return promotion.Run{
		ID:          row.ID,
		Stage:       promotion.Stage(row.Stage),
		Environment: row.Environment,
		Status:      promotion.Status(row.Status),
		ArtifactRef: row.ArtifactRef,
		ProducedTag: row.ProducedTag,
		Diagnostics: row.Diagnostics,
		StartedAt:   startedAt,
		FinishedAt:  finishedAt,
	}
}

// =============================================================================
// Journal Operations
// =============================================================================

const insertRunQuery = `
	INSERT INTO promotion_runs (
		id, stage, environment, status, artifact_ref, produced_tag,
		diagnostics, started_at, finished_at
	) VALUES (
		:id, :stage, :environment, :status, :artifact_ref, :produced_tag,
		:diagnostics, :started_at, :finished_at
	)`

func (s *SQLiteStore) RecordStart(ctx context.Context, run *promotion.Run) error {
	if _, err := s.db.NamedExecContext(ctx, insertRunQuery, toRow(run)); err != nil {
		return NewStoreError("RecordStart", run.ID, err.Error(), err)
	}
	return nil
}

func (s *SQLiteStore) RecordResult(ctx context.Context, run *promotion.Run) error {
	query := `
		UPDATE promotion_runs SET
			status = :status,
			produced_tag = :produced_tag,
			diagnostics = :diagnostics,
			finished_at = :finished_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, query, toRow(run))
	if err != nil {
		return NewStoreError("RecordResult", run.ID, err.Error(), err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		// Skipped runs never saw RecordStart; insert them whole.
		if _, err := s.db.NamedExecContext(ctx, insertRunQuery, toRow(run)); err != nil {
			return NewStoreError("RecordResult", run.ID, err.Error(), err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]promotion.Run, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	query := `SELECT * FROM promotion_runs ORDER BY started_at DESC LIMIT ?`

	var rows []runRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, NewStoreError("ListRuns", "", err.Error(), err)
	}

	runs := make([]promotion.Run, 0, len(rows))
	for i := range rows {
		runs = append(runs, rowToRun(&rows[i]))
	}
	return runs, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*promotion.Run, error) {
	query := `SELECT * FROM promotion_runs WHERE id = ?`

	var row runRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", id, err.Error(), err)
	}

	run := rowToRun(&row)
	return &run, nil
}
