package migration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pyqapi/internal/logging"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_table_papers",
		SQL: `CREATE TABLE IF NOT EXISTS papers (
  seq            BIGSERIAL   NOT NULL UNIQUE,
  id             UUID        PRIMARY KEY,
  subject        TEXT        NOT NULL,
  department     TEXT        NOT NULL,
  semester       SMALLINT    NOT NULL CHECK (semester BETWEEN 1 AND 8),
  year           INTEGER     NOT NULL CHECK (year > 0),
  locator        TEXT        NOT NULL,
  storage_key    TEXT        NOT NULL DEFAULT '',
  uploaded_by    TEXT        NOT NULL DEFAULT 'Admin',
  download_count INTEGER     NOT NULL DEFAULT 0,
  created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_papers_department",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_papers_department ON papers (department);`,
	},
	{
		Name: "create_index_papers_semester_year",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_papers_semester_year ON papers (semester, year);`,
	},
	{
		Name: "create_index_papers_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_papers_created_at ON papers (created_at DESC, seq);`,
	},
}

// EnsureMigrated applies every step not yet recorded in schema_migrations.
// Each step runs in its own transaction together with its bookkeeping row.
func EnsureMigrated(ctx context.Context, db *sql.DB, dbHost string) error {
	start := time.Now()
	log := logging.L().With(zap.String("component", "database"), zap.String("db_host", dbHost))

	log.Info("db_migration_check")

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  name       TEXT        PRIMARY KEY,
  applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`); err != nil {
		log.Error("db_migration_failed", zap.Error(err))
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedSteps(ctx, db)
	if err != nil {
		log.Error("db_migration_failed", zap.Error(err))
		return err
	}

	ran := 0
	for _, step := range steps {
		if applied[step.Name] {
			continue
		}
		stepStart := time.Now()
		if err := applyStep(ctx, db, step); err != nil {
			log.Error("db_migration_failed",
				zap.String("migration_step", step.Name),
				zap.Error(err),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}
		ran++
		log.Info("db_migration_step",
			zap.String("migration_step", step.Name),
			zap.Int64("step_duration_ms", time.Since(stepStart).Milliseconds()),
		)
	}

	if ran == 0 {
		log.Info("db_migration_skip", zap.String("msg_detail", "schema up to date"))
		return nil
	}
	log.Info("db_migration_success",
		zap.Int("steps_applied", ran),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return nil
}

func appliedSteps(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func applyStep(ctx context.Context, db *sql.DB, step migrationStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, step.Name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
