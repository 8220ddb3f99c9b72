// Copyright 2025 Certen Protocol
//
// Package opstore is a downstream, read-only view of each plan's status,
// exposed as a snapshot for an operator UI. The Driver Loop writes a
// snapshot after every iteration; nothing in this module ever reads it
// back to make execution decisions — the coordinator store remains the
// single source of truth for that.
//
// Built on database/sql + lib/pq with a connection pool and
// go:embed migrations, around a single upsert-by-plan-id snapshot table.

package opstore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/certen/independant-validator/pkg/config"
	"github.com/certen/independant-validator/pkg/plan"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a Postgres-backed writer/reader for plan snapshots.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// New opens a connection pool against cfg's database settings.
func New(cfg *config.Config) (*Store, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("opstore: DATABASE_URL is required")
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opstore: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opstore: ping: %w", err)
	}

	return &Store{db: db, logger: log.New(log.Writer(), "[opstore] ", log.LstdFlags)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Snapshot upserts the current state of p. Called once per Driver Loop
// iteration, after any coordinator-store writes have committed — this
// table is a cache of what the coordinator store already recorded, not an
// independent source of truth, so write failures here never block the
// driver from advancing.
func (s *Store) Snapshot(ctx context.Context, p *plan.ExecutionPlan) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("opstore: marshal plan %s: %w", p.PlanId, err)
	}

	const query = `
		INSERT INTO plan_snapshots (plan_id, status, abort_reason, drop_reason, user_src_addr, user_dest_addr, snapshot, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (plan_id) DO UPDATE SET
			status = EXCLUDED.status,
			abort_reason = EXCLUDED.abort_reason,
			drop_reason = EXCLUDED.drop_reason,
			snapshot = EXCLUDED.snapshot,
			updated_at = now()`

	_, err = s.db.ExecContext(ctx, query,
		p.PlanId.String(), p.Status.String(), string(p.AbortReason), string(p.DropReason),
		p.UserSrcAddr.Hex(), p.UserDestAddr.Hex(), body)
	if err != nil {
		return fmt.Errorf("opstore: snapshot %s: %w", p.PlanId, err)
	}
	return nil
}

// PlanView is the row shape an operator UI reads back.
type PlanView struct {
	PlanId      string
	Status      string
	AbortReason string
	DropReason  string
	UpdatedAt   time.Time
	Snapshot    json.RawMessage
}

// Get returns the last snapshot recorded for planID, if any.
func (s *Store) Get(ctx context.Context, planID string) (*PlanView, error) {
	const query = `SELECT plan_id, status, abort_reason, drop_reason, updated_at, snapshot FROM plan_snapshots WHERE plan_id = $1`
	row := s.db.QueryRowContext(ctx, query, planID)

	var v PlanView
	if err := row.Scan(&v.PlanId, &v.Status, &v.AbortReason, &v.DropReason, &v.UpdatedAt, &v.Snapshot); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("opstore: get %s: %w", planID, err)
	}
	return &v, nil
}

// ListByStatus returns every plan currently recorded with the given
// status, for operator dashboards filtering on e.g. "in_progress".
func (s *Store) ListByStatus(ctx context.Context, status string) ([]PlanView, error) {
	const query = `SELECT plan_id, status, abort_reason, drop_reason, updated_at, snapshot FROM plan_snapshots WHERE status = $1 ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("opstore: list by status %s: %w", status, err)
	}
	defer rows.Close()

	var out []PlanView
	for rows.Next() {
		var v PlanView
		if err := rows.Scan(&v.PlanId, &v.Status, &v.AbortReason, &v.DropReason, &v.UpdatedAt, &v.Snapshot); err != nil {
			return nil, fmt.Errorf("opstore: scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MigrateUp applies every embedded migration not yet recorded in
// schema_migrations, in filename order.
func (s *Store) MigrateUp(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`); err != nil {
		return fmt.Errorf("opstore: ensure schema_migrations: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("opstore: read applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("opstore: scan applied migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	var versions []string
	err = fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return err
		}
		versions = append(versions, path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("opstore: walk migrations: %w", err)
	}
	sort.Strings(versions)

	for _, path := range versions {
		version := strings.TrimSuffix(strings.TrimPrefix(path, "migrations/"), ".sql")
		if applied[version] {
			continue
		}
		body, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("opstore: read %s: %w", path, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("opstore: begin migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("opstore: apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("opstore: record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("opstore: commit migration %s: %w", version, err)
		}
		s.logger.Printf("applied migration %s", version)
	}
	return nil
}
