package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var embedded embed.FS

// Migrations returns the SQL migrations compiled into the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// migrationLockID is the pg_advisory_lock key held while migrating, so
// replicas starting together apply each file once.
const migrationLockID int64 = 0x63726973697321

type Migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

type MigrationStatus struct {
	Version   int        `json:"version"`
	Name      string     `json:"name"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
	// Modified is set when the file no longer matches what was applied.
	Modified bool `json:"modified,omitempty"`
}

// State renders the status column of `migrate status`.
func (s MigrationStatus) State() string {
	switch {
	case s.Modified:
		return "modified"
	case s.Applied:
		return "applied"
	default:
		return "pending"
	}
}

type appliedMigration struct {
	at       time.Time
	checksum string
}

// Migrator applies numbered SQL files ("001_name.sql") from an fs.FS in
// version order and records them in schema_migrations.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    checksum   TEXT NOT NULL DEFAULT '',
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// LoadMigrations parses the top level of the migration FS. Files without a
// positive numeric prefix are ignored; two files with one version are not.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	byVersion := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		version, ok := migrationVersion(entry)
		if !ok {
			continue
		}
		name := entry.Name()
		if other, dup := byVersion[version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		byVersion[version] = name

		content, err := fs.ReadFile(m.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, Migration{
			Version:  version,
			Name:     name,
			SQL:      string(content),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}

	slices.SortFunc(out, func(a, b Migration) int { return a.Version - b.Version })
	return out, nil
}

func migrationVersion(entry fs.DirEntry) (int, bool) {
	if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
		return 0, false
	}
	prefix, _, ok := strings.Cut(entry.Name(), "_")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Up applies pending migrations, each in its own transaction, while holding
// the migration advisory lock. It returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return 0, fmt.Errorf("take migration lock: %w", err)
	}
	defer conn.Exec(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID)

	applied, err := readApplied(ctx, conn.Conn())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range pending(migrations, applied) {
		err := pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.SQL); err != nil {
				return fmt.Errorf("execute SQL: %w", err)
			}
			_, err := tx.Exec(ctx,
				"INSERT INTO schema_migrations (version, name, checksum) VALUES ($1, $2, $3)",
				mig.Version, mig.Name, mig.Checksum)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		count++
	}
	return count, nil
}

// Status reports every known migration as applied, pending or modified.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	applied, err := readApplied(ctx, conn.Conn())
	if err != nil {
		return nil, err
	}
	return statuses(migrations, applied), nil
}

func readApplied(ctx context.Context, conn *pgx.Conn) (map[int]appliedMigration, error) {
	if _, err := conn.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations table: %w", err)
	}
	rows, err := conn.Query(ctx, `SELECT version, applied_at, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	applied := make(map[int]appliedMigration)
	var (
		version int
		rec     appliedMigration
	)
	_, err = pgx.ForEachRow(rows, []any{&version, &rec.at, &rec.checksum}, func() error {
		applied[version] = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	return applied, nil
}

func pending(migrations []Migration, applied map[int]appliedMigration) []Migration {
	var out []Migration
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	return out
}

func statuses(migrations []Migration, applied map[int]appliedMigration) []MigrationStatus {
	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if rec, ok := applied[mig.Version]; ok {
			at := rec.at
			st.Applied = true
			st.AppliedAt = &at
			// Rows written before checksums were recorded carry ''.
			st.Modified = rec.checksum != "" && rec.checksum != mig.Checksum
		}
		out = append(out, st)
	}
	return out
}
