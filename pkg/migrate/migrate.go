// Package migrate is a minimal embedded-SQL migration runner, adapted from
// the teacher's pkg/store/sqlite/migrate package so both the event log and
// the outbox store can bootstrap their schema idempotently on startup
// (spec §6: "schema bootstrap is idempotent... and runs on startup").
package migrate

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Migration is a single versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// Migrator applies pending migrations, tracking progress in a
// per-store table so two stores can share one physical database file
// without colliding.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
	tableName  string
}

// New creates a Migrator. tableName tracks applied versions, e.g.
// "eventlog_schema_migrations" or "outbox_schema_migrations".
func New(db *sql.DB, tableName string) *Migrator {
	return &Migrator{db: db, tableName: tableName}
}

// LoadFromFS loads migrations named "000001_name.up.sql" from dir in fsys.
func (m *Migrator) LoadFromFS(fsys embed.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("migrate: read dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}

		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) != 2 {
			continue
		}
		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", entry.Name(), err)
		}

		m.migrations = append(m.migrations, Migration{
			Version: version,
			Name:    strings.TrimSuffix(parts[1], ".up.sql"),
			Up:      string(content),
		})
	}

	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
	return nil
}

// Add registers a migration directly, for stores that would rather inline
// their schema than embed .sql files.
func (m *Migrator) Add(version int, name, up string) {
	m.migrations = append(m.migrations, Migration{Version: version, Name: name, Up: up})
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

func (m *Migrator) ensureMigrationTable() error {
	_, err := m.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at INTEGER NOT NULL
		)
	`, m.tableName))
	if err != nil {
		return fmt.Errorf("migrate: create table %s: %w", m.tableName, err)
	}
	return nil
}

func (m *Migrator) currentVersion() (int, error) {
	var version int
	err := m.db.QueryRow(fmt.Sprintf("SELECT COALESCE(MAX(version), 0) FROM %s", m.tableName)).Scan(&version)
	return version, err
}

// Up applies every migration newer than the current recorded version, each
// in its own transaction.
func (m *Migrator) Up() error {
	if err := m.ensureMigrationTable(); err != nil {
		return err
	}

	current, err := m.currentVersion()
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	for _, migration := range m.migrations {
		if migration.Version <= current {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("migrate: apply %d_%s: %w", migration.Version, migration.Name, err)
		}
	}
	return nil
}

func (m *Migrator) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("execute migration: %w", err)
	}

	if _, err := tx.Exec(fmt.Sprintf(
		"INSERT INTO %s (version, name, applied_at) VALUES (?, ?, ?)", m.tableName,
	), migration.Version, migration.Name, time.Now().Unix()); err != nil {
		return fmt.Errorf("record migration: %w", err)
	}

	return tx.Commit()
}
