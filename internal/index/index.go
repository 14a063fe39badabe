// Package index persists the last successfully fetched photo list so
// the kiosk can start displaying before the network is up.
package index

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/photokiosk/photokiosk/internal/photo"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the snapshot database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the snapshot database and applies
// pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the snapshot with the given items in one transaction.
func (s *Store) Save(ctx context.Context, items []photo.Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM photos"); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO photos (path, url, created, modified, source_id, space_id) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, it := range items {
		var spaceID any
		if it.SpaceID != nil {
			spaceID = *it.SpaceID
		}
		if _, err := stmt.ExecContext(ctx, it.Path, it.URL, it.Created, it.Modified, it.SourceID, spaceID); err != nil {
			return fmt.Errorf("failed to insert %s: %w", it.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Load returns the stored snapshot, empty when none was saved yet.
func (s *Store) Load(ctx context.Context) ([]photo.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, url, created, modified, source_id, space_id FROM photos ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []photo.Item
	for rows.Next() {
		var it photo.Item
		var spaceID sql.NullInt64
		if err := rows.Scan(&it.Path, &it.URL, &it.Created, &it.Modified, &it.SourceID, &spaceID); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if spaceID.Valid {
			id := int(spaceID.Int64)
			it.SpaceID = &id
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
