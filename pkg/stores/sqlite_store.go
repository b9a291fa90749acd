package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/managedmac/pkg/engine"
	"github.com/openfroyo/managedmac/pkg/printers"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements State using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ State = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path, now: time.Now}, nil
}

// dsn adds connection pragmas for file databases. In-memory databases are
// opened as-is.
func (s *SQLiteStore) dsn() string {
	if s.path == ":memory:" {
		return s.path
	}
	return s.path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
}

// Init opens the database connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// One writer at a time; an in-memory database also lives on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// LastUpdate implements printers.StatusStore.
func (s *SQLiteStore) LastUpdate(ctx context.Context, id string) (int64, error) {
	var stamp int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_update FROM printer_status WHERE id = ?`, id,
	).Scan(&stamp)

	if errors.Is(err, sql.ErrNoRows) {
		return printers.UnknownStamp, nil
	}
	if err != nil {
		return printers.UnknownStamp, engine.NewPersistenceFailure("failed to get printer status", err).WithResource(id)
	}
	return stamp, nil
}

// SetLastUpdate implements printers.StatusStore.
func (s *SQLiteStore) SetLastUpdate(ctx context.Context, id string, stamp int64) error {
	query := `
		INSERT INTO printer_status (id, last_update, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_update = excluded.last_update,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, id, stamp, s.now().Unix()); err != nil {
		return engine.NewPersistenceFailure("failed to set printer status", err).WithResource(id)
	}
	return nil
}

// Records implements State.
func (s *SQLiteStore) Records(ctx context.Context) ([]StatusRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, last_update, updated_at FROM printer_status ORDER BY id`)
	if err != nil {
		return nil, engine.NewPersistenceFailure("failed to list printer status", err)
	}
	defer rows.Close()

	var records []StatusRecord
	for rows.Next() {
		var rec StatusRecord
		var updated int64
		if err := rows.Scan(&rec.ID, &rec.LastUpdate, &updated); err != nil {
			return nil, engine.NewPersistenceFailure("failed to scan printer status", err)
		}
		rec.UpdatedAt = time.Unix(updated, 0).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewPersistenceFailure("failed to list printer status", err)
	}
	return records, nil
}

// List implements printers.KnownPrinters.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM known_printers ORDER BY position`)
	if err != nil {
		return nil, engine.NewPersistenceFailure("failed to list known printers", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engine.NewPersistenceFailure("failed to scan known printer", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, engine.NewPersistenceFailure("failed to list known printers", err)
	}
	return ids, nil
}

// Add implements printers.KnownPrinters. Adding a listed id is a no-op.
func (s *SQLiteStore) Add(ctx context.Context, id string) error {
	query := `
		INSERT OR IGNORE INTO known_printers (id, position)
		VALUES (?, (SELECT COALESCE(MAX(position), 0) + 1 FROM known_printers))
	`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return engine.NewPersistenceFailure("failed to add known printer", err).WithResource(id)
	}
	return nil
}

// Remove implements printers.KnownPrinters.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM known_printers WHERE id = ?`, id); err != nil {
		return engine.NewPersistenceFailure("failed to remove known printer", err).WithResource(id)
	}
	return nil
}
