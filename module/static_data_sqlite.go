package module

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GoCodeAlone/modular"
	_ "modernc.org/sqlite"
)

const staticDataSchema = `CREATE TABLE IF NOT EXISTS static_data (
	scope      TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (scope, key)
)`

// SQLiteStaticData is the staticdata.sqlite module, keeping node state in a
// local SQLite file so webhook subscriptions survive restarts.
type SQLiteStaticData struct {
	name   string
	dbPath string
	db     *sql.DB
	logger modular.Logger
}

// NewSQLiteStaticData creates a new SQLite-backed store at dbPath.
func NewSQLiteStaticData(name, dbPath string) *SQLiteStaticData {
	return &SQLiteStaticData{name: name, dbPath: dbPath, logger: &noopLogger{}}
}

func (s *SQLiteStaticData) Name() string { return s.name }

func (s *SQLiteStaticData) Init(app modular.Application) error {
	s.logger = app.Logger()
	return nil
}

// Start opens the database and creates the static_data table.
func (s *SQLiteStaticData) Start(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	dir := filepath.Dir(s.dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", s.dbPath, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, staticDataSchema); err != nil {
		db.Close()
		return fmt.Errorf("create static_data table: %w", err)
	}

	s.db = db
	s.logger.Info("SQLite static data started", "name", s.name, "path", s.dbPath)
	return nil
}

// Stop closes the database connection.
func (s *SQLiteStaticData) Stop(_ context.Context) error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("SQLite static data stopped", "name", s.name)
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStaticData) Get(ctx context.Context, scope, key string) (string, bool, error) {
	if s.db == nil {
		return "", false, fmt.Errorf("staticdata.sqlite %q: not started", s.name)
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM static_data WHERE scope = ? AND key = ?`, scope, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get static data %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

func (s *SQLiteStaticData) Set(ctx context.Context, scope, key, value string) error {
	if s.db == nil {
		return fmt.Errorf("staticdata.sqlite %q: not started", s.name)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO static_data (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (scope, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, scope, key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("set static data %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SQLiteStaticData) Delete(ctx context.Context, scope, key string) error {
	if s.db == nil {
		return fmt.Errorf("staticdata.sqlite %q: not started", s.name)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM static_data WHERE scope = ? AND key = ?`, scope, key); err != nil {
		return fmt.Errorf("delete static data %s/%s: %w", scope, key, err)
	}
	return nil
}

func (s *SQLiteStaticData) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: s.name, Description: "SQLite static data store", Instance: s},
	}
}

func (s *SQLiteStaticData) RequiresServices() []modular.ServiceDependency {
	return nil
}
