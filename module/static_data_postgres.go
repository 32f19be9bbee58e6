package module

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/modular"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is the part of *pgxpool.Pool the postgres store needs.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStaticDataConfig holds configuration for the staticdata.postgres module.
type PostgresStaticDataConfig struct {
	DSN      string
	MaxConns int32
}

// PostgresStaticData is the staticdata.postgres module. It shares the
// static_data table layout with the SQLite store.
type PostgresStaticData struct {
	name   string
	cfg    PostgresStaticDataConfig
	pool   *pgxpool.Pool
	db     pgQuerier
	logger modular.Logger
}

// NewPostgresStaticData creates a new PostgreSQL-backed store.
func NewPostgresStaticData(name string, cfg PostgresStaticDataConfig) *PostgresStaticData {
	return &PostgresStaticData{name: name, cfg: cfg, logger: &noopLogger{}}
}

func newPostgresStaticDataWithQuerier(name string, db pgQuerier) *PostgresStaticData {
	return &PostgresStaticData{name: name, db: db, logger: &noopLogger{}}
}

func (p *PostgresStaticData) Name() string { return p.name }

func (p *PostgresStaticData) Init(app modular.Application) error {
	p.logger = app.Logger()
	return nil
}

// Start opens the connection pool, pings it and creates the table.
func (p *PostgresStaticData) Start(ctx context.Context) error {
	if p.db != nil {
		return nil
	}
	poolCfg, err := pgxpool.ParseConfig(p.cfg.DSN)
	if err != nil {
		return fmt.Errorf("staticdata.postgres %q: parsing database config: %w", p.name, err)
	}
	if p.cfg.MaxConns > 0 {
		poolCfg.MaxConns = p.cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("staticdata.postgres %q: creating connection pool: %w", p.name, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("staticdata.postgres %q: pinging database: %w", p.name, err)
	}
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS static_data (
		scope      TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (scope, key)
	)`); err != nil {
		pool.Close()
		return fmt.Errorf("staticdata.postgres %q: create static_data table: %w", p.name, err)
	}

	p.pool = pool
	p.db = pool
	p.logger.Info("Postgres static data started", "name", p.name)
	return nil
}

// Stop closes the pool.
func (p *PostgresStaticData) Stop(_ context.Context) error {
	if p.pool != nil {
		p.pool.Close()
		p.pool = nil
		p.db = nil
		p.logger.Info("Postgres static data stopped", "name", p.name)
	}
	return nil
}

func (p *PostgresStaticData) Get(ctx context.Context, scope, key string) (string, bool, error) {
	if p.db == nil {
		return "", false, fmt.Errorf("staticdata.postgres %q: not started", p.name)
	}
	var value string
	err := p.db.QueryRow(ctx,
		`SELECT value FROM static_data WHERE scope = $1 AND key = $2`, scope, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get static data %s/%s: %w", scope, key, err)
	}
	return value, true, nil
}

func (p *PostgresStaticData) Set(ctx context.Context, scope, key, value string) error {
	if p.db == nil {
		return fmt.Errorf("staticdata.postgres %q: not started", p.name)
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO static_data (scope, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = NOW()
	`, scope, key, value)
	if err != nil {
		return fmt.Errorf("set static data %s/%s: %w", scope, key, err)
	}
	return nil
}

func (p *PostgresStaticData) Delete(ctx context.Context, scope, key string) error {
	if p.db == nil {
		return fmt.Errorf("staticdata.postgres %q: not started", p.name)
	}
	if _, err := p.db.Exec(ctx,
		`DELETE FROM static_data WHERE scope = $1 AND key = $2`, scope, key); err != nil {
		return fmt.Errorf("delete static data %s/%s: %w", scope, key, err)
	}
	return nil
}

func (p *PostgresStaticData) ProvidesServices() []modular.ServiceProvider {
	return []modular.ServiceProvider{
		{Name: p.name, Description: "PostgreSQL static data store", Instance: p},
	}
}

func (p *PostgresStaticData) RequiresServices() []modular.ServiceDependency {
	return nil
}
