// Package postgres provides a PostgreSQL-backed employee store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/staffdrive/staffdrive/internal/logger"
	"github.com/staffdrive/staffdrive/pkg/directory"
)

// uniqueViolation is the SQLSTATE for a duplicate primary key.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	employee_id   TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	department    TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	admin         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
)`

// Config configures the connection pool.
type Config struct {
	// DSN is a lib/pq connection string or URL.
	DSN string `mapstructure:"dsn" validate:"required"`

	// MaxOpenConns bounds the pool (default: 10).
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"gte=0"`

	// ConnMaxLifetime recycles connections (default: 5m).
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"gte=0"`
}

// PostgresStore stores employees in the employees table.
type PostgresStore struct {
	db *sql.DB
}

// New connects, verifies the connection and creates the schema if missing.
func New(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres employee store: dsn is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create employees table: %w", err)
	}

	logger.Info("Postgres employee store ready")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, employeeID string) (*directory.Employee, error) {
	var e directory.Employee
	err := s.db.QueryRowContext(ctx,
		`SELECT employee_id, name, department, password_hash, admin, created_at, updated_at
		 FROM employees WHERE employee_id = $1`, employeeID,
	).Scan(&e.EmployeeID, &e.Name, &e.Department, &e.PasswordHash, &e.Admin, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query employee %s: %w", employeeID, err)
	}
	return &e, nil
}

func (s *PostgresStore) Create(ctx context.Context, e *directory.Employee) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO employees (employee_id, name, department, password_hash, admin, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.EmployeeID, e.Name, e.Department, e.PasswordHash, e.Admin, e.CreatedAt, e.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return directory.ErrExists
	}
	if err != nil {
		return fmt.Errorf("insert employee %s: %w", e.EmployeeID, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*directory.Employee, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT employee_id, name, department, password_hash, admin, created_at, updated_at
		 FROM employees ORDER BY employee_id`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []*directory.Employee
	for rows.Next() {
		var e directory.Employee
		if err := rows.Scan(&e.EmployeeID, &e.Name, &e.Department, &e.PasswordHash, &e.Admin, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
