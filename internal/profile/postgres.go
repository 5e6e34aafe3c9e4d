package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver

	"github.com/lukaszraczylo/sessionbridge/internal/token"
)

const (
	candidateNameQuery = `SELECT first_name, last_name FROM candidates WHERE email = $1 LIMIT 1`
	companyNameQuery   = `SELECT full_name, '' FROM company_users WHERE email = $1 LIMIT 1`
)

// PoolConfig tunes the database/sql pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type rowScanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
}

type sqlQueryer struct {
	db *sql.DB
}

func (q sqlQueryer) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return q.db.QueryRowContext(ctx, query, args...)
}

// PostgresDirectory reads names from the candidates and company_users tables.
type PostgresDirectory struct {
	db *sql.DB
	q  queryer
}

var _ Directory = (*PostgresDirectory)(nil)

// OpenPostgres connects to databaseURL through the pgx driver and verifies
// the connection with a ping.
func OpenPostgres(ctx context.Context, databaseURL string, pool PoolConfig) (*PostgresDirectory, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres: connection source is empty")
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open connection: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	return &PostgresDirectory{db: db, q: sqlQueryer{db: db}}, nil
}

// DisplayName looks the identity up by email in its role's profile table.
// Missing rows fall back to FallbackName.
func (p *PostgresDirectory) DisplayName(ctx context.Context, identity token.Identity) (string, error) {
	var query string
	switch identity.Role {
	case token.RoleCandidate:
		query = candidateNameQuery
	case token.RoleCompanyUser:
		query = companyNameQuery
	default:
		return FallbackName(identity), nil
	}
	if identity.Email == "" || identity.Bypass {
		return FallbackName(identity), nil
	}

	var first, last sql.NullString
	err := p.q.QueryRowContext(ctx, query, identity.Email).Scan(&first, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return FallbackName(identity), nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres: profile lookup failed: %w", err)
	}

	name := strings.TrimSpace(first.String + " " + last.String)
	if name == "" {
		return FallbackName(identity), nil
	}
	return name, nil
}

// Ping verifies the connection is alive.
func (p *PostgresDirectory) Ping(ctx context.Context) error {
	if p.db == nil {
		return nil
	}
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping failed: %w", err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresDirectory) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
