package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const defaultPostgresTable = "oauth_flow_sessions"

// PostgresOptions configures a PostgresStore.
type PostgresOptions struct {
	DSN    string
	Schema string
	Table  string
}

// PostgresStore keeps sessions in a PostgreSQL table. Expired rows are filtered on
// read and removed by PurgeExpired.
type PostgresStore struct {
	db   *sql.DB
	opts PostgresOptions
	now  func() time.Time
}

// NewPostgresStore opens the database, checks the connection and creates the table.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	opts.DSN = strings.TrimSpace(opts.DSN)
	if opts.DSN == "" {
		return nil, fmt.Errorf("postgres session store: DSN is required")
	}
	if strings.TrimSpace(opts.Table) == "" {
		opts.Table = defaultPostgresTable
	}

	db, err := sql.Open("pgx", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres session store: open database connection: %w", err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres session store: ping database: %w", err)
	}

	store := &PostgresStore{db: db, opts: opts, now: time.Now}
	if err = store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the session table (and schema when provided).
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if schema := strings.TrimSpace(p.opts.Schema); schema != "" {
		query := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdentifier(schema))
		if _, err := p.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("postgres session store: create schema: %w", err)
		}
	}
	table := p.fullTableName()
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)
	`, table)); err != nil {
		return fmt.Errorf("postgres session store: create session table: %w", err)
	}
	index := quoteIdentifier(p.opts.Table + "_expires_at_idx")
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (expires_at)", index, table)); err != nil {
		return fmt.Errorf("postgres session store: create expiry index: %w", err)
	}
	return nil
}

func (p *PostgresStore) Save(ctx context.Context, s *FlowSession) error {
	if normalizeID(s.ID) == "" {
		return ErrMissingID
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("postgres session store: encode session: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id)
		DO UPDATE SET content = EXCLUDED.content, expires_at = EXCLUDED.expires_at
	`, p.fullTableName())
	if _, err = p.db.ExecContext(ctx, query, normalizeID(s.ID), data, s.CreatedAt.UTC(), s.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("postgres session store: save session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*FlowSession, error) {
	query := fmt.Sprintf("SELECT content FROM %s WHERE id = $1 AND expires_at > $2", p.fullTableName())
	var data []byte
	err := p.db.QueryRowContext(ctx, query, normalizeID(id), p.now().UTC()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres session store: load session: %w", err)
	}
	var s FlowSession
	if err = json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("postgres session store: decode session: %w", err)
	}
	return &s, nil
}

// Take deletes the row and returns its content in a single statement.
func (p *PostgresStore) Take(ctx context.Context, id string) (*FlowSession, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1 RETURNING content, expires_at", p.fullTableName())
	var (
		data      []byte
		expiresAt time.Time
	)
	err := p.db.QueryRowContext(ctx, query, normalizeID(id)).Scan(&data, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres session store: take session: %w", err)
	}
	if !expiresAt.After(p.now()) {
		return nil, ErrNotFound
	}
	var s FlowSession
	if err = json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("postgres session store: decode session: %w", err)
	}
	return &s, nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", p.fullTableName())
	if _, err := p.db.ExecContext(ctx, query, normalizeID(id)); err != nil {
		return fmt.Errorf("postgres session store: delete session: %w", err)
	}
	return nil
}

func (p *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at <= $1", p.fullTableName())
	res, err := p.db.ExecContext(ctx, query, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("postgres session store: purge expired sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// Close releases the underlying database connection.
func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresStore) fullTableName() string {
	if strings.TrimSpace(p.opts.Schema) == "" {
		return quoteIdentifier(p.opts.Table)
	}
	return quoteIdentifier(p.opts.Schema) + "." + quoteIdentifier(p.opts.Table)
}

func quoteIdentifier(identifier string) string {
	replaced := strings.ReplaceAll(identifier, "\"", "\"\"")
	return "\"" + replaced + "\""
}
