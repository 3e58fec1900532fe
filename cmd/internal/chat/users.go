package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// UserDirectory records coarse per-user presence facts (online flag,
// last seen) for consumers outside the live registry, e.g. contact lists.
//
// It is strictly best-effort: the router never fails a login or disconnect
// because the directory write failed.
type UserDirectory interface {
	// MarkOnline upserts the user row and flags it online.
	MarkOnline(ctx context.Context, username string, now time.Time) error
	// MarkOffline clears the online flag and stamps last_seen.
	MarkOffline(ctx context.Context, username string, now time.Time) error
}

// PostgresUserDirectory maintains relay.users.
type PostgresUserDirectory struct {
	pool   *pgxpool.Pool
	schema string
}

// DirectoryOption configures PostgresUserDirectory behavior.
type DirectoryOption func(*PostgresUserDirectory) error

// WithDirectorySchema sets the DB schema used by the directory (default: "relay").
func WithDirectorySchema(schema string) DirectoryOption {
	return func(d *PostgresUserDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresUserDirectory constructs a directory backed by PostgreSQL.
func NewPostgresUserDirectory(pool *pgxpool.Pool, opts ...DirectoryOption) (*PostgresUserDirectory, error) {
	d := &PostgresUserDirectory{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return d, nil
}

// MarkOnline flags username online and stamps last_seen.
func (d *PostgresUserDirectory) MarkOnline(ctx context.Context, username string, now time.Time) error {
	return d.setOnline(ctx, username, now, true)
}

// MarkOffline clears the online flag and stamps last_seen.
func (d *PostgresUserDirectory) MarkOffline(ctx context.Context, username string, now time.Time) error {
	return d.setOnline(ctx, username, now, false)
}

func (d *PostgresUserDirectory) setOnline(ctx context.Context, username string, now time.Time, online bool) error {
	if d == nil || d.pool == nil {
		return errors.New("chat: nil user directory")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	users := pgIdent(d.schema, "users")

	_, err := d.pool.Exec(ctx,
		`INSERT INTO `+users+` (username, online, last_seen)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username) DO UPDATE
		    SET online = EXCLUDED.online,
		        last_seen = EXCLUDED.last_seen`,
		username, online, now,
	)
	return err
}
