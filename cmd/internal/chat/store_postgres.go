// Package chat contains Relay's presence registry, message router, and
// message persistence primitives.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a HistoryStore backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
// - id assignment is serialized by the messages table's bigserial sequence,
//   so two concurrent appends never receive the same id and ids are
//   strictly increasing in commit order.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "relay").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed HistoryStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "relay",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Append durably persists one record and returns it with the assigned id
// and timestamp. The insert is a single statement: the record is either
// fully visible to subsequent queries or not at all.
func (s *PostgresStore) Append(ctx context.Context, in AppendInput) (MessageRecord, error) {
	if s == nil || s.pool == nil {
		return MessageRecord{}, errors.New("chat: nil store")
	}
	if err := in.validate(); err != nil {
		return MessageRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return MessageRecord{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	messages := pgIdent(s.schema, "messages")

	rec := MessageRecord{
		Sender:   in.Sender,
		Receiver: in.Receiver,
		Message:  in.Message,
		Image:    in.Image,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+messages+` (sender, receiver, message, image, ts)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5)
		 RETURNING id, ts`,
		in.Sender, in.Receiver, in.Message, in.Image, now,
	).Scan(&rec.ID, &rec.Timestamp)
	if err != nil {
		return MessageRecord{}, fmt.Errorf("insert message: %w", err)
	}

	return rec, nil
}

// Conversation returns all records for the unordered pair {userA,userB},
// ordered by id ASC.
func (s *PostgresStore) Conversation(ctx context.Context, userA, userB string) ([]MessageRecord, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("chat: nil store")
	}
	if userA == "" || userB == "" {
		return nil, ErrInvalidRecord
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender, receiver, COALESCE(message, ''), COALESCE(image, ''), ts
		   FROM `+messages+`
		  WHERE (sender = $1 AND receiver = $2)
		     OR (sender = $2 AND receiver = $1)
		  ORDER BY id ASC`,
		userA, userB,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]MessageRecord, 0, 64)
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Message, &m.Image, &m.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
