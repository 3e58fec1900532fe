package chat

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when RELAY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_AppendAndConversation(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	alice := "alice-" + NewRandomHex(4)
	bob := "bob-" + NewRandomHex(4)

	first, err := store.Append(ctx, AppendInput{Sender: alice, Receiver: bob, Message: "hi"})
	if err != nil {
		t.Fatalf("append first: %v", err)
	}
	if first.ID <= 0 {
		t.Fatalf("append first: expected positive id, got %d", first.ID)
	}
	if first.Timestamp.IsZero() {
		t.Fatalf("append first: expected store-assigned timestamp")
	}

	second, err := store.Append(ctx, AppendInput{Sender: bob, Receiver: alice, Message: "hello"})
	if err != nil {
		t.Fatalf("append second: %v", err)
	}
	if second.ID <= first.ID {
		t.Fatalf("ids not strictly increasing: %d then %d", first.ID, second.ID)
	}

	img, err := store.Append(ctx, AppendInput{Sender: alice, Receiver: bob, Image: "data:image/png;base64,AAAA"})
	if err != nil {
		t.Fatalf("append image: %v", err)
	}

	recs, err := store.Conversation(ctx, bob, alice)
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].ID != first.ID || recs[1].ID != second.ID || recs[2].ID != img.ID {
		t.Fatalf("order mismatch: %d,%d,%d", recs[0].ID, recs[1].ID, recs[2].ID)
	}
	if recs[2].Image == "" || recs[2].Message != "" {
		t.Fatalf("image record mismatch: %+v", recs[2])
	}
}

func TestPostgresStore_ConcurrentAppendsUniqueIncreasingIDs(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	alice := "alice-" + NewRandomHex(4)
	bob := "bob-" + NewRandomHex(4)

	const n = 24

	ids := make(chan int64, n)
	errCh := make(chan error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.Append(ctx, AppendInput{
				Sender: alice, Receiver: bob, Message: fmt.Sprintf("m%d", i),
			})
			if err != nil {
				errCh <- err
				return
			}
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(ids)
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent append error: %v", err)
	}

	seen := make(map[int64]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id: %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestPostgresUserDirectory_OnlineOffline(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	dir, err := NewPostgresUserDirectory(pool, WithDirectorySchema(schema))
	if err != nil {
		t.Fatalf("new user directory: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user := "carol-" + NewRandomHex(4)
	now := time.Now().UTC()

	if err := dir.MarkOnline(ctx, user, now); err != nil {
		t.Fatalf("mark online: %v", err)
	}
	if online := mustReadOnline(t, pool, schema, user); !online {
		t.Fatalf("expected online=true")
	}

	if err := dir.MarkOffline(ctx, user, now.Add(time.Second)); err != nil {
		t.Fatalf("mark offline: %v", err)
	}
	if online := mustReadOnline(t, pool, schema, user); online {
		t.Fatalf("expected online=false")
	}
}

// ---- test helpers ----

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RELAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RELAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse RELAY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "relay_it_" + strings.ToLower(NewRandomHex(8))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	messages := pgIdent(schema, "messages")
	users := pgIdent(schema, "users")

	// Minimal schema required by PostgresStore and PostgresUserDirectory.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id       BIGSERIAL PRIMARY KEY,
  sender   TEXT NOT NULL,
  receiver TEXT NOT NULL,
  message  TEXT,
  image    TEXT,
  ts       TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_messages_one_body CHECK (
    (message IS NOT NULL AND image IS NULL) OR
    (message IS NULL AND image IS NOT NULL)
  )
);

CREATE INDEX IF NOT EXISTS idx_messages_pair
  ON %s (sender, receiver, id);

CREATE TABLE IF NOT EXISTS %s (
  username  TEXT PRIMARY KEY,
  online    BOOLEAN NOT NULL DEFAULT false,
  last_seen TIMESTAMPTZ
);
`, messages, messages, users)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustReadOnline(t *testing.T, pool *pgxpool.Pool, schema, username string) bool {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var online bool
	if err := pool.QueryRow(ctx,
		`SELECT online FROM `+pgIdent(schema, "users")+` WHERE username = $1`,
		username,
	).Scan(&online); err != nil {
		t.Fatalf("read online flag: %v", err)
	}
	return online
}
