package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStore_AppendAssignsMonotonicIDs(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		rec, err := s.Append(ctx, AppendInput{
			Sender:   "alice",
			Receiver: "bob",
			Message:  fmt.Sprintf("m%d", i),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if rec.ID <= last {
			t.Fatalf("id not strictly increasing: got=%d last=%d", rec.ID, last)
		}
		if rec.Timestamp.IsZero() {
			t.Fatalf("expected store-assigned timestamp")
		}
		last = rec.ID
	}
}

func TestMemoryStore_AppendRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	cases := []AppendInput{
		{Sender: "alice", Receiver: "bob"},                                   // neither
		{Sender: "alice", Receiver: "bob", Message: "hi", Image: "data:..."}, // both
		{Sender: "", Receiver: "bob", Message: "hi"},                         // missing sender
		{Sender: "alice", Receiver: "", Message: "hi"},                       // missing receiver
	}

	for i, in := range cases {
		if _, err := s.Append(ctx, in); !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("case %d: expected ErrInvalidRecord, got %v", i, err)
		}
	}

	recs, err := s.Conversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("rejected appends must not be visible, got %d records", len(recs))
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	want, err := s.Append(ctx, AppendInput{Sender: "alice", Receiver: "bob", Message: "hi"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	recs, err := s.Conversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(recs) == 0 {
		t.Fatalf("expected at least one record")
	}
	got := recs[len(recs)-1]
	if got.Sender != want.Sender || got.Receiver != want.Receiver || got.Message != want.Message {
		t.Fatalf("round-trip mismatch: got=%+v want=%+v", got, want)
	}
}

func TestMemoryStore_ConversationMatchesEitherDirection(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	bodies := []struct{ sender, receiver, text string }{
		{"alice", "bob", "one"},
		{"bob", "alice", "two"},
		{"alice", "bob", "three"},
		{"alice", "carol", "unrelated"},
	}
	for _, b := range bodies {
		if _, err := s.Append(ctx, AppendInput{Sender: b.sender, Receiver: b.receiver, Message: b.text}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := s.Conversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	wantTexts := []string{"one", "two", "three"}
	for i, r := range recs {
		if r.Message != wantTexts[i] {
			t.Fatalf("order mismatch at %d: got=%q want=%q", i, r.Message, wantTexts[i])
		}
		if i > 0 && recs[i].ID <= recs[i-1].ID {
			t.Fatalf("ids not ascending: %d then %d", recs[i-1].ID, recs[i].ID)
		}
	}

	// The pair is unordered: querying the other way yields the same sequence.
	rev, err := s.Conversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("conversation reversed: %v", err)
	}
	if len(rev) != len(recs) {
		t.Fatalf("reversed query length mismatch: %d vs %d", len(rev), len(recs))
	}
	for i := range rev {
		if rev[i].ID != recs[i].ID {
			t.Fatalf("reversed query order mismatch at %d", i)
		}
	}
}

func TestMemoryStore_ConcurrentAppendsUniqueIDs(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 100

	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.Append(ctx, AppendInput{
				Sender:   "alice",
				Receiver: "bob",
				Message:  fmt.Sprintf("m%d", i),
			})
			if err != nil {
				t.Errorf("append: %v", err)
				return
			}
			ids <- rec.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, n)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id assigned: %d", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != n {
		t.Fatalf("expected %d unique ids, got %d", n, len(seen))
	}
}

func TestMemoryStore_OldRecordsSurviveHighVolume(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Append(ctx, AppendInput{Sender: "alice", Receiver: "bob", Message: "keep me"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	// Flood the store with unrelated traffic; the first record must stay
	// queryable no matter how large the log grows.
	for i := 0; i < 120_000; i++ {
		if _, err := s.Append(ctx, AppendInput{Sender: "carol", Receiver: "dave", Message: "noise"}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recs, err := s.Conversation(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != first.ID || recs[0].Message != "keep me" {
		t.Fatalf("appended record no longer queryable: %+v", recs)
	}
}

func TestMemoryStore_ImageBody(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Append(ctx, AppendInput{Sender: "alice", Receiver: "bob", Image: "data:image/png;base64,AAAA"})
	if err != nil {
		t.Fatalf("append image: %v", err)
	}
	if rec.Message != "" || rec.Image == "" {
		t.Fatalf("expected image-only record, got %+v", rec)
	}
}
