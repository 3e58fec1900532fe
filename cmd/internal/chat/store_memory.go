package chat

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a dev/test fallback when DB is not configured.
// It allocates ids from a single guarded counter and keeps the log in
// insertion order, so id order == chronological order. The log is
// append-only: a successfully appended record stays queryable for the
// lifetime of the store.
type MemoryStore struct {
	mu   sync.Mutex
	seq  int64
	msgs []MessageRecord
}

// NewMemoryStore constructs an in-memory HistoryStore implementation.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		msgs: make([]MessageRecord, 0, 256),
	}
}

// Close closes the store (noop for in-memory).
func (s *MemoryStore) Close() error { return nil }

// Append persists a message and returns it with a store-assigned id.
func (s *MemoryStore) Append(ctx context.Context, in AppendInput) (MessageRecord, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	rec := MessageRecord{
		ID:        s.seq,
		Sender:    in.Sender,
		Receiver:  in.Receiver,
		Message:   in.Message,
		Image:     in.Image,
		Timestamp: now,
	}
	s.msgs = append(s.msgs, rec)

	return rec, nil
}

// Conversation returns all records between userA and userB, either
// direction, ordered by id ASC.
func (s *MemoryStore) Conversation(ctx context.Context, userA, userB string) ([]MessageRecord, error) {
	if userA == "" || userB == "" {
		return nil, ErrInvalidRecord
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]MessageRecord, 0, 32)
	for _, m := range s.msgs {
		if (m.Sender == userA && m.Receiver == userB) ||
			(m.Sender == userB && m.Receiver == userA) {
			out = append(out, m)
		}
	}
	return out, nil
}
