package chat

import (
	"context"
	"errors"
	"time"
)

// MessageRecord is the canonical persisted message representation.
// Immutable once written; exactly one of Message/Image is non-empty.
type MessageRecord struct {
	ID        int64
	Sender    string
	Receiver  string
	Message   string
	Image     string
	Timestamp time.Time
}

// ErrInvalidRecord is returned by Append when the input violates the
// exactly-one-of text/image invariant or misses sender/receiver.
var ErrInvalidRecord = errors.New("chat: invalid message record")

// HistoryStore persists and queries the append-only message log.
//
// Requirements:
//   - Append is atomic: a record is either fully visible to subsequent
//     queries or not visible at all.
//   - Assigned ids are strictly increasing; two concurrent appends never
//     receive the same id.
//   - Conversation returns both directions of the pair, ordered by id ASC.
type HistoryStore interface {
	Append(ctx context.Context, in AppendInput) (MessageRecord, error)
	Conversation(ctx context.Context, userA, userB string) ([]MessageRecord, error)
	Close() error
}

// AppendInput describes a message append request.
// Exactly one of Message/Image must be non-empty.
type AppendInput struct {
	Sender   string
	Receiver string
	Message  string
	Image    string
	Now      time.Time
}

func (in AppendInput) validate() error {
	if in.Sender == "" || in.Receiver == "" {
		return ErrInvalidRecord
	}
	if (in.Message == "") == (in.Image == "") {
		return ErrInvalidRecord
	}
	return nil
}
