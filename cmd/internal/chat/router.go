package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	v1 "relay/shared/contracts/chat/v1"
)

// ErrValidation marks inputs rejected before touching the store or the
// registry. The failure is reported to the originating connection only.
var ErrValidation = errors.New("chat: validation failed")

// Router is the protocol state machine tying inbound client events to
// persistence and outbound fan-out.
//
// It is stateless across events: everything it knows lives in the Presence
// registry and the HistoryStore. Per-event flow is strictly
// validate -> persist -> fan-out; delivery is never attempted when
// persistence failed, and the two fan-out legs (receiver, sender echo) are
// independent best-effort once persistence succeeded.
type Router struct {
	log      *slog.Logger
	presence *Presence
	store    HistoryStore
	users    UserDirectory
}

// NewRouter constructs a Router. When presence/store are nil, it falls back
// to fresh in-memory implementations for dev. users may be nil (no
// directory in memory mode).
func NewRouter(log *slog.Logger, presence *Presence, store HistoryStore, users UserDirectory) *Router {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if presence == nil {
		presence = NewPresence(log)
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Router{log: log, presence: presence, store: store, users: users}
}

// Presence exposes the registry (used by readiness/smoke introspection).
func (r *Router) Presence() *Presence { return r.presence }

// HandleLogin binds the username to the calling connection and replies
// login_success to the caller only. A second login for the same username
// replaces the prior handle silently (last-writer-wins).
func (r *Router) HandleLogin(ctx context.Context, conn *Client, p v1.LoginPayload) error {
	username := strings.TrimSpace(p.Username)
	if username == "" {
		return fmt.Errorf("%w: missing username", ErrValidation)
	}
	if len([]rune(username)) > maxUsernameChars {
		return fmt.Errorf("%w: username too long: max=%d chars", ErrValidation, maxUsernameChars)
	}

	r.presence.Register(username, conn)
	r.touchDirectory(ctx, username, true)

	payload, _ := json.Marshal(v1.LoginSuccessPayload{Username: username})
	if !r.enqueue(ctx, conn, newEnvelope(v1.TypeLoginSuccess, payload, time.Now().UTC())) {
		return errors.New("backpressure: login ack")
	}
	return nil
}

// HandleDisconnect removes the registry entry bound to conn, if any.
// Idempotent: duplicate disconnect signals and never-registered handles
// are no-ops.
func (r *Router) HandleDisconnect(ctx context.Context, conn *Client) {
	username := r.presence.UnregisterByHandle(conn)
	if username != "" {
		r.touchDirectory(ctx, username, false)
	}
}

// HandleMessage persists a private_message or image event and fans it out
// to the receiver (if online) and back to the sender (echo). eventType must
// be v1.TypeMessage or v1.TypeImage.
func (r *Router) HandleMessage(ctx context.Context, conn *Client, eventType string, p v1.MessagePayload) error {
	sender := strings.TrimSpace(p.Sender)
	receiver := strings.TrimSpace(p.Receiver)
	if sender == "" || receiver == "" {
		return fmt.Errorf("%w: missing sender or receiver", ErrValidation)
	}

	in := AppendInput{Sender: sender, Receiver: receiver, Now: time.Now().UTC()}

	switch eventType {
	case v1.TypeMessage:
		text := strings.TrimSpace(p.Message)
		if text == "" || p.Image != "" {
			return fmt.Errorf("%w: private_message requires a non-empty message body", ErrValidation)
		}
		if len([]rune(text)) > maxMessageChars {
			return fmt.Errorf("%w: message too long: max=%d chars", ErrValidation, maxMessageChars)
		}
		in.Message = text
	case v1.TypeImage:
		if p.Image == "" || p.Message != "" {
			return fmt.Errorf("%w: image requires a non-empty image body", ErrValidation)
		}
		in.Image = p.Image
	default:
		return fmt.Errorf("%w: unsupported message event: %s", ErrValidation, eventType)
	}

	// Persistence fully completes before any delivery attempt. A failed
	// append surfaces to the caller and nothing is delivered.
	rec, err := r.store.Append(ctx, in)
	if err != nil {
		metricStoreErrors.Inc()
		return fmt.Errorf("store append: %w", err)
	}
	metricMessagesPersisted.Inc()

	r.log.Info("router.message.persisted",
		"event", eventType, "id", rec.ID, "sender", sender, "receiver", receiver)

	// Outbound payload echoes the inbound one unchanged.
	payload, _ := json.Marshal(v1.MessagePayload{
		Sender:   sender,
		Receiver: receiver,
		Message:  in.Message,
		Image:    in.Image,
	})
	env := newEnvelope(eventType, payload, rec.Timestamp)

	r.deliver(receiver, env)
	if sender != receiver {
		// Echo so the sender renders its own message via the inbound path.
		r.deliver(sender, env)
	}
	return nil
}

// HandleTyping forwards a transient typing signal to the receiver only.
// Not persisted, never echoed to the sender.
func (r *Router) HandleTyping(ctx context.Context, conn *Client, p v1.TypingPayload) error {
	receiver := strings.TrimSpace(p.Receiver)
	if receiver == "" {
		return fmt.Errorf("%w: missing receiver", ErrValidation)
	}

	payload, _ := json.Marshal(v1.TypingPayload{
		Sender:   strings.TrimSpace(p.Sender),
		Receiver: receiver,
	})
	r.deliver(receiver, newEnvelope(v1.TypeTyping, payload, time.Now().UTC()))
	return nil
}

// HandleLoadMessages replies old_messages to the caller with the full
// conversation between me and other, ascending by id. A store read failure
// surfaces as an error; a partial list is never sent.
func (r *Router) HandleLoadMessages(ctx context.Context, conn *Client, p v1.LoadMessagesPayload) error {
	me := strings.TrimSpace(p.Me)
	other := strings.TrimSpace(p.Other)
	if me == "" || other == "" {
		return fmt.Errorf("%w: missing me or other", ErrValidation)
	}

	recs, err := r.store.Conversation(ctx, me, other)
	if err != nil {
		metricStoreErrors.Inc()
		return fmt.Errorf("store query: %w", err)
	}

	msgs := make([]v1.HistoryMessage, 0, len(recs))
	for _, m := range recs {
		msgs = append(msgs, v1.HistoryMessage{
			Sender:   m.Sender,
			Receiver: m.Receiver,
			Message:  m.Message,
			Image:    m.Image,
		})
	}

	payload, _ := json.Marshal(v1.OldMessagesPayload{Messages: msgs})
	if !r.enqueue(ctx, conn, newEnvelope(v1.TypeOldMessages, payload, time.Now().UTC())) {
		return errors.New("backpressure: old_messages")
	}
	return nil
}

// ---- delivery ----

// deliver sends env to username's live handle if one exists.
// An offline target is not an error. A handle that is already shutting down
// or whose send queue is full is treated as dead: the envelope is not
// delivered and the handle is scheduled for the same cleanup as an explicit
// disconnect. Delivery never blocks the event loop.
func (r *Router) deliver(username string, env v1.Envelope) {
	target, ok := r.presence.Lookup(username)
	if !ok {
		metricDeliveries.WithLabelValues(deliveryOffline).Inc()
		return
	}

	select {
	case <-target.Done():
		metricDeliveries.WithLabelValues(deliveryOffline).Inc()
		go r.HandleDisconnect(context.Background(), target)
		return
	default:
	}

	select {
	case target.Send <- env:
		metricDeliveries.WithLabelValues(deliveryDelivered).Inc()
	default:
		// A full queue means the writer goroutine stopped draining: the
		// connection is dead or wedged. Drop the envelope and schedule the
		// same cleanup as an explicit disconnect.
		metricDeliveries.WithLabelValues(deliveryDropped).Inc()
		r.log.Info("router.deliver.drop", "username", username, "type", env.Type, "session_id", target.SessionID)
		go r.HandleDisconnect(context.Background(), target)
	}
}

// enqueue queues a reply to the originating connection without blocking.
func (r *Router) enqueue(ctx context.Context, conn *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-conn.Done():
		return false
	case conn.Send <- env:
		return true
	default:
		return false
	}
}

// touchDirectory is best-effort: directory failures are logged, never fatal.
func (r *Router) touchDirectory(ctx context.Context, username string, online bool) {
	if r.users == nil {
		return
	}
	var err error
	now := time.Now().UTC()
	if online {
		err = r.users.MarkOnline(ctx, username, now)
	} else {
		err = r.users.MarkOffline(ctx, username, now)
	}
	if err != nil {
		r.log.Info("router.directory.fail", "username", username, "online", online, "err", err)
	}
}

// newEnvelope wraps a payload in the canonical wire envelope.
func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}
