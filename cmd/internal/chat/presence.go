package chat

import (
	"log/slog"
	"os"
	"sync"
)

// Presence is the session-presence registry: a concurrency-safe mapping from
// username to the live connection handle, at most one entry per username.
//
// Concurrency guarantees:
// - Register/Lookup/UnregisterByHandle are safe from concurrent connection tasks.
// - Entries are swapped atomically per key; a reader never observes a partial write.
// - A reverse handle index keeps UnregisterByHandle O(1) instead of a map scan.
type Presence struct {
	log *slog.Logger

	mu       sync.RWMutex
	byUser   map[string]*Client
	byHandle map[*Client]string
}

// NewPresence constructs an empty registry. A nil logger falls back to a
// JSON logger, matching NewRouter/NewWSGateway.
func NewPresence(log *slog.Logger) *Presence {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Presence{
		log:      log,
		byUser:   make(map[string]*Client),
		byHandle: make(map[*Client]string),
	}
}

// Register binds username to client, replacing any prior entry for that
// username (last-writer-wins). It never fails. The replaced handle is
// orphaned: the registry forgets it, but its socket is not closed or
// notified here; the gateway owns that lifecycle.
func (p *Presence) Register(username string, client *Client) {
	if p == nil || username == "" || client == nil {
		return
	}

	p.mu.Lock()
	if old, ok := p.byUser[username]; ok && old != client {
		delete(p.byHandle, old)
	}
	// Re-login on the same connection under a new name must drop the old name.
	if prev, ok := p.byHandle[client]; ok && prev != username {
		delete(p.byUser, prev)
	}
	p.byUser[username] = client
	p.byHandle[client] = username
	p.mu.Unlock()

	p.log.Info("presence.register", "username", username, "session_id", client.SessionID)
}

// Lookup returns the current handle for username, if online. Never blocks on I/O.
func (p *Presence) Lookup(username string) (*Client, bool) {
	if p == nil || username == "" {
		return nil, false
	}

	p.mu.RLock()
	c, ok := p.byUser[username]
	p.mu.RUnlock()
	return c, ok
}

// UnregisterByHandle removes the entry currently bound to client, if any.
// Idempotent: duplicate disconnect signals are safe. A handle that was
// superseded by a newer Register for the same username is no longer tracked,
// so unregistering it is a no-op and never evicts the newer session.
//
// It returns the username that was removed, or "" if nothing changed.
func (p *Presence) UnregisterByHandle(client *Client) string {
	if p == nil || client == nil {
		return ""
	}

	p.mu.Lock()
	username, ok := p.byHandle[client]
	if ok {
		delete(p.byHandle, client)
		// Guard against the reverse index pointing at a stale entry.
		if cur := p.byUser[username]; cur == client {
			delete(p.byUser, username)
		}
	}
	p.mu.Unlock()

	if ok {
		p.log.Info("presence.unregister", "username", username, "session_id", client.SessionID)
	}
	return username
}

// Online returns the number of registered usernames.
func (p *Presence) Online() int {
	if p == nil {
		return 0
	}
	p.mu.RLock()
	n := len(p.byUser)
	p.mu.RUnlock()
	return n
}
