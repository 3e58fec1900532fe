package chat

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPresence_NilLoggerDefaults(t *testing.T) {
	t.Parallel()

	p := NewPresence(nil)
	c := NewClient("s1", 8)

	p.Register("alice", c)
	if got, ok := p.Lookup("alice"); !ok || got != c {
		t.Fatalf("register with defaulted logger failed")
	}
	if u := p.UnregisterByHandle(c); u != "alice" {
		t.Fatalf("unregister: got %q", u)
	}
}

func TestPresence_RegisterLookupUnregister(t *testing.T) {
	t.Parallel()

	p := NewPresence(testLogger())
	c := NewClient("s1", 8)

	if _, ok := p.Lookup("alice"); ok {
		t.Fatalf("lookup before register: expected absent")
	}

	p.Register("alice", c)

	got, ok := p.Lookup("alice")
	if !ok || got != c {
		t.Fatalf("lookup after register: got=%v ok=%v", got, ok)
	}

	if u := p.UnregisterByHandle(c); u != "alice" {
		t.Fatalf("unregister: got username=%q want alice", u)
	}
	if _, ok := p.Lookup("alice"); ok {
		t.Fatalf("lookup after unregister: expected absent")
	}
}

func TestPresence_UnregisterIsIdempotent(t *testing.T) {
	t.Parallel()

	p := NewPresence(testLogger())
	c := NewClient("s1", 8)

	p.Register("alice", c)

	if u := p.UnregisterByHandle(c); u != "alice" {
		t.Fatalf("first unregister: got %q", u)
	}
	if u := p.UnregisterByHandle(c); u != "" {
		t.Fatalf("second unregister: expected no-op, got %q", u)
	}
}

func TestPresence_UnregisterUnknownHandleIsNoop(t *testing.T) {
	t.Parallel()

	p := NewPresence(testLogger())
	never := NewClient("ghost", 8)

	if u := p.UnregisterByHandle(never); u != "" {
		t.Fatalf("expected no-op for never-registered handle, got %q", u)
	}
	if n := p.Online(); n != 0 {
		t.Fatalf("expected 0 online, got %d", n)
	}
}

func TestPresence_ReplaceOnDuplicateLogin(t *testing.T) {
	t.Parallel()

	p := NewPresence(testLogger())
	c1 := NewClient("s1", 8)
	c2 := NewClient("s2", 8)

	p.Register("alice", c1)
	p.Register("alice", c2)

	got, ok := p.Lookup("alice")
	if !ok || got != c2 {
		t.Fatalf("expected lookup to return the newer handle")
	}

	// The replaced handle was orphaned, not notified.
	select {
	case env := <-c1.Send:
		t.Fatalf("old handle unexpectedly received %q", env.Type)
	default:
	}

	// Unregistering the stale handle must not evict the newer session.
	if u := p.UnregisterByHandle(c1); u != "" {
		t.Fatalf("stale unregister: expected no-op, got %q", u)
	}
	if got, ok := p.Lookup("alice"); !ok || got != c2 {
		t.Fatalf("newer session lost after stale unregister")
	}
}

func TestPresence_RenameOnSameConnection(t *testing.T) {
	t.Parallel()

	p := NewPresence(testLogger())
	c := NewClient("s1", 8)

	p.Register("alice", c)
	p.Register("alicia", c)

	if _, ok := p.Lookup("alice"); ok {
		t.Fatalf("old username should be dropped after re-login under a new name")
	}
	if got, ok := p.Lookup("alicia"); !ok || got != c {
		t.Fatalf("new username not registered")
	}
	if u := p.UnregisterByHandle(c); u != "alicia" {
		t.Fatalf("unregister: got %q want alicia", u)
	}
}

func TestPresence_ConcurrentRegisterLookup(t *testing.T) {
	t.Parallel()

	p := NewPresence(testLogger())

	const workers = 16
	const rounds = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := fmt.Sprintf("user-%d", w%4)
			for i := 0; i < rounds; i++ {
				c := NewClient(fmt.Sprintf("s-%d-%d", w, i), 1)
				p.Register(user, c)
				if got, ok := p.Lookup(user); ok && got == nil {
					t.Errorf("lookup observed a partially written entry")
					return
				}
				p.UnregisterByHandle(c)
			}
		}()
	}
	wg.Wait()
}
