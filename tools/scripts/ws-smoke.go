// Package main provides a CI-friendly WebSocket smoke test for the relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - login -> login_success
//   - private_message fanout to the receiver + echo to the sender
//   - typing indicator delivered receiver-only
//   - load_messages -> old_messages containing the sent message
//   - re-login takeover: a second connection under the same username
//     receives subsequent fan-out, the superseded one does not
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "relay/shared/contracts/chat/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "relay.chat.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name     string
	username string
	conn     *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello relay 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	// Fresh usernames per run so history assertions are deterministic
	// against a shared database.
	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	alice := "smoke-a-" + suffix
	bob := "smoke-b-" + suffix

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	mustLogin(root, a, alice, *timeout)
	mustLogin(root, b, bob, *timeout)

	if *verbose {
		fmt.Printf("logged in: A=%s B=%s origin=%q\n", alice, bob, *origin)
	}

	mustSendText(root, a, alice, bob, *text, *timeout)

	mustAssertMessage(root, b, alice, bob, *text, *timeout)
	mustAssertMessage(root, a, alice, bob, *text, *timeout)

	mustSendTyping(root, a, alice, bob, *timeout)
	mustAssertTyping(root, b, alice, *timeout)
	mustAssertNoType(root, a, v1.TypeTyping, 1200*time.Millisecond)

	mustHistoryContains(root, b, bob, alice, *text, *timeout)

	// Takeover: a2 logs in under A's username; fan-out must follow the
	// newest connection and never the superseded one.
	a2 := mustConnect(root, "A2", *wsURL, *origin, *timeout)
	defer closeWS(a2.conn)
	mustLogin(root, a2, alice, *timeout)

	mustSendText(root, b, bob, alice, "takeover ping", *timeout)
	mustAssertMessage(root, a2, bob, alice, "takeover ping", *timeout)
	mustAssertNoType(root, a, v1.TypeMessage, 1200*time.Millisecond)

	fmt.Printf("OK: A=%s B=%s\n", alice, bob)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustLogin(parent context.Context, c *smokeClient, username string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:       v1.Version,
		Type:    v1.TypeLogin,
		ID:      fmt.Sprintf("%s-login", c.name),
		TS:      time.Now().UTC(),
		Payload: mustJSON(v1.LoginPayload{Username: username}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeLoginSuccess, stepTimeout, nil)

	var p v1.LoginSuccessPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal login_success payload (%s): %v", c.name, err)
	}
	if p.Username != username {
		fatalf("login_success username mismatch (%s): got=%q want=%q", c.name, p.Username, username)
	}
	c.username = username
}

func mustSendText(parent context.Context, c *smokeClient, sender, receiver, text string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeMessage,
		ID:   fmt.Sprintf("%s-send-%d", c.name, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.MessagePayload{
			Sender:   sender,
			Receiver: receiver,
			Message:  text,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertMessage(parent context.Context, c *smokeClient, sender, receiver, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessage, stepTimeout, nil)

	var p v1.MessagePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal private_message payload (%s): %v", c.name, err)
	}
	if p.Sender != sender {
		fatalf("message sender mismatch (%s): got=%q want=%q", c.name, p.Sender, sender)
	}
	if p.Receiver != receiver {
		fatalf("message receiver mismatch (%s): got=%q want=%q", c.name, p.Receiver, receiver)
	}
	if p.Message != text {
		fatalf("message text mismatch (%s): got=%q want=%q", c.name, p.Message, text)
	}
	if p.Image != "" {
		fatalf("message unexpectedly carries an image (%s)", c.name)
	}
}

func mustSendTyping(parent context.Context, c *smokeClient, sender, receiver string, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeTyping,
		ID:   fmt.Sprintf("%s-typing", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.TypingPayload{
			Sender:   sender,
			Receiver: receiver,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func mustAssertTyping(parent context.Context, c *smokeClient, sender string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeTyping, stepTimeout, nil)

	var p v1.TypingPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal typing payload (%s): %v", c.name, err)
	}
	if p.Sender != sender {
		fatalf("typing sender mismatch (%s): got=%q want=%q", c.name, p.Sender, sender)
	}
}

func mustHistoryContains(parent context.Context, c *smokeClient, me, other, text string, stepTimeout time.Duration) {
	req := v1.Envelope{
		V:    v1.Version,
		Type: v1.TypeLoadMessages,
		ID:   fmt.Sprintf("%s-load", c.name),
		TS:   time.Now().UTC(),
		Payload: mustJSON(v1.LoadMessagesPayload{
			Me:    me,
			Other: other,
		}),
	}
	mustWriteWithTimeout(parent, c.conn, req, stepTimeout)

	reply := c.mustReadUntilType(parent, v1.TypeOldMessages, stepTimeout, nil)

	var p v1.OldMessagesPayload
	if err := json.Unmarshal(reply.Payload, &p); err != nil {
		fatalf("unmarshal old_messages payload (%s): %v", c.name, err)
	}

	found := false
	for _, m := range p.Messages {
		if m.Sender == other && m.Receiver == me && m.Message == text {
			found = true
			break
		}
	}
	if !found {
		fatalf("old_messages missing expected message (%s): %d entries", c.name, len(p.Messages))
	}
}

func mustAssertNoType(parent context.Context, c *smokeClient, forbiddenType string, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if env.Type == forbiddenType {
				fatalf("unexpected %s received (%s)", forbiddenType, c.name)
			}
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
