// Package v1 defines the Relay Chat Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeLogin binds a username to the current connection (client -> server).
	TypeLogin = "login"
	// TypeLoginSuccess acknowledges a login (server -> client).
	TypeLoginSuccess = "login_success"

	// TypeMessage carries a text message (client -> server, echoed to both parties).
	TypeMessage = "private_message"
	// TypeImage carries an image payload (client -> server, echoed to both parties).
	TypeImage = "image"

	// TypeTyping is a transient typing indicator (client -> server -> receiver only).
	TypeTyping = "typing"

	// TypeLoadMessages requests conversation history (client -> server).
	TypeLoadMessages = "load_messages"
	// TypeOldMessages returns the full ordered conversation (server -> client).
	TypeOldMessages = "old_messages"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeLogin,
		TypeLoginSuccess,
		TypeMessage,
		TypeImage,
		TypeTyping,
		TypeLoadMessages,
		TypeOldMessages,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// LoginPayload binds a username to the connection it arrives on.
type LoginPayload struct {
	Username string `json:"username"`
}

// LoginSuccessPayload acknowledges the login back to the caller only.
type LoginSuccessPayload struct {
	Username string `json:"username"`
}

// MessagePayload is shared by private_message and image events.
// Exactly one of Message/Image is populated; outbound fan-out copies the
// inbound payload unchanged.
type MessagePayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message,omitempty"`
	Image    string `json:"image,omitempty"`
}

// TypingPayload is a transient presence signal. It is never persisted and
// never echoed back to the sender.
type TypingPayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}

// LoadMessagesPayload requests the full conversation between Me and Other.
type LoadMessagesPayload struct {
	Me    string `json:"me"`
	Other string `json:"other"`
}

// HistoryMessage is one element of an old_messages reply.
// An absent field means empty/null.
type HistoryMessage struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Message  string `json:"message,omitempty"`
	Image    string `json:"image,omitempty"`
}

// OldMessagesPayload returns the ordered conversation, ascending by id.
type OldMessagesPayload struct {
	Messages []HistoryMessage `json:"messages"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
