package v1

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	valid := Envelope{V: Version, Type: TypeLogin, Payload: json.RawMessage(`{"username":"alice"}`)}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing version", Envelope{Type: TypeLogin}},
		{"wrong version", Envelope{V: "v2", Type: TypeLogin}},
		{"missing type", Envelope{V: Version}},
		{"unknown type", Envelope{V: Version, Type: "join_room"}},
	}

	for _, tc := range cases {
		if err := tc.env.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestEnvelopeValidate_AllKnownTypes(t *testing.T) {
	t.Parallel()

	types := []string{
		TypeLogin, TypeLoginSuccess,
		TypeMessage, TypeImage,
		TypeTyping,
		TypeLoadMessages, TypeOldMessages,
		TypeError,
	}
	for _, typ := range types {
		env := Envelope{V: Version, Type: typ}
		if err := env.Validate(); err != nil {
			t.Fatalf("type %q rejected: %v", typ, err)
		}
	}
}

func TestMessagePayloadOmitsAbsentBody(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(MessagePayload{Sender: "alice", Receiver: "bob", Message: "hi"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, present := raw["image"]; present {
		t.Fatalf("absent image field must be omitted, got %s", b)
	}
	if raw["message"] != "hi" {
		t.Fatalf("message field missing: %s", b)
	}
}
