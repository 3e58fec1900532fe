package app

import (
	"log/slog"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
		"  warn ": slog.LevelWarn,
	}

	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	colored := colorizeHTTPMethod("GET", true)
	if colored == "GET" {
		t.Fatal("expected escape sequences when color is on")
	}
	if got := stripANSI(colored); got != "GET" {
		t.Fatalf("stripANSI(%q) = %q, want %q", colored, got, "GET")
	}

	if got := stripANSI("plain"); got != "plain" {
		t.Fatalf("stripANSI(plain) = %q", got)
	}
}

func TestColorizeDisabledIsIdentity(t *testing.T) {
	t.Parallel()

	if got := colorizeHTTPMethod("DELETE", false); got != "DELETE" {
		t.Fatalf("got %q", got)
	}
	if got := colorizeStatusCode(503, false); got != "503" {
		t.Fatalf("got %q", got)
	}
	if got := colorizeResult("server_error", false); got != "server_error" {
		t.Fatalf("got %q", got)
	}
}
