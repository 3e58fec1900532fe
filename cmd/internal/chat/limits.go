package chat

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	// Image payloads arrive inline (data URLs), so this is deliberately
	// larger than a text-only protocol would need.
	maxFrameBytes = 1 << 20 // 1 MiB

	// Max message text length (runes).
	maxMessageChars = 4000

	// Max username length (runes).
	maxUsernameChars = 64
)

const (
	// Heartbeat defaults (can be overridden by env in ws_gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
