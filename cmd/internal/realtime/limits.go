package realtime

import "time"

const (
	// Max bytes per websocket frame read. Subscribers only send Identify and
	// Ping, both tiny.
	maxFrameBytes = 16 << 10

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection inbound rate limit (frames per window).
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)
