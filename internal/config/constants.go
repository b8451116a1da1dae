package config

import "time"

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Reaper loop interval: stale connections and expired pair codes are
// swept at this cadence.
const ReaperInterval = 30 * time.Second

// A connection is considered stale when no ping has arrived for this
// many heartbeat intervals.
const HeartbeatMissFactor = 2

// WebSocket write deadline for hub-originated frames.
const SocketWriteTimeout = 10 * time.Second
