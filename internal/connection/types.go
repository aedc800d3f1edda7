package connection

import (
	"errors"
	"time"

	"github.com/rickgao/etron/internal/message"
)

// Errors
var (
	ErrSpawnerStopped = errors.New("spawner stopped")
)

// Transport is the duplex frame stream of one client. *websocket.Conn
// satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Config configures connection handling.
type Config struct {
	WriteTimeout     time.Duration // Write deadline per frame. Default: 10s
	PingInterval     time.Duration // Keepalive ping period, 0 disables. Default: 30s
	PongTimeout      time.Duration // Read deadline extended on every pong, 0 disables. Default: 60s
	MaxMessageSize   int64         // Largest inbound frame in bytes, 0 = unlimited. Default: 1 MiB
	OutboundCapacity int           // Initial writer queue capacity. Default: 64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		MaxMessageSize:   1 << 20,
		OutboundCapacity: 64,
	}
}

// State is the lifecycle state of a session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDisconnecting
	StateRemoved
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateRemoved:
		return "removed"
	}
	return "unknown"
}

// SessionInfo describes one live session.
type SessionInfo struct {
	ID          message.ClientID
	State       State
	ConnectedAt time.Time
	Outbound    int   // messages waiting for the writer
	OutboundCap int   // current writer queue capacity
	Delivered   int64 // messages handed to the writer so far
}

// Stats provides statistics about the spawner.
type Stats struct {
	Active   int
	Spawned  int64
	Removed  int64
	Rejected int64 // spawns that failed before reaching Active
	ByState  map[State]int
}
