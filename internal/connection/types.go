package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrSendQueueFull   = errors.New("send queue full")
	ErrShutdown        = errors.New("manager shut down")
)

// Close codes used by the client.
const (
	CloseNormalClosure = 1000
	CloseNoStatus      = 1005
	CloseAbnormal      = 1006

	closeReasonClient = "Client disconnected"
)

// State is the lifecycle state of the managed connection.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// hasHandle reports whether a transport handle exists in this state.
func (s State) hasHandle() bool {
	return s != StateIdle && s != StateClosed
}

// Config configures a Manager. It is copied at construction and never
// mutated afterwards.
type Config struct {
	Address string      // WebSocket URL (e.g., wss://pipeline.vrchat.cloud/?authToken=...)
	Header  http.Header // Sent with the opening handshake

	RetryInterval time.Duration // Fixed delay between reconnect attempts
	MaxRetries    int           // 0 = never auto-reconnect

	ConnectTimeout   time.Duration // Bound on the opening handshake (0 = none)
	WriteTimeout     time.Duration // Write deadline for each frame
	PingInterval     time.Duration // Client ping period (0 = no heartbeat)
	PingTimeout      time.Duration // Max time without ping/pong before the socket is stale
	CloseGracePeriod time.Duration // Wait for the peer's close frame before dropping the socket
	SendQueueSize    int           // Outbound frames buffered per socket

	// OnStateChange is called after every state transition, outside the
	// manager lock. Status hooks run one at a time in transition order; a
	// call that causes a transition can return before its hook runs when
	// another goroutine is already delivering.
	OnStateChange func(old, new State)

	// OnRetriesExhausted is called when an unexpected termination finds
	// the retry budget spent, after the hook for the transition to Closed.
	OnRetriesExhausted func(attempts int)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryInterval:    10 * time.Second,
		MaxRetries:       5,
		ConnectTimeout:   30 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     15 * time.Second,
		PingTimeout:      60 * time.Second,
		CloseGracePeriod: 1 * time.Second,
		SendQueueSize:    256,
	}
}

// ManagerStats is a point-in-time view of the manager.
type ManagerStats struct {
	State            State
	Attempts         int
	MaxAttempts      int
	ShouldReconnect  bool
	Observers        int
	ReconnectPending bool
	ObserverPanics   int64
}
