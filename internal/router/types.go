package router

import (
	"errors"

	"github.com/rickgao/etron/internal/broadcast"
	"github.com/rickgao/etron/internal/message"
)

// Config holds configuration for the Router.
type Config struct {
	InboundCapacity   int // Default: 1024
	BroadcastCapacity int // Default: 256
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		InboundCapacity:   1024,
		BroadcastCapacity: broadcast.DefaultCapacity,
	}
}

// Errors
var (
	ErrRouterStopped  = errors.New("router stopped")
	ErrNoSubscription = errors.New("channels have no broadcast subscription")
)

// UnsupportedReason is the error text sent back for messages a client may
// not originate.
const UnsupportedReason = "unsupported client side message"

// Stats contains runtime statistics.
type Stats struct {
	Received    int64
	Broadcast   int64 // queries published to the bus
	Targeted    int64 // post/response/get handed to a mailbox
	Errors      int64 // system error notices delivered
	Unsupported int64 // messages answered with UnsupportedReason
	Failures    int64 // deliveries that could not be made
	Panics      int64
	InboundLen  int
	Bus         broadcast.Stats
}

// Channels is a connection's handle on the router: the inbound sender and,
// after Clone, its own broadcast subscription.
type Channels struct {
	inbound chan<- message.Message
	done    <-chan struct{}
	bus     *broadcast.Bus[message.Message]

	Broadcast *broadcast.Subscriber[message.Message]
}

// Send forwards msg to the router. It blocks while the inbound channel is
// full and returns ErrRouterStopped once the router has stopped.
func (c Channels) Send(msg message.Message) error {
	select {
	case <-c.done:
		return ErrRouterStopped
	default:
	}

	select {
	case c.inbound <- msg:
		return nil
	case <-c.done:
		return ErrRouterStopped
	}
}

// Done is closed when the router stops.
func (c Channels) Done() <-chan struct{} {
	return c.done
}

// Clone returns a copy sharing the inbound sender with a fresh broadcast
// subscription starting at the current head.
func (c Channels) Clone() Channels {
	c.Broadcast = c.bus.Subscribe()
	return c
}

// Close releases the broadcast subscription, if any.
func (c Channels) Close() {
	if c.Broadcast != nil {
		c.Broadcast.Close()
	}
}
