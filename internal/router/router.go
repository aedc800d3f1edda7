package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/etron/internal/broadcast"
	"github.com/rickgao/etron/internal/mailbox"
	"github.com/rickgao/etron/internal/message"
	"github.com/rickgao/etron/internal/metrics"
)

// Router routes messages from connection readers to the broadcast bus or to
// individual mailboxes.
type Router interface {
	// Start begins routing messages from the inbound channel.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the router and closes the broadcast bus.
	Stop(ctx context.Context) error

	// Channels returns the template handle; call Clone for a subscription.
	Channels() Channels

	// Stats returns current router statistics.
	Stats() Stats
}

// router is the internal implementation.
type router struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	mailboxes mailbox.Producer

	input chan message.Message
	bus   *broadcast.Bus[message.Message]

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once

	// Stats
	received    atomic.Int64
	broadcasted atomic.Int64
	targeted    atomic.Int64
	errorsSent  atomic.Int64
	unsupported atomic.Int64
	failures    atomic.Int64
	panics      atomic.Int64
}

// New creates a Router delivering targeted messages through mailboxes.
func New(cfg Config, mailboxes mailbox.Producer, m *metrics.Metrics, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InboundCapacity < 1 {
		cfg.InboundCapacity = DefaultConfig().InboundCapacity
	}
	if cfg.BroadcastCapacity < 1 {
		cfg.BroadcastCapacity = broadcast.DefaultCapacity
	}

	return &router{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		mailboxes: mailboxes,
		input:     make(chan message.Message, cfg.InboundCapacity),
		bus:       broadcast.New[message.Message](cfg.BroadcastCapacity),
		done:      make(chan struct{}),
	}
}

// Start begins routing messages.
func (r *router) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("message router started",
		"inbound_capacity", r.cfg.InboundCapacity,
		"broadcast_capacity", r.cfg.BroadcastCapacity,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping message router")

	if r.cancel != nil {
		r.cancel()
	}

	// Wait for goroutine to finish
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("message router stopped")
	case <-ctx.Done():
		r.logger.Warn("message router stop timed out")
	}

	r.markDone()
	r.bus.Close()

	return nil
}

func (r *router) markDone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Channels returns the template handle shared by all connections.
func (r *router) Channels() Channels {
	return Channels{
		inbound: r.input,
		done:    r.done,
		bus:     r.bus,
	}
}

// Stats returns current statistics.
func (r *router) Stats() Stats {
	return Stats{
		Received:    r.received.Load(),
		Broadcast:   r.broadcasted.Load(),
		Targeted:    r.targeted.Load(),
		Errors:      r.errorsSent.Load(),
		Unsupported: r.unsupported.Load(),
		Failures:    r.failures.Load(),
		Panics:      r.panics.Load(),
		InboundLen:  len(r.input),
		Bus:         r.bus.Stats(),
	}
}

// routeLoop is the main routing goroutine.
func (r *router) routeLoop() {
	defer r.wg.Done()
	defer r.markDone()

	for {
		select {
		case <-r.ctx.Done():
			return
		case msg := <-r.input:
			r.route(msg)
		}
	}
}

// route dispatches a single message.
func (r *router) route(msg message.Message) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.failures.Add(1)
			r.metrics.DispatchFailed(metrics.ReasonPanic)
			r.logger.Error("panic while routing message",
				"sender", msg.Sender,
				"kind", msg.Kind(),
				"panic", fmt.Sprint(p),
			)
		}
	}()

	r.received.Add(1)
	r.metrics.MessageRouted(string(msg.Kind()))

	switch body := msg.Body.(type) {
	case message.QueryBody:
		r.publish(msg)

	case message.PostBody, message.ResponseBody, message.GetBody:
		target, _ := msg.Target()
		if r.deliver(target, msg) {
			r.targeted.Add(1)
		}

	case message.ErrorBody:
		if msg.Sender != message.System {
			r.reject(msg)
			return
		}
		if r.deliver(body.Criminal, msg) {
			r.errorsSent.Add(1)
		}

	default:
		r.reject(msg)
	}
}

// publish fans a query out to every subscriber.
func (r *router) publish(msg message.Message) {
	n, err := r.bus.Publish(msg)
	switch {
	case errors.Is(err, broadcast.ErrNoSubscribers):
		r.logger.Debug("broadcast has no subscribers", "sender", msg.Sender)
	case err != nil:
		r.failures.Add(1)
		r.metrics.DispatchFailed(metrics.ReasonBroadcast)
		r.logger.Warn("broadcast publish failed", "sender", msg.Sender, "error", err)
	default:
		r.broadcasted.Add(1)
		r.logger.Debug("query broadcast", "sender", msg.Sender, "subscribers", n)
	}
}

// deliver hands msg to the mailbox of target. Failures are logged and
// dropped.
func (r *router) deliver(target message.ClientID, msg message.Message) bool {
	err := r.mailboxes.Send(target, msg)
	if err == nil {
		return true
	}

	r.failures.Add(1)
	if errors.Is(err, mailbox.ErrDoesNotExist) {
		r.metrics.DispatchFailed(metrics.ReasonTargetGone)
		r.logger.Warn("target mailbox does not exist",
			"sender", msg.Sender,
			"target", target,
			"kind", msg.Kind(),
		)
		return false
	}

	r.metrics.DispatchFailed(metrics.ReasonSendFailed)
	r.logger.Warn("mailbox send failed",
		"sender", msg.Sender,
		"target", target,
		"kind", msg.Kind(),
		"error", err,
	)
	return false
}

// reject answers a message a client may not send with an Error notice.
func (r *router) reject(msg message.Message) {
	r.unsupported.Add(1)
	r.metrics.DispatchFailed(metrics.ReasonUnsupported)

	if msg.Sender == message.System {
		r.logger.Warn("dropping unsupported system message", "kind", msg.Kind())
		return
	}

	r.logger.Debug("unsupported client message", "sender", msg.Sender, "kind", msg.Kind())
	r.deliver(msg.Sender, message.Errorf(msg.Sender, UnsupportedReason))
}
