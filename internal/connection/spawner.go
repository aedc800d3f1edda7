package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/etron/internal/mailbox"
	"github.com/rickgao/etron/internal/message"
	"github.com/rickgao/etron/internal/metrics"
	"github.com/rickgao/etron/internal/presence"
	"github.com/rickgao/etron/internal/queue"
	"github.com/rickgao/etron/internal/router"
)

const notifyTimeout = 5 * time.Second

// Spawner accepts connections and runs their reader and writer halves.
type Spawner interface {
	// Spawn registers a new client on t and starts servicing it. It
	// returns once Connected has been written; the session then runs in
	// the background until the transport closes.
	Spawn(t Transport) (message.ClientID, error)

	// Stop closes every live connection and waits for teardown.
	Stop(ctx context.Context) error

	// Stats returns session statistics.
	Stats() Stats

	// Sessions lists live sessions, oldest first.
	Sessions() []SessionInfo
}

// spawner implements the Spawner interface.
type spawner struct {
	cfg      Config
	registry *mailbox.Registry
	channels router.Channels
	presence presence.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[message.ClientID]*session
	stopped  bool

	wg       sync.WaitGroup // sessions
	notifyWg sync.WaitGroup // presence notifications

	spawned  atomic.Int64
	removed  atomic.Int64
	rejected atomic.Int64
}

// NewSpawner creates a Spawner. channels is the router's template handle;
// each session gets its own clone. A nil notifier disables presence.
func NewSpawner(cfg Config, registry *mailbox.Registry, channels router.Channels, notifier presence.Notifier, m *metrics.Metrics, logger *slog.Logger) Spawner {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = presence.Nop{}
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &spawner{
		cfg:      cfg,
		registry: registry,
		channels: channels,
		presence: notifier,
		metrics:  m,
		logger:   logger,
		sessions: make(map[message.ClientID]*session),
	}
}

// Spawn registers and starts a new session.
func (sp *spawner) Spawn(t Transport) (message.ClientID, error) {
	sp.mu.RLock()
	stopped := sp.stopped
	sp.mu.RUnlock()
	if stopped {
		sp.rejected.Add(1)
		return message.ClientID{}, ErrSpawnerStopped
	}

	id := message.NewClientID()
	if err := sp.registry.Add(id); err != nil {
		sp.rejected.Add(1)
		return message.ClientID{}, fmt.Errorf("add mailbox: %w", err)
	}

	consumer, err := sp.registry.Claim(id)
	if err != nil {
		sp.registry.Remove(id)
		sp.rejected.Add(1)
		return message.ClientID{}, fmt.Errorf("claim mailbox: %w", err)
	}

	s := &session{
		id:          id,
		cfg:         sp.cfg,
		logger:      sp.logger.With("client_id", id),
		metrics:     sp.metrics,
		transport:   t,
		channels:    sp.channels.Clone(),
		mailbox:     consumer,
		outbound:    queue.New[message.Message](sp.cfg.OutboundCapacity),
		connectedAt: time.Now(),
		writerDone:  make(chan struct{}),
	}
	s.setState(StateConnecting)
	s.configure()

	// Connected goes out before either half starts.
	if err := s.write(message.New(message.System, message.ConnectedBody{ID: id})); err != nil {
		sp.release(s)
		sp.rejected.Add(1)
		return message.ClientID{}, fmt.Errorf("write connected: %w", err)
	}

	sp.mu.Lock()
	if sp.stopped {
		sp.mu.Unlock()
		sp.release(s)
		sp.rejected.Add(1)
		return message.ClientID{}, ErrSpawnerStopped
	}
	sp.sessions[id] = s
	sp.wg.Add(1)
	sp.mu.Unlock()

	s.setState(StateActive)
	sp.spawned.Add(1)
	sp.metrics.ConnectionOpened()
	sp.notify(id, true)
	s.logger.Info("client connected")

	go sp.supervise(s)

	return id, nil
}

// supervise runs both halves of s and tears the session down once either
// ends.
func (sp *spawner) supervise(s *session) {
	defer sp.wg.Done()

	go s.writeLoop()
	s.readLoop()

	s.setState(StateDisconnecting)
	s.outbound.Close()
	<-s.writerDone

	sp.release(s)

	sp.mu.Lock()
	delete(sp.sessions, s.id)
	sp.mu.Unlock()

	sp.removed.Add(1)
	sp.metrics.ConnectionClosed()
	sp.notify(s.id, false)
	s.logger.Info("client disconnected",
		"duration", time.Since(s.connectedAt).Round(time.Millisecond),
	)
}

// release frees everything the session holds. After it returns, sends to
// the session's id fail with DoesNotExist.
func (sp *spawner) release(s *session) {
	s.channels.Close()
	s.mailbox.Release()
	sp.registry.Remove(s.id)
	s.outbound.Close()
	s.closeTransport()
	s.setState(StateRemoved)
}

// notify reports a presence change without blocking the lifecycle.
func (sp *spawner) notify(id message.ClientID, connected bool) {
	sp.notifyWg.Add(1)
	go func() {
		defer sp.notifyWg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		var err error
		if connected {
			err = sp.presence.Connected(ctx, id)
		} else {
			err = sp.presence.Disconnected(ctx, id)
		}
		if err != nil {
			sp.logger.Warn("presence notification failed",
				"client_id", id,
				"connected", connected,
				"error", err,
			)
		}
	}()
}

// Stop closes every live connection with a going-away frame.
func (sp *spawner) Stop(ctx context.Context) error {
	sp.mu.Lock()
	sp.stopped = true
	live := make([]*session, 0, len(sp.sessions))
	for _, s := range sp.sessions {
		live = append(live, s)
	}
	sp.mu.Unlock()

	sp.logger.Info("stopping spawner", "sessions", len(live))

	closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, s := range live {
		deadline := time.Now().Add(time.Second)
		if err := s.transport.WriteControl(websocket.CloseMessage, closeMsg, deadline); err != nil {
			s.logger.Debug("failed to send close frame", "error", err)
		}
		s.closeTransport()
	}

	done := make(chan struct{})
	go func() {
		sp.wg.Wait()
		sp.notifyWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sp.logger.Info("spawner stopped")
		return nil
	case <-ctx.Done():
		sp.logger.Warn("spawner stop timed out")
		return ctx.Err()
	}
}

// Stats returns current statistics.
func (sp *spawner) Stats() Stats {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	byState := make(map[State]int)
	for _, s := range sp.sessions {
		byState[s.State()]++
	}

	return Stats{
		Active:   len(sp.sessions),
		Spawned:  sp.spawned.Load(),
		Removed:  sp.removed.Load(),
		Rejected: sp.rejected.Load(),
		ByState:  byState,
	}
}

// Sessions lists live sessions, oldest first.
func (sp *spawner) Sessions() []SessionInfo {
	sp.mu.RLock()
	infos := make([]SessionInfo, 0, len(sp.sessions))
	for _, s := range sp.sessions {
		infos = append(infos, s.info())
	}
	sp.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ConnectedAt.Before(infos[j].ConnectedAt)
	})
	return infos
}
