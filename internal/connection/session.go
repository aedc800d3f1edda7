package connection

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/etron/internal/broadcast"
	"github.com/rickgao/etron/internal/mailbox"
	"github.com/rickgao/etron/internal/message"
	"github.com/rickgao/etron/internal/metrics"
	"github.com/rickgao/etron/internal/queue"
	"github.com/rickgao/etron/internal/router"
)

// session holds the state for a single client connection.
type session struct {
	id        message.ClientID
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	transport Transport

	channels router.Channels
	mailbox  mailbox.Consumer
	outbound *queue.Queue[message.Message]

	state       atomic.Int32
	connectedAt time.Time

	writerDone chan struct{}
	closeOnce  sync.Once
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *session) info() SessionInfo {
	st := s.outbound.Stats()
	return SessionInfo{
		ID:          s.id,
		State:       s.State(),
		ConnectedAt: s.connectedAt,
		Outbound:    st.Count,
		OutboundCap: st.Capacity,
		Delivered:   st.TotalSent,
	}
}

// closeTransport closes the underlying connection once.
func (s *session) closeTransport() {
	s.closeOnce.Do(func() {
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("transport close", "error", err)
		}
	})
}

// configure applies read limits and the pong-driven read deadline.
func (s *session) configure() {
	if s.cfg.MaxMessageSize > 0 {
		s.transport.SetReadLimit(s.cfg.MaxMessageSize)
	}
	if s.cfg.PongTimeout > 0 {
		s.transport.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		s.transport.SetPongHandler(func(string) error {
			return s.transport.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		})
	}
}

// write encodes msg and writes it as one text frame.
func (s *session) write(msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		// Unencodable messages are dropped, the connection stays up.
		s.logger.Error("failed to encode message", "kind", msg.Kind(), "error", err)
		return nil
	}

	if s.cfg.WriteTimeout > 0 {
		s.transport.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.transport.WriteMessage(websocket.TextMessage, data)
}

// pumpFrames owns the blocking transport read and feeds data frames to the
// reader until the transport fails or stop is closed.
func (s *session) pumpFrames(frames chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	for {
		msgType, data, err := s.transport.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		select {
		case frames <- data:
		case <-stop:
			return
		}
	}
}

// readLoop is the reader half. It returns when the transport fails, the
// writer exits, the mailbox is removed or the router stops.
func (s *session) readLoop() {
	frames := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go s.pumpFrames(frames, readErr, stop)

	for {
		select {
		case data := <-frames:
			if err := s.handleFrame(data); err != nil {
				s.logger.Debug("router unavailable, closing reader", "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("client closed connection")
			} else {
				s.logger.Debug("transport read failed", "error", err)
			}
			return

		case <-s.mailbox.Ready():
			s.drainMailbox()

		case <-s.mailbox.Done():
			s.drainMailbox()
			s.logger.Debug("mailbox removed, closing reader")
			return

		case <-s.channels.Broadcast.Ready():
			if !s.drainBroadcast() {
				return
			}

		case <-s.writerDone:
			return
		}
	}
}

// handleFrame decodes one frame and forwards it to the router. Frames that
// fail to decode are answered with an Error notice routed back to this
// client.
func (s *session) handleFrame(data []byte) error {
	msg, err := message.Decode(data)
	if err != nil {
		s.metrics.DecodeError()
		s.logger.Debug("invalid frame", "error", err, "size", len(data))
		return s.channels.Send(message.Errorf(s.id, "invalid message: %v", err))
	}

	return s.channels.Send(msg.WithSender(s.id))
}

func (s *session) drainMailbox() {
	for {
		msg, ok := s.mailbox.TryRecv()
		if !ok {
			return
		}
		s.enqueue(msg)
	}
}

// drainBroadcast forwards pending broadcast messages not sent by this
// client. It returns false once the bus is closed.
func (s *session) drainBroadcast() bool {
	for {
		msg, err := s.channels.Broadcast.TryRecv()

		var lagged *broadcast.LaggedError
		switch {
		case err == nil:
			if msg.Sender != s.id {
				s.enqueue(msg)
			}
		case errors.Is(err, broadcast.ErrEmpty):
			return true
		case errors.As(err, &lagged):
			s.metrics.BroadcastLagged(lagged.Missed)
			s.logger.Warn("broadcast subscriber lagged", "missed", lagged.Missed)
		case errors.Is(err, broadcast.ErrClosed):
			s.logger.Debug("broadcast closed, closing reader")
			return false
		default:
			s.logger.Warn("broadcast receive failed", "error", err)
			return true
		}
	}
}

func (s *session) enqueue(msg message.Message) {
	if !s.outbound.Send(msg) {
		s.logger.Debug("outbound closed, dropping message", "kind", msg.Kind())
	}
}

// writeLoop is the writer half. It exits when the outbound queue is closed
// and drained or a write fails; a failed write closes the transport.
func (s *session) writeLoop() {
	defer close(s.writerDone)

	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.outbound.Ready():
			if err := s.flush(); err != nil {
				s.logger.Debug("write failed, closing connection", "error", err)
				s.closeTransport()
				return
			}

		case <-s.outbound.Done():
			if err := s.flush(); err != nil {
				s.logger.Debug("write failed during drain", "error", err)
			}
			return

		case <-ping:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.transport.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				s.closeTransport()
				return
			}
		}
	}
}

// flush writes every queued message in order.
func (s *session) flush() error {
	for {
		msg, ok := s.outbound.TryReceive()
		if !ok {
			return nil
		}
		if err := s.write(msg); err != nil {
			return err
		}
	}
}
