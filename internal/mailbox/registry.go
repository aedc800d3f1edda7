package mailbox

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/etron/internal/message"
	"github.com/rickgao/etron/internal/queue"
)

// queueCapacity is the initial ring size of each mailbox. Queues grow on
// demand.
const queueCapacity = 4

// Registry maps client ids to their mailboxes.
type Registry struct {
	cfg    Config
	logger *slog.Logger
	shards []*shard

	sent   atomic.Int64
	misses atomic.Int64
}

type shard struct {
	mu    sync.RWMutex
	boxes map[message.ClientID]*entry
}

type entry struct {
	id      message.ClientID
	queue   *queue.Queue[message.Message]
	claimed atomic.Bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	if cfg.Capacity < 0 {
		cfg.Capacity = 0
	}

	r := &Registry{
		cfg:    cfg,
		logger: logger,
		shards: make([]*shard, cfg.Shards),
	}
	perShard := cfg.Capacity / cfg.Shards
	for i := range r.shards {
		r.shards[i] = &shard{boxes: make(map[message.ClientID]*entry, perShard)}
	}
	return r
}

func (r *Registry) shardFor(id message.ClientID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Add creates the mailbox for id. Returns ErrAlreadyExists for a duplicate.
func (r *Registry) Add(id message.ClientID) error {
	s := r.shardFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.boxes[id]; ok {
		r.logger.Debug("mailbox already exists", "client_id", id)
		return ErrAlreadyExists
	}
	s.boxes[id] = &entry{
		id:    id,
		queue: queue.New[message.Message](queueCapacity),
	}
	return nil
}

// Remove closes and forgets the mailbox for id. It reports whether a
// mailbox was removed; removing an unknown id is a no-op.
func (r *Registry) Remove(id message.ClientID) bool {
	s := r.shardFor(id)

	s.mu.Lock()
	e, ok := s.boxes[id]
	if ok {
		delete(s.boxes, id)
	}
	s.mu.Unlock()

	if !ok {
		r.logger.Debug("remove of unknown mailbox", "client_id", id)
		return false
	}
	e.queue.Close()
	return true
}

// Send queues msg for id. It never blocks.
func (r *Registry) Send(id message.ClientID, msg message.Message) error {
	s := r.shardFor(id)

	s.mu.RLock()
	e, ok := s.boxes[id]
	s.mu.RUnlock()

	if !ok {
		r.misses.Add(1)
		return &DoesNotExistError{ID: id}
	}
	if !e.queue.Send(msg) {
		return &SendFailedError{ID: id}
	}
	r.sent.Add(1)
	return nil
}

// Recv receives the next message for id. It claims the mailbox for the
// duration of the call.
func (r *Registry) Recv(ctx context.Context, id message.ClientID) (message.Message, bool, error) {
	c, err := r.Claim(id)
	if err != nil {
		return message.Message{}, false, err
	}
	defer c.Release()
	return c.Recv(ctx)
}

// Claim takes the consumer handle for id. At most one claim is live per id.
func (r *Registry) Claim(id message.ClientID) (Consumer, error) {
	s := r.shardFor(id)

	s.mu.RLock()
	e, ok := s.boxes[id]
	s.mu.RUnlock()

	if !ok {
		return nil, &DoesNotExistError{ID: id}
	}
	if !e.claimed.CompareAndSwap(false, true) {
		return nil, ErrConsumerClaimed
	}
	return &consumer{entry: e}, nil
}

// Producer returns the send side of the registry.
func (r *Registry) Producer() Producer {
	return r
}

// Contains reports whether id currently has a mailbox.
func (r *Registry) Contains(id message.ClientID) bool {
	s := r.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.boxes[id]
	return ok
}

// Len returns the number of live mailboxes.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.boxes)
		s.mu.RUnlock()
	}
	return n
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	return Stats{
		Mailboxes: r.Len(),
		Sent:      r.sent.Load(),
		Misses:    r.misses.Load(),
	}
}

type consumer struct {
	entry    *entry
	released atomic.Bool
}

func (c *consumer) ID() message.ClientID {
	return c.entry.id
}

func (c *consumer) Recv(ctx context.Context) (message.Message, bool, error) {
	msg, err := c.entry.queue.Receive(ctx)
	if errors.Is(err, queue.ErrClosed) {
		return message.Message{}, false, nil
	}
	if err != nil {
		return message.Message{}, false, err
	}
	return msg, true, nil
}

func (c *consumer) TryRecv() (message.Message, bool) {
	return c.entry.queue.TryReceive()
}

func (c *consumer) Ready() <-chan struct{} {
	return c.entry.queue.Ready()
}

func (c *consumer) Done() <-chan struct{} {
	return c.entry.queue.Done()
}

func (c *consumer) Release() {
	if c.released.CompareAndSwap(false, true) {
		c.entry.claimed.Store(false)
	}
}
