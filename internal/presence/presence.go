package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Event types
const (
	EventConnected    = "client_connected"
	EventDisconnected = "client_disconnected"
)

// Notifier receives session lifecycle changes.
type Notifier interface {
	Connected(ctx context.Context, id uuid.UUID) error
	Disconnected(ctx context.Context, id uuid.UUID) error
}

// Lister reports the clients marked online across every instance.
type Lister interface {
	Online(ctx context.Context) ([]uuid.UUID, error)
}

// Nop is a Notifier that does nothing.
type Nop struct{}

func (Nop) Connected(context.Context, uuid.UUID) error    { return nil }
func (Nop) Disconnected(context.Context, uuid.UUID) error { return nil }

// Event is the payload published on every change.
type Event struct {
	Type     string    `json:"type"`
	ClientID uuid.UUID `json:"client_id"`
	Instance string    `json:"instance,omitempty"`
	Time     time.Time `json:"time"`
}

// MarshalBinary implements encoding.BinaryMarshaler for redis.
func (e Event) MarshalBinary() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (e *Event) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, e)
}

// Config configures the Redis notifier.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Channel   string // Default: etron:presence
	OnlineKey string // Default: etron:online
	Instance  string // Included in every event
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Channel:   "etron:presence",
		OnlineKey: "etron:online",
	}
}

// redisClient is the subset of *redis.Client used here.
type redisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// RedisNotifier publishes presence events to Redis.
type RedisNotifier struct {
	cfg    Config
	client redisClient
	logger *slog.Logger

	initialBackoff time.Duration
}

// NewRedisNotifier connects to Redis and verifies the connection.
func NewRedisNotifier(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return newRedisNotifier(cfg, client, logger), nil
}

func newRedisNotifier(cfg Config, client redisClient, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = defaults.Channel
	}
	if cfg.OnlineKey == "" {
		cfg.OnlineKey = defaults.OnlineKey
	}

	return &RedisNotifier{
		cfg:            cfg,
		client:         client,
		logger:         logger,
		initialBackoff: initialBackoff,
	}
}

// Connected marks id online and publishes a client_connected event.
func (n *RedisNotifier) Connected(ctx context.Context, id uuid.UUID) error {
	if err := n.client.SAdd(ctx, n.cfg.OnlineKey, id.String()).Err(); err != nil {
		return fmt.Errorf("add online %s: %w", id, err)
	}
	return n.publish(ctx, EventConnected, id)
}

// Disconnected marks id offline and publishes a client_disconnected event.
func (n *RedisNotifier) Disconnected(ctx context.Context, id uuid.UUID) error {
	if err := n.client.SRem(ctx, n.cfg.OnlineKey, id.String()).Err(); err != nil {
		return fmt.Errorf("remove online %s: %w", id, err)
	}
	return n.publish(ctx, EventDisconnected, id)
}

var _ Lister = (*RedisNotifier)(nil)

// Online lists the ids currently marked online.
func (n *RedisNotifier) Online(ctx context.Context) ([]uuid.UUID, error) {
	members, err := n.client.SMembers(ctx, n.cfg.OnlineKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list online: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			n.logger.Warn("ignoring malformed online member", "member", m)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Close closes the Redis client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// publish sends an event with retry.
func (n *RedisNotifier) publish(ctx context.Context, eventType string, id uuid.UUID) error {
	event := Event{
		Type:     eventType,
		ClientID: id,
		Instance: n.cfg.Instance,
		Time:     time.Now().UTC(),
	}

	operation := func() error {
		return n.client.Publish(ctx, n.cfg.Channel, event).Err()
	}

	strategy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewExponentialBackOff(
				backoff.WithInitialInterval(n.initialBackoff),
				backoff.WithMaxInterval(maxBackoff),
			),
			maxRetries,
		),
		ctx,
	)

	return backoff.RetryNotify(operation, strategy, func(err error, d time.Duration) {
		n.logger.Warn("retrying presence publish",
			"client_id", id,
			"type", eventType,
			"error", err,
			"next_attempt", d,
		)
	})
}
