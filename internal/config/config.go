package config

import "time"

// Config is the root configuration for a relay instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance" envPrefix:"INSTANCE_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Broker   BrokerConfig   `yaml:"broker" envPrefix:"BROKER_"`
	Database DBConfig       `yaml:"database" envPrefix:"DATABASE_"`
	Auth     AuthConfig     `yaml:"auth" envPrefix:"AUTH_"`
	Presence PresenceConfig `yaml:"presence" envPrefix:"PRESENCE_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`
}

// InstanceConfig identifies this relay.
type InstanceConfig struct {
	ID string `yaml:"id" env:"ID"`
}

// ServerConfig holds HTTP and websocket settings.
type ServerConfig struct {
	Addr             string         `yaml:"addr" env:"ADDR"`
	ReadBufferSize   int            `yaml:"read_buffer_size" env:"READ_BUFFER_SIZE"`
	WriteBufferSize  int            `yaml:"write_buffer_size" env:"WRITE_BUFFER_SIZE"`
	WriteTimeout     time.Duration  `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	PingInterval     *time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"` // 0 disables pings
	PongTimeout      *time.Duration `yaml:"pong_timeout" env:"PONG_TIMEOUT"`   // 0 disables the read deadline
	MaxMessageSize   int64          `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	OutboundCapacity int            `yaml:"outbound_capacity" env:"OUTBOUND_CAPACITY"`
	ShutdownTimeout  time.Duration  `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins   []string       `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","` // Empty allows any origin
}

// BrokerConfig sizes the routing channels and the mailbox registry.
type BrokerConfig struct {
	InboundCapacity   int  `yaml:"inbound_capacity" env:"INBOUND_CAPACITY"`
	BroadcastCapacity int  `yaml:"broadcast_capacity" env:"BROADCAST_CAPACITY"`
	MailboxCapacity   *int `yaml:"mailbox_capacity" env:"MAILBOX_CAPACITY"` // Directory pre-size; 0 grows on demand
	MailboxShards     int  `yaml:"mailbox_shards" env:"MAILBOX_SHARDS"`
}

// DBConfig holds the Postgres connection used by the auth store.
// URL, when set, takes precedence over the individual fields.
type DBConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	Name     string `yaml:"name" env:"NAME"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxConns int    `yaml:"max_conns" env:"MAX_CONNS"`
	MinConns int    `yaml:"min_conns" env:"MIN_CONNS"`
}

// AuthConfig holds token settings. When disabled the websocket endpoint is
// open and no database is needed.
type AuthConfig struct {
	Enabled  bool          `yaml:"enabled" env:"ENABLED"`
	Secret   string        `yaml:"secret" env:"SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// PresenceConfig holds Redis presence settings. An empty address disables
// presence.
type PresenceConfig struct {
	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`
	Channel       string `yaml:"channel" env:"CHANNEL"`
	OnlineKey     string `yaml:"online_key" env:"ONLINE_KEY"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // text, json
}

// Ping returns the keepalive interval. Unset means the default, zero
// disables pings.
func (s ServerConfig) Ping() time.Duration {
	if s.PingInterval == nil {
		return DefaultPingInterval
	}
	return *s.PingInterval
}

// Pong returns how long to wait for a pong. Unset means the default, zero
// disables the read deadline.
func (s ServerConfig) Pong() time.Duration {
	if s.PongTimeout == nil {
		return DefaultPongTimeout
	}
	return *s.PongTimeout
}

// Mailboxes returns the number of mailboxes the registry is pre-sized for.
func (b BrokerConfig) Mailboxes() int {
	if b.MailboxCapacity == nil {
		return DefaultMailboxCapacity
	}
	return *b.MailboxCapacity
}
