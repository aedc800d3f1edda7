package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID        = "etron"
	DefaultAddr              = ":8080"
	DefaultReadBufferSize    = 1024
	DefaultWriteBufferSize   = 1024
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPongTimeout       = 60 * time.Second
	DefaultMaxMessageSize    = 1 << 20
	DefaultOutboundCapacity  = 64
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultInboundCapacity   = 1024
	DefaultBroadcastCapacity = 256
	DefaultMailboxCapacity   = 1024
	DefaultMailboxShards     = 32
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 10
	DefaultMinConns          = 2
	DefaultTokenTTL          = 168 * time.Hour
	DefaultPresenceChannel   = "etron:presence"
	DefaultOnlineKey         = "etron:online"
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Server.WriteBufferSize == 0 {
		c.Server.WriteBufferSize = DefaultWriteBufferSize
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	// Explicit zeros survive: they disable keepalive.
	if c.Server.PingInterval == nil {
		c.Server.PingInterval = ptr(DefaultPingInterval)
	}
	if c.Server.PongTimeout == nil {
		c.Server.PongTimeout = ptr(DefaultPongTimeout)
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Server.OutboundCapacity == 0 {
		c.Server.OutboundCapacity = DefaultOutboundCapacity
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Broker defaults
	if c.Broker.InboundCapacity == 0 {
		c.Broker.InboundCapacity = DefaultInboundCapacity
	}
	if c.Broker.BroadcastCapacity == 0 {
		c.Broker.BroadcastCapacity = DefaultBroadcastCapacity
	}
	if c.Broker.MailboxCapacity == nil {
		c.Broker.MailboxCapacity = ptr(DefaultMailboxCapacity)
	}
	if c.Broker.MailboxShards == 0 {
		c.Broker.MailboxShards = DefaultMailboxShards
	}

	applyDBDefaults(&c.Database)

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Presence.Channel == "" {
		c.Presence.Channel = DefaultPresenceChannel
	}
	if c.Presence.OnlineKey == "" {
		c.Presence.OnlineKey = DefaultOnlineKey
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func ptr[T any](v T) *T {
	return &v
}
