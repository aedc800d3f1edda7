package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Server.WriteTimeout <= 0 {
		return errors.New("server.write_timeout must be > 0")
	}
	ping, pong := c.Server.Ping(), c.Server.Pong()
	if ping < 0 {
		return errors.New("server.ping_interval must be >= 0")
	}
	if pong < 0 {
		return errors.New("server.pong_timeout must be >= 0")
	}
	if ping > 0 && pong > 0 && ping >= pong {
		return fmt.Errorf("server.ping_interval (%s) must be less than server.pong_timeout (%s)", ping, pong)
	}
	if c.Server.OutboundCapacity < 1 {
		return errors.New("server.outbound_capacity must be >= 1")
	}

	if c.Broker.InboundCapacity < 1 {
		return errors.New("broker.inbound_capacity must be >= 1")
	}
	if c.Broker.BroadcastCapacity < 1 {
		return errors.New("broker.broadcast_capacity must be >= 1")
	}
	if c.Broker.Mailboxes() < 0 {
		return errors.New("broker.mailbox_capacity must be >= 0")
	}
	if c.Broker.MailboxShards < 1 {
		return errors.New("broker.mailbox_shards must be >= 1")
	}

	if c.Auth.Enabled {
		if len(c.Auth.Secret) < 16 {
			return errors.New("auth.secret must be at least 16 characters when auth is enabled")
		}
		if c.Auth.TokenTTL <= 0 {
			return errors.New("auth.token_ttl must be > 0")
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.URL == "" {
		if db.Host == "" {
			return fmt.Errorf("%s.host is required", prefix)
		}
		if db.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if db.User == "" {
			return fmt.Errorf("%s.user is required", prefix)
		}
		if db.Password == "" {
			return fmt.Errorf("%s.password is required", prefix)
		}
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
