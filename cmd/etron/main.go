package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/etron/internal/auth"
	"github.com/rickgao/etron/internal/config"
	"github.com/rickgao/etron/internal/connection"
	"github.com/rickgao/etron/internal/database"
	"github.com/rickgao/etron/internal/mailbox"
	"github.com/rickgao/etron/internal/metrics"
	"github.com/rickgao/etron/internal/presence"
	"github.com/rickgao/etron/internal/router"
	"github.com/rickgao/etron/internal/server"
	"github.com/rickgao/etron/internal/version"
)

const statsInterval = time.Minute

func main() {
	configPath := flag.String("config", "configs/etron.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("etron exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting etron",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
		"instance_id", cfg.Instance.ID,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	registry := mailbox.NewRegistry(mailbox.Config{
		Shards:   cfg.Broker.MailboxShards,
		Capacity: cfg.Broker.Mailboxes(),
	}, logger)

	rt := router.New(router.Config{
		InboundCapacity:   cfg.Broker.InboundCapacity,
		BroadcastCapacity: cfg.Broker.BroadcastCapacity,
	}, registry.Producer(), m, logger)
	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("start router: %w", err)
	}

	notifier, closeNotifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	var authHandler *auth.Handler
	if cfg.Auth.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		store := auth.NewPGStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		authHandler = auth.NewHandler(store, auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL), logger)
		logger.Info("auth enabled", "token_ttl", cfg.Auth.TokenTTL)
	}

	spawner := connection.NewSpawner(connection.Config{
		WriteTimeout:     cfg.Server.WriteTimeout,
		PingInterval:     cfg.Server.Ping(),
		PongTimeout:      cfg.Server.Pong(),
		MaxMessageSize:   cfg.Server.MaxMessageSize,
		OutboundCapacity: cfg.Server.OutboundCapacity,
	}, registry, rt.Channels(), notifier, m, logger)

	srvCfg := server.Config{
		Addr:            cfg.Server.Addr,
		ReadBufferSize:  cfg.Server.ReadBufferSize,
		WriteBufferSize: cfg.Server.WriteBufferSize,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Path
	}
	deps := server.Deps{
		Spawner: spawner,
		Router:  rt,
		Auth:    authHandler,
		Metrics: m,
	}
	if lister, ok := notifier.(presence.Lister); ok {
		deps.Presence = lister
	}
	srv := server.New(srvCfg, deps, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		logStats(gctx, logger, registry, rt, spawner)
		return nil
	})

	logger.Info("etron running",
		"addr", cfg.Server.Addr,
		"auth", cfg.Auth.Enabled,
		"metrics", cfg.Metrics.Enabled,
		"presence", cfg.Presence.RedisAddr != "",
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("etron stopped")
	return nil
}

// newNotifier connects to Redis when presence is configured.
func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (presence.Notifier, func(), error) {
	if cfg.Presence.RedisAddr == "" {
		return presence.Nop{}, func() {}, nil
	}

	n, err := presence.NewRedisNotifier(ctx, presence.Config{
		Addr:      cfg.Presence.RedisAddr,
		Password:  cfg.Presence.RedisPassword,
		DB:        cfg.Presence.RedisDB,
		Channel:   cfg.Presence.Channel,
		OnlineKey: cfg.Presence.OnlineKey,
		Instance:  cfg.Instance.ID,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect presence: %w", err)
	}

	logger.Info("presence enabled", "addr", cfg.Presence.RedisAddr, "channel", cfg.Presence.Channel)
	return n, func() {
		if err := n.Close(); err != nil {
			logger.Warn("failed to close presence", "error", err)
		}
	}, nil
}

func logStats(ctx context.Context, logger *slog.Logger, registry *mailbox.Registry, rt router.Router, sp connection.Spawner) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs := rt.Stats()
			ss := sp.Stats()
			logger.Info("relay stats",
				"sessions", ss.Active,
				"mailboxes", registry.Len(),
				"received", rs.Received,
				"broadcast", rs.Broadcast,
				"targeted", rs.Targeted,
				"failures", rs.Failures,
				"subscribers", rs.Bus.Subscribers,
			)
		}
	}
}

func newLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
