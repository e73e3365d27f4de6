// Package daemon composes the messaging client from its parts and manages
// their lifecycle.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/gigdesk/msgd/internal/bus"
	"github.com/gigdesk/msgd/internal/channel"
	"github.com/gigdesk/msgd/internal/config"
	"github.com/gigdesk/msgd/internal/directory"
	"github.com/gigdesk/msgd/internal/lock"
	"github.com/gigdesk/msgd/internal/logging"
	"github.com/gigdesk/msgd/internal/presence"
	"github.com/gigdesk/msgd/internal/rest"
	"github.com/gigdesk/msgd/internal/session"
	"github.com/gigdesk/msgd/internal/store"
	"github.com/gigdesk/msgd/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideConn,
			provideRestClient,
			provideChannel,
			provideTracker,
			provideNotifier,
			provideDirectory,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ServerURL == "" || cfg.SocketURL == "" {
		return nil, fmt.Errorf("config %s: server_url and socket_url are required", session.ConfigPath())
	}
	if cfg.UserID == "" {
		return nil, fmt.Errorf("config %s: user_id is required", session.ConfigPath())
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *transport.Machine {
	return transport.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideConn(cfg *config.Config, machine *transport.Machine, b *bus.Bus, logger *zap.Logger) *transport.Conn {
	return transport.NewConn(transport.Config{
		URL:         cfg.SocketURL,
		UserID:      cfg.UserID,
		Token:       cfg.Token,
		BackoffBase: time.Duration(cfg.BackoffBaseMS) * time.Millisecond,
		BackoffCap:  time.Duration(cfg.BackoffCapMS) * time.Millisecond,
		AckTimeout:  time.Duration(cfg.AckTimeoutMS) * time.Millisecond,
	}, machine, b, logger)
}

func provideRestClient(cfg *config.Config) *rest.Client {
	return rest.New(cfg.ServerURL, cfg.UserID, cfg.Token, nil)
}

func provideChannel(cfg *config.Config, conn *transport.Conn, client *rest.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *channel.State {
	return channel.New(cfg.UserID, conn, client, db, b, logger, cfg.HistoryLimit)
}

func provideTracker(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(db, b, logger, time.Duration(cfg.TypingQuietMS)*time.Millisecond)
}

func provideNotifier(cfg *config.Config, conn *transport.Conn, logger *zap.Logger) *presence.Notifier {
	return presence.NewNotifier(conn, logger, time.Duration(cfg.TypingQuietMS)*time.Millisecond)
}

func provideDirectory(client *rest.Client, ch *channel.State, conn *transport.Conn, db *store.DB, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(client, ch, conn, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, conn *transport.Conn, ch *channel.State, tracker *presence.Tracker, dir *directory.Directory, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Subscribers first so no frame from the initial connect is lost.
			ch.Start()
			tracker.Start()
			dir.Start()

			go func() {
				if err := dir.Load(context.Background()); err != nil {
					logger.Warn("initial contact load failed", zap.Error(err))
				}
			}()

			// Connect failures are non-fatal; the connection retries itself.
			go func() {
				if err := conn.Connect(context.Background()); err != nil {
					logger.Warn("initial connect failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			conn.Close()
			dir.Stop()
			tracker.Stop()
			ch.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
