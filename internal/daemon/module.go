// Package daemon composes the profile's services into a running process.
package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rmaia/chatsync/internal/bus"
	"github.com/rmaia/chatsync/internal/chat"
	"github.com/rmaia/chatsync/internal/config"
	"github.com/rmaia/chatsync/internal/fanout"
	"github.com/rmaia/chatsync/internal/lock"
	"github.com/rmaia/chatsync/internal/logging"
	"github.com/rmaia/chatsync/internal/outbox"
	"github.com/rmaia/chatsync/internal/presence"
	"github.com/rmaia/chatsync/internal/rest"
	"github.com/rmaia/chatsync/internal/session"
	"github.com/rmaia/chatsync/internal/status"
	"github.com/rmaia/chatsync/internal/store"
	"github.com/rmaia/chatsync/internal/timeline"
	"github.com/rmaia/chatsync/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideTransport,
			provideEngine,
			providePresence,
			provideRouter,
			provideBackend,
			provideSender,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	path := session.ConfigPath()
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		if err := config.Save(path, config.Default()); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("wrote default config to %s; fill in [server] and [identity] and restart", path)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Server.SocketURL == "" || cfg.Server.RestURL == "" {
		return nil, fmt.Errorf("config %s: [server] socket_url and rest_url are required", path)
	}
	if cfg.Identity.UserID == "" {
		return nil, fmt.Errorf("config %s: [identity] user_id is required", path)
	}
	logger.Info("config loaded", zap.String("path", path), zap.String("user", cfg.Identity.UserID))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.Profile)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTransport(cfg *config.Config, logger *zap.Logger) *transport.Manager {
	dialer := transport.WebsocketDialer(cfg.Server.SocketURL, cfg.Identity.Token)
	return transport.NewManager(dialer, transport.Config{
		RetryAttempts: cfg.Transport.RetryAttempts,
		RetryBackoff:  time.Duration(cfg.Transport.RetryBackoffMs) * time.Millisecond,
	}, logger)
}

func provideEngine(cfg *config.Config, db *store.DB, b *bus.Bus, logger *zap.Logger) *timeline.Engine {
	return timeline.NewEngine(cfg.Identity.UserID, db, b, logger)
}

func providePresence(cfg *config.Config, mgr *transport.Manager, b *bus.Bus) *presence.Tracker {
	pc := presence.Config{
		LocalIdle:  time.Duration(cfg.Presence.LocalIdleMs) * time.Millisecond,
		RemoteHold: time.Duration(cfg.Presence.RemoteHoldMs) * time.Millisecond,
	}
	signal := func(conversationID string, typing bool) {
		mgr.SendTyping(conversationID, cfg.Identity.UserID, typing)
	}
	return presence.NewTracker(cfg.Identity.UserID, pc, signal, b)
}

func provideRouter(mgr *transport.Manager, logger *zap.Logger) *fanout.Router {
	return fanout.NewRouter(mgr, logger)
}

func provideBackend(cfg *config.Config) *rest.Client {
	return rest.NewClient(cfg.Server.RestURL, cfg.Identity.Token)
}

func provideSender(cfg *config.Config, db *store.DB, mgr *transport.Manager, engine *timeline.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, mgr, engine, cfg.Identity.UserID, b, logger)
}

func provideSession(cfg *config.Config, engine *timeline.Engine, mgr *transport.Manager, tracker *presence.Tracker, router *fanout.Router, backend *rest.Client, db *store.DB, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *chat.Session {
	return chat.NewSession(chat.Deps{
		Config:    cfg,
		Engine:    engine,
		Transport: mgr,
		Presence:  tracker,
		Router:    router,
		Backend:   backend,
		DB:        db,
		Status:    machine,
		Bus:       b,
		Logger:    logger,
	})
}

func registerLifecycle(lc fx.Lifecycle, sess *chat.Session, sender *outbox.Sender, mgr *transport.Manager, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sess.Start(ctx); err != nil {
				return err
			}
			sender.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(context.Context) error {
			sender.Stop()
			sess.Shutdown()
			mgr.CloseAll()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
