// Package daemon composes the chatd client engine with fx.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/craftlance/relay/internal/bus"
	"github.com/craftlance/relay/internal/composer"
	"github.com/craftlance/relay/internal/config"
	"github.com/craftlance/relay/internal/engine"
	"github.com/craftlance/relay/internal/lock"
	"github.com/craftlance/relay/internal/logging"
	"github.com/craftlance/relay/internal/profile"
	"github.com/craftlance/relay/internal/rest"
	"github.com/craftlance/relay/internal/status"
	"github.com/craftlance/relay/internal/transport"
	"github.com/craftlance/relay/internal/upload"
)

// Params holds the resolved invocation passed to the fx module.
type Params struct {
	Profile string
	UserID  string
	Token   string
	// ConfigPath overrides the profile config location (testing).
	ConfigPath string
}

// Module returns the fx module for chatd, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatd",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMachine,
			provideLock,
			provideBackend,
			provideUploader,
			provideSession,
			provideComposer,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath(p.Profile)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideBackend(p Params, cfg *config.Config) *rest.Client {
	return rest.NewClient(cfg.APIBaseURL, p.Token)
}

func provideUploader(p Params, cfg *config.Config) *upload.Uploader {
	return upload.New(cfg.APIBaseURL+"/upload", p.Token, cfg.Upload)
}

func provideSession(p Params, cfg *config.Config, m *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Session {
	return transport.NewSession(cfg.RelayURL, p.UserID, p.Token, cfg.Retry, m, b, logger)
}

func provideComposer(p Params, sess *transport.Session, up *upload.Uploader) *composer.Composer {
	return composer.New(p.UserID, sess, up)
}

func provideEngine(p Params, sess *transport.Session, backend *rest.Client, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.New(p.UserID, sess, backend, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, sess *transport.Session, eng *engine.Engine, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sess.Connect(ctx); err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				_ = sess.Close()
				return err
			}
			logger.Info("engine started",
				zap.String("user", sess.UserID()),
				zap.Int("contacts", len(eng.Contacts())))
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := eng.Stop(); err != nil {
				logger.Warn("error stopping engine", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("chatd stopped")
			return nil
		},
	})
}
