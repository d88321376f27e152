// Command edgecache is a reverse proxy that places sliding-window rate limiting
// and response caching in front of a blog API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/edgecache/internal/config"
	"github.com/Sternrassler/edgecache/internal/server"
	"github.com/Sternrassler/edgecache/pkg/cache"
	"github.com/Sternrassler/edgecache/pkg/logging"
	"github.com/Sternrassler/edgecache/pkg/middleware"
	"github.com/Sternrassler/edgecache/pkg/ratelimit"
	"github.com/Sternrassler/edgecache/pkg/store"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file (.yaml, .json or .toml)")
		envPrefix  = flag.String("env-prefix", config.DefaultEnvPrefix, "environment variable prefix")
		watch      = flag.Bool("watch", false, "reload rate limit and cache rules when the config file changes")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.NewLoader(*envPrefix, *configFile), *watch); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, loader *config.Loader, watch bool) error {
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logging.Setup(cfg.LoggingSettings())
	logger := logging.NewLogger("main")

	a, err := newApp(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Startup failed")
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("Store close failed")
		}
	}()

	if watch {
		watcher, err := loader.Watch(ctx, a.reload, func(err error) {
			logger.Warn().Err(err).Msg("Config reload rejected, keeping previous config")
		})
		if err != nil {
			logger.Error().Err(err).Msg("Config watcher setup failed")
		} else {
			defer watcher.Stop()
			logger.Info().Strs("files", loader.Files()).Msg("Watching config for changes")
		}
	}

	srv, err := server.New(cfg.Server, logging.NewLogger("server"), a.handler)
	if err != nil {
		return err
	}

	if len(cfg.Server.TrustedProxies) == 0 {
		logger.Warn().
			Str("header", cfg.Server.IdentityHeader).
			Msg("server.trustedProxies is empty: identity header is trusted from every client")
	}

	logger.Info().
		Str("upstream", cfg.Server.Upstream).
		Str("store_driver", cfg.Store.Driver).
		Bool("rate_limit", a.limiter != nil).
		Bool("cache", a.cache != nil).
		Msg("edgecache starting")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("Server terminated unexpectedly")
		return err
	}

	logger.Info().Msg("Server shutdown complete")
	return nil
}

// app holds the wired components of one proxy instance.
type app struct {
	store    store.Store
	limiter  *ratelimit.Limiter
	cache    *cache.Manager
	pipeline *middleware.Pipeline
	handler  http.Handler
	logger   zerolog.Logger
}

func newApp(cfg config.Config) (*app, error) {
	upstream, err := url.Parse(cfg.Server.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}

	a := &app{
		store:  openStore(cfg.StoreSettings(), logging.NewLogger("store")),
		logger: logging.NewLogger("main"),
	}

	if cfg.RateLimit.Enabled {
		a.limiter, err = ratelimit.NewLimiter(a.store, cfg.Policy(), logging.NewLogger("ratelimit"))
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
	}
	if cfg.Cache.Enabled {
		a.cache = cache.NewManager(a.store, cache.Config{Namespace: cfg.Cache.Namespace}, logging.NewLogger("cache"))
	}

	a.pipeline, err = middleware.New(a.limiter, a.cache, cfg.Rules(), logging.NewLogger("middleware"))
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}

	a.handler, err = server.NewHandler(server.Routes{
		Pipeline:      a.pipeline,
		Upstream:      server.NewProxy(upstream, logging.NewLogger("proxy")),
		Authenticator: cfg.Authenticator(),
		Store:         a.store,
		Cache:         a.cache,
		Admin:         cfg.Admin.Enabled,
		Logger:        logging.NewLogger("admin"),
	})
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	return a, nil
}

// openStore connects to the configured store. A store that cannot be set up
// is replaced by an offline one so the proxy keeps serving uncached and
// unlimited.
func openStore(cfg store.Config, logger zerolog.Logger) store.Store {
	s, err := store.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Str("address", cfg.Address).Msg("Store setup failed, running without cache and rate limits")
		return store.NewOffline()
	}
	return s
}

// reload applies the hot-reloadable parts of cfg. Components that were
// disabled at startup stay disabled until restart.
func (a *app) reload(cfg config.Config) {
	logging.SetLevel(logging.LogLevel(cfg.Logging.Level))

	if a.limiter != nil {
		if err := a.limiter.UpdatePolicy(cfg.Policy()); err != nil {
			a.logger.Warn().Err(err).Msg("Rate limit policy not applied")
		}
	} else if cfg.RateLimit.Enabled {
		a.logger.Warn().Msg("Enabling rate limiting requires a restart")
	}
	if a.cache == nil && cfg.Cache.Enabled {
		a.logger.Warn().Msg("Enabling the cache requires a restart")
	}

	if err := a.pipeline.UpdateRules(cfg.Rules()); err != nil {
		a.logger.Warn().Err(err).Msg("Middleware rules not applied")
	}
}

func (a *app) Close() error {
	return a.store.Close()
}
