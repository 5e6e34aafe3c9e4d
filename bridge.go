// Package sessionbridge wires the session service, edge middleware and
// session endpoints into one http.Handler in front of an application.
package sessionbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lukaszraczylo/sessionbridge/config"
	"github.com/lukaszraczylo/sessionbridge/handlers"
	"github.com/lukaszraczylo/sessionbridge/internal/bypass"
	"github.com/lukaszraczylo/sessionbridge/internal/cookie"
	"github.com/lukaszraczylo/sessionbridge/internal/guard"
	"github.com/lukaszraczylo/sessionbridge/internal/logger"
	"github.com/lukaszraczylo/sessionbridge/internal/metrics"
	"github.com/lukaszraczylo/sessionbridge/internal/profile"
	"github.com/lukaszraczylo/sessionbridge/internal/provider"
	"github.com/lukaszraczylo/sessionbridge/internal/revocation"
	"github.com/lukaszraczylo/sessionbridge/internal/security"
	"github.com/lukaszraczylo/sessionbridge/middleware"
	"github.com/lukaszraczylo/sessionbridge/session"
)

// Endpoint paths served by the bridge itself.
const (
	SessionPath = "/api/auth/session"
	BypassPath  = "/api/auth/bypass"
)

// revocationCleanupInterval is how often the in-memory store drops expired entries.
const revocationCleanupInterval = 5 * time.Minute

// Bridge is the assembled session bridge.
type Bridge struct {
	name        string
	cfg         *config.Config
	logger      logger.Logger
	metrics     *metrics.Recorder
	provider    *provider.Client
	revocations revocation.Store
	profiles    profile.Directory
	service     *session.Service
	guard       *guard.Guard
	handler     http.Handler

	cancelFunc   context.CancelFunc
	shutdownOnce sync.Once
}

type options struct {
	logger     logger.Logger
	registry   prometheus.Registerer
	httpClient *http.Client
}

// Option customises New.
type Option func(*options)

// WithLogger sets the logger. The default is built from the log config.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRegistry sets the Prometheus registerer for the bridge metrics.
func WithRegistry(r prometheus.Registerer) Option {
	return func(o *options) { o.registry = r }
}

// WithHTTPClient overrides the provider HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New creates a bridge that guards next. ctx bounds background work and the
// connection checks performed during construction.
func New(ctx context.Context, next http.Handler, cfg *config.Config, name string, opts ...Option) (*Bridge, error) {
	if cfg == nil {
		return nil, errors.New("sessionbridge: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	o := options{registry: prometheus.NewRegistry()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	log := o.logger.WithField("bridge", name)

	for _, warning := range cfg.Warnings() {
		log.Infof("Configuration warning: %s", warning)
	}

	policy, err := guard.NewRoutePolicy(cfg.Routes.PolicyConfig)
	if err != nil {
		return nil, fmt.Errorf("sessionbridge: route policy: %w", err)
	}
	if missing := policy.Verify(cfg.Routes.Known); len(missing) > 0 {
		return nil, fmt.Errorf("sessionbridge: routes without classification: %v", missing)
	}

	bridgeCtx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		name:       name,
		cfg:        cfg,
		logger:     log,
		metrics:    metrics.New(metrics.WithRegistry(o.registry)),
		cancelFunc: cancel,
	}

	if err := b.init(bridgeCtx, next, policy, o); err != nil {
		_ = b.Close() // Safe to ignore: reporting the init error
		return nil, err
	}
	return b, nil
}

func (b *Bridge) init(ctx context.Context, next http.Handler, policy *guard.RoutePolicy, o options) error {
	cfg := b.cfg

	client, err := provider.NewClient(provider.Config{
		BaseURL:            cfg.Provider.URL,
		AnonKey:            cfg.Provider.AnonKey,
		Timeout:            cfg.Provider.Timeout,
		RateLimit:          cfg.Provider.RateLimit,
		RateBurst:          cfg.Provider.RateBurst,
		BreakerFailures:    cfg.Provider.BreakerFailures,
		BreakerOpenTimeout: cfg.Provider.BreakerOpenTimeout,
		HTTPClient:         o.httpClient,
		Observer:           b.metrics,
	})
	if err != nil {
		return err
	}
	b.provider = client

	if err := b.initRevocations(ctx); err != nil {
		return err
	}
	if err := b.initProfiles(ctx); err != nil {
		return err
	}

	bypassService := bypass.New(bypass.Config{
		Environment:   cfg.Environment,
		ExplicitOptIn: cfg.Bypass.Enabled,
		Lifetime:      cfg.Bypass.Lifetime,
	})
	if bypassService.IsEnabled() {
		b.logger.Infof("Auth bypass is enabled (environment %s)", cfg.Environment)
	}

	b.service, err = session.New(session.Config{
		Provider:         client,
		Revocations:      b.revocations,
		Bypass:           bypassService,
		Profiles:         b.profiles,
		JWTSecret:        cfg.Provider.JWTSecret,
		RefreshThreshold: cfg.Session.RefreshThreshold,
		Logger:           b.logger,
		Metrics:          b.metrics,
	})
	if err != nil {
		return err
	}

	b.guard = guard.New(policy, b.metrics)
	codec := cookie.NewCodec(cookie.Config{
		Domain:              cfg.Cookies.Domain,
		Secure:              cfg.SecureCookies(),
		AccessTokenReadable: cfg.Cookies.AccessTokenReadable,
	})

	headersConfig := security.DefaultHeadersConfig()
	headersConfig.CORSAllowedOrigins = cfg.CORS.Origins
	headersConfig.CORSAllowCredentials = cfg.CORS.AllowCredentials
	headers := security.NewHeaders(headersConfig)

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle(SessionPath, handlers.NewSessionHandler(logger.Component(b.logger, "session-endpoint"), b.service, codec, headers))
	r.Handle(BypassPath, handlers.NewBypassHandler(logger.Component(b.logger, "bypass-endpoint"), bypassService, codec))
	r.Handle("/*", middleware.NewAuthMiddleware(logger.Component(b.logger, "middleware"), next, b.service, b.guard, codec))
	b.handler = r

	return nil
}

func (b *Bridge) initRevocations(ctx context.Context) error {
	if b.cfg.Redis.URL == "" {
		store := revocation.NewMemoryStore(0,
			revocation.WithLogger(logger.Component(b.logger, "revocation")),
			revocation.WithEvictionRecorder(b.metrics),
		)
		go store.Run(ctx, revocationCleanupInterval)
		b.revocations = store
		return nil
	}

	store, err := revocation.NewRedisStoreFromURL(ctx, b.cfg.Redis.URL, b.cfg.Redis.KeyPrefix)
	if err != nil {
		return fmt.Errorf("sessionbridge: revocation store: %w", err)
	}
	b.revocations = store
	b.logger.Info("Using Redis revocation store")
	return nil
}

func (b *Bridge) initProfiles(ctx context.Context) error {
	if b.cfg.Database.URL == "" {
		b.profiles = profile.NewMemoryDirectory()
		return nil
	}

	dir, err := profile.OpenPostgres(ctx, b.cfg.Database.URL, profile.PoolConfig{
		MaxOpenConns:    b.cfg.Database.MaxOpenConns,
		MaxIdleConns:    b.cfg.Database.MaxIdleConns,
		ConnMaxLifetime: b.cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("sessionbridge: profile directory: %w", err)
	}
	b.profiles = dir
	b.logger.Info("Using PostgreSQL profile directory")
	return nil
}

// ServeHTTP routes session endpoints to their handlers and everything else
// through the auth middleware.
func (b *Bridge) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	b.handler.ServeHTTP(rw, req)
}

// Service returns the session service for server-side callers.
func (b *Bridge) Service() *session.Service {
	return b.service
}

// Metrics returns the bridge metrics recorder.
func (b *Bridge) Metrics() *metrics.Recorder {
	return b.metrics
}

// Ready reports whether the bridge's backing stores are reachable and the
// provider circuit is not open.
func (b *Bridge) Ready(ctx context.Context) error {
	type pinger interface {
		Ping(ctx context.Context) error
	}
	if p, ok := b.revocations.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("revocation store: %w", err)
		}
	}
	if p, ok := b.profiles.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("profile directory: %w", err)
		}
	}
	if state := b.provider.BreakerState(); state == "open" {
		return fmt.Errorf("provider circuit is %s", state)
	}
	return nil
}

// Close stops background work and releases store connections.
func (b *Bridge) Close() error {
	var errs []error
	b.shutdownOnce.Do(func() {
		if b.cancelFunc != nil {
			b.cancelFunc()
		}
		if b.revocations != nil {
			if err := b.revocations.Close(); err != nil {
				errs = append(errs, fmt.Errorf("revocation store: %w", err))
			}
		}
		if c, ok := b.profiles.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("profile directory: %w", err))
			}
		}
		b.logger.Debug("Session bridge closed")
	})
	return errors.Join(errs...)
}
