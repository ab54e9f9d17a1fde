// Package app wires the server runtime: config, logging, the credential
// store, the auth surface, the page surface, and the chat gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/identity"
	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/auth/token"
	"parley/cmd/internal/observe"
	"parley/cmd/internal/realtime"
	"parley/cmd/internal/web"
	"parley/cmd/security/emailcrypto"
)

// App is the server runtime: it owns the HTTP server and every surface
// mounted on it.
type App struct {
	cfg Config
	log Logger

	store     identity.Store
	pool      *pgxpool.Pool
	dbEnabled bool

	metrics *observe.Metrics
	auth    *authapi.Handler
	pages   *web.Handler
	ws      *realtime.WSGateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	crypto, err := emailcrypto.FromEnv()
	if err != nil {
		return nil, err
	}
	tokens, err := token.FromEnv()
	if err != nil {
		return nil, err
	}

	store, pool, dbEnabled, err := newIdentityStore(context.Background(), cfg, log, crypto)
	if err != nil {
		return nil, err
	}

	metrics := observe.NewMetrics()

	auth, err := authapi.NewHandler(log, authapi.LoadConfigFromEnv(), store, tokens, crypto,
		authapi.WithMetrics(metrics))
	if err != nil {
		closePool(pool)
		return nil, err
	}

	pages, err := web.NewHandler(log, auth)
	if err != nil {
		closePool(pool)
		return nil, err
	}

	ws, err := realtime.NewWSGateway(log, auth.Authority(), realtime.ScriptedAssistant{},
		realtime.WithGatewayMetrics(metrics))
	if err != nil {
		closePool(pool)
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		pool:      pool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		auth:      auth,
		pages:     pages,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.pool, a.dbEnabled, a.metrics, a.auth, a.pages, a.ws)

	var handler http.Handler = mux
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	closePool(a.pool)

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func closePool(pool *pgxpool.Pool) {
	if pool != nil {
		pool.Close()
	}
}

// newIdentityStore decides between Postgres-backed persistence and the
// in-memory dev store.
func newIdentityStore(ctx context.Context, cfg Config, log Logger, crypto *emailcrypto.Crypto) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		store, err := identity.NewMemoryStore(crypto)
		if err != nil {
			return nil, nil, false, err
		}
		return store, nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := identity.NewPostgresStore(pool, crypto, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}
