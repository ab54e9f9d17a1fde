package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	authapi "parley/cmd/internal/auth/api"
	"parley/cmd/internal/observe"
	"parley/cmd/internal/realtime"
	"parley/cmd/internal/web"
)

const readinessPingTimeout = 2 * time.Second

// registerHTTP mounts every surface on the mux: liveness and readiness
// probes, Prometheus metrics, the JSON auth API, the HTML pages, and the
// chat websocket.
func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, pool *pgxpool.Pool, dbEnabled bool, metrics *observe.Metrics, auth *authapi.Handler, pages *web.Handler, ws *realtime.WSGateway) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if cfg.ReadinessRequireDB && dbEnabled {
			if err := PingDB(r.Context(), pool, readinessPingTimeout); err != nil {
				log.Warn("readyz.db.fail", "err", err)
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db unavailable\n"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	auth.Register(mux)
	pages.Register(mux)
	mux.HandleFunc("GET /ws", ws.HandleWS)
}
