// Package ops serves the operational HTTP surface: health, depth reads,
// replication status, promotion, and prometheus metrics. Order entry stays
// on gRPC; nothing here mutates a book except promotion.
package ops

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vidar/engine"
	"vidar/infra/metrics"
	"vidar/replication"
)

type Options struct {
	Engine   *engine.Engine
	Follower *replication.Follower // nil on a primary
	Promote  func() error          // nil when promotion is not available
	Metrics  *metrics.Set
	Log      *zap.Logger
}

func Router(o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		code := http.StatusOK
		if o.Engine.Halted() {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"role":     o.Engine.Role().String(),
			"halted":   o.Engine.Halted(),
			"last_lsn": o.Engine.LastLSN(),
		})
	})

	r.Get("/v1/symbols", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"symbols": o.Engine.Symbols()})
	})

	r.Get("/v1/depth/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		d := o.Engine.Depth(chi.URLParam(req, "symbol"))
		if d == nil {
			http.Error(w, "unknown symbol", http.StatusNotFound)
			return
		}
		if s := req.URL.Query().Get("levels"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				http.Error(w, "bad levels", http.StatusBadRequest)
				return
			}
			trimmed := *d
			if len(trimmed.Bids) > n {
				trimmed.Bids = trimmed.Bids[:n]
			}
			if len(trimmed.Asks) > n {
				trimmed.Asks = trimmed.Asks[:n]
			}
			d = &trimmed
		}
		writeJSON(w, http.StatusOK, d)
	})

	r.Get("/v1/replication", func(w http.ResponseWriter, _ *http.Request) {
		if o.Follower != nil {
			writeJSON(w, http.StatusOK, o.Follower.Status())
			return
		}
		writeJSON(w, http.StatusOK, replication.Status{
			LastApplied: o.Engine.LastLSN(),
			PrimaryLSN:  o.Engine.LastLSN(),
		})
	})

	r.Post("/v1/promote", func(w http.ResponseWriter, _ *http.Request) {
		if o.Engine.Role() == engine.RolePrimary {
			http.Error(w, "already primary", http.StatusConflict)
			return
		}
		if o.Promote == nil {
			http.Error(w, "promotion not configured", http.StatusNotImplemented)
			return
		}
		if err := o.Promote(); err != nil {
			o.Log.Error("promotion failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		o.Log.Info("promotion requested via ops api")
		writeJSON(w, http.StatusOK, map[string]any{
			"role":     o.Engine.Role().String(),
			"last_lsn": o.Engine.LastLSN(),
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
