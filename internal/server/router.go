package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/edgecache/pkg/cache"
	"github.com/Sternrassler/edgecache/pkg/identity"
	"github.com/Sternrassler/edgecache/pkg/metrics"
	"github.com/Sternrassler/edgecache/pkg/middleware"
	"github.com/Sternrassler/edgecache/pkg/store"
)

// Routes collects what the router dispatches to.
type Routes struct {
	// Pipeline wraps Upstream. Required.
	Pipeline *middleware.Pipeline

	// Upstream serves the API behind the pipeline. Required.
	Upstream http.Handler

	// Authenticator resolves the caller before the pipeline runs. Nil means
	// every request is anonymous.
	Authenticator identity.Authenticator

	// Store backs the health report.
	Store store.Store

	// Cache backs the admin endpoints. Nil disables them.
	Cache *cache.Manager

	// Admin enables the cache administration endpoints.
	Admin bool

	Logger zerolog.Logger
}

// HealthStatus is the body of GET /health.
type HealthStatus struct {
	Status string    `json:"status"`
	Store  string    `json:"store"`
	Time   time.Time `json:"time"`
}

// NewHandler builds the top-level handler:
//
//	GET    /health             liveness and store reachability
//	GET    /metrics            Prometheus metrics
//	GET    /admin/cache/stats  cache statistics (admin only)
//	DELETE /admin/cache        clear cache entries by ?pattern= (admin only)
//	*      /                   pipeline in front of the upstream API
func NewHandler(r Routes) (http.Handler, error) {
	if r.Pipeline == nil || r.Upstream == nil {
		return nil, errors.New("server: pipeline and upstream required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", r.health)
	mux.Handle("GET /metrics", metrics.Handler())

	if r.Admin && r.Cache != nil {
		mux.HandleFunc("GET /admin/cache/stats", r.cacheStats)
		mux.HandleFunc("DELETE /admin/cache", r.cacheClear)
	}

	api := r.Pipeline.Handler(r.Upstream)
	if r.Authenticator != nil {
		api = identity.Middleware(r.Authenticator)(api)
	}
	mux.Handle("/", api)

	return mux, nil
}

func (r Routes) health(w http.ResponseWriter, req *http.Request) {
	status := HealthStatus{Status: "ok", Store: "up", Time: time.Now().UTC()}
	if r.Store == nil || !r.Store.Ping(req.Context()) {
		status.Status = "degraded"
		status.Store = "down"
	}
	writeJSON(w, http.StatusOK, status)
}

func (r Routes) cacheStats(w http.ResponseWriter, req *http.Request) {
	stats, err := r.Cache.Stats(req.Context())
	if err != nil {
		r.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ClearResult is the body of DELETE /admin/cache.
type ClearResult struct {
	Pattern string `json:"pattern"`
	Deleted int64  `json:"deleted"`
}

func (r Routes) cacheClear(w http.ResponseWriter, req *http.Request) {
	pattern := req.URL.Query().Get("pattern")
	if pattern == "" {
		pattern = "*"
	}
	deleted, err := r.Cache.Clear(req.Context(), pattern)
	if err != nil {
		r.adminError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResult{Pattern: pattern, Deleted: deleted})
}

func (r Routes) adminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cache.ErrInvalidPattern):
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error(), Type: "invalid_pattern"})
	case errors.Is(err, store.ErrUnavailable):
		r.Logger.Warn().Err(err).Msg("Cache admin request failed")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Detail: "Cache store unavailable", Type: "store_unavailable"})
	default:
		r.Logger.Error().Err(err).Msg("Cache admin request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Internal error", Type: "internal"})
	}
}
