package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hai2k2yt/flowsync/internal/auth"
	"github.com/hai2k2yt/flowsync/internal/cache"
	"github.com/hai2k2yt/flowsync/internal/config"
	"github.com/hai2k2yt/flowsync/internal/db"
	"github.com/hai2k2yt/flowsync/internal/middleware"
	"github.com/hai2k2yt/flowsync/internal/rooms"
	"github.com/hai2k2yt/flowsync/internal/utils"
)

type Router struct {
	mux     *http.ServeMux
	db      *db.Database
	cache   *cache.Cache
	manager *rooms.Manager
	oracle  *auth.Oracle
	cfg     *config.Config
	log     *utils.Logger
}

// NewRouter creates the HTTP router with configured handlers and middleware.
// All collaboration traffic flows over /ws; the rest is diagnostics.
func NewRouter(database *db.Database, redisCache *cache.Cache, manager *rooms.Manager, oracle *auth.Oracle, cfg *config.Config, logger *utils.Logger) http.Handler {
	rateLimiter := middleware.NewRateLimiter(redisCache.GetClient())

	r := &Router{
		mux:     http.NewServeMux(),
		db:      database,
		cache:   redisCache,
		manager: manager,
		oracle:  oracle,
		cfg:     cfg,
		log:     logger,
	}

	// Apply Request ID middleware to all requests
	routerWithMiddleware := middleware.RequestIDMiddleware(r.mux)

	// Apply Tracing middleware to all requests after Request ID
	routerWithMiddleware = middleware.TracingMiddleware(routerWithMiddleware)

	r.mux.HandleFunc("/healthz", r.HealthzHandler)
	r.mux.HandleFunc("/stats", r.StatsHandler)
	r.mux.Handle("/metrics", promhttp.Handler()) // Prometheus metrics endpoint

	// Upgrades are limited per client IP; joining happens over the socket
	// itself, so no auth gate here.
	r.mux.Handle("/ws", rateLimiter.Middleware(http.HandlerFunc(r.WebSocketHandler)))

	return routerWithMiddleware
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
