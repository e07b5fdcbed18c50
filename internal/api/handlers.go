package api

import (
	"net/http"

	"github.com/hai2k2yt/flowsync/internal/utils"
)

// HealthzHandler returns API health status.
func (r *Router) HealthzHandler(w http.ResponseWriter, req *http.Request) {
	if err := r.db.Health(req.Context()); err != nil {
		utils.RespondError(req.Context(), w, http.StatusServiceUnavailable, "database unhealthy")
		return
	}

	if err := r.cache.Ping(req.Context()); err != nil {
		utils.RespondError(req.Context(), w, http.StatusServiceUnavailable, "redis unhealthy")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsHandler reports live room counters for operators.
func (r *Router) StatsHandler(w http.ResponseWriter, req *http.Request) {
	utils.RespondJSON(w, http.StatusOK, r.manager.Stats())
}
