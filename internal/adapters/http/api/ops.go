package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/rollcall/pkg/metrics"
)

// StatsProvider reports runtime counters for GET /stats.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// OpsHandler serves the operational endpoints. Liveness is answered by a
// Prometheus scrape of the process registry.
type OpsHandler struct {
	scrape http.Handler
	stats  StatsProvider
}

// NewOpsHandler builds the operational handlers around stats, which may be nil.
func NewOpsHandler(stats StatsProvider) *OpsHandler {
	return &OpsHandler{
		scrape: promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}),
		stats:  stats,
	}
}

// Healthz handles GET /healthz.
func (h *OpsHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	h.scrape.ServeHTTP(w, r)
}

// Stats handles GET /stats.
func (h *OpsHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{}
	if h.stats != nil {
		body = h.stats.GetStats()
	}
	writeJSON(w, http.StatusOK, body)
}
