package handlers

import (
	"context"

	"github.com/fasthttp/router"
	xhttp "github.com/takoyadon/loyalty-ledger/pkg/http"
	"github.com/takoyadon/loyalty-ledger/pkg/prom"
)

type HealthService interface {
	Ready(ctx context.Context) map[string]error
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(r *router.Router, h *HealthHandler) {
	r.GET("/health/live", h.Live)
	r.GET("/health/ready", h.Ready)
	r.GET("/metrics", prom.Handler())
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) Live(ctx *xhttp.RequestCtx) {
	writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Ready(ctx *xhttp.RequestCtx) {
	failed := h.svc.Ready(ctx)
	if len(failed) == 0 {
		writeJSON(ctx, xhttp.StatusOK, map[string]string{"status": "ok"})
		return
	}
	checks := make(map[string]string, len(failed))
	for name, err := range failed {
		checks[name] = err.Error()
	}
	writeJSON(ctx, xhttp.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": checks})
}
