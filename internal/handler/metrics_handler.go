package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/dto"
)

type metricsExporter interface {
	Handler() http.Handler
}

type ledgerPinger interface {
	Ping(ctx context.Context) error
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics metricsExporter
	ledger  ledgerPinger
	timeout time.Duration
}

// NewMetricsHandler constructs a metrics handler. ledger may be nil, in which
// case readiness mirrors liveness.
func NewMetricsHandler(metrics metricsExporter, ledger ledgerPinger) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, ledger: ledger, timeout: 3 * time.Second}
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health responds with a generic OK payload for liveness usage.
func (h *MetricsHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.ServiceStatus{Status: "ok"})
}

// Ready reports whether the ledger store answers a read.
func (h *MetricsHandler) Ready(c *gin.Context) {
	if h.ledger == nil {
		c.JSON(http.StatusOK, dto.ServiceStatus{Status: "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	if err := h.ledger.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ServiceStatus{
			Status: "unavailable",
			Checks: map[string]string{"ledger": err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, dto.ServiceStatus{Status: "ready", Checks: map[string]string{"ledger": "ok"}})
}
