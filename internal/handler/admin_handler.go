package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/dto"
	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/internal/service"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

type reconciler interface {
	Report(ctx context.Context) (*models.ReconciliationReport, error)
}

type topicExporter interface {
	Export(ctx context.Context, format string) (*service.ExportFile, error)
}

type cacheInvalidator interface {
	Invalidate(ctx context.Context, tables ...string) error
}

type systemMetrics interface {
	Snapshot() models.SystemMetrics
}

// AdminHandler groups operator endpoints behind the admin key.
type AdminHandler struct {
	reconciliation reconciler
	topics         topicExporter
	cache          cacheInvalidator
	metrics        systemMetrics
}

// NewAdminHandler constructs an admin handler.
func NewAdminHandler(reconciliation reconciler, topics topicExporter, cache cacheInvalidator, metrics systemMetrics) *AdminHandler {
	return &AdminHandler{reconciliation: reconciliation, topics: topics, cache: cache, metrics: metrics}
}

// Reconciliation godoc
// @Summary Cross-check the topic, mirror and student ledgers
// @Tags Admin
// @Produce json
// @Security AdminKey
// @Success 200 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /admin/reconciliation [get]
func (h *AdminHandler) Reconciliation(c *gin.Context) {
	report, err := h.reconciliation.Report(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil, map[string]interface{}{
		"consistent": report.Consistent(),
	})
}

// ExportTopics godoc
// @Summary Export the topic ledger
// @Tags Admin
// @Produce text/csv
// @Produce application/pdf
// @Security AdminKey
// @Param format query string false "csv or pdf"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /admin/topics/export [get]
func (h *AdminHandler) ExportTopics(c *gin.Context) {
	format := strings.ToLower(strings.TrimSpace(c.DefaultQuery("format", service.ExportFormatCSV)))
	file, err := h.topics.Export(c.Request.Context(), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// InvalidateCache godoc
// @Summary Drop cached ledger reads
// @Tags Admin
// @Accept json
// @Security AdminKey
// @Param payload body dto.CacheInvalidateRequest false "Tables to invalidate"
// @Success 204
// @Router /admin/cache/invalidate [post]
func (h *AdminHandler) InvalidateCache(c *gin.Context) {
	var req dto.CacheInvalidateRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid invalidation payload"))
			return
		}
	}
	if err := h.cache.Invalidate(c.Request.Context(), req.Tables...); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// System godoc
// @Summary Show process and coordination counters
// @Tags Admin
// @Produce json
// @Security AdminKey
// @Success 200 {object} response.Envelope
// @Router /admin/system [get]
func (h *AdminHandler) System(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.metrics.Snapshot(), nil)
}
