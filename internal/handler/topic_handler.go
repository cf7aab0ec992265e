package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/models"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

type topicLister interface {
	List(ctx context.Context, filter models.TopicFilter) ([]models.Topic, *models.Pagination, error)
}

// TopicHandler lists topics for display. Credentials never leave the service.
type TopicHandler struct {
	topics topicLister
}

// NewTopicHandler constructs a topic handler.
func NewTopicHandler(topics topicLister) *TopicHandler {
	return &TopicHandler{topics: topics}
}

// List godoc
// @Summary List memo topics
// @Tags Topics
// @Produce json
// @Param specialty query string false "Specialty"
// @Param supervisor query string false "Supervisor name"
// @Param available query bool false "Only unclaimed topics"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /topics [get]
func (h *TopicHandler) List(c *gin.Context) {
	filter := models.TopicFilter{
		Specialty:  strings.TrimSpace(c.Query("specialty")),
		Supervisor: strings.TrimSpace(c.Query("supervisor")),
	}
	if raw := c.Query("available"); raw != "" {
		available, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "available must be a boolean"))
			return
		}
		filter.Available = &available
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}

	topics, pagination, err := h.topics.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, topics, pagination)
}
