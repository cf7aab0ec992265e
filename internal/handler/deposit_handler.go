package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/internal/service"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

type depositService interface {
	Deposit(ctx context.Context, req service.DepositRequest, upload service.DepositUpload) (*models.Deposit, error)
	ArtifactURL(ctx context.Context, topicID string) (*models.ArtifactLink, error)
}

// DepositHandler accepts final memo documents.
type DepositHandler struct {
	deposits depositService
}

// NewDepositHandler constructs a deposit handler.
func NewDepositHandler(deposits depositService) *DepositHandler {
	return &DepositHandler{deposits: deposits}
}

// Deposit godoc
// @Summary Deposit the final memo document for a claimed topic
// @Tags Deposits
// @Accept multipart/form-data
// @Produce json
// @Param topicId formData string true "Topic ID"
// @Param credential formData string true "Deposit credential"
// @Param file formData file true "Memo PDF"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /deposits [post]
func (h *DepositHandler) Deposit(c *gin.Context) {
	req := service.DepositRequest{
		TopicID:    strings.TrimSpace(c.PostForm("topicId")),
		Credential: c.PostForm("credential"),
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	upload := service.DepositUpload{
		Reader:      src,
		Size:        fileHeader.Size,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Filename:    fileHeader.Filename,
	}
	dep, err := h.deposits.Deposit(c.Request.Context(), req, upload)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dep)
}

// Artifact godoc
// @Summary Issue a signed download link for a deposited memo
// @Tags Deposits
// @Produce json
// @Security AdminKey
// @Param topicId path string true "Topic ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /deposits/{topicId}/artifact [get]
func (h *DepositHandler) Artifact(c *gin.Context) {
	link, err := h.deposits.ArtifactURL(c.Request.Context(), c.Param("topicId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}
