package handler

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

type tokenParser interface {
	Parse(token string, allowExpired bool) (resourceID, relPath string, expiresAt time.Time, err error)
}

type fileOpener interface {
	Open(filename string) (*os.File, error)
}

// FileHandler serves stored deposits and receipts through signed tokens.
type FileHandler struct {
	signer tokenParser
	files  fileOpener
}

// NewFileHandler constructs a file handler.
func NewFileHandler(signer tokenParser, files fileOpener) *FileHandler {
	return &FileHandler{signer: signer, files: files}
}

// Artifact godoc
// @Summary Download a deposited memo via signed token
// @Tags Files
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /files/{token} [get]
func (h *FileHandler) Artifact(c *gin.Context) {
	h.serve(c, "deposits/")
}

// Receipt godoc
// @Summary Download a registration or deposit receipt via signed token
// @Tags Files
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /receipts/{token} [get]
func (h *FileHandler) Receipt(c *gin.Context) {
	h.serve(c, "receipts/")
}

// serve only honours tokens whose stored path lives under prefix, so an
// artifact token cannot be replayed against receipts and vice versa.
func (h *FileHandler) serve(c *gin.Context, prefix string) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	_, relPath, _, err := h.signer.Parse(token, false)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "invalid or expired link"))
		return
	}
	if !strings.HasPrefix(relPath, prefix) {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired link"))
		return
	}
	file, err := h.files.Open(relPath)
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "file not found"))
		return
	}
	defer file.Close() //nolint:errcheck
	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file"))
		return
	}
	response.AttachmentFromReader(c, path.Base(relPath), "application/pdf", info.Size(), file)
}
