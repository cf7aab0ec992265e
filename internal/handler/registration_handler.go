package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/memo-registry-api/internal/dto"
	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/internal/service"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
	"github.com/noah-isme/memo-registry-api/pkg/response"
)

type registrationService interface {
	Claim(ctx context.Context, req service.ClaimRequest) (*models.Registration, error)
	ClaimForSession(ctx context.Context, session *models.ClaimSessionClaims, topicID, credential string) (*models.Registration, error)
	Preview(ctx context.Context, session *models.ClaimSessionClaims, topicID, credential string) (*models.ClaimPreview, error)
}

type sessionIssuer interface {
	Login(ctx context.Context, req service.VerifyRequest) (*models.ClaimSession, error)
}

// RegistrationHandler exposes the topic claim flow.
type RegistrationHandler struct {
	registrations registrationService
	sessions      sessionIssuer
}

// NewRegistrationHandler constructs a registration handler.
func NewRegistrationHandler(registrations registrationService, sessions sessionIssuer) *RegistrationHandler {
	return &RegistrationHandler{registrations: registrations, sessions: sessions}
}

// Login godoc
// @Summary Verify student identities and open a claim session
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.VerifyRequest true "Student logins"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations/login [post]
func (h *RegistrationHandler) Login(c *gin.Context) {
	var req service.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	session, err := h.sessions.Login(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// Resolve godoc
// @Summary Preview the topic a credential resolves to
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ClaimTargetRequest true "Topic and credential"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /registrations/resolve [post]
func (h *RegistrationHandler) Resolve(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrSessionInvalid)
		return
	}
	var req dto.ClaimTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid claim payload"))
		return
	}
	preview, err := h.registrations.Preview(c.Request.Context(), session, req.TopicID, req.Credential)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, preview, nil)
}

// Confirm godoc
// @Summary Commit the claim for the session's students
// @Tags Registrations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.ClaimTargetRequest true "Topic and credential"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 500 {object} response.Envelope
// @Router /registrations/confirm [post]
func (h *RegistrationHandler) Confirm(c *gin.Context) {
	session := sessionFromContext(c)
	if session == nil {
		response.Error(c, appErrors.ErrSessionInvalid)
		return
	}
	var req dto.ClaimTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid claim payload"))
		return
	}
	reg, err := h.registrations.ClaimForSession(c.Request.Context(), session, req.TopicID, req.Credential)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reg)
}

// Claim godoc
// @Summary Verify students and claim a topic in one request
// @Tags Registrations
// @Accept json
// @Produce json
// @Param payload body service.ClaimRequest true "Logins and credential"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /registrations [post]
func (h *RegistrationHandler) Claim(c *gin.Context) {
	var req service.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid claim payload"))
		return
	}
	reg, err := h.registrations.Claim(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reg)
}
