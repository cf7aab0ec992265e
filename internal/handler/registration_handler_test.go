package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memo-registry-api/internal/middleware"
	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/internal/service"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

type registrationServiceMock struct {
	claimReq    service.ClaimRequest
	claimErr    error
	sessionSeen *models.ClaimSessionClaims
	topicSeen   string
	credSeen    string
}

func (m *registrationServiceMock) Claim(ctx context.Context, req service.ClaimRequest) (*models.Registration, error) {
	m.claimReq = req
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	return &models.Registration{TopicID: req.TopicID, Mode: req.Mode}, nil
}

func (m *registrationServiceMock) ClaimForSession(ctx context.Context, session *models.ClaimSessionClaims, topicID, credential string) (*models.Registration, error) {
	m.sessionSeen, m.topicSeen, m.credSeen = session, topicID, credential
	return &models.Registration{TopicID: topicID, Mode: session.Mode}, nil
}

func (m *registrationServiceMock) Preview(ctx context.Context, session *models.ClaimSessionClaims, topicID, credential string) (*models.ClaimPreview, error) {
	m.sessionSeen, m.topicSeen, m.credSeen = session, topicID, credential
	return &models.ClaimPreview{TopicID: topicID, Title: "Contract formation"}, nil
}

type sessionServiceMock struct {
	loginErr error
}

func (m *sessionServiceMock) Login(ctx context.Context, req service.VerifyRequest) (*models.ClaimSession, error) {
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.ClaimSession{Token: "tok", Mode: req.Mode, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (m *sessionServiceMock) ValidateToken(token string) (*models.ClaimSessionClaims, error) {
	if token != "tok" {
		return nil, appErrors.ErrSessionInvalid
	}
	return &models.ClaimSessionClaims{Mode: models.ClaimModeIndividual, Usernames: []string{"stu1"}}, nil
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var raw []byte
	switch v := body.(type) {
	case string:
		raw = []byte(v)
	default:
		var err error
		raw, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req, _ := http.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotNil(t, env.Error)
	return env.Error.Code
}

func TestRegistrationHandlerLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRegistrationHandler(&registrationServiceMock{}, &sessionServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/registrations/login", service.VerifyRequest{
		Mode:     models.ClaimModeIndividual,
		Students: []models.StudentLogin{{Username: "stu1", Password: "pw1"}},
	})
	h.Login(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"token":"tok"`)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/registrations/login", "not json")
	h.Login(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(t, w))
}

func TestRegistrationHandlerLoginBadCredential(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRegistrationHandler(&registrationServiceMock{}, &sessionServiceMock{loginErr: appErrors.ErrBadCredential})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/registrations/login", `{"mode":"individual","students":[{"username":"stu1","password":"x"}]}`)

	h.Login(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, appErrors.ErrBadCredential.Code, errorCode(t, w))
}

func TestRegistrationHandlerResolveRequiresSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRegistrationHandler(&registrationServiceMock{}, &sessionServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/registrations/resolve", `{"topic_id":"12","credential":"abc123"}`)

	h.Resolve(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegistrationHandlerConfirmUsesSession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &registrationServiceMock{}
	h := NewRegistrationHandler(svc, &sessionServiceMock{})
	session := &models.ClaimSessionClaims{Mode: models.ClaimModePaired, Usernames: []string{"stu1", "stu2"}}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/registrations/confirm", `{"topic_id":"12","credential":"abc123"}`)
	c.Set(middleware.ContextSessionKey, session)

	h.Confirm(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Same(t, session, svc.sessionSeen)
	assert.Equal(t, "12", svc.topicSeen)
	assert.Equal(t, "abc123", svc.credSeen)
}

func TestRegistrationHandlerConfirmRequiresCredential(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &registrationServiceMock{}
	h := NewRegistrationHandler(svc, &sessionServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, "/registrations/confirm", `{"topic_id":"12"}`)
	c.Set(middleware.ContextSessionKey, &models.ClaimSessionClaims{Mode: models.ClaimModeIndividual, Usernames: []string{"stu1"}})

	h.Confirm(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, svc.sessionSeen)
}

func TestRegistrationHandlerClaimMapsConflicts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "created", status: http.StatusCreated},
		{name: "already claimed", err: appErrors.ErrAlreadyClaimed, status: http.StatusConflict},
		{name: "student already registered", err: appErrors.Clone(appErrors.ErrConflict, "stu1 is already registered"), status: http.StatusConflict},
		{name: "partial commit", err: appErrors.ErrPartialCommit, status: http.StatusInternalServerError},
		{name: "store unavailable", err: appErrors.ErrStoreUnavailable, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &registrationServiceMock{claimErr: tt.err}
			h := NewRegistrationHandler(svc, &sessionServiceMock{})
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = jsonRequest(t, http.MethodPost, "/registrations", `{"mode":"individual","students":[{"username":"stu1","password":"pw1"}],"topic_id":"12","credential":"abc123"}`)

			h.Claim(c)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "12", svc.claimReq.TopicID)
			assert.Equal(t, "abc123", svc.claimReq.Credential)
		})
	}
}
