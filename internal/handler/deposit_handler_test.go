package handler

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memo-registry-api/internal/models"
	"github.com/noah-isme/memo-registry-api/internal/service"
	appErrors "github.com/noah-isme/memo-registry-api/pkg/errors"
)

type depositServiceMock struct {
	req  service.DepositRequest
	body string
	err  error
}

func (m *depositServiceMock) Deposit(ctx context.Context, req service.DepositRequest, upload service.DepositUpload) (*models.Deposit, error) {
	m.req = req
	raw, _ := io.ReadAll(upload.Reader)
	m.body = string(raw)
	if m.err != nil {
		return nil, m.err
	}
	return &models.Deposit{TopicID: req.TopicID, ArtifactRef: "deposits/memo_" + req.TopicID + ".pdf", SizeBytes: upload.Size}, nil
}

func (m *depositServiceMock) ArtifactURL(ctx context.Context, topicID string) (*models.ArtifactLink, error) {
	if topicID != "12" {
		return nil, appErrors.ErrNotFound
	}
	return &models.ArtifactLink{TopicID: topicID, URL: "/api/v1/files/t"}, nil
}

func multipartDeposit(t *testing.T, fields map[string]string, file string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != "" {
		part, err := mw.CreateFormFile("file", "memo.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte(file))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req, _ := http.NewRequest(http.MethodPost, "/deposits", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestDepositHandlerForwardsUpload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &depositServiceMock{}
	h := NewDepositHandler(svc)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartDeposit(t, map[string]string{"topicId": " 12 ", "credential": "dep12"}, "%PDF-1.4 body")

	h.Deposit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, service.DepositRequest{TopicID: "12", Credential: "dep12"}, svc.req)
	assert.Equal(t, "%PDF-1.4 body", svc.body)
	assert.Contains(t, w.Body.String(), `"artifact_ref":"deposits/memo_12.pdf"`)
}

func TestDepositHandlerRequiresFile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &depositServiceMock{}
	h := NewDepositHandler(svc)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartDeposit(t, map[string]string{"topicId": "12", "credential": "dep12"}, "")

	h.Deposit(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.req.TopicID)
}

func TestDepositHandlerAlreadyDeposited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDepositHandler(&depositServiceMock{err: appErrors.ErrAlreadyDeposited})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = multipartDeposit(t, map[string]string{"topicId": "12", "credential": "dep12"}, "%PDF-1.4")

	h.Deposit(c)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, appErrors.ErrAlreadyDeposited.Code, errorCode(t, w))
}

func TestDepositHandlerArtifact(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewDepositHandler(&depositServiceMock{})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/deposits/12/artifact", nil)
	c.Params = gin.Params{{Key: "topicId", Value: "12"}}
	h.Artifact(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/files/t")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/deposits/13/artifact", nil)
	c.Params = gin.Params{{Key: "topicId", Value: "13"}}
	h.Artifact(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
