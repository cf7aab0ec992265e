package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/memo-registry-api/pkg/storage"
)

func newFileRouter(t *testing.T) (*gin.Engine, *storage.SignedURLSigner, *storage.LocalStorage) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	files, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("file-secret", time.Minute)
	h := NewFileHandler(signer, files)
	r := gin.New()
	r.GET("/files/:token", h.Artifact)
	r.GET("/receipts/:token", h.Receipt)
	return r, signer, files
}

func TestFileHandlerServesSignedReceipt(t *testing.T) {
	r, signer, files := newFileRouter(t)
	_, err := files.Save("receipts/registration_12_1.pdf", []byte("%PDF-receipt"))
	require.NoError(t, err)
	token, _, err := signer.Generate("12", "receipts/registration_12_1.pdf")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/receipts/"+token, nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-receipt", w.Body.String())
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "registration_12_1.pdf")
}

func TestFileHandlerRejectsCrossPrefixToken(t *testing.T) {
	r, signer, files := newFileRouter(t)
	_, err := files.Save("deposits/memo_12.pdf", []byte("%PDF-memo"))
	require.NoError(t, err)
	token, _, err := signer.Generate("12", "deposits/memo_12.pdf")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/receipts/"+token, nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/files/"+token, nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-memo", w.Body.String())
}

func TestFileHandlerRejectsBadTokens(t *testing.T) {
	r, _, _ := newFileRouter(t)
	other := storage.NewSignedURLSigner("other-secret", time.Minute)
	forged, _, err := other.Generate("12", "deposits/memo_12.pdf")
	require.NoError(t, err)

	for _, token := range []string{"garbage", forged} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/files/"+token, nil)
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	}
}

func TestFileHandlerMissingFile(t *testing.T) {
	r, signer, _ := newFileRouter(t)
	token, _, err := signer.Generate("13", "deposits/memo_13.pdf")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/files/"+token, nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
