package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupUploadRouter(t *testing.T, maxSize int64) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	handler, err := NewUploadHandler(dir, "/uploads/chat", maxSize, nil)
	require.NoError(t, err)

	r := gin.New()
	r.POST("/api/chat/upload", handler.Handle)
	return r, dir
}

func multipartBody(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

func TestUploadImageAccepted(t *testing.T) {
	router, dir := setupUploadRouter(t, 1<<20)

	body, contentType := multipartBody(t, "scan.png", "image/png", "not-really-a-png")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "image", resp["fileType"])
	assert.True(t, strings.HasPrefix(resp["fileUrl"], "/uploads/chat/"))
	assert.True(t, strings.HasSuffix(resp["fileUrl"], ".png"))

	stored := filepath.Join(dir, filepath.Base(resp["fileUrl"]))
	content, err := os.ReadFile(stored)
	require.NoError(t, err)
	assert.Equal(t, "not-really-a-png", string(content))
}

func TestUploadDocumentTypedAsFile(t *testing.T) {
	router, _ := setupUploadRouter(t, 1<<20)

	body, contentType := multipartBody(t, "referral.pdf", "application/pdf", "%PDF-1.4")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "file", resp["fileType"])
}

func TestUploadDisallowedExtensionRejected(t *testing.T) {
	router, dir := setupUploadRouter(t, 1<<20)

	body, contentType := multipartBody(t, "malware.exe", "application/octet-stream", "MZ")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected upload must not be stored")
}

func TestUploadOversizeRejected(t *testing.T) {
	router, dir := setupUploadRouter(t, 8)

	body, contentType := multipartBody(t, "big.png", "image/png", "way more than eight bytes")
	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadMissingFile(t *testing.T) {
	router, _ := setupUploadRouter(t, 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/upload", bytes.NewBufferString(""))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
