package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"telemed-chat-service/internal/models"
	"telemed-chat-service/internal/observability"
	"telemed-chat-service/internal/telemetry"
)

// Extensions accepted for chat attachments: images and documents.
var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".gif":  true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
}

// UploadHandler stores chat attachments on local disk and hands back the
// relative URL the static route serves them under.
type UploadHandler struct {
	dir     string
	urlBase string
	maxSize int64
	audit   *telemetry.AuditEmitter
}

// NewUploadHandler builds an UploadHandler and ensures the upload directory
// exists.
func NewUploadHandler(dir, urlBase string, maxSize int64, audit *telemetry.AuditEmitter) (*UploadHandler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &UploadHandler{dir: dir, urlBase: urlBase, maxSize: maxSize, audit: audit}, nil
}

// Handle accepts one multipart file, validates type and size, and stores it
// under a random name. A rejected upload creates no message and no file.
func (h *UploadHandler) Handle(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}

	if file.Size > h.maxSize {
		observability.IncUpload("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("file exceeds %d byte limit", h.maxSize)})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedExtensions[ext] {
		observability.IncUpload("rejected")
		identity := identityFromContext(c)
		h.audit.Emit(c.Request.Context(), "WARN", fmt.Sprintf("rejected upload of %q", file.Filename), requestIDFromContext(c), identity)
		c.JSON(http.StatusBadRequest, gin.H{"error": "only images and documents are allowed"})
		return
	}

	name := uuid.NewString() + ext
	if err := c.SaveUploadedFile(file, filepath.Join(h.dir, name)); err != nil {
		observability.IncUpload("failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file upload failed"})
		return
	}

	fileType := models.FileTypeFile
	if strings.HasPrefix(file.Header.Get("Content-Type"), "image") {
		fileType = models.FileTypeImage
	}

	observability.IncUpload("accepted")
	c.JSON(http.StatusOK, gin.H{
		"fileUrl":  h.urlBase + "/" + name,
		"fileType": fileType,
	})
}
