package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"opschat/internal/app/dto"
	domainchat "opschat/internal/domain/chat"
	"opschat/internal/infra/storage/s3"
)

// maxUploadBytes caps attachment size at 25 MiB.
const maxUploadBytes = 25 << 20

type UploadHTTP interface {
	Upload(c *gin.Context)
}

type UploadHandler struct {
	Uploader s3.Uploader
	Logger   *slog.Logger
}

// Upload stores a multipart file and returns its public URL plus the message
// kind the client should attach it as.
func (h UploadHandler) Upload(c *gin.Context) {
	principal, ok := requireRole(c, "")
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	key := s3.AttachmentKey(header.Filename)
	url, err := h.Uploader.Upload(c.Request.Context(), key, file, contentType)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("attachment upload failed", "error", err, "user_id", principal.ID, "name", header.Filename)
		}
		if errors.Is(err, s3.ErrNotConfigured) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads unavailable"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}

	c.JSON(http.StatusCreated, dto.Upload{
		URL:  url,
		Name: header.Filename,
		Size: header.Size,
		Kind: string(kindForContentType(contentType)),
	})
}

func kindForContentType(contentType string) domainchat.MessageKind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return domainchat.KindImage
	}
	return domainchat.KindFile
}

var _ UploadHTTP = (*UploadHandler)(nil)
