package transport

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/service"

	"github.com/gin-gonic/gin"
)

type BlobHandler struct {
	service       service.BlobService
	maxUploadSize int64
}

// NewBlobHandler limits request bodies to maxUploadSize bytes; 0 disables the limit.
func NewBlobHandler(service service.BlobService, maxUploadSize int64) *BlobHandler {
	return &BlobHandler{service: service, maxUploadSize: maxUploadSize}
}

func (h *BlobHandler) UploadFile(c *gin.Context) {
	if h.maxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		abortWithError(c, fmt.Errorf("%w: %v", entity.ErrEmptyUpload, err))
		return
	}

	file, err := header.Open()
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer file.Close()

	ref, err := h.service.UploadBlob(c.Request.Context(), header.Filename, file)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entity.UploadResponse{FileURL: ref})
}

func (h *BlobHandler) GetFile(c *gin.Context) {
	ref := c.Query("file_url")
	if ref == "" {
		abortWithError(c, fmt.Errorf("%w: file_url is required", entity.ErrInvalidBlobRef))
		return
	}

	file, err := h.service.OpenBlob(c.Request.Context(), ref)
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer file.Close()

	headers := map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filepath.Base(ref)),
	}
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", file, headers)
}
