package transport

import (
	"net/http"
	"strconv"

	"github.com/mievst/Cerebrum/internal/service"

	"github.com/gin-gonic/gin"
)

const maxDeadLetterLimit = 1000

type DeadLetterHandler struct {
	service service.DeadLetterService
}

func NewDeadLetterHandler(service service.DeadLetterService) *DeadLetterHandler {
	return &DeadLetterHandler{service: service}
}

func (h *DeadLetterHandler) List(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxDeadLetterLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}

	letters, err := h.service.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": letters,
		"count":        len(letters),
	})
}

func (h *DeadLetterHandler) Stats(c *gin.Context) {
	stats, err := h.service.DeadLetterStats(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *DeadLetterHandler) Purge(c *gin.Context) {
	purged, err := h.service.PurgeDeadLetters(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"purged": purged})
}
