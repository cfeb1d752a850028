package transport

import (
	"net/http"
	"time"

	"github.com/mievst/Cerebrum/internal/service"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	checkers []service.HealthChecker
}

func NewHealthHandler(checkers ...service.HealthChecker) *HealthHandler {
	return &HealthHandler{checkers: checkers}
}

func (h *HealthHandler) Health(c *gin.Context) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checkers))

	for _, checker := range h.checkers {
		if err := checker.Check(c.Request.Context()); err != nil {
			checks[checker.Name()] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[checker.Name()] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "unhealthy"
	}

	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
