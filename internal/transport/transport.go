package transport

import (
	"errors"
	"net/http"

	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/transport/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Task       *TaskHandler
	Blob       *BlobHandler
	DeadLetter *DeadLetterHandler
	Health     *HealthHandler
}

func InitRoutes(h Handlers, requestTimeout int) *gin.Engine {
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.Logger())
	router.Use(middleware.Timeout(requestTimeout))

	router.POST("/submit_task", h.Task.SubmitTask)
	router.GET("/get_result/:task_id", h.Task.GetResult)

	router.POST("/upload_file", h.Blob.UploadFile)
	router.GET("/get_file", h.Blob.GetFile)

	deadLetters := router.Group("/dead_letters")
	{
		deadLetters.GET("", h.DeadLetter.List)
		deadLetters.GET("/stats", h.DeadLetter.Stats)
		deadLetters.DELETE("", h.DeadLetter.Purge)
	}

	router.GET("/health", h.Health.Health)

	return router
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidTask),
		errors.Is(err, entity.ErrEmptyUpload),
		errors.Is(err, entity.ErrInvalidBlobRef):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrResultNotFound),
		errors.Is(err, entity.ErrBlobNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
