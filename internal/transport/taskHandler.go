package transport

import (
	"net/http"

	"github.com/mievst/Cerebrum/internal/entity"
	"github.com/mievst/Cerebrum/internal/service"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	service service.TaskService
}

func NewTaskHandler(service service.TaskService) *TaskHandler {
	return &TaskHandler{service: service}
}

func (h *TaskHandler) SubmitTask(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		abortWithError(c, err)
		return
	}

	payload, err := entity.DecodePayload(body)
	if err != nil {
		abortWithError(c, err)
		return
	}

	taskID, err := h.service.SubmitTask(c.Request.Context(), payload)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, entity.SubmitResponse{TaskID: taskID})
}

func (h *TaskHandler) GetResult(c *gin.Context) {
	taskID := c.Param("task_id")

	result, err := h.service.GetResult(c.Request.Context(), taskID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, entity.ResultResponse{TaskID: taskID, Result: result})
}
