package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callrecorder/internal/capture"
	"callrecorder/internal/domain"
	"callrecorder/internal/queue"
	"callrecorder/internal/service"
)

// ControlHandler is the agent's local surface for the CRM process: it feeds
// call-state transitions in and lets an operator inspect, retry, or abandon
// upload tasks.
type ControlHandler struct {
	agent *capture.Agent
	tasks service.TaskService
	queue queue.Manager
}

func NewControlHandler(agent *capture.Agent, tasks service.TaskService, uploads queue.Manager) *ControlHandler {
	return &ControlHandler{
		agent: agent,
		tasks: tasks,
		queue: uploads,
	}
}

func (h *ControlHandler) RegisterRoutes(router *gin.Engine) {
	ctl := router.Group("/control")
	{
		ctl.POST("/call-state", h.callState)
		ctl.GET("/tasks", h.listTasks)
		ctl.POST("/tasks/:id/retry", h.retryTask)
		ctl.DELETE("/tasks/:id", h.abandonTask)
	}
}

type callStateRequest struct {
	State         string `json:"state" binding:"required"`
	OwnerRecordID string `json:"owner_record_id"`
}

func (h *ControlHandler) callState(c *gin.Context) {
	var req callStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state := capture.CallState(req.State)
	switch state {
	case capture.CallIdle, capture.CallRinging, capture.CallOffHook:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown call state"})
		return
	}
	if state == capture.CallOffHook && req.OwnerRecordID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner record id is required for an active call"})
		return
	}

	if err := h.agent.Observe(c.Request.Context(), capture.CallEvent{
		State:         state,
		OwnerRecordID: req.OwnerRecordID,
	}); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"observed": req.State})
}

func (h *ControlHandler) listTasks(c *gin.Context) {
	tasks, err := h.tasks.ListTasks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskToResponse(tasks[i])
	}
	c.JSON(http.StatusOK, resp)
}

func (h *ControlHandler) retryTask(c *gin.Context) {
	if err := h.queue.Retry(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"retrying": c.Param("id")})
}

func (h *ControlHandler) abandonTask(c *gin.Context) {
	if err := h.queue.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"abandoned": c.Param("id")})
}

type TaskResponse struct {
	ID            string            `json:"id"`
	FilePath      string            `json:"file_path"`
	OwnerRecordID string            `json:"owner_record_id"`
	TotalBytes    int64             `json:"total_bytes"`
	AckedBytes    int64             `json:"acked_bytes"`
	AckedChunks   int64             `json:"acked_chunks"`
	SessionID     string            `json:"session_id,omitempty"`
	Status        domain.TaskStatus `json:"status"`
	Attempt       int               `json:"attempt"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	CreatedAt     string            `json:"created_at"`
	UpdatedAt     string            `json:"updated_at"`
}

func taskToResponse(task domain.UploadTask) TaskResponse {
	return TaskResponse{
		ID:            task.ID,
		FilePath:      task.FilePath,
		OwnerRecordID: task.OwnerRecordID,
		TotalBytes:    task.TotalBytes,
		AckedBytes:    task.AckedBytes,
		AckedChunks:   task.AckedChunks,
		SessionID:     task.SessionID,
		Status:        task.Status,
		Attempt:       task.Attempt,
		ErrorMessage:  task.ErrorMessage,
		CreatedAt:     task.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     task.UpdatedAt.Format(time.RFC3339),
	}
}
