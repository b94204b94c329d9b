package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/sshcollectorpro/asaconsole/internal/database"
	"github.com/sshcollectorpro/asaconsole/internal/script"
	"github.com/sshcollectorpro/asaconsole/internal/service"
)

// RunHandler serves script runs and their records.
type RunHandler struct {
	svc *service.RunService
}

func NewRunHandler(svc *service.RunService) *RunHandler { return &RunHandler{svc: svc} }

// Health reports whether the run database answers.
func (h *RunHandler) Health(c *gin.Context) {
	if err := database.Health(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "UNHEALTHY", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    "SUCCESS",
		"message": "ok",
		"data":    gin.H{"database": database.GetStats()},
	})
}

// ListScripts lists the registered scripts.
func (h *RunHandler) ListScripts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "data": script.Definitions()})
}

// CreateRun runs scripts and answers when every run has finished.
func (h *RunHandler) CreateRun(c *gin.Context) {
	var req service.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	resp, err := h.svc.Run(c.Request.Context(), &req)
	if errors.Is(err, service.ErrInvalidRequest) {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_PARAMS", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "data": resp})
}

// ListRuns pages through run records, newest first.
func (h *RunHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	runs, total, err := h.svc.ListRuns(c.Request.Context(), service.ListFilter{
		BatchID: c.Query("batch_id"),
		Script:  c.Query("script"),
		Host:    c.Query("host"),
		Status:  c.Query("status"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code": "SUCCESS",
		"data": gin.H{"total": total, "runs": runs},
	})
}

// GetRun returns one run with its command logs.
func (h *RunHandler) GetRun(c *gin.Context) {
	run, err := h.svc.GetRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS", "data": run})
}

// GetTranscript returns the console session of a run as plain text.
func (h *RunHandler) GetTranscript(c *gin.Context) {
	text, err := h.svc.Transcript(c.Request.Context(), c.Param("id"))
	if errors.Is(err, service.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "ERROR", "message": err.Error()})
		return
	}
	c.String(http.StatusOK, text)
}
