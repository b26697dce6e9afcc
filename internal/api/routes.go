package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/relay/internal/dispatch"
	"github.com/zulandar/relay/internal/models"
)

// maxIDLength bounds user, session, and task identifiers. IDs embed into
// store keys, so ":" is reserved as the key separator.
const maxIDLength = 128

// registerRoutes sets up all routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	agent := router.Group("/agent")
	agent.POST("/invoke", s.handleInvoke)
	agent.POST("/resume", s.handleResume)
	agent.GET("/status/:user_id/:session_id/:task_id", s.handleStatus)
	agent.GET("/sessionids/:user_id", s.handleSessionIDs)
	agent.GET("/tasks/:user_id/:session_id", s.handleTaskIDs)
	agent.GET("/active/sessionid/:user_id", s.handleActiveSession)
	agent.DELETE("/session/:user_id/:session_id", s.handleDeleteSession)
	agent.DELETE("/task/:user_id/:session_id/:task_id", s.handleDeleteTask)
	agent.POST("/write/longterm", s.handleWriteMemory)

	router.GET("/system/info", s.handleSystemInfo)
	router.GET("/health", s.handleHealth)
}

type invokeRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

func (s *Server) handleInvoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := validateID("user_id", req.UserID); err != nil {
		badRequest(c, err.Error())
		return
	}
	// session_id is optional; one is generated when absent.
	if req.SessionID != "" {
		if err := validateID("session_id", req.SessionID); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if strings.TrimSpace(req.Query) == "" {
		badRequest(c, "query is required")
		return
	}

	tsk, err := s.coord.Invoke(c.Request.Context(), req.UserID, req.SessionID, req.Query)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    tsk.UserID,
		"session_id": tsk.SessionID,
		"task_id":    tsk.TaskID,
		"state":      tsk.State,
	})
}

type resumeRequest struct {
	UserID    string          `json:"user_id"`
	SessionID string          `json:"session_id"`
	TaskID    string          `json:"task_id"`
	Decision  decisionPayload `json:"human_decision"`
}

type decisionPayload struct {
	Type string          `json:"type"`
	Args json.RawMessage `json:"args,omitempty"`
}

func (s *Server) handleResume(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	for _, id := range []struct{ name, value string }{
		{"user_id", req.UserID}, {"session_id", req.SessionID}, {"task_id", req.TaskID},
	} {
		if err := validateID(id.name, id.value); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if !dispatch.ValidDecision(req.Decision.Type) {
		badRequest(c, fmt.Sprintf("human_decision.type %q is not one of %s",
			req.Decision.Type, strings.Join(dispatch.DecisionTypes, ", ")))
		return
	}

	tsk, err := s.coord.Resume(c.Request.Context(), req.UserID, req.SessionID, req.TaskID,
		dispatch.Decision{Type: req.Decision.Type, Args: req.Decision.Args})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    tsk.UserID,
		"session_id": tsk.SessionID,
		"task_id":    tsk.TaskID,
		"state":      tsk.State,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	userID, sessionID, taskID := c.Param("user_id"), c.Param("session_id"), c.Param("task_id")
	tsk, err := s.tasks.Get(userID, sessionID, taskID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tsk)
}

func (s *Server) handleSessionIDs(c *gin.Context) {
	ids, err := s.registry.SessionIDs(c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":     c.Param("user_id"),
		"session_ids": ids,
	})
}

func (s *Server) handleTaskIDs(c *gin.Context) {
	userID, sessionID := c.Param("user_id"), c.Param("session_id")
	if _, err := s.registry.Get(userID, sessionID); err != nil {
		s.writeError(c, err)
		return
	}
	ids, err := s.tasks.ListIDs(userID, sessionID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    userID,
		"session_id": sessionID,
		"task_ids":   ids,
	})
}

func (s *Server) handleActiveSession(c *gin.Context) {
	sessionID, err := s.registry.MostRecent(c.Param("user_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user_id":    c.Param("user_id"),
		"session_id": sessionID,
	})
}

func (s *Server) handleDeleteSession(c *gin.Context) {
	if err := s.registry.Delete(c.Param("user_id"), c.Param("session_id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	err := s.tasks.Delete(c.Param("user_id"), c.Param("session_id"), c.Param("task_id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type writeMemoryRequest struct {
	UserID     string `json:"user_id"`
	MemoryInfo string `json:"memory_info"`
}

func (s *Server) handleWriteMemory(c *gin.Context) {
	var req writeMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := validateID("user_id", req.UserID); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.MemoryInfo == "" {
		badRequest(c, "memory_info is required")
		return
	}
	if err := s.memory.Write(req.UserID, req.MemoryInfo); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"written": true})
}

func (s *Server) handleSystemInfo(c *gin.Context) {
	byUser, err := s.registry.SessionsByUser()
	if err != nil {
		s.writeError(c, err)
		return
	}
	sessions := 0
	for _, ids := range byUser {
		sessions += len(ids)
	}
	c.JSON(http.StatusOK, gin.H{
		"version":          s.version,
		"uptime_seconds":   int(time.Since(s.started).Seconds()),
		"user_count":       len(byUser),
		"session_count":    sessions,
		"sessions_by_user": byUser,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.store.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// writeError maps the error taxonomy onto HTTP statuses and a stable JSON
// error shape.
func (s *Server) writeError(c *gin.Context, err error) {
	kind := models.ErrorKind(err)
	status := http.StatusInternalServerError
	switch kind {
	case "not_found":
		status = http.StatusNotFound
	case "state_conflict", "invalid_state":
		status = http.StatusConflict
	case "session_capacity_exceeded":
		status = http.StatusTooManyRequests
	case "dispatch_unavailable", "storage_unavailable":
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": gin.H{"kind": kind, "message": err.Error()}})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"kind": "bad_request", "message": msg}})
}

// validateID checks an identifier for use inside store keys.
func validateID(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(value) > maxIDLength {
		return fmt.Errorf("%s exceeds %d characters", name, maxIDLength)
	}
	if strings.ContainsAny(value, ": \t\n") {
		return fmt.Errorf("%s must not contain colons or whitespace", name)
	}
	return nil
}
