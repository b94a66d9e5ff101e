package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"dynochat/internal/chat"
	"dynochat/internal/models"
	"dynochat/internal/service/assistant"
	"dynochat/internal/worker"
)

// WorkerManager is the slice of the worker layer the handlers need.
type WorkerManager interface {
	OpenSession(worker.OpenRequest) (*models.Session, []*models.Message, error)
	RunTurn(worker.TurnRequest) (*worker.TurnOutcome, error)
	Purge(sessionID int64)
}

// MemoryAdmin exposes the maintenance surface of the memory gateway.
type MemoryAdmin interface {
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
}

// Handler wires HTTP routes to the assistant service, the memory store
// and the per-session turn workers.
type Handler struct {
	assistant *assistant.Service
	workers   WorkerManager
	memory    MemoryAdmin
	turnTTL   time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, workers WorkerManager, mem MemoryAdmin, turnTTL time.Duration) *Handler {
	if turnTTL <= 0 {
		turnTTL = 2 * time.Minute
	}
	return &Handler{
		assistant: service,
		workers:   workers,
		memory:    mem,
		turnTTL:   turnTTL,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/sessions", h.startSession)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:session_id/messages", h.getSessionMessages)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.POST("/chat", h.captureInput)

	api.GET("/memory/count", h.memoryCount)
	api.DELETE("/memory", h.memoryReset)

	api.POST("/notes", h.createNote)
	api.GET("/notes", h.listNotes)
	api.DELETE("/notes/:id", h.deleteNote)

	api.POST("/todos", h.createTodo)
	api.GET("/todos", h.listTodos)
	api.PATCH("/todos/:id", h.toggleTodo)
	api.DELETE("/todos/:id", h.deleteTodo)

	api.POST("/reminders", h.createReminder)
	api.GET("/reminders", h.listReminders)
	api.DELETE("/reminders/:id", h.deleteReminder)

	api.POST("/meetings", h.createMeeting)
	api.GET("/meetings", h.listMeetings)
	api.DELETE("/meetings/:id", h.deleteMeeting)

	api.GET("/pages", h.listPages)
	api.GET("/pages/:name", h.getPage)
	api.PUT("/pages/:name", h.updatePage)
}

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		SessionID int64 `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id cannot be negative"})
		return
	}

	session, messages, err := h.workers.OpenSession(worker.OpenRequest{
		Context:   c.Request.Context(),
		SessionID: req.SessionID,
	})
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrDispatcherBusy):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		case errors.Is(err, sql.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"session":  session,
		"messages": messages,
	})
}

func (h *Handler) listSessions(c *gin.Context) {
	seList, err := h.assistant.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(seList) == 0 {
		seList = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"session_list": seList})
}

func (h *Handler) getSessionMessages(c *gin.Context) {
	sessionID, ok := h.pathSessionID(c)
	if !ok {
		return
	}
	session, messages, err := h.assistant.GetSessionWithMessages(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":  session,
		"messages": messages,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID, ok := h.pathSessionID(c)
	if !ok {
		return
	}
	if err := h.assistant.DeleteSession(c.Request.Context(), sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.workers.Purge(sessionID)
	c.Status(http.StatusNoContent)
}

// User input interface
type inputRequest struct {
	SessionID int64  `json:"session_id"`
	Content   string `json:"content"`
}

func (h *Handler) captureInput(c *gin.Context) {
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.SessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	// Empty prompts never start a turn.
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}

	message, err := h.assistant.AppendMessage(c.Request.Context(), req.SessionID, models.RoleUser, req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	streamCtx, cancel := context.WithTimeout(c.Request.Context(), h.turnTTL)
	defer cancel()
	// SSE response construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("ack", gin.H{"message": messagePayload(message)}); err != nil {
		return
	}

	outcome, err := h.workers.RunTurn(worker.TurnRequest{
		Context:   streamCtx,
		SessionID: req.SessionID,
		Message:   message,
		ChunkFn: func(chunk string) error {
			return sendEvent("stream", gin.H{"content": chunk})
		},
		WarnFn: func(warning string) {
			_ = sendEvent("warn", gin.H{"message": warning})
		},
	})
	if err != nil {
		msg := err.Error()
		switch {
		case errors.Is(err, worker.ErrDispatcherBusy):
			msg = "server is busy, please retry"
		case errors.Is(err, chat.ErrEmptyPrompt):
			msg = "content is required"
		}
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}

	payload := gin.H{
		"user_message": messagePayload(message),
		"ai_message":   messagePayload(outcome.AIMessage),
		"status":       outcome.Result.Status,
	}
	if outcome.Title != "" {
		payload["title"] = outcome.Title
	}
	_ = sendEvent("done", payload)
}

func messagePayload(msg *models.Message) gin.H {
	return gin.H{
		"id":         msg.ID,
		"session_id": msg.SessionID,
		"role":       msg.Role,
		"content":    msg.Content,
		"created_at": msg.CreatedAt,
	}
}

func (h *Handler) memoryCount(c *gin.Context) {
	count, err := h.memory.Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}

func (h *Handler) memoryReset(c *gin.Context) {
	if err := h.memory.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) pathSessionID(c *gin.Context) (int64, bool) {
	sessionID, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return sessionID, true
}

func (h *Handler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
