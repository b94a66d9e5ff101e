package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dynochat/internal/models"
)

// CRUD endpoints for the assistant-side records. Plain relational
// storage, no streaming involved.

func (h *Handler) createNote(c *gin.Context) {
	var req struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	note, err := h.assistant.CreateNote(c.Request.Context(), req.Title, req.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, note)
}

func (h *Handler) listNotes(c *gin.Context) {
	notes, err := h.assistant.ListNotes(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(notes) == 0 {
		notes = make([]models.Note, 0)
	}
	c.JSON(http.StatusOK, gin.H{"notes": notes})
}

func (h *Handler) deleteNote(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.deleteRecord(c, h.assistant.DeleteNote, id, "note")
}

func (h *Handler) createTodo(c *gin.Context) {
	var req struct {
		Task string `json:"task"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	todo, err := h.assistant.CreateTodo(c.Request.Context(), req.Task)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, todo)
}

func (h *Handler) listTodos(c *gin.Context) {
	todos, err := h.assistant.ListTodos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(todos) == 0 {
		todos = make([]models.Todo, 0)
	}
	c.JSON(http.StatusOK, gin.H{"todos": todos})
}

func (h *Handler) toggleTodo(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	var req struct {
		Done *bool `json:"done"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Done == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "done is required"})
		return
	}
	if err := h.assistant.ToggleTodo(c.Request.Context(), id, *req.Done); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "todo not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteTodo(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.deleteRecord(c, h.assistant.DeleteTodo, id, "todo")
}

func (h *Handler) createReminder(c *gin.Context) {
	var req struct {
		Text     string    `json:"text"`
		RemindAt time.Time `json:"remind_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.RemindAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "remind_at is required"})
		return
	}
	reminder, err := h.assistant.CreateReminder(c.Request.Context(), req.Text, req.RemindAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, reminder)
}

func (h *Handler) listReminders(c *gin.Context) {
	reminders, err := h.assistant.ListReminders(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(reminders) == 0 {
		reminders = make([]models.Reminder, 0)
	}
	c.JSON(http.StatusOK, gin.H{"reminders": reminders})
}

func (h *Handler) deleteReminder(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.deleteRecord(c, h.assistant.DeleteReminder, id, "reminder")
}

func (h *Handler) createMeeting(c *gin.Context) {
	var req struct {
		Title     string    `json:"title"`
		StartTime time.Time `json:"start_time"`
		EndTime   time.Time `json:"end_time"`
		Attendees string    `json:"attendees"`
		Notes     string    `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.StartTime.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_time is required"})
		return
	}
	if req.EndTime.IsZero() {
		req.EndTime = req.StartTime
	}
	meeting, err := h.assistant.CreateMeeting(c.Request.Context(), req.Title, req.StartTime, req.EndTime, req.Attendees, req.Notes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, meeting)
}

func (h *Handler) listMeetings(c *gin.Context) {
	meetings, err := h.assistant.ListMeetings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(meetings) == 0 {
		meetings = make([]models.Meeting, 0)
	}
	c.JSON(http.StatusOK, gin.H{"meetings": meetings})
}

func (h *Handler) deleteMeeting(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	h.deleteRecord(c, h.assistant.DeleteMeeting, id, "meeting")
}

func (h *Handler) listPages(c *gin.Context) {
	pages, err := h.assistant.ListPages(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(pages) == 0 {
		pages = make([]models.Page, 0)
	}
	c.JSON(http.StatusOK, gin.H{"pages": pages})
}

func (h *Handler) getPage(c *gin.Context) {
	page, err := h.assistant.GetOrCreatePage(c.Request.Context(), c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *Handler) updatePage(c *gin.Context) {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	name := c.Param("name")
	if _, err := h.assistant.GetOrCreatePage(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.assistant.UpdatePage(c.Request.Context(), name, req.Content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteRecord(c *gin.Context, del func(context.Context, int64) error, id int64, kind string) {
	if err := del(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": kind + " not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
