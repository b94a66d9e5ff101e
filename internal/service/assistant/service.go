package assistant

import (
	"database/sql"
)

// Service handles relational persistence for sessions, messages and the
// assistant-side records (notes, todos, reminders, meetings, pages).
type Service struct {
	db *sql.DB
}

// NewService builds a new assistant service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}
