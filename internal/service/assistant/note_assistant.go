package assistant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"dynochat/internal/models"
)

// CreateNote stores a note and returns the record.
func (s *Service) CreateNote(ctx context.Context, title, content string) (*models.Note, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("note title is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (title, content, created_at) VALUES (?, ?, ?)`,
		title, content, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("note id: %w", err)
	}
	return &models.Note{ID: id, Title: title, Content: content, CreatedAt: now}, nil
}

// ListNotes returns all notes, newest first.
func (s *Service) ListNotes(ctx context.Context) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, created_at FROM notes ORDER BY created_at DESC, id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []models.Note
	for rows.Next() {
		var n models.Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// DeleteNote removes a note by id.
func (s *Service) DeleteNote(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "notes", id)
}

// CreateTodo stores a new open todo.
func (s *Service) CreateTodo(ctx context.Context, task string) (*models.Todo, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, errors.New("todo task is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO todos (task, done, created_at) VALUES (?, 0, ?)`,
		task, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create todo: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("todo id: %w", err)
	}
	return &models.Todo{ID: id, Task: task, CreatedAt: now}, nil
}

// ListTodos returns all todos, oldest first.
func (s *Service) ListTodos(ctx context.Context) ([]models.Todo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task, done, created_at FROM todos ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	var todos []models.Todo
	for rows.Next() {
		var t models.Todo
		var done int
		if err := rows.Scan(&t.ID, &t.Task, &done, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		t.Done = done != 0
		todos = append(todos, t)
	}
	return todos, rows.Err()
}

// ToggleTodo flips a todo's done flag.
func (s *Service) ToggleTodo(ctx context.Context, id int64, done bool) error {
	if id <= 0 {
		return errors.New("invalid todo id")
	}
	val := 0
	if done {
		val = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE todos SET done = ? WHERE id = ?`, val, id)
	if err != nil {
		return fmt.Errorf("toggle todo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("todo rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTodo removes a todo by id.
func (s *Service) DeleteTodo(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "todos", id)
}

// CreateReminder stores a reminder for a future point in time.
func (s *Service) CreateReminder(ctx context.Context, text string, remindAt time.Time) (*models.Reminder, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("reminder text is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (text, remind_at, created_at) VALUES (?, ?, ?)`,
		text, remindAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reminder id: %w", err)
	}
	return &models.Reminder{ID: id, Text: text, RemindAt: remindAt.UTC(), CreatedAt: now}, nil
}

// ListReminders returns all reminders ordered by due time.
func (s *Service) ListReminders(ctx context.Context) ([]models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, remind_at, created_at FROM reminders ORDER BY remind_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.Reminder
	for rows.Next() {
		var r models.Reminder
		if err := rows.Scan(&r.ID, &r.Text, &r.RemindAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}

// DeleteReminder removes a reminder by id.
func (s *Service) DeleteReminder(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "reminders", id)
}

// CreateMeeting stores a meeting entry.
func (s *Service) CreateMeeting(ctx context.Context, title string, start, end time.Time, attendees, notes string) (*models.Meeting, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("meeting title is required")
	}
	if !end.IsZero() && end.Before(start) {
		return nil, errors.New("meeting cannot end before it starts")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO meetings (title, start_time, end_time, attendees, notes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		title, start.UTC(), end.UTC(), attendees, notes, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("meeting id: %w", err)
	}
	return &models.Meeting{
		ID:        id,
		Title:     title,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Attendees: attendees,
		Notes:     notes,
		CreatedAt: now,
	}, nil
}

// ListMeetings returns all meetings ordered by date.
func (s *Service) ListMeetings(ctx context.Context) ([]models.Meeting, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, start_time, end_time, attendees, notes, created_at FROM meetings ORDER BY start_time ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var meetings []models.Meeting
	for rows.Next() {
		var m models.Meeting
		if err := rows.Scan(&m.ID, &m.Title, &m.StartTime, &m.EndTime, &m.Attendees, &m.Notes, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		meetings = append(meetings, m)
	}
	return meetings, rows.Err()
}

// DeleteMeeting removes a meeting by id.
func (s *Service) DeleteMeeting(ctx context.Context, id int64) error {
	return s.deleteByID(ctx, "meetings", id)
}

// GetOrCreatePage returns the named page, creating it empty when absent.
func (s *Service) GetOrCreatePage(ctx context.Context, name string) (*models.Page, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("page name is required")
	}
	var p models.Page
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, content FROM pages WHERE name = ?`, name,
	).Scan(&p.ID, &p.Name, &p.Content)
	if err == nil {
		return &p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("get page: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO pages (name, content) VALUES (?, '')`, name)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("page id: %w", err)
	}
	return &models.Page{ID: id, Name: name}, nil
}

// UpdatePage replaces a page's content.
func (s *Service) UpdatePage(ctx context.Context, name, content string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("page name is required")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE pages SET content = ? WHERE name = ?`, content, name)
	if err != nil {
		return fmt.Errorf("update page: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("page rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListPages returns all page names.
func (s *Service) ListPages(ctx context.Context) ([]models.Page, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, content FROM pages ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	var pages []models.Page
	for rows.Next() {
		var p models.Page
		if err := rows.Scan(&p.ID, &p.Name, &p.Content); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *Service) deleteByID(ctx context.Context, table string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid %s id", strings.TrimSuffix(table, "s"))
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", table, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
