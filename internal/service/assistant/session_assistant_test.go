package assistant

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"dynochat/internal/models"
	"dynochat/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "assistant_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(db)
}

func TestSessionLifecycle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	se, err := svc.CreateSession(ctx, "")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if se.Title != "New Conversation" {
		t.Fatalf("blank title must fall back, got %q", se.Title)
	}

	if _, err := svc.AppendMessage(ctx, se.ID, models.RoleUser, "hello"); err != nil {
		t.Fatalf("append user message: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, se.ID, models.RoleAssistant, "hi there"); err != nil {
		t.Fatalf("append assistant message: %v", err)
	}

	stored, msgs, err := svc.GetSessionWithMessages(ctx, se.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.ID != se.ID {
		t.Fatalf("session id mismatch: %d vs %d", stored.ID, se.ID)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("messages out of order: %+v", msgs)
	}

	if err := svc.UpdateSessionTitle(ctx, se.ID, "Renamed"); err != nil {
		t.Fatalf("update title: %v", err)
	}
	stored, _, err = svc.GetSessionWithMessages(ctx, se.ID)
	if err != nil {
		t.Fatalf("reload session: %v", err)
	}
	if stored.Title != "Renamed" {
		t.Fatalf("title not updated: %q", stored.Title)
	}

	if err := svc.DeleteSession(ctx, se.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, _, err := svc.GetSessionWithMessages(ctx, se.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows after delete, got %v", err)
	}
}

func TestListSessionsOrdering(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	first, err := svc.CreateSession(ctx, "first")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateSession(ctx, "second"); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Activity on the first session bumps it to the front.
	if _, err := svc.AppendMessage(ctx, first.ID, models.RoleUser, "ping"); err != nil {
		t.Fatalf("append: %v", err)
	}

	sessions, err := svc.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != first.ID {
		t.Fatalf("expected most recently active first, got %+v", sessions)
	}
}

func TestDeleteMissingSession(t *testing.T) {
	svc := newTestService(t)
	if err := svc.DeleteSession(context.Background(), 12345); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAppendMessageRejectsInvalidSession(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.AppendMessage(context.Background(), 0, models.RoleUser, "x"); err == nil {
		t.Fatal("expected error for session id 0")
	}
}

func TestNoteTodoReminderMeetingCRUD(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	note, err := svc.CreateNote(ctx, "shopping", "milk")
	if err != nil {
		t.Fatalf("create note: %v", err)
	}
	notes, err := svc.ListNotes(ctx)
	if err != nil || len(notes) != 1 {
		t.Fatalf("list notes: %v, count %d", err, len(notes))
	}
	if err := svc.DeleteNote(ctx, note.ID); err != nil {
		t.Fatalf("delete note: %v", err)
	}
	if err := svc.DeleteNote(ctx, note.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows on double delete, got %v", err)
	}

	todo, err := svc.CreateTodo(ctx, "water plants")
	if err != nil {
		t.Fatalf("create todo: %v", err)
	}
	if err := svc.ToggleTodo(ctx, todo.ID, true); err != nil {
		t.Fatalf("toggle todo: %v", err)
	}
	todos, err := svc.ListTodos(ctx)
	if err != nil || len(todos) != 1 || !todos[0].Done {
		t.Fatalf("toggle not persisted: %v, %+v", err, todos)
	}
	if err := svc.ToggleTodo(ctx, 9999, true); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for unknown todo, got %v", err)
	}

	due := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	reminder, err := svc.CreateReminder(ctx, "standup", due)
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if reminder.CreatedAt.IsZero() {
		t.Fatal("reminder must record its creation time")
	}
	reminders, err := svc.ListReminders(ctx)
	if err != nil || len(reminders) != 1 {
		t.Fatalf("list reminders: %v, count %d", err, len(reminders))
	}
	if !reminders[0].RemindAt.Equal(due) || reminders[0].CreatedAt.IsZero() {
		t.Fatalf("reminder fields not persisted: %+v", reminders[0])
	}
	if err := svc.DeleteReminder(ctx, reminder.ID); err != nil {
		t.Fatalf("delete reminder: %v", err)
	}

	start := time.Date(2026, 9, 2, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	meeting, err := svc.CreateMeeting(ctx, "planning", start, end, "ana, bo", "agenda tbd")
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	if meeting.CreatedAt.IsZero() {
		t.Fatal("meeting must record its creation time")
	}
	meetings, err := svc.ListMeetings(ctx)
	if err != nil || len(meetings) != 1 {
		t.Fatalf("list meetings: %v, count %d", err, len(meetings))
	}
	got := meetings[0]
	if !got.StartTime.Equal(start) || !got.EndTime.Equal(end) || got.Attendees != "ana, bo" || got.Notes != "agenda tbd" {
		t.Fatalf("meeting fields not persisted: %+v", got)
	}
	if _, err := svc.CreateMeeting(ctx, "backwards", end, start, "", ""); err == nil {
		t.Fatal("expected error when a meeting ends before it starts")
	}
	if err := svc.DeleteMeeting(ctx, meeting.ID); err != nil {
		t.Fatalf("delete meeting: %v", err)
	}
}

func TestPageGetOrCreateIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	p1, err := svc.GetOrCreatePage(ctx, "journal")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	p2, err := svc.GetOrCreatePage(ctx, "journal")
	if err != nil {
		t.Fatalf("second get or create: %v", err)
	}
	if p1.ID != p2.ID {
		t.Fatalf("got two different pages for one name: %d vs %d", p1.ID, p2.ID)
	}

	if err := svc.UpdatePage(ctx, "journal", "day one"); err != nil {
		t.Fatalf("update page: %v", err)
	}
	p3, err := svc.GetOrCreatePage(ctx, "journal")
	if err != nil {
		t.Fatalf("reload page: %v", err)
	}
	if p3.Content != "day one" {
		t.Fatalf("content not persisted: %q", p3.Content)
	}
}

type stubGenerator struct {
	out string
	err error
}

func (s stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return s.out, s.err
}

func TestGenerateTitle(t *testing.T) {
	ctx := context.Background()

	if got := GenerateTitle(ctx, stubGenerator{out: `"Trip Planning"`}, "help me plan a trip"); got != "Trip Planning" {
		t.Fatalf("expected model title unquoted, got %q", got)
	}
	// Model failure falls back to the message itself.
	if got := GenerateTitle(ctx, stubGenerator{err: errors.New("offline")}, "short message"); got != "short message" {
		t.Fatalf("expected fallback to message, got %q", got)
	}
	if got := GenerateTitle(ctx, nil, ""); got != "New Conversation" {
		t.Fatalf("expected default title, got %q", got)
	}
	long := GenerateTitle(ctx, nil, strings.Repeat("x", 100))
	if utf8.RuneCountInString(long) > maxTitleRunes {
		t.Fatalf("fallback title not truncated: %d runes", utf8.RuneCountInString(long))
	}
}
