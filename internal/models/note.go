package models

import "time"

// Records kept by the assistant side of the app: plain relational rows,
// no vector indexing involved.

type Note struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Todo struct {
	ID        int64     `json:"id"`
	Task      string    `json:"task"`
	Done      bool      `json:"done"`
	CreatedAt time.Time `json:"created_at"`
}

type Reminder struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	RemindAt  time.Time `json:"remind_at"`
	CreatedAt time.Time `json:"created_at"`
}

type Meeting struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Attendees string    `json:"attendees"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
}

type Page struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}
