package models

// MemoryStatus marks how a persisted turn ended. Anything other than
// StatusComplete must never be mistaken for a real model answer.
type MemoryStatus string

const (
	StatusComplete MemoryStatus = "complete"
	StatusPartial  MemoryStatus = "partial"
	StatusError    MemoryStatus = "error"
)

// MemoryRecord is one message as stored in the vector index. The Timestamp
// is an ISO-8601 string because the store orders nothing itself; callers
// re-sort by it on every retrieval.
type MemoryRecord struct {
	ID        string       `json:"id"`
	Role      Role         `json:"role"`
	Content   string       `json:"content"`
	Timestamp string       `json:"timestamp"`
	Status    MemoryStatus `json:"status"`
}
