package chat

import (
	"dynochat/internal/models"
)

// AssembleContext turns retrieved memories plus the current prompt into
// the ordered message list sent to the model. Retrieved records must
// already be sorted ascending by timestamp (the gateway guarantees it).
// The total is capped at budget entries by dropping the oldest retrieved
// records first; the current prompt is always last and never dropped.
func AssembleContext(retrieved []models.MemoryRecord, prompt string, budget int) []models.ChatMessage {
	if budget <= 0 {
		budget = 1
	}
	keep := budget - 1
	if keep > len(retrieved) {
		keep = len(retrieved)
	}
	// keep the most recent entries
	retrieved = retrieved[len(retrieved)-keep:]

	messages := make([]models.ChatMessage, 0, keep+1)
	for _, rec := range retrieved {
		messages = append(messages, models.ChatMessage{Role: rec.Role, Content: rec.Content})
	}
	return append(messages, models.ChatMessage{Role: models.RoleUser, Content: prompt})
}
