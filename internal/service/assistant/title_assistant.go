package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"
)

// Generator produces a single completion. *ollama.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const titlePrompt = "You are a conversation title generator. " +
	"Based on the user's first message, generate a concise and accurate title for the conversation. " +
	"The title should be at most 10 words and summarize the main topic. " +
	"Output only the title; do not include any additional content.\n\nFirst message:\n%s"

const maxTitleRunes = 60

// GenerateTitle asks the model for a session title based on the first
// user message. A model failure falls back to a truncation of the message
// itself; the session always gets a usable title.
func GenerateTitle(ctx context.Context, gen Generator, firstMessage string) string {
	firstMessage = strings.TrimSpace(firstMessage)
	if firstMessage == "" {
		return "New Conversation"
	}
	if gen != nil {
		title, err := gen.Generate(ctx, fmt.Sprintf(titlePrompt, firstMessage))
		if err == nil {
			title = strings.TrimSpace(strings.Trim(strings.TrimSpace(title), `"`))
			if title != "" {
				return truncateTitle(title)
			}
		} else {
			log.Printf("assistant: title generation failed, falling back: %v", err)
		}
	}
	return truncateTitle(firstMessage)
}

func truncateTitle(s string) string {
	if utf8.RuneCountInString(s) <= maxTitleRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxTitleRunes-1]) + "…"
}
