package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"dynochat/internal/models"
	"dynochat/internal/ollama"
)

// TurnState tracks where a turn is in its lifecycle.
type TurnState int

const (
	StateIdle TurnState = iota
	StateAwaitingContext
	StateStreaming
	StatePersisting
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingContext:
		return "awaiting_context"
	case StateStreaming:
		return "streaming"
	case StatePersisting:
		return "persisting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrEmptyPrompt rejects a turn before any state is entered.
var ErrEmptyPrompt = errors.New("prompt is empty")

// Streamer is the inference slice the controller needs; *ollama.Client
// satisfies it.
type Streamer interface {
	ChatStream(ctx context.Context, messages []models.ChatMessage) (*ollama.Stream, error)
}

// Memory is the gateway slice the controller needs.
type Memory interface {
	Query(ctx context.Context, text string, limit int) ([]models.MemoryRecord, error)
	StorePair(ctx context.Context, userText, assistantText string, status models.MemoryStatus) error
}

// TurnResult is the tagged outcome of one turn. Status distinguishes a
// real answer from a synthetic failure message or an aborted partial; the
// UI layer decides how each renders.
type TurnResult struct {
	Response string
	Status   models.MemoryStatus
	Context  []models.ChatMessage
	Warnings []string
}

// Failed reports whether the response is a synthetic error message rather
// than model output.
func (r *TurnResult) Failed() bool {
	return r.Status == models.StatusError
}

// Controller executes one conversational turn end to end: assemble
// context, stream the model response to the caller, persist the pair.
// One controller is shared across sessions; it holds no per-turn state.
type Controller struct {
	memory         Memory
	llm            Streamer
	retrievalLimit int
	contextBudget  int

	// OnState, when set, observes state transitions. Used by the worker
	// layer for debug logging.
	OnState func(TurnState)
}

func NewController(mem Memory, llm Streamer, retrievalLimit, contextBudget int) *Controller {
	if retrievalLimit <= 0 {
		retrievalLimit = 5
	}
	if contextBudget <= 0 {
		contextBudget = 12
	}
	return &Controller{
		memory:         mem,
		llm:            llm,
		retrievalLimit: retrievalLimit,
		contextBudget:  contextBudget,
	}
}

const (
	connectionFailureMsg = "Could not reach the model server. Please check that it is running and try again."
	timeoutFailureMsg    = "The model took too long to answer. Please try again."
)

const persistTimeout = 10 * time.Second

// Run executes exactly one turn. Each token is forwarded through onToken
// as it arrives so the caller can render partial output; the accumulated
// text is returned once the stream ends. Memory failures degrade to
// warnings, inference failures degrade to a synthetic error response:
// nothing here fails the hosting process.
func (c *Controller) Run(ctx context.Context, prompt string, onToken func(string) error) (*TurnResult, error) {
	if strings.TrimSpace(prompt) == "" {
		c.setState(StateFailed)
		return nil, ErrEmptyPrompt
	}
	result := &TurnResult{Status: models.StatusComplete}

	// AwaitingContext: a failed query costs the context, never the turn.
	c.setState(StateAwaitingContext)
	retrieved, err := c.memory.Query(ctx, prompt, c.retrievalLimit)
	if err != nil {
		log.Printf("chat: context query degraded to empty: %v", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("memory unavailable: %v", err))
		retrieved = nil
	}
	result.Context = AssembleContext(retrieved, prompt, c.contextBudget)

	// Streaming.
	c.setState(StateStreaming)
	text, status, streamErr := c.streamResponse(ctx, result.Context, onToken)
	result.Response = text
	result.Status = status
	if streamErr != nil {
		result.Warnings = append(result.Warnings, streamErr.Error())
	}

	// Persisting: the response already shown is immutable from here on.
	// The turn context may already be cancelled or past its deadline
	// (that is how partial turns end), so the store call gets a detached
	// context with its own ceiling.
	c.setState(StatePersisting)
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.memory.StorePair(persistCtx, prompt, result.Response, result.Status); err != nil {
		log.Printf("chat: persist turn failed: %v", err)
		result.Warnings = append(result.Warnings, fmt.Sprintf("memory persist failed: %v", err))
	}
	c.setState(StateIdle)
	return result, nil
}

func (c *Controller) setState(s TurnState) {
	if c.OnState != nil {
		c.OnState(s)
	}
}

// streamResponse consumes the token stream, forwarding and accumulating
// each token. A transport failure yields exactly one synthetic message as
// the whole visible response; a cancellation keeps whatever accumulated,
// tagged partial so the stored record is distinguishable from a complete
// answer.
func (c *Controller) streamResponse(ctx context.Context, messages []models.ChatMessage, onToken func(string) error) (string, models.MemoryStatus, error) {
	stream, err := c.llm.ChatStream(ctx, messages)
	if err != nil {
		msg := failureMessage(err)
		if onToken != nil {
			_ = onToken(msg)
		}
		return msg, models.StatusError, err
	}
	defer stream.Close()

	var buf strings.Builder
	for {
		token, done, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Stream ended without an explicit done signal; the
				// buffer is the complete response.
				return buf.String(), models.StatusComplete, nil
			}
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return buf.String(), models.StatusPartial, fmt.Errorf("turn aborted mid-stream: %w", err)
			}
			if buf.Len() > 0 {
				// Connection dropped mid-answer: keep the partial text
				// rather than replacing what the user already saw.
				return buf.String(), models.StatusPartial, err
			}
			msg := failureMessage(err)
			if onToken != nil {
				_ = onToken(msg)
			}
			return msg, models.StatusError, err
		}
		if token != "" {
			buf.WriteString(token)
			if onToken != nil {
				if err := onToken(token); err != nil {
					return buf.String(), models.StatusPartial, fmt.Errorf("caller stopped consuming: %w", err)
				}
			}
		}
		if done {
			return buf.String(), models.StatusComplete, nil
		}
	}
}

func failureMessage(err error) string {
	if errors.Is(err, ollama.ErrTimeout) {
		return timeoutFailureMsg
	}
	return connectionFailureMsg
}
