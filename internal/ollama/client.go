package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"dynochat/internal/config"
	"dynochat/internal/models"
)

// Client talks to a local Ollama-compatible inference endpoint. Chat
// responses arrive as newline-delimited JSON objects, one token each.
type Client struct {
	baseURL string
	model   string
	timeout time.Duration
	http    *http.Client
}

// ErrTimeout marks a stream that exceeded the configured ceiling.
var ErrTimeout = errors.New("inference request timed out")

// ErrConnection marks an unreachable endpoint or a transport failure
// before any well-formed line arrived.
var ErrConnection = errors.New("inference endpoint unreachable")

const defaultTimeout = 2 * time.Minute

func NewClient(cfg config.OllamaConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("ollama base url required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse ollama base url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		timeout: timeout,
		// The stream stays open for the whole generation; the overall
		// ceiling is enforced through the request context instead of
		// http.Client.Timeout.
		http: &http.Client{},
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Timeout returns the per-request ceiling.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

type chatRequest struct {
	Model    string               `json:"model"`
	Messages []models.ChatMessage `json:"messages"`
	Stream   bool                 `json:"stream"`
}

type chatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Stream is a lazily-consumed token sequence. Recv blocks until the next
// token, the done signal, or the end of the connection.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	cancel  context.CancelFunc
	done    bool
}

// Recv returns the next token. done reports that the model signalled
// completion; io.EOF is returned once the stream is exhausted, including
// when the connection closed without an explicit done line.
func (s *Stream) Recv() (token string, done bool, err error) {
	if s.done {
		return "", true, io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Malformed line: skip it and keep consuming.
			log.Printf("ollama: skip malformed stream line: %v", err)
			continue
		}
		if chunk.Done {
			s.done = true
		}
		return chunk.Message.Content, chunk.Done, nil
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", false, classifyStreamErr(err)
	}
	// Connection closed without a done line: the buffer accumulated so
	// far is the complete response.
	return "", false, io.EOF
}

// Close releases the underlying connection. Safe to call more than once.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.body.Close()
}

// ChatStream submits the ordered message list and returns the token
// stream. The caller owns the stream and must Close it.
func (c *Client) ChatStream(ctx context.Context, messages []models.ChatMessage) (*Stream, error) {
	payload, err := json.Marshal(chatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, classifyStreamErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("%w: status %d: %s", ErrConnection, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &Stream{body: resp.Body, scanner: scanner, cancel: cancel}, nil
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a single non-streaming completion. Used for session
// titles and batch summaries, where tokens are not rendered live.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("encode generate request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", classifyStreamErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrConnection, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

func classifyStreamErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
