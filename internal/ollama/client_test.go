package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dynochat/internal/config"
	"dynochat/internal/models"
)

func newServerClient(t *testing.T, handler http.HandlerFunc, timeoutSeconds int) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(config.OllamaConfig{
		BaseURL:        srv.URL,
		Model:          "llama3.2",
		TimeoutSeconds: timeoutSeconds,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func collect(t *testing.T, stream *Stream) (string, bool) {
	t.Helper()
	defer stream.Close()
	var text string
	for {
		token, done, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return text, false
			}
			t.Fatalf("recv: %v", err)
		}
		text += token
		if done {
			return text, true
		}
	}
}

func TestChatStreamDeliversTokensInOrder(t *testing.T) {
	var gotReq struct {
		Model    string               `json:"model"`
		Messages []models.ChatMessage `json:"messages"`
		Stream   bool                 `json:"stream"`
	}
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, `{"message":{"content":"Hi"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":" there"},"done":true}`)
	}, 5)

	stream, err := client.ChatStream(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hello"},
	})
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	text, sawDone := collect(t, stream)
	if text != "Hi there" {
		t.Fatalf("expected %q, got %q", "Hi there", text)
	}
	if !sawDone {
		t.Fatal("expected explicit done signal")
	}
	if gotReq.Model != "llama3.2" || !gotReq.Stream {
		t.Fatalf("unexpected request payload: %+v", gotReq)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "hello" {
		t.Fatalf("messages not forwarded: %+v", gotReq.Messages)
	}
}

func TestChatStreamSkipsMalformedLines(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `garbage line`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"content":"b"},"done":true}`)
	}, 5)

	stream, err := client.ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	text, _ := collect(t, stream)
	if text != "ab" {
		t.Fatalf("expected malformed lines skipped, got %q", text)
	}
}

func TestChatStreamEOFWithoutDone(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
	}, 5)

	stream, err := client.ChatStream(context.Background(), nil)
	if err != nil {
		t.Fatalf("chat stream: %v", err)
	}
	text, sawDone := collect(t, stream)
	if text != "partial" {
		t.Fatalf("expected buffered text at EOF, got %q", text)
	}
	if sawDone {
		t.Fatal("no done line was sent")
	}
}

func TestChatStreamConnectionRefused(t *testing.T) {
	client, err := NewClient(config.OllamaConfig{
		BaseURL:        "http://127.0.0.1:1",
		Model:          "llama3.2",
		TimeoutSeconds: 2,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.ChatStream(context.Background(), nil); !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection, got %v", err)
	}
}

func TestChatStreamTimeout(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}, 1)

	_, err := client.ChatStream(context.Background(), nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestChatStreamNonOKStatus(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}, 5)

	_, err := client.ChatStream(context.Background(), nil)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected ErrConnection for non-200, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	client := newServerClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Stream {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"response": "A short title", "done": true})
	}, 5)

	out, err := client.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "A short title" {
		t.Fatalf("unexpected response: %q", out)
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(config.OllamaConfig{}); err == nil {
		t.Fatal("expected error for missing base url")
	}
}
