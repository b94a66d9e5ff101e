package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dynochat/internal/config"
	"dynochat/internal/models"
	"dynochat/internal/ollama"
)

type fakeMemory struct {
	records  []models.MemoryRecord
	queryErr error
	storeErr error

	storedUser      string
	storedAssistant string
	storedStatus    models.MemoryStatus
	storeCalls      int
	storeCtxErr     error
}

func (f *fakeMemory) Query(ctx context.Context, text string, limit int) ([]models.MemoryRecord, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeMemory) StorePair(ctx context.Context, userText, assistantText string, status models.MemoryStatus) error {
	f.storeCalls++
	f.storeCtxErr = ctx.Err()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.storedUser = userText
	f.storedAssistant = assistantText
	f.storedStatus = status
	return nil
}

// ndjsonServer streams the given lines as one chat response.
func ndjsonServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	}))
}

func newTestClient(t *testing.T, baseURL string) *ollama.Client {
	t.Helper()
	client, err := ollama.NewClient(config.OllamaConfig{
		BaseURL:        baseURL,
		Model:          "llama3.2",
		TimeoutSeconds: 5,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestTurnRejectsEmptyPrompt(t *testing.T) {
	ctrl := NewController(&fakeMemory{}, nil, 5, 12)
	if _, err := ctrl.Run(context.Background(), "   \n\t", nil); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("expected ErrEmptyPrompt, got %v", err)
	}
}

func TestTurnStreamsAndPersists(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"content":"Hi"},"done":false}`,
		`{"message":{"content":" there"},"done":true}`,
	})
	defer srv.Close()

	mem := &fakeMemory{}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 12)

	var tokens []string
	result, err := ctrl.Run(context.Background(), "hello", func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.Response != "Hi there" {
		t.Fatalf("expected %q, got %q", "Hi there", result.Response)
	}
	if result.Status != models.StatusComplete {
		t.Fatalf("expected complete status, got %s", result.Status)
	}
	if len(tokens) != 2 || tokens[0] != "Hi" || tokens[1] != " there" {
		t.Fatalf("unexpected tokens: %v", tokens)
	}
	if len(result.Context) != 1 || result.Context[0].Content != "hello" {
		t.Fatalf("cold store should yield prompt-only context, got %+v", result.Context)
	}
	if mem.storedUser != "hello" || mem.storedAssistant != "Hi there" {
		t.Fatalf("persisted pair mismatch: %q / %q", mem.storedUser, mem.storedAssistant)
	}
	if mem.storedStatus != models.StatusComplete {
		t.Fatalf("expected complete stored status, got %s", mem.storedStatus)
	}
}

func TestTurnContextCappedAndOrdered(t *testing.T) {
	srv := ndjsonServer(t, []string{`{"message":{"content":"ok"},"done":true}`})
	defer srv.Close()

	mem := &fakeMemory{records: []models.MemoryRecord{
		{Role: models.RoleUser, Content: "m1", Timestamp: "2024-01-01T10:00:00Z"},
		{Role: models.RoleAssistant, Content: "m2", Timestamp: "2024-01-01T10:00:01Z"},
		{Role: models.RoleUser, Content: "m3", Timestamp: "2024-01-01T10:00:02Z"},
		{Role: models.RoleAssistant, Content: "m4", Timestamp: "2024-01-01T10:00:03Z"},
		{Role: models.RoleUser, Content: "m5", Timestamp: "2024-01-01T10:00:04Z"},
	}}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 3)

	result, err := ctrl.Run(context.Background(), "now", nil)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if len(result.Context) != 3 {
		t.Fatalf("expected context capped at 3, got %d", len(result.Context))
	}
	if result.Context[0].Content != "m4" || result.Context[1].Content != "m5" {
		t.Fatalf("expected 2 most recent memories, got %+v", result.Context)
	}
	if result.Context[2].Content != "now" {
		t.Fatalf("last context entry must be the prompt, got %q", result.Context[2].Content)
	}
}

func TestTurnQueryFailureDegradesToEmptyContext(t *testing.T) {
	srv := ndjsonServer(t, []string{`{"message":{"content":"ok"},"done":true}`})
	defer srv.Close()

	mem := &fakeMemory{queryErr: errors.New("index offline")}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 12)

	result, err := ctrl.Run(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("turn must not fail on query error: %v", err)
	}
	if result.Response != "ok" {
		t.Fatalf("expected normal response, got %q", result.Response)
	}
	if len(result.Context) != 1 {
		t.Fatalf("expected prompt-only fallback context, got %+v", result.Context)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a warning about the degraded context")
	}
}

func TestTurnConnectionFailureYieldsSingleSyntheticMessage(t *testing.T) {
	srv := ndjsonServer(t, nil)
	srv.Close() // unreachable endpoint

	mem := &fakeMemory{}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 12)

	var tokens []string
	result, err := ctrl.Run(context.Background(), "hello", func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("turn must not fail on connection error: %v", err)
	}
	if !result.Failed() {
		t.Fatalf("expected error status, got %s", result.Status)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected exactly one synthetic token, got %d", len(tokens))
	}
	if !strings.Contains(result.Response, "model server") {
		t.Fatalf("unexpected synthetic message: %q", result.Response)
	}
	// The synthetic message is still persisted, but marked.
	if mem.storeCalls != 1 {
		t.Fatalf("expected one persist attempt, got %d", mem.storeCalls)
	}
	if mem.storedStatus != models.StatusError {
		t.Fatalf("synthetic response must be stored with error status, got %s", mem.storedStatus)
	}
}

func TestTurnDeadlinePersistsPartialBuffer(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"half an"},"done":false}`)
		w.(http.Flusher).Flush()
		// Stall until the turn deadline has long passed.
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	mem := &fakeMemory{}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 12)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	result, err := ctrl.Run(ctx, "hello", nil)
	if err != nil {
		t.Fatalf("aborted turn must still return a result: %v", err)
	}
	if result.Status != models.StatusPartial {
		t.Fatalf("expected partial status, got %s", result.Status)
	}
	if result.Response != "half an" {
		t.Fatalf("expected accumulated buffer, got %q", result.Response)
	}
	if mem.storeCalls != 1 {
		t.Fatalf("expected the partial buffer to be persisted, got %d store calls", mem.storeCalls)
	}
	if mem.storedStatus != models.StatusPartial {
		t.Fatalf("expected partial stored status, got %s", mem.storedStatus)
	}
	// The turn context is already past its deadline by the time the pair
	// is stored; the store call must not inherit that.
	if mem.storeCtxErr != nil {
		t.Fatalf("persist ran on a dead context: %v", mem.storeCtxErr)
	}
}

func TestTurnStoreFailureKeepsResponse(t *testing.T) {
	srv := ndjsonServer(t, []string{`{"message":{"content":"answer"},"done":true}`})
	defer srv.Close()

	mem := &fakeMemory{storeErr: errors.New("index offline")}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 12)

	result, err := ctrl.Run(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("turn must not fail on store error: %v", err)
	}
	if result.Response != "answer" {
		t.Fatalf("store failure altered the response: %q", result.Response)
	}
	if result.Status != models.StatusComplete {
		t.Fatalf("store failure must not change status, got %s", result.Status)
	}
	if len(result.Warnings) == 0 {
		t.Fatalf("expected a persist warning")
	}
}

func TestTurnStreamEndWithoutDoneFinalizesBuffer(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"content":"partial"},"done":false}`,
		`{"message":{"content":" answer"},"done":false}`,
		// connection closes here without a done line
	})
	defer srv.Close()

	mem := &fakeMemory{}
	ctrl := NewController(mem, newTestClient(t, srv.URL), 5, 12)

	result, err := ctrl.Run(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.Response != "partial answer" {
		t.Fatalf("expected finalized buffer, got %q", result.Response)
	}
	if result.Status != models.StatusComplete {
		t.Fatalf("expected complete status, got %s", result.Status)
	}
}

func TestTurnSkipsMalformedStreamLines(t *testing.T) {
	srv := ndjsonServer(t, []string{
		`{"message":{"content":"good"},"done":false}`,
		`{not json at all`,
		`{"message":{"content":" end"},"done":true}`,
	})
	defer srv.Close()

	ctrl := NewController(&fakeMemory{}, newTestClient(t, srv.URL), 5, 12)
	result, err := ctrl.Run(context.Background(), "hello", nil)
	if err != nil {
		t.Fatalf("run turn: %v", err)
	}
	if result.Response != "good end" {
		t.Fatalf("malformed line should be skipped, got %q", result.Response)
	}
}
