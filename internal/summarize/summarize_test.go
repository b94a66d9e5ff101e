package summarize

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/schema"
)

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, src document.Source, opts ...document.LoaderOption) ([]*schema.Document, error) {
	data, err := os.ReadFile(src.URI)
	if err != nil {
		return nil, err
	}
	return []*schema.Document{{ID: src.URI, Content: string(data)}}, nil
}

type fakeGen struct {
	prompts []string
	err     error
}

func (f *fakeGen) Generate(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.prompts = append(f.prompts, prompt)
	return fmt.Sprintf("summary %d", len(f.prompts)), nil
}

func writeInput(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestChunkText(t *testing.T) {
	chunks := ChunkText("abcdefghij", 4)
	want := []string{"abcd", "efgh", "ij"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Fatalf("chunk %d: want %q got %q", i, want[i], chunks[i])
		}
	}
}

func TestChunkTextEmpty(t *testing.T) {
	if chunks := ChunkText("", 4); len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestChunkTextRuneSafe(t *testing.T) {
	chunks := ChunkText("héllo wörld", 3)
	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != "héllo wörld" {
		t.Fatalf("chunking split a rune: %q", rebuilt.String())
	}
}

func TestCollectTextsOrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "b.txt", "second file")
	writeInput(t, dir, "a.md", "first file")
	writeInput(t, dir, "skip.pdf", "binary")
	writeInput(t, dir, "skip.exe", "binary")

	p := &Pipeline{loader: fakeLoader{}, gen: &fakeGen{}}
	text, err := p.CollectTexts(context.Background(), dir)
	if err != nil {
		t.Fatalf("collect texts: %v", err)
	}
	if strings.Contains(text, "binary") {
		t.Fatalf("unsupported files leaked into output: %q", text)
	}
	aPos := strings.Index(text, "===== FILE: a.md =====")
	bPos := strings.Index(text, "===== FILE: b.txt =====")
	if aPos < 0 || bPos < 0 {
		t.Fatalf("missing file headers: %q", text)
	}
	if aPos > bPos {
		t.Fatalf("files not in name order")
	}
}

func TestRunSingleChunk(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeInput(t, inDir, "doc.txt", "short document")

	gen := &fakeGen{}
	p := &Pipeline{loader: fakeLoader{}, gen: gen}
	err := p.Run(context.Background(), Options{InputDir: inDir, OutputDir: outDir, ChunkSize: 1000})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// One chunk: no combine call, final equals the chunk summary.
	if len(gen.prompts) != 1 {
		t.Fatalf("expected 1 generation, got %d", len(gen.prompts))
	}
	final, err := os.ReadFile(filepath.Join(outDir, "final_summary.txt"))
	if err != nil {
		t.Fatalf("read final summary: %v", err)
	}
	if string(final) != "summary 1" {
		t.Fatalf("unexpected final summary: %q", final)
	}
	if _, err := os.Stat(filepath.Join(outDir, "chunk_1_summary.txt")); err != nil {
		t.Fatalf("chunk summary missing: %v", err)
	}
}

func TestRunMultiChunkCombines(t *testing.T) {
	inDir := t.TempDir()
	outDir := t.TempDir()
	writeInput(t, inDir, "doc.txt", strings.Repeat("x", 500))

	gen := &fakeGen{}
	p := &Pipeline{loader: fakeLoader{}, gen: gen}
	err := p.Run(context.Background(), Options{InputDir: inDir, OutputDir: outDir, ChunkSize: 200})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 3+ chunk summaries plus one combine call.
	if len(gen.prompts) < 4 {
		t.Fatalf("expected chunk and combine generations, got %d", len(gen.prompts))
	}
	last := gen.prompts[len(gen.prompts)-1]
	if !strings.Contains(last, "Combine them") {
		t.Fatalf("final generation was not a combine prompt: %q", last)
	}
	final, err := os.ReadFile(filepath.Join(outDir, "final_summary.txt"))
	if err != nil {
		t.Fatalf("read final summary: %v", err)
	}
	if len(final) == 0 {
		t.Fatalf("empty final summary")
	}
}

func TestRunEmptyInputFails(t *testing.T) {
	p := &Pipeline{loader: fakeLoader{}, gen: &fakeGen{}}
	err := p.Run(context.Background(), Options{InputDir: t.TempDir(), OutputDir: t.TempDir()})
	if err == nil {
		t.Fatal("expected error for empty input dir")
	}
}

func TestRunSurfacesGeneratorError(t *testing.T) {
	inDir := t.TempDir()
	writeInput(t, inDir, "doc.txt", "content")

	cause := errors.New("model offline")
	p := &Pipeline{loader: fakeLoader{}, gen: &fakeGen{err: cause}}
	err := p.Run(context.Background(), Options{InputDir: inDir, OutputDir: t.TempDir()})
	if !errors.Is(err, cause) {
		t.Fatalf("expected generator error, got %v", err)
	}
}
