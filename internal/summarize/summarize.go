package summarize

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
)

// Generator produces one completion per prompt; *ollama.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Options configures one batch run.
type Options struct {
	InputDir  string
	OutputDir string
	ChunkSize int // characters per prompt chunk
}

const DefaultChunkSize = 20000

var supportedExtensions = map[string]bool{
	".txt": true,
	".csv": true,
	".md":  true,
}

// Pipeline extracts text from local documents, chunks it and summarizes
// each chunk through the inference endpoint. Strictly sequential; a file
// that cannot be read is skipped with a warning rather than failing the
// whole run.
type Pipeline struct {
	loader document.Loader
	gen    Generator
}

func NewPipeline(ctx context.Context, gen Generator) (*Pipeline, error) {
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{UseNameAsID: true})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Pipeline{loader: loader, gen: gen}, nil
}

// CollectTexts walks the input directory, extracts text from every
// supported file and concatenates the results with per-file headers.
func (p *Pipeline) CollectTexts(ctx context.Context, dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read input dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".pdf" {
			log.Printf("[WARN] skipping %s: pdf extraction not supported", entry.Name())
			continue
		}
		if !supportedExtensions[ext] {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	var all []string
	for _, name := range names {
		path := filepath.Join(dir, name)
		log.Printf("[INFO] extracting from %s", path)
		docs, err := p.loader.Load(ctx, document.Source{URI: path})
		if err != nil {
			log.Printf("[WARN] could not read %s: %v", path, err)
			continue
		}
		var text strings.Builder
		for _, doc := range docs {
			text.WriteString(doc.Content)
		}
		if strings.TrimSpace(text.String()) == "" {
			continue
		}
		header := fmt.Sprintf("\n\n===== FILE: %s =====\n\n", name)
		all = append(all, header+text.String())
	}
	return strings.Join(all, "\n"), nil
}

// ChunkText splits text into fixed-size character chunks.
func ChunkText(text string, size int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

const chunkPrompt = "Summarize the following document section clearly and concisely. " +
	"Keep the key facts, names and numbers.\n\n%s"

const combinePrompt = "The following are summaries of consecutive sections of a document set. " +
	"Combine them into one coherent overall summary.\n\n%s"

// Run executes the whole batch: collect, chunk, summarize each chunk to
// chunk_<n>_summary.txt, then combine everything into final_summary.txt.
func (p *Pipeline) Run(ctx context.Context, opts Options) error {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	combined, err := p.CollectTexts(ctx, opts.InputDir)
	if err != nil {
		return err
	}
	if strings.TrimSpace(combined) == "" {
		return fmt.Errorf("no extractable text found in %s", opts.InputDir)
	}

	chunks := ChunkText(combined, opts.ChunkSize)
	log.Printf("[INFO] summarizing %d chunks of up to %d chars", len(chunks), opts.ChunkSize)

	var summaries []string
	for i, chunk := range chunks {
		summary, err := p.gen.Generate(ctx, fmt.Sprintf(chunkPrompt, chunk))
		if err != nil {
			return fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		summaries = append(summaries, summary)
		out := filepath.Join(opts.OutputDir, fmt.Sprintf("chunk_%d_summary.txt", i+1))
		if err := os.WriteFile(out, []byte(summary), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		log.Printf("[INFO] wrote %s", out)
	}

	final := summaries[0]
	if len(summaries) > 1 {
		final, err = p.gen.Generate(ctx, fmt.Sprintf(combinePrompt, strings.Join(summaries, "\n\n---\n\n")))
		if err != nil {
			return fmt.Errorf("combine summaries: %w", err)
		}
	}
	finalPath := filepath.Join(opts.OutputDir, "final_summary.txt")
	if err := os.WriteFile(finalPath, []byte(final), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", finalPath, err)
	}
	log.Printf("[INFO] wrote %s", finalPath)
	return nil
}
