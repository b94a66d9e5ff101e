package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/peterbourgon/ff/v3"

	"dynochat/internal/config"
	"dynochat/internal/ollama"
	"dynochat/internal/summarize"
)

func main() {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	var (
		inputDir  = fs.String("input", "./data", "directory containing .txt/.csv/.md files to summarize")
		outputDir = fs.String("output", ".", "directory for chunk and final summaries")
		chunkSize = fs.Int("chunk-size", summarize.DefaultChunkSize, "characters per prompt chunk")
		baseURL   = fs.String("ollama-url", "http://localhost:11434", "inference endpoint base url")
		model     = fs.String("model", "llama3.2", "model name")
		timeout   = fs.Duration("timeout", 5*time.Minute, "per-request ceiling")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("DYNOCHAT")); err != nil {
		log.Fatalf("parse flags: %v", err)
	}

	client, err := ollama.NewClient(config.OllamaConfig{
		BaseURL:        *baseURL,
		Model:          *model,
		TimeoutSeconds: int(timeout.Seconds()),
	})
	if err != nil {
		log.Fatalf("init inference client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	pipeline, err := summarize.NewPipeline(ctx, client)
	if err != nil {
		log.Fatalf("init pipeline: %v", err)
	}

	if err := pipeline.Run(ctx, summarize.Options{
		InputDir:  *inputDir,
		OutputDir: *outputDir,
		ChunkSize: *chunkSize,
	}); err != nil {
		log.Fatalf("summarize: %v", err)
	}
}
