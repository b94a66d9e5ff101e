package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Ollama      OllamaConfig              `json:"ollama"`
	Memory      MemoryConfig              `json:"memory"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address"`
	MinWorkers        int    `json:"min_workers"`
	MaxWorkers        int    `json:"max_workers"`
	QueueSize         int    `json:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout"` // minutes
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// OllamaConfig points at the local inference endpoint.
type OllamaConfig struct {
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MemoryConfig points at the vector store and bounds retrieval.
type MemoryConfig struct {
	ChromaURL      string `json:"chroma_url"`
	Collection     string `json:"collection"`
	RetrievalLimit int    `json:"retrieval_limit"`
	ContextBudget  int    `json:"context_budget"`
}

const (
	DefaultRetrievalLimit = 5
	DefaultContextBudget  = 12
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Ollama.BaseURL == "" {
		return nil, fmt.Errorf("ollama.base_url must be configured")
	}
	if cfg.Ollama.Model == "" {
		return nil, fmt.Errorf("ollama.model must be configured")
	}
	if cfg.Memory.ChromaURL == "" {
		return nil, fmt.Errorf("memory.chroma_url must be configured")
	}
	if cfg.Memory.Collection == "" {
		cfg.Memory.Collection = "chat_history"
	}
	if cfg.Memory.RetrievalLimit <= 0 {
		cfg.Memory.RetrievalLimit = DefaultRetrievalLimit
	}
	if cfg.Memory.ContextBudget <= 0 {
		cfg.Memory.ContextBudget = DefaultContextBudget
	}

	// sqlite paths are resolved against the config file location so the
	// service can be launched from any working directory.
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}
