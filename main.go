package main

import (
	"context"
	"log"
	"os"
	"time"

	"dynochat/internal/api"
	"dynochat/internal/chat"
	"dynochat/internal/config"
	"dynochat/internal/memory"
	"dynochat/internal/ollama"
	"dynochat/internal/redis"
	"dynochat/internal/service/assistant"
	"dynochat/internal/storage"
	"dynochat/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("DYNOCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("DYNOCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		// The state cache is optional; session views fall back to the
		// database when redis is unavailable.
		log.Printf("redis unavailable, session cache disabled: %v", err)
		rdb = nil
	}
	defer rdb.Close()

	llm, err := ollama.NewClient(cfg.Ollama)
	if err != nil {
		log.Fatalf("init inference client: %v", err)
	}

	initCtx, initCancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := memory.NewChromaClient(initCtx, cfg.Memory)
	initCancel()
	if err != nil {
		log.Fatalf("connect memory store: %v", err)
	}
	gateway := memory.NewGateway(store)

	controller := chat.NewController(gateway, llm, cfg.Memory.RetrievalLimit, cfg.Memory.ContextBudget)
	controller.OnState = func(s chat.TurnState) {
		if os.Getenv("DYNOCHAT_WORKER_DEBUG") == "1" {
			log.Printf("turn state: %s", s)
		}
	}

	assistantService := assistant.NewService(db)
	workerCfg := worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
	}
	manager := worker.NewManager(assistantService, controller, llm, workerCfg, rdb)

	handlers := api.NewHandler(assistantService, manager, gateway, llm.Timeout())

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
