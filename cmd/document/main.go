// Command document runs a single-process development server with every
// store in memory. Nothing survives a restart.
package main

import (
	"context"
	"os"

	"github.com/gogotex/collabdocs/internal/config"
	"github.com/gogotex/collabdocs/internal/server"
	"github.com/gogotex/collabdocs/pkg/logger"
)

func main() {
	logger.Init(os.Getenv("LOG_LEVEL"))
	defer logger.Sync()

	port := os.Getenv("DOC_SERVICE_PORT")
	if port == "" {
		port = "5010"
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg.MongoDB.URI = ""
	cfg.Redis.Host = ""
	cfg.MinIO.Endpoint = ""
	if cfg.JWT.Secret == "" {
		cfg.JWT.Secret = "collabdocs-dev-secret"
		logger.Warn("JWT_SECRET not set; using the development secret")
	}

	app, err := server.Build(context.Background(), cfg)
	if err != nil {
		logger.Fatalf("failed to build server: %v", err)
	}
	defer app.Close(context.Background())

	logger.Infof("collabdocs dev server listening on :%s (in-memory)", port)
	if err := app.Engine.Run(":" + port); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
