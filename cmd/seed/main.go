package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/imrishuroy/hope-orderflow/internal/app"
	"github.com/imrishuroy/hope-orderflow/internal/auth"
	"github.com/imrishuroy/hope-orderflow/internal/config"
	"github.com/imrishuroy/hope-orderflow/internal/logger"
	"go.uber.org/zap"
)

func main() {
	user := flag.String("user", "", "also print a bearer token for this user id")
	ttl := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the printed token")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to init app", zap.Error(err))
	}
	defer a.Close()

	if err := app.Seed(ctx, a.Ledger); err != nil {
		zl.Fatal("seed failed", zap.Error(err))
	}
	zl.Info("inventory seeded", zap.Int("items", len(app.Catalogue)), zap.String("backend", cfg.InventoryBackend))

	if *user != "" {
		token, err := auth.IssueToken([]byte(cfg.JWTSecret), *user, *ttl)
		if err != nil {
			zl.Fatal("issue token failed", zap.Error(err))
		}
		fmt.Println(token)
	}
}
