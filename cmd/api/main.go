package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/imrishuroy/hope-orderflow/internal/app"
	"github.com/imrishuroy/hope-orderflow/internal/config"
	"github.com/imrishuroy/hope-orderflow/internal/handlers"
	"github.com/imrishuroy/hope-orderflow/internal/logger"
	"go.uber.org/zap"
)

func main() {
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

	r := handlers.NewRouter(a.RouterConfig())

	// if RUN_LOCAL is set, serve HTTP directly and run the workers in-process.
	if cfg.RunLocal {
		if err := a.Jobs.Start(ctx); err != nil {
			zl.Fatal("failed to start workers", zap.Error(err))
		}
		serve(r, a, cfg.HTTPAddr, zl)
		return
	}

	// Under Lambda the sqs backend is drained by the worker function; the memory backend
	// still needs in-process workers.
	if cfg.QueueBackend == config.QueueMemory {
		if err := a.Jobs.Start(ctx); err != nil {
			zl.Fatal("failed to start workers", zap.Error(err))
		}
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func serve(h http.Handler, a *app.App, addr string, zl *zap.Logger) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		zl.Info("running local server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zl.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Error("server shutdown failed", zap.Error(err))
	}
	if err := a.Jobs.Stop(ctx); err != nil {
		zl.Error("workers did not drain", zap.Error(err))
	}
}
