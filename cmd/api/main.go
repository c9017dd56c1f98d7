package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"portraitserver/internal/adapter/queue"
	"portraitserver/internal/adapter/repo"
	"portraitserver/internal/checkpoint"
	"portraitserver/internal/http/handlers"
	httpapi "portraitserver/internal/http/httpapi"
	"portraitserver/internal/infra"
	"portraitserver/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	fileStore, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	checkpoints, err := checkpoint.Open(cfg.CheckpointPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open checkpoint store")
	}
	defer checkpoints.Close()

	app := &handlers.App{
		Jobs:        repo.NewJobRepository(runner),
		Assets:      repo.NewAssetRepository(runner),
		Snapshots:   checkpoints,
		Artifacts:   fileStore,
		Feed:        queue.New(rdb, cfg.RedisJobList),
		Logger:      logger,
		MaxAttempts: cfg.MaxAttempts,
	}

	router := httpapi.NewRouter(app)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
