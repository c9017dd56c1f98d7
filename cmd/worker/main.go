package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"portraitserver/internal/adapter/queue"
	"portraitserver/internal/adapter/repo"
	"portraitserver/internal/checkpoint"
	"portraitserver/internal/domain"
	"portraitserver/internal/domain/jsoncfg"
	"portraitserver/internal/engine"
	"portraitserver/internal/infra"
	"portraitserver/internal/providers/genai"
	"portraitserver/internal/retry"
	"portraitserver/internal/storage"
	"portraitserver/internal/taskqueue"
)

const dequeueTimeout = 5 * time.Second

type jobStore interface {
	Claim(ctx context.Context) (*domain.Job, error)
	UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string, resultJSON []byte) error
}

type assetStore interface {
	SaveAll(ctx context.Context, assets []domain.Asset) error
}

type jobFeed interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
}

type checkpointStore interface {
	Unfinished(ctx context.Context) ([]domain.WorkflowSnapshot, error)
}

type jobWorker struct {
	ctx         context.Context
	logger      infra.Logger
	jobs        jobStore
	assets      assetStore
	feed        jobFeed
	checkpoints checkpointStore
	engine      *engine.Engine
}

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()
	runner := infra.NewSQLRunner(pool, logger)

	rdb, err := infra.NewRedisClient(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: redis connection failed")
	}
	defer rdb.Close()

	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	checkpoints, err := checkpoint.Open(cfg.CheckpointPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to open checkpoint store")
	}
	defer checkpoints.Close()

	geminiClient, err := genai.NewClient(genai.Options{
		APIKey:     cfg.GeminiAPIKey,
		BaseURL:    cfg.GeminiBaseURL,
		Model:      cfg.GeminiModel,
		HTTPClient: &http.Client{Timeout: 120 * time.Second},
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure gemini client")
	}
	if cfg.GeminiAPIKey == "" {
		logger.Warn().Str("model", geminiClient.Model()).Msg("worker: gemini api key missing, using synthetic generation")
	}

	jobs := repo.NewJobRepository(runner)
	assets := repo.NewAssetRepository(runner)

	eng, err := engine.New(engine.Config{
		Model:        geminiClient,
		Assets:       fileStore,
		Intermediate: fileStore,
		State:        checkpoints,
		Progress:     engine.NewProgressReporter(jobs, logger),
		Queue:        taskqueue.New(cfg.ModelConcurrency),
		Retry:        retry.New(cfg.RateLimitRetries, cfg.RetryBaseSleep, logger),
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to build engine")
	}

	worker := &jobWorker{
		ctx:         ctx,
		logger:      logger,
		jobs:        jobs,
		assets:      assets,
		feed:        queue.New(rdb, cfg.RedisJobList),
		checkpoints: checkpoints,
		engine:      eng,
	}

	if err := worker.Run(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

// Run requeues generations a previous process left unfinished, then drains
// the job table whenever the Redis feed wakes it up. The feed is only a
// notification channel; the claim query is the actual handoff, so a lost
// notification merely delays a job until the next wake-up.
func (w *jobWorker) Run() error {
	w.logger.Info().Msg("worker: started")
	w.resumeUnfinished()
	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		default:
		}

		if _, err := w.feed.Dequeue(w.ctx, dequeueTimeout); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			if !errors.Is(err, queue.ErrEmpty) {
				w.logger.Error().Err(err).Msg("worker: dequeue failed")
				time.Sleep(dequeueTimeout)
			}
		}

		w.drain()
	}
}

// resumeUnfinished sweeps the checkpoint store for generations whose last
// snapshot is not terminal. Their job rows were left running when the
// previous process died; putting them back to queued lets the claim query
// hand them out again, and the feed notification just speeds that up.
func (w *jobWorker) resumeUnfinished() {
	snaps, err := w.checkpoints.Unfinished(w.ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("worker: list unfinished generations failed")
		return
	}
	for _, snap := range snaps {
		w.logger.Info().
			Str("job_id", snap.JobID).
			Str("generation_id", snap.GenerationID).
			Int("attempt", snap.Attempt).
			Msg("worker: resuming generation from previous run")
		if err := w.jobs.UpdateStatus(w.ctx, snap.JobID, domain.JobStatusQueued, nil, nil); err != nil {
			w.logger.Error().Err(err).Str("job_id", snap.JobID).Msg("worker: requeue failed")
			continue
		}
		if err := w.feed.Enqueue(w.ctx, snap.JobID); err != nil {
			w.logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("worker: resume notification failed")
		}
	}
}

func (w *jobWorker) drain() {
	for {
		job, err := w.jobs.Claim(w.ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) && w.ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: claim failed")
			}
			return
		}
		w.handleJob(job)
		if w.ctx.Err() != nil {
			return
		}
	}
}

func (w *jobWorker) handleJob(job *domain.Job) {
	w.logger.Info().Str("job_id", job.ID).Str("generation_id", job.GenerationID).Msg("worker: picked job")

	result, err := w.process(job)
	if err != nil {
		if w.ctx.Err() != nil {
			return
		}
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: job failed")
		msg := err.Error()
		if updateErr := w.jobs.UpdateStatus(w.ctx, job.ID, domain.JobStatusFailed, &msg, nil); updateErr != nil {
			w.logger.Error().Err(updateErr).Str("job_id", job.ID).Msg("worker: update status failed")
		}
		return
	}

	status := domain.JobStatusSucceeded
	var errMsg *string
	if result.Outcome != domain.StateAccepted {
		status = domain.JobStatusFailed
		if result.LastError != "" {
			errMsg = &result.LastError
		}
	}
	if err := w.jobs.UpdateStatus(w.ctx, job.ID, status, errMsg, resultJSON(job, result)); err != nil {
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: update status failed")
	}
}

func (w *jobWorker) process(job *domain.Job) (*engine.Result, error) {
	var prompt jsoncfg.PromptJSON
	if err := json.Unmarshal(job.PromptJSON, &prompt); err != nil {
		return nil, fmt.Errorf("decode prompt payload: %w", err)
	}
	prompt.Normalize()
	if err := prompt.Validate(); err != nil {
		return nil, fmt.Errorf("invalid prompt payload: %w", err)
	}

	result, err := w.engine.Run(w.ctx, prompt.ToGenerationJob(job.ID, job.GenerationID))
	if err != nil {
		return nil, err
	}

	if len(result.Images) > 0 {
		records := make([]domain.Asset, 0, len(result.Images))
		for _, img := range result.Images {
			width, height := imageDimensions(img.Data)
			records = append(records, domain.Asset{
				ID:           uuid.NewString(),
				GenerationID: job.GenerationID,
				JobID:        job.ID,
				StorageKey:   img.Key,
				MIMEType:     img.MIME,
				Kind:         domain.AssetKindFinal,
				Width:        width,
				Height:       height,
			})
		}
		if err := w.assets.SaveAll(w.ctx, records); err != nil {
			w.logger.Error().Err(err).Str("job_id", job.ID).Msg("worker: persist asset records failed")
		}
	}
	return result, nil
}

func resultJSON(job *domain.Job, result *engine.Result) []byte {
	keys := make([]string, 0, len(result.Images))
	for _, img := range result.Images {
		keys = append(keys, img.Key)
	}
	return jsoncfg.MustMarshal(map[string]any{
		"generation_id": job.GenerationID,
		"outcome":       result.Outcome,
		"attempts":      result.Attempts,
		"verdicts":      result.Verdicts,
		"accepted_keys": keys,
	})
}

func imageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
