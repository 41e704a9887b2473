package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub027/config"
	"github.com/Luneo19/luneo-platform-sub027/metrics"
	"github.com/Luneo19/luneo-platform-sub027/models"
	"github.com/Luneo19/luneo-platform-sub027/pipeline"
	"github.com/Luneo19/luneo-platform-sub027/services"
)

type statusTracker interface {
	MarkProcessing(ctx context.Context, conversionID string) error
	UpdateProgress(ctx context.Context, conversionID string, progress int) error
	MarkCompleted(ctx context.Context, conversionID string, m services.CompletionMetrics) error
	MarkFailed(ctx context.Context, conversionID string, errorMsg, errorDetail string) error
	SetModelResultURL(ctx context.Context, modelID string, target models.Format, url string) error
}

type artifactPublisher interface {
	Upload(ctx context.Context, localPath, key, contentType string) (string, error)
}

type conversionRunner interface {
	Run(ctx context.Context, ws *pipeline.Workspace, req pipeline.Request, report func(int)) (*pipeline.Result, error)
}

// Pool consumes conversion jobs from the Redis pending list with
// at-least-once semantics: BRPopLPush moves each payload into the
// processing list so a crashed worker's job is visible to the recovery
// loop. Many workers run in parallel; each job's stages run sequentially
// inside one worker.
type Pool struct {
	config      *config.Config
	redisClient *redis.Client
	tracker     statusTracker
	publisher   artifactPublisher
	orch        conversionRunner
	logger      *zap.Logger
	metrics     *metrics.Metrics

	// retryDelay is swappable in tests; defaults to exponential backoff.
	retryDelay func(retryCount int) time.Duration
}

func NewPool(cfg *config.Config, redisClient *redis.Client, dbSvc *services.DatabaseService, logger *zap.Logger, m *metrics.Metrics) *Pool {
	executor := pipeline.NewExecutor(logger)
	execOpts := pipeline.ExecOptions{
		Timeout:        time.Duration(cfg.ToolTimeoutSec) * time.Second,
		MaxOutputBytes: cfg.MaxOutputBytes,
	}
	converter := pipeline.NewConverter(executor, cfg.ToolPath, execOpts, logger)
	optimizer := pipeline.NewOptimizer(executor, cfg.ToolPath, execOpts, cfg.DracoLevel, logger)
	fetcher := pipeline.NewFetcher(logger)
	orch := pipeline.NewOrchestrator(converter, optimizer, fetcher, logger)

	return newPoolWithDeps(cfg, redisClient, dbSvc, services.NewS3Service(cfg), orch, logger, m)
}

func newPoolWithDeps(cfg *config.Config, redisClient *redis.Client, tracker statusTracker, publisher artifactPublisher, orch conversionRunner, logger *zap.Logger, m *metrics.Metrics) *Pool {
	return &Pool{
		config:      cfg,
		redisClient: redisClient,
		tracker:     tracker,
		publisher:   publisher,
		orch:        orch,
		logger:      logger,
		metrics:     m,
		retryDelay:  defaultRetryDelay,
	}
}

func defaultRetryDelay(retryCount int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(retryCount))) * time.Second
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func (p *Pool) StartWorker(ctx context.Context, workerID int) {
	logger := p.logger.With(zap.Int("worker_id", workerID))
	logger.Info("worker starting")

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			return
		default:
			// Atomic pop from pending and push to processing
			result, err := p.redisClient.BRPopLPush(
				ctx,
				p.config.PendingQueue,
				p.config.ProcessingQueue,
				30*time.Second,
			).Result()

			if err == redis.Nil {
				// Timeout, no jobs available
				continue
			}

			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				logger.Error("redis error", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}

			var job models.ConversionJob
			if err := json.Unmarshal([]byte(result), &job); err != nil {
				logger.Error("failed to parse job payload", zap.Error(err))
				// Remove malformed job from processing queue
				p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, result)
				continue
			}

			p.processJob(ctx, workerID, &job, result)
		}
	}
}

func (p *Pool) processJob(ctx context.Context, workerID int, job *models.ConversionJob, jobJSON string) {
	logger := p.logger.With(
		zap.Int("worker_id", workerID),
		zap.String("conversion_id", job.ConversionID),
		zap.String("model_id", job.ModelID),
		zap.String("target", string(job.TargetFormat)),
	)
	logger.Info("processing conversion",
		zap.String("source", string(job.SourceFormat)),
		zap.Bool("optimize", job.Optimize),
	)

	p.metrics.ActiveWorkers.Inc()
	defer p.metrics.ActiveWorkers.Dec()

	// First durable write after claiming the job. A crash before this
	// point leaves the payload in the processing list for the recovery
	// loop.
	if err := p.tracker.MarkProcessing(ctx, job.ConversionID); err != nil {
		logger.Warn("failed to mark processing", zap.Error(err))
	}
	p.setStatusHash(ctx, job.ConversionID, map[string]interface{}{
		"status":     string(models.StatusProcessing),
		"updated_at": time.Now().Format(time.RFC3339),
	})

	report := p.progressReporter(ctx, job.ConversionID, logger)
	report(10)

	startTime := time.Now()

	ws, err := pipeline.NewWorkspace(p.config.WorkspaceRoot, job.ConversionID, logger)
	if err != nil {
		p.handleJobFailure(ctx, logger, job, jobJSON, fmt.Errorf("workspace: %w", err))
		return
	}
	defer ws.Destroy()

	jobCtx := ctx
	if job.TimeoutSec > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutSec)*time.Second)
		defer cancel()
	}

	result, err := p.orch.Run(jobCtx, ws, pipeline.Request{
		SourceURL: job.SourceURL,
		Source:    job.SourceFormat,
		Target:    job.TargetFormat,
		Optimize:  job.Optimize,
	}, report)
	if err != nil {
		p.handleJobFailure(ctx, logger, job, jobJSON, err)
		return
	}

	resultURL, err := p.publishArtifacts(jobCtx, job, result)
	if err != nil {
		p.handleJobFailure(ctx, logger, job, jobJSON, err)
		return
	}
	report(100)

	duration := time.Since(startTime)
	m := services.CompletionMetrics{
		ResultURL:        resultURL,
		QualityScore:     scoreQuality(job, result),
		ProcessingTimeMs: duration.Milliseconds(),
	}
	if result.CompressionRatio > 0 {
		ratio := result.CompressionRatio
		m.CompressionRatio = &ratio
	}

	if err := p.tracker.MarkCompleted(ctx, job.ConversionID, m); err != nil {
		logger.Error("failed to mark completed", zap.Error(err))
	}
	if err := p.tracker.SetModelResultURL(ctx, job.ModelID, job.TargetFormat, resultURL); err != nil {
		logger.Warn("failed to write model url", zap.Error(err))
	}

	p.setStatusHash(ctx, job.ConversionID, map[string]interface{}{
		"status":     string(models.StatusCompleted),
		"result_url": resultURL,
		"updated_at": time.Now().Format(time.RFC3339),
	})

	// Remove from processing queue
	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	p.metrics.JobsTotal.WithLabelValues(string(models.StatusCompleted)).Inc()
	p.metrics.JobDuration.Observe(duration.Seconds())

	logger.Info("conversion completed",
		zap.String("result_url", resultURL),
		zap.Duration("duration", duration),
	)
}

// publishArtifacts uploads the primary artifact and any LOD variants,
// returning the primary public URL.
func (p *Pool) publishArtifacts(ctx context.Context, job *models.ConversionJob, result *pipeline.Result) (string, error) {
	key, ok := models.ArtifactKey(job.ModelID, job.TargetFormat)
	if !ok {
		return "", fmt.Errorf("no artifact key for target %q", job.TargetFormat)
	}
	contentType, _ := models.ArtifactContentType(job.TargetFormat)

	resultURL, err := p.publisher.Upload(ctx, result.OutputPath, key, contentType)
	if err != nil {
		return "", pipeline.PublishError("publish", err)
	}

	for _, lod := range result.LODs {
		lodKey := models.LODArtifactKey(job.ModelID, job.TargetFormat, lod.Name)
		if _, err := p.publisher.Upload(ctx, lod.OutputPath, lodKey, "model/gltf-binary"); err != nil {
			return "", pipeline.PublishError("publish", fmt.Errorf("lod %s: %w", lod.Name, err))
		}
	}
	return resultURL, nil
}

// handleJobFailure records FAILED durably before any retry is scheduled,
// so status stays observable even while a redelivery is pending. Input
// errors never retry; everything else retries up to the job's limit.
func (p *Pool) handleJobFailure(ctx context.Context, logger *zap.Logger, job *models.ConversionJob, jobJSON string, jobErr error) {
	kindLabel := "unknown"
	if kind, ok := pipeline.KindOf(jobErr); ok {
		kindLabel = kind.String()
	}
	logger.Error("conversion failed",
		zap.String("kind", kindLabel),
		zap.String("stage", pipeline.StageOf(jobErr)),
		zap.Error(jobErr),
	)

	errorMsg := failureMessage(jobErr)
	if err := p.tracker.MarkFailed(ctx, job.ConversionID, errorMsg, jobErr.Error()); err != nil {
		logger.Error("failed to mark failed", zap.Error(err))
	}
	p.setStatusHash(ctx, job.ConversionID, map[string]interface{}{
		"status":     string(models.StatusFailed),
		"error":      errorMsg,
		"updated_at": time.Now().Format(time.RFC3339),
	})

	// Remove from processing queue
	p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

	p.metrics.JobsTotal.WithLabelValues(string(models.StatusFailed)).Inc()
	p.metrics.StageFailures.WithLabelValues(kindLabel).Inc()

	if pipeline.Retryable(jobErr) && job.RetryCount < job.MaxRetries {
		job.RetryCount++
		newJobJSON, _ := json.Marshal(job)

		delay := p.retryDelay(job.RetryCount)
		time.AfterFunc(delay, func() {
			p.redisClient.LPush(context.Background(), p.config.PendingQueue, newJobJSON)
		})
		logger.Info("scheduled retry",
			zap.Int("attempt", job.RetryCount),
			zap.Int("max_retries", job.MaxRetries),
			zap.Duration("delay", delay),
		)
		return
	}

	// Fatal input error or retries exhausted: park the payload for
	// operator inspection.
	p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON)
	logger.Info("moved to failed queue", zap.Int("attempts", job.RetryCount))
}

// progressReporter clamps reported percentages to be monotonically
// non-decreasing for this attempt, then mirrors them to the tracker and
// the Redis status hash.
func (p *Pool) progressReporter(ctx context.Context, conversionID string, logger *zap.Logger) func(int) {
	var mu sync.Mutex
	last := 0
	return func(percent int) {
		mu.Lock()
		if percent < last {
			percent = last
		}
		last = percent
		mu.Unlock()

		if err := p.tracker.UpdateProgress(ctx, conversionID, percent); err != nil {
			logger.Warn("failed to update progress", zap.Int("progress", percent), zap.Error(err))
		}
		p.redisClient.HSet(ctx, p.statusKey(conversionID), "progress", percent)
	}
}

func (p *Pool) setStatusHash(ctx context.Context, conversionID string, fields map[string]interface{}) {
	p.redisClient.HSet(ctx, p.statusKey(conversionID), fields)
}

func (p *Pool) statusKey(conversionID string) string {
	return p.config.RedisPrefix + "arconvert:status:" + conversionID
}

// scoreQuality is the fidelity metric hook. The current heuristic pins
// 1.0, matching the lossless paths.
// TODO: derive a real score for decimated and Draco outputs instead of
// reporting full fidelity for lossy results.
func scoreQuality(_ *models.ConversionJob, _ *pipeline.Result) float64 {
	return 1.0
}

func failureMessage(err error) string {
	kind, ok := pipeline.KindOf(err)
	if !ok {
		return "conversion failed unexpectedly"
	}
	switch kind {
	case pipeline.ErrInput:
		return "source asset could not be processed"
	case pipeline.ErrTimeout:
		return "conversion timed out"
	case pipeline.ErrPublish:
		return "artifact upload failed"
	default:
		return "conversion tool failed"
	}
}

// RecoveryLoop periodically requeues stale jobs stuck in the processing
// list (crashed or wedged workers) and sweeps orphaned workspaces.
func (p *Pool) RecoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	p.logger.Info("recovery loop starting")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("recovery loop shutting down")
			return
		case <-ticker.C:
			p.recoverStaleJobs(ctx)
			staleAfter := time.Duration(p.config.StaleJobMinutes) * time.Minute
			if _, err := pipeline.SweepOrphans(p.config.WorkspaceRoot, staleAfter, p.logger); err != nil {
				p.logger.Warn("workspace sweep failed", zap.Error(err))
			}
		}
	}
}

func (p *Pool) recoverStaleJobs(ctx context.Context) {
	jobs, err := p.redisClient.LRange(ctx, p.config.ProcessingQueue, 0, -1).Result()
	if err != nil {
		p.logger.Error("failed to read processing queue", zap.Error(err))
		return
	}

	staleAfter := time.Duration(p.config.StaleJobMinutes) * time.Minute
	recovered := 0
	for _, jobJSON := range jobs {
		var job models.ConversionJob
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}

		if time.Since(job.EnqueuedAt) < staleAfter {
			continue
		}

		// Remove from processing; requeue or park depending on attempts.
		p.redisClient.LRem(ctx, p.config.ProcessingQueue, 1, jobJSON)

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.EnqueuedAt = time.Now()
			newJobJSON, _ := json.Marshal(job)
			p.redisClient.LPush(ctx, p.config.PendingQueue, newJobJSON)
			recovered++
		} else {
			p.redisClient.LPush(ctx, p.config.FailedQueue, jobJSON)
			msg := fmt.Sprintf("job stale: no progress for %s", staleAfter)
			if err := p.tracker.MarkFailed(ctx, job.ConversionID, msg, ""); err != nil {
				p.logger.Error("failed to mark stale job failed", zap.Error(err))
			}
		}
	}

	if recovered > 0 {
		p.logger.Info("recovered stale jobs", zap.Int("count", recovered))
	}
}
