package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Luneo19/luneo-platform-sub027/config"
	"github.com/Luneo19/luneo-platform-sub027/models"
)

// Enqueue pushes a conversion job onto the pending queue. The caller
// supplies the conversion id; the pipeline never generates one.
func Enqueue(ctx context.Context, rdb *redis.Client, cfg *config.Config, job *models.ConversionJob) error {
	if job.ConversionID == "" {
		return fmt.Errorf("job missing conversion id")
	}
	if _, err := models.ParseFormat(string(job.SourceFormat)); err != nil {
		return err
	}
	if _, err := models.ParseFormat(string(job.TargetFormat)); err != nil {
		return err
	}
	if job.MaxRetries == 0 {
		job.MaxRetries = cfg.MaxRetries
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := rdb.LPush(ctx, cfg.PendingQueue, payload).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ConversionID, err)
	}
	return nil
}
