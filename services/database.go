package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Luneo19/luneo-platform-sub027/models"
)

// DatabaseService is the status tracker: it owns every durable write to a
// job's model_conversions row, keyed by conversion id, plus the URL
// write-back onto the owning model record.
type DatabaseService struct {
	db *sql.DB
}

func NewDatabaseService(databaseURL string) (*DatabaseService, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseService{db: db}, nil
}

// NewDatabaseServiceWithDB wraps an existing connection (tests).
func NewDatabaseServiceWithDB(db *sql.DB) *DatabaseService {
	return &DatabaseService{db: db}
}

// CompletionMetrics accompanies the COMPLETED transition.
type CompletionMetrics struct {
	ResultURL        string
	CompressionRatio *float64
	QualityScore     float64
	ProcessingTimeMs int64
}

// InsertJob creates the PENDING row when a job is enqueued. The id comes
// from the caller; re-inserting the same id is an error by design.
func (d *DatabaseService) InsertJob(ctx context.Context, job *models.ConversionJob) error {
	query := `INSERT INTO model_conversions
		(id, model_id, source_format, target_format, source_url, optimize, status, progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)`
	_, err := d.db.ExecContext(ctx, query,
		job.ConversionID, job.ModelID, string(job.SourceFormat), string(job.TargetFormat),
		job.SourceURL, job.Optimize, string(models.StatusPending), time.Now(),
	)
	return err
}

// MarkProcessing is the first durable write a worker makes after claiming
// a job. Safe to re-run on redelivery: it overwrites the same row.
func (d *DatabaseService) MarkProcessing(ctx context.Context, conversionID string) error {
	query := `UPDATE model_conversions
		SET status = $1, started_at = $2, updated_at = $2, error_message = NULL, error_detail = NULL
		WHERE id = $3`
	_, err := d.db.ExecContext(ctx, query, string(models.StatusProcessing), time.Now(), conversionID)
	return err
}

// UpdateProgress records a checkpoint. GREATEST keeps the stored value
// monotonically non-decreasing even under redelivery races.
func (d *DatabaseService) UpdateProgress(ctx context.Context, conversionID string, progress int) error {
	query := `UPDATE model_conversions
		SET progress = GREATEST(progress, $1), updated_at = $2
		WHERE id = $3`
	_, err := d.db.ExecContext(ctx, query, progress, time.Now(), conversionID)
	return err
}

// MarkCompleted records the terminal success state. A non-empty result
// URL is required; COMPLETED without one is a programming error.
func (d *DatabaseService) MarkCompleted(ctx context.Context, conversionID string, m CompletionMetrics) error {
	if m.ResultURL == "" {
		return fmt.Errorf("completed without result url for conversion %s", conversionID)
	}

	query := `UPDATE model_conversions
		SET status = $1, progress = 100, result_url = $2, quality_score = $3,
		    processing_time_ms = $4, completed_at = $5, updated_at = $5`
	args := []interface{}{
		string(models.StatusCompleted), m.ResultURL, m.QualityScore,
		m.ProcessingTimeMs, time.Now(),
	}
	argIndex := 6

	if m.CompressionRatio != nil {
		query += fmt.Sprintf(`, compression_ratio = $%d`, argIndex)
		args = append(args, *m.CompressionRatio)
		argIndex++
	}

	query += fmt.Sprintf(` WHERE id = $%d`, argIndex)
	args = append(args, conversionID)

	_, err := d.db.ExecContext(ctx, query, args...)
	return err
}

// MarkFailed records the terminal failure state with a human-readable
// message and best-effort detail for operators.
func (d *DatabaseService) MarkFailed(ctx context.Context, conversionID string, errorMsg, errorDetail string) error {
	if errorMsg == "" {
		errorMsg = "conversion failed"
	}
	query := `UPDATE model_conversions
		SET status = $1, error_message = $2, error_detail = $3, completed_at = $4, updated_at = $4
		WHERE id = $5`
	_, err := d.db.ExecContext(ctx, query,
		string(models.StatusFailed), errorMsg, errorDetail, time.Now(), conversionID,
	)
	return err
}

// SetModelResultURL writes the published URL onto the owning 3D-model
// record. The column is selected through the closed mapping in models so
// no payload string ever reaches the SQL text.
func (d *DatabaseService) SetModelResultURL(ctx context.Context, modelID string, target models.Format, url string) error {
	column, ok := models.ModelURLColumn(target)
	if !ok {
		return fmt.Errorf("no model URL column for target %q", target)
	}
	query := fmt.Sprintf(`UPDATE models3d SET %s = $1, updated_at = $2 WHERE id = $3`, column)
	_, err := d.db.ExecContext(ctx, query, url, time.Now(), modelID)
	return err
}

// JobStatus is the tracker row as read back by the status CLI.
type JobStatus struct {
	ID               string
	ModelID          string
	Status           string
	Progress         int
	ResultURL        sql.NullString
	CompressionRatio sql.NullFloat64
	QualityScore     sql.NullFloat64
	ErrorMessage     sql.NullString
	StartedAt        sql.NullTime
	CompletedAt      sql.NullTime
	ProcessingTimeMs sql.NullInt64
}

func (d *DatabaseService) GetJob(ctx context.Context, conversionID string) (*JobStatus, error) {
	query := `SELECT id, model_id, status, progress, result_url, compression_ratio,
		quality_score, error_message, started_at, completed_at, processing_time_ms
		FROM model_conversions WHERE id = $1`

	var js JobStatus
	err := d.db.QueryRowContext(ctx, query, conversionID).Scan(
		&js.ID, &js.ModelID, &js.Status, &js.Progress, &js.ResultURL,
		&js.CompressionRatio, &js.QualityScore, &js.ErrorMessage,
		&js.StartedAt, &js.CompletedAt, &js.ProcessingTimeMs,
	)
	if err != nil {
		return nil, err
	}
	return &js, nil
}

func (d *DatabaseService) Close() error {
	return d.db.Close()
}
