package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Luneo19/luneo-platform-sub027/models"
)

func newMockTracker(t *testing.T) (*DatabaseService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewDatabaseServiceWithDB(db), mock
}

func TestMarkProcessingSetsStartedAt(t *testing.T) {
	svc, mock := newMockTracker(t)

	mock.ExpectExec("UPDATE model_conversions").
		WithArgs(string(models.StatusProcessing), sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.MarkProcessing(context.Background(), "conv-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateProgressIsMonotonicInSQL(t *testing.T) {
	svc, mock := newMockTracker(t)

	// GREATEST keeps a late-arriving lower checkpoint from regressing the
	// stored value.
	mock.ExpectExec("SET progress = GREATEST\\(progress, \\$1\\)").
		WithArgs(80, sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.UpdateProgress(context.Background(), "conv-1", 80))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedWithCompressionRatio(t *testing.T) {
	svc, mock := newMockTracker(t)

	ratio := 0.3
	mock.ExpectExec("compression_ratio = \\$6").
		WithArgs(
			string(models.StatusCompleted),
			"https://cdn.test/ar-models/m/draco/model.glb",
			1.0,
			int64(4200),
			sqlmock.AnyArg(),
			0.3,
			"conv-1",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.MarkCompleted(context.Background(), "conv-1", CompletionMetrics{
		ResultURL:        "https://cdn.test/ar-models/m/draco/model.glb",
		CompressionRatio: &ratio,
		QualityScore:     1.0,
		ProcessingTimeMs: 4200,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedWithoutRatioOmitsColumn(t *testing.T) {
	svc, mock := newMockTracker(t)

	mock.ExpectExec("UPDATE model_conversions").
		WithArgs(
			string(models.StatusCompleted),
			"https://cdn.test/ar-models/m/glb/model.glb",
			1.0,
			int64(900),
			sqlmock.AnyArg(),
			"conv-2",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.MarkCompleted(context.Background(), "conv-2", CompletionMetrics{
		ResultURL:        "https://cdn.test/ar-models/m/glb/model.glb",
		QualityScore:     1.0,
		ProcessingTimeMs: 900,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedRequiresResultURL(t *testing.T) {
	svc, _ := newMockTracker(t)

	err := svc.MarkCompleted(context.Background(), "conv-3", CompletionMetrics{})
	require.Error(t, err)
}

func TestMarkFailedRecordsMessageAndDetail(t *testing.T) {
	svc, mock := newMockTracker(t)

	mock.ExpectExec("UPDATE model_conversions").
		WithArgs(
			string(models.StatusFailed),
			"conversion tool failed",
			"convert: tool error: exit 1",
			sqlmock.AnyArg(),
			"conv-4",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := svc.MarkFailed(context.Background(), "conv-4", "conversion tool failed", "convert: tool error: exit 1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetModelResultURLSelectsColumnByTarget(t *testing.T) {
	cases := []struct {
		target models.Format
		column string
	}{
		{models.FormatGLB, "gltf_url"},
		{models.FormatUSDZ, "usdz_url"},
		{models.FormatDraco, "gltf_draco_url"},
	}

	for _, tc := range cases {
		svc, mock := newMockTracker(t)

		mock.ExpectExec("UPDATE models3d SET " + tc.column).
			WithArgs("https://cdn.test/x", sqlmock.AnyArg(), "model-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := svc.SetModelResultURL(context.Background(), "model-1", tc.target, "https://cdn.test/x")
		require.NoError(t, err, "target %s", tc.target)
		assert.NoError(t, mock.ExpectationsWereMet())
	}
}

func TestSetModelResultURLRejectsSourceFormats(t *testing.T) {
	svc, _ := newMockTracker(t)

	err := svc.SetModelResultURL(context.Background(), "model-1", models.FormatFBX, "https://cdn.test/x")
	require.Error(t, err)
}
