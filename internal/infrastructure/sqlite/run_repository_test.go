package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRunRepository_StartAndFinish(t *testing.T) {
	db := setupTestDB(t)
	repo := db.RunRepository()
	ctx := context.Background()

	run, err := repo.Start(ctx, "parallel", 8, 12)
	require.NoError(t, err)
	_, err = uuid.Parse(run.ID)
	require.NoError(t, err, "run ID should be a UUID")
	require.Nil(t, run.FinishedAt)

	found, err := repo.FindByID(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, "parallel", found.Mode)
	require.Equal(t, 8, found.Workers)
	require.Equal(t, 12, found.Files)
	require.Nil(t, found.FinishedAt)
	require.WithinDuration(t, run.StartedAt, found.StartedAt, time.Millisecond)

	sum := RunSummary{
		FilesFailed: 1,
		TotalLines:  1000,
		ParsedLines: 990,
		FailedLines: 10,
		ReadTime:    120 * time.Millisecond,
		ParseTime:   340 * time.Millisecond,
		SinkTime:    1500 * time.Millisecond,
	}
	require.NoError(t, repo.Finish(ctx, run, sum))
	require.NotNil(t, run.FinishedAt)

	found, err = repo.FindByID(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, found.FinishedAt)
	require.Equal(t, sum, found.Summary)
}

func TestRunRepository_FinishUnknownRun(t *testing.T) {
	db := setupTestDB(t)
	repo := db.RunRepository()

	err := repo.Finish(context.Background(), &Run{ID: "missing"}, RunSummary{})
	var notFound *RunNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Equal(t, "missing", notFound.ID)
}

func TestRunRepository_FindByIDNotFound(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.RunRepository().FindByID(context.Background(), "nope")
	var notFound *RunNotFoundError
	require.True(t, errors.As(err, &notFound))
}

func TestRunRepository_Recent(t *testing.T) {
	db := setupTestDB(t)
	repo := db.RunRepository()
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		repo.now = func() time.Time { return tick }
		run, err := repo.Start(ctx, "sequential", 1, i+1)
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}

	runs, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, ids[2], runs[0].ID)
	require.Equal(t, ids[1], runs[1].ID)
}
