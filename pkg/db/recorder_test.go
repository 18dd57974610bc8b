package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Observe(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.CreateRun(ctx, &Run{ID: "run-r", DeviceName: "cam", Stages: []string{"stage_a", "stage_b"}}))

	rec := NewRecorder(repo, "run-r")
	now := time.Now()

	rec.Observe(ctx, stage.Event{Kind: stage.EventStarting, Stage: "stage_a", Position: 1, Total: 2, Time: now})
	rec.Observe(ctx, stage.Event{Kind: stage.EventSucceeded, Stage: "stage_a", Position: 1, Total: 2, Time: now, Duration: 1500 * time.Millisecond})
	rec.Observe(ctx, stage.Event{Kind: stage.EventStarting, Stage: "stage_b", Position: 2, Total: 2, Time: now})
	rec.Observe(ctx, stage.Event{Kind: stage.EventFailed, Stage: "stage_b", Position: 2, Total: 2, Time: now, Err: errors.New("boom")})

	stages, err := repo.ListStages(ctx, "run-r")
	require.NoError(t, err)
	require.Len(t, stages, 2)

	assert.Equal(t, "stage_a", stages[0].Stage)
	assert.Equal(t, StatusSucceeded, stages[0].Status)
	assert.Equal(t, 1500*time.Millisecond, stages[0].Duration)

	assert.Equal(t, "stage_b", stages[1].Stage)
	assert.Equal(t, 2, stages[1].Position)
	assert.Equal(t, StatusFailed, stages[1].Status)
	assert.Equal(t, "boom", stages[1].ErrorMessage)
}

func TestRecorder_ObserveAfterCloseDoesNotPanic(t *testing.T) {
	repo := newTestRepository(t)
	rec := NewRecorder(repo, "run-x")
	require.NoError(t, repo.Close())

	assert.NotPanics(t, func() {
		rec.Observe(context.Background(), stage.Event{Kind: stage.EventSucceeded, Stage: "stage_a", Position: 1})
	})
}
