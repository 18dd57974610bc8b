package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edge-vision/camctl/pkg/stage"
)

func TestCollector_Observe(t *testing.T) {
	c := NewCollector()
	ctx := context.Background()

	c.Observe(ctx, stage.Event{Kind: stage.EventStarting, Stage: "stage_infer"})
	c.Observe(ctx, stage.Event{Kind: stage.EventSucceeded, Stage: "stage_infer", Duration: 2 * time.Second})
	c.Observe(ctx, stage.Event{Kind: stage.EventSucceeded, Stage: "stage_infer", Duration: time.Second})
	c.Observe(ctx, stage.Event{Kind: stage.EventFailed, Stage: "stage_stop_processing", Duration: time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.StageRuns.WithLabelValues("stage_infer", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StageRuns.WithLabelValues("stage_stop_processing", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.StageRuns.WithLabelValues("stage_infer", "starting")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.StageDuration))
}

func TestCollector_WriteTextfile(t *testing.T) {
	c := NewCollector()
	c.Observe(context.Background(), stage.Event{Kind: stage.EventSucceeded, Stage: "stage_initialize", Duration: 300 * time.Millisecond})

	path := filepath.Join(t.TempDir(), "camctl.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.True(t, strings.Contains(text, `camctl_stage_runs_total{stage="stage_initialize",status="succeeded"} 1`), text)
	assert.Contains(t, text, "camctl_stage_duration_seconds_bucket")
}
