package commands

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/edge-vision/camctl/internal/config"
	"github.com/edge-vision/camctl/pkg/artifact"
	"github.com/edge-vision/camctl/pkg/db"
	"github.com/edge-vision/camctl/pkg/hifi"
	"github.com/edge-vision/camctl/pkg/lifecycle"
	"github.com/edge-vision/camctl/pkg/stage"
	"github.com/edge-vision/camctl/pkg/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleEnvelope(t *testing.T) []byte {
	t.Helper()
	buf := hifi.Encode(&hifi.Result{Width: 2, Height: 2, AnomalyScore: 0.5, Heatmap: []float32{1, 2, 3, 4}})
	payload := base64.StdEncoding.EncodeToString(buf)
	return []byte(fmt.Sprintf(`[{"DeviceID":"dev-1","Inferences":[{"T":"20240501","O":%q}]}]`, payload))
}

func TestDecodeEnvelope(t *testing.T) {
	r, err := decodeEnvelope(sampleEnvelope(t), false)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), r.Width)
	assert.Equal(t, []float32{1, 2, 3, 4}, r.Heatmap)

	raw := hifi.Encode(&hifi.Result{Width: 1, Height: 1, Heatmap: []float32{9}})
	r, err = decodeEnvelope(raw, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{9}, r.Heatmap)

	_, err = decodeEnvelope([]byte(`{"Inferences":[{}]}`), false)
	var missing *hifi.MissingInferenceDataError
	assert.ErrorAs(t, err, &missing)
}

func TestRenderResult(t *testing.T) {
	r := &hifi.Result{Width: 1, Height: 2, AnomalyScore: 0.25, Heatmap: []float32{0.5, 1}}

	var table bytes.Buffer
	require.NoError(t, renderResult(&table, r, "table"))
	assert.Equal(t, "Width: 1\nHeight: 2\nAnomalyScore: 0.25\nHeatmap:\n0.5\t1\n", table.String())

	var js bytes.Buffer
	require.NoError(t, renderResult(&js, r, "json"))
	var decoded hifi.Result
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, r.Heatmap, decoded.Heatmap)

	var ym bytes.Buffer
	require.NoError(t, renderResult(&ym, r, "yaml"))
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(ym.Bytes(), &fromYAML))
	assert.Equal(t, 1, fromYAML["width"])
	assert.Equal(t, 0.25, fromYAML["anomaly_score"])

	assert.Error(t, renderResult(&bytes.Buffer{}, r, "xml"))
}

func TestReadLimited(t *testing.T) {
	path := filepath.Join(t.TempDir(), "envelope.json")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0644))

	data, err := readLimited(path, 10)
	require.NoError(t, err)
	assert.Len(t, data, 10)

	_, err = readLimited(path, 9)
	assert.Error(t, err)
}

func TestSelectStagesOnStandardRegistry(t *testing.T) {
	reg, err := standardRegistry(lifecycle.Options{})
	require.NoError(t, err)

	sel, err := selectStages(reg, []string{"stage_stop*", "stage_init*", "stage_nope"}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{lifecycle.StageInitialize, lifecycle.StageStopProcessing}, sel.Names)
	assert.Equal(t, []string{"stage_nope"}, sel.Unmatched)

	_, err = selectStages(reg, []string{"stage_nope"}, true)
	var unknown *stage.UnknownPatternError
	assert.ErrorAs(t, err, &unknown)
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		SQLitePath:       filepath.Join(dir, "db", "history.db"),
		WorkDir:          filepath.Join(dir, "work"),
		LogTopN:          50,
		LogFormat:        "auto",
		MaxEnvelopeSize:  1024,
		MaxArtifactBytes: 4096,
	}
}

func TestNewArtifactSinkLocalOnly(t *testing.T) {
	cfg := newTestConfig(t)
	runID := uuid.NewString()
	local := artifact.NewDir(cfg.WorkDir, runID)

	sink, validator := newArtifactSink(cfg, local, nil, runID)

	require.NoError(t, sink.Save(context.Background(), "infer/envelope.json", []byte("{}")))
	data, err := os.ReadFile(filepath.Join(local.Path(), "infer", "envelope.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))
	assert.Equal(t, int64(2), validator.CurrentTotalSize())

	assert.Error(t, sink.Save(context.Background(), "../escape.json", []byte("{}")))
	assert.Error(t, sink.Save(context.Background(), "big.bin", make([]byte, 2048)))
	assert.Equal(t, int64(2), validator.CurrentTotalSize())
}

func TestNewArtifactSinkArchivesToS3(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.S3Prefix = "runs"
	runID := uuid.NewString()
	bucket := newMemBucket()

	sink, _ := newArtifactSink(cfg, artifact.NewDir(cfg.WorkDir, runID), storage.NewFromAPI(bucket, "camctl"), runID)
	require.NoError(t, sink.Save(context.Background(), "logs/logs.json", []byte("[]")))

	assert.Equal(t, []byte("[]"), bucket.objects["runs/"+runID+"/logs/logs.json"])
	assert.FileExists(t, filepath.Join(artifact.RunDir(cfg.WorkDir, runID), "logs", "logs.json"))
}

func TestFinishRun(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	repo, err := openRepository(cfg)
	require.NoError(t, err)
	defer repo.Close()

	require.NoError(t, repo.CreateRun(ctx, &db.Run{ID: "ok", DeviceName: "cam", Stages: []string{"stage_initialize"}}))
	require.NoError(t, repo.CreateRun(ctx, &db.Run{ID: "bad", DeviceName: "cam", Stages: []string{"stage_initialize", "stage_infer"}}))

	sess := stage.NewSession("cam")
	require.NoError(t, sess.SetDeviceID("dev-1"))
	require.NoError(t, finishRun(ctx, repo, "ok", sess, nil))

	stageErr := &stage.StageError{Stage: "stage_infer", Position: 2, Err: &lifecycle.ProcessingStartError{Result: "ERROR"}}
	require.NoError(t, finishRun(ctx, repo, "bad", sess, stageErr))

	ok, err := repo.GetRun(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, db.StatusSucceeded, ok.Status)
	assert.Equal(t, "dev-1", ok.DeviceID)
	assert.Contains(t, ok.Session, `"device_id":"dev-1"`)

	bad, err := repo.GetRun(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, db.StatusFailed, bad.Status)
	assert.Equal(t, "stage_infer", bad.FailedStage)
	assert.Contains(t, bad.ErrorMessage, "processing start failed")
}

func TestPrintRuns(t *testing.T) {
	var empty bytes.Buffer
	printRuns(&empty, nil)
	assert.Equal(t, "No runs found\n", empty.String())

	var out bytes.Buffer
	printRuns(&out, []*db.Run{
		{ID: "run-1", DeviceName: "cam", Status: db.StatusFailed, FailedStage: "stage_infer", StartedAt: time.Now()},
		{ID: "run-2", DeviceName: "cam", Status: db.StatusSucceeded, StartedAt: time.Now()},
	})
	assert.Contains(t, out.String(), "stage_infer")
	assert.Contains(t, out.String(), "run-2")
}

func TestPrintRun(t *testing.T) {
	var out bytes.Buffer
	printRun(&out,
		&db.Run{ID: "run-1", DeviceName: "cam", Status: db.StatusFailed, Stages: []string{"stage_initialize", "stage_infer"}, ErrorMessage: "boom", StartedAt: time.Now()},
		[]*db.StageRun{
			{Position: 1, Stage: "stage_initialize", Status: db.StatusSucceeded, Duration: 1200 * time.Millisecond},
			{Position: 2, Stage: "stage_infer", Status: db.StatusFailed, ErrorMessage: "boom"},
		})

	s := out.String()
	assert.Contains(t, s, "Selected: stage_initialize, stage_infer")
	assert.Contains(t, s, "Error:    boom")
	assert.Contains(t, s, "1.2s")
}

func TestRemoveRunArtifacts(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	runID := uuid.NewString()
	dir := artifact.RunDir(cfg.WorkDir, runID)
	require.NoError(t, os.MkdirAll(dir, 0755))

	require.NoError(t, removeRunArtifacts(ctx, cfg, nil, runID))
	assert.NoDirExists(t, dir)

	// missing directory
	assert.NoError(t, removeRunArtifacts(ctx, cfg, nil, runID))

	assert.Error(t, removeRunArtifacts(ctx, cfg, nil, "../.."))
}

func TestRemoveRunArtifactsDeletesArchivedObjects(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.S3Prefix = "runs"
	runID := uuid.NewString()
	other := uuid.NewString()

	bucket := newMemBucket()
	bucket.objects["runs/"+runID+"/infer/envelope.json"] = []byte("{}")
	bucket.objects["runs/"+runID+"/logs/logs.json"] = []byte("[]")
	bucket.objects["runs/"+other+"/logs/logs.json"] = []byte("[]")
	store := storage.NewFromAPI(bucket, "camctl")

	require.NoError(t, removeRunArtifacts(ctx, cfg, store, runID))
	assert.Equal(t, []string{"runs/" + other + "/logs/logs.json"}, bucket.keys())

	// nothing left to delete
	assert.NoError(t, removeRunArtifacts(ctx, cfg, store, runID))

	// the prefix is never built from an invalid run ID
	assert.Error(t, removeRunArtifacts(ctx, cfg, store, ""))
	assert.Len(t, bucket.keys(), 1)
}

func TestReadObject(t *testing.T) {
	ctx := context.Background()
	bucket := newMemBucket()
	bucket.objects["runs/r1/infer/envelope.json"] = sampleEnvelope(t)
	store := storage.NewFromAPI(bucket, "camctl")

	data, err := readObject(ctx, store, "runs/r1/infer/envelope.json", 1<<20)
	require.NoError(t, err)
	r, err := decodeEnvelope(data, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), r.Width)

	_, err = readObject(ctx, store, "runs/r2/infer/envelope.json", 1<<20)
	assert.ErrorIs(t, err, errObjectNotFound)
	assert.EqualError(t, err, "s3://camctl/runs/r2/infer/envelope.json: object not found")
}

func TestPrintSelection(t *testing.T) {
	reg, err := standardRegistry(lifecycle.Options{})
	require.NoError(t, err)

	sel, err := selectStages(reg, []string{"stage_infer", "stage_nope"}, false)
	require.NoError(t, err)

	var out, errOut bytes.Buffer
	printSelection(&out, &errOut, sel, reg.Len())
	assert.Equal(t, "1. stage_infer\n1 of 5 stages selected\n", out.String())
	assert.Equal(t, "warning: pattern \"stage_nope\" matched no stage\n", errOut.String())

	none, err := selectStages(reg, []string{"stage_nope"}, false)
	require.NoError(t, err)
	out.Reset()
	printSelection(&out, io.Discard, none, reg.Len())
	assert.Equal(t, "No stages selected (5 available)\n", out.String())
}

// memBucket is a flat in-memory bucket served as a single page.
type memBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ storage.API = (*memBucket)(nil)

func newMemBucket() *memBucket {
	return &memBucket{objects: map[string][]byte{}}
}

func (m *memBucket) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *memBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: in.Key}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *memBucket) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (m *memBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memBucket) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	out := &s3.ListObjectsV2Output{}
	for _, k := range m.keys() {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
		}
	}
	return out, nil
}

func TestCommandFlags(t *testing.T) {
	typeFlag := decodeCmd.Flags().ShorthandLookup("T")
	require.NotNil(t, typeFlag)
	assert.Equal(t, "type", typeFlag.Name)
	assert.Nil(t, decodeCmd.Flags().ShorthandLookup("t"))

	require.NoError(t, runCmd.Flags().Set("decode", "true"))
	t.Cleanup(func() { runDecodeResult = false })
	assert.True(t, runDecodeResult)
}
