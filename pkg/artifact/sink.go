// Package artifact stores the files a run produces: device listings,
// result envelopes and log batches.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"

	perrors "github.com/edge-vision/camctl/pkg/errors"
	"github.com/edge-vision/camctl/pkg/security"
	"github.com/edge-vision/camctl/pkg/storage"
)

// Sink persists a named artifact for the current run. Names are relative
// slash-separated paths such as "infer/envelope.json".
type Sink interface {
	Save(ctx context.Context, name string, data []byte) error
}

// Discard drops every artifact.
var Discard Sink = discard{}

type discard struct{}

func (discard) Save(context.Context, string, []byte) error { return nil }

// Dir writes artifacts below <work-dir>/artifacts/<run-id>/.
type Dir struct {
	dir string
}

// RunDir returns the directory that holds a run's local artifacts.
func RunDir(workDir, runID string) string {
	return filepath.Join(workDir, "artifacts", runID)
}

// NewDir returns a sink rooted at the run directory of runID.
func NewDir(workDir, runID string) *Dir {
	return &Dir{dir: RunDir(workDir, runID)}
}

// Path returns the run directory.
func (d *Dir) Path() string {
	return d.dir
}

func (d *Dir) Save(_ context.Context, name string, data []byte) error {
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return fmt.Errorf("artifact name %q escapes the run directory", name)
	}

	target := filepath.Join(d.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return perrors.Wrap(err, "failed to create artifact dir")
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return perrors.Wrapf(err, "failed to write artifact %s", name)
	}

	slog.Debug("artifact_saved", "sink", "dir", "path", target, "size_bytes", len(data))
	return nil
}

// S3 uploads artifacts to <prefix>/<run-id>/<name>.
type S3 struct {
	client *storage.Client
	prefix string
}

// S3RunPrefix returns the key prefix, with a trailing slash, that holds
// runID's archived artifacts.
func S3RunPrefix(prefix, runID string) string {
	return path.Join(prefix, runID) + "/"
}

// NewS3 returns a sink that archives runID's artifacts in S3.
func NewS3(client *storage.Client, prefix, runID string) *S3 {
	return &S3{
		client: client,
		prefix: path.Join(prefix, runID),
	}
}

// Key returns the object key an artifact name is stored under.
func (s *S3) Key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *S3) Save(ctx context.Context, name string, data []byte) error {
	if _, err := s.client.Upload(ctx, s.Key(name), data, mime.TypeByExtension(path.Ext(name))); err != nil {
		return perrors.Wrapf(err, "failed to archive artifact %s", name)
	}
	return nil
}

// Tee saves to every sink and reports all failures. A failing sink does not
// stop the others.
type Tee []Sink

func (t Tee) Save(ctx context.Context, name string, data []byte) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Save(ctx, name, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Guard validates names and accounts artifact bytes against the run's
// limits before handing them to the wrapped sink.
func Guard(sink Sink, v *security.Validator) Sink {
	return &guarded{sink: sink, validator: v}
}

type guarded struct {
	sink      Sink
	validator *security.Validator
}

func (g *guarded) Save(ctx context.Context, name string, data []byte) error {
	if err := g.validator.ValidatePath(name); err != nil {
		return err
	}
	if err := g.validator.AddArtifactSize(int64(len(data))); err != nil {
		return err
	}
	return g.sink.Save(ctx, name, data)
}
