// Package retrieve downloads rendered imagery to local files. A fixed
// worker pool drains a task list, resolving a download URL for each
// image and streaming the response body to disk, with every task
// wrapped in the package retry policy.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rasterline/imagery-retriever/catalog"
	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/internal/observability"
	"github.com/rasterline/imagery-retriever/model"
)

const tracerName = "github.com/rasterline/imagery-retriever/retrieve"

// URLResolver mints a download URL for a catalog image.
type URLResolver interface {
	DownloadURL(ctx context.Context, id catalog.ImageID, spec catalog.RenderSpec) (string, error)
}

// Task is one image to retrieve. Index drives the output filename and
// the position of the task's outcome in the pipeline result.
type Task struct {
	Index int
	Image catalog.ImageID
}

// Outcome reports how a single task ended. Err is nil on success, in
// which case Path points at the written file.
type Outcome struct {
	Index    int
	Path     string
	Bytes    int64
	Attempts int
	Err      error
}

// Success reports whether the task produced a file.
func (o Outcome) Success() bool { return o.Err == nil }

// FetchError is a failed download attempt. Status is zero when the
// request never produced a response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Pipeline retrieves a batch of images concurrently. The zero value is
// not usable; construct with NewPipeline and adjust the exported fields
// before the first Run.
type Pipeline struct {
	Resolver URLResolver
	// Render is applied to every task when minting its URL.
	Render catalog.RenderSpec
	// Sensor and Region label the output files.
	Sensor model.Sensor
	Region string
	OutDir string
	Retry  RetryPolicy
	// Workers caps concurrent downloads. Values below one run serially.
	Workers    int
	HTTPClient *http.Client
	Metrics    *observability.RetrievalCollector

	log logging.Logger
}

// NewPipeline returns a pipeline with the default retry policy and one
// worker per CPU.
func NewPipeline(resolver URLResolver, log logging.Logger) *Pipeline {
	if log == nil {
		log = logging.Noop()
	}
	return &Pipeline{
		Resolver:   resolver,
		Retry:      DefaultRetryPolicy(),
		Workers:    runtime.GOMAXPROCS(0),
		HTTPClient: &http.Client{},
		log:        log,
	}
}

// Run retrieves every task and returns one outcome per task, in task
// order. Individual failures are reported in the outcomes, not as an
// error; the returned error is reserved for configuration problems and
// an unusable output directory. Cancelling the context stops new
// attempts and marks unstarted tasks with the context error.
func (p *Pipeline) Run(ctx context.Context, tasks []Task) ([]Outcome, error) {
	if p.Resolver == nil {
		return nil, errors.New("no URL resolver configured")
	}
	if p.OutDir == "" {
		return nil, errors.New("no output directory configured")
	}
	if err := os.MkdirAll(p.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	outcomes := make([]Outcome, len(tasks))
	if len(tasks) == 0 {
		return outcomes, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieve.run", trace.WithAttributes(
		attribute.Int("tasks", len(tasks)),
		attribute.String("sensor", string(p.Sensor)),
	))
	defer span.End()

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.retrieve(ctx, tasks[i])
			}
		}()
	}

feed:
	for i := range tasks {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(tasks); j++ {
				outcomes[j] = Outcome{Index: tasks[j].Index, Err: ctx.Err()}
			}
			break feed
		}
	}
	close(jobs)
	wg.Wait()
	return outcomes, nil
}

// retrieve runs one task to completion under the retry policy. The
// download URL is resolved lazily and kept once minting succeeds, so
// later attempts retry only the download.
func (p *Pipeline) retrieve(ctx context.Context, task Task) Outcome {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieve.task", trace.WithAttributes(
		attribute.Int("index", task.Index),
		attribute.String("image", string(task.Image)),
	))
	defer span.End()

	name := OutputName(p.Sensor, p.Region, task.Index, p.Render.Format)
	dest := filepath.Join(p.OutDir, name)

	p.Metrics.DownloadStarted()
	start := time.Now()

	var (
		url     string
		written int64
	)
	attempts, err := p.Retry.Do(ctx, func() error {
		if url == "" {
			minted, err := p.Resolver.DownloadURL(ctx, task.Image, p.Render)
			if err != nil {
				var apiErr *catalog.APIError
				if errors.As(err, &apiErr) && !apiErr.Temporary() {
					return backoff.Permanent(err)
				}
				return err
			}
			url = minted
			p.log.Debug(ctx, "resolved download URL",
				logging.Int("index", task.Index),
				logging.String("url", url))
		}
		n, err := p.fetch(ctx, url, dest)
		if err != nil {
			return err
		}
		written = n
		return nil
	})

	elapsed := time.Since(start)
	p.Metrics.DownloadFinished(string(p.Sensor), err == nil, attempts, written, elapsed)

	if err != nil {
		span.RecordError(err)
		p.log.Error(ctx, "image retrieval failed",
			logging.String("name", name),
			logging.Int("attempts", attempts),
			logging.Any("error", err))
		return Outcome{Index: task.Index, Attempts: attempts, Err: err}
	}
	p.log.Info(ctx, "image retrieved",
		logging.String("name", name),
		logging.Int("attempts", attempts),
		logging.Int("bytes", int(written)))
	return Outcome{Index: task.Index, Path: dest, Bytes: written, Attempts: attempts}
}

// fetch streams one GET response to dest. The destination directory is
// re-created first so concurrent first use and an out-of-band removal
// both stay safe; os.Create truncates any partial file from an earlier
// attempt.
func (p *Pipeline) fetch(ctx context.Context, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("build request for %s: %w", url, err))
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return 0, &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, &FetchError{URL: url, Status: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create output directory: %w", err))
	}
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, &FetchError{URL: url, Err: err}
	}
	return n, nil
}

func (p *Pipeline) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

// OutputName builds the filename for one retrieved image, for example
// "l8_17R_00004.tif".
func OutputName(sensor model.Sensor, region string, index int, format model.OutputFormat) string {
	return fmt.Sprintf("%s_%s_%05d%s", sensor, region, index, format.Ext())
}
