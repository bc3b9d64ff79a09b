package retrieve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rasterline/imagery-retriever/catalog"
	"github.com/rasterline/imagery-retriever/model"
)

// newImageServer serves fixed bodies keyed by request path, emulating the
// signed-URL file host the catalog mints URLs for.
func newImageServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, srv *httptest.Server) (*Pipeline, *catalog.Fake) {
	t.Helper()
	fake := catalog.NewFake()
	fake.DownloadBase = srv.URL

	p := NewPipeline(fake, nil)
	p.Sensor = model.SensorLandsat8
	p.Region = "17R"
	p.OutDir = t.TempDir()
	p.Render = catalog.RenderSpec{ScaleM: 328, Format: model.FormatGeoTIFF}
	p.Retry = RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2}
	return p, fake
}

func TestPipelineRun_WritesOneFilePerTask(t *testing.T) {
	srv := newImageServer(t, map[string]string{
		"/scene-a": "AAAA",
		"/scene-b": "BB",
		"/scene-c": "CCCCCC",
	})
	p, _ := newTestPipeline(t, srv)

	tasks := []Task{
		{Index: 0, Image: "scene-a"},
		{Index: 1, Image: "scene-b"},
		{Index: 2, Image: "scene-c"},
	}
	outcomes, err := p.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != len(tasks) {
		t.Fatalf("got %d outcomes, want %d", len(outcomes), len(tasks))
	}

	want := map[int]string{0: "AAAA", 1: "BB", 2: "CCCCCC"}
	for i, o := range outcomes {
		if o.Index != i {
			t.Errorf("outcomes[%d].Index = %d, outcomes must stay in task order", i, o.Index)
		}
		if !o.Success() {
			t.Fatalf("outcomes[%d] failed: %v", i, o.Err)
		}
		if o.Attempts != 1 {
			t.Errorf("outcomes[%d].Attempts = %d, want 1", i, o.Attempts)
		}
		wantName := fmt.Sprintf("l8_17R_%05d.tif", i)
		if filepath.Base(o.Path) != wantName {
			t.Errorf("outcomes[%d] file = %q, want %q", i, filepath.Base(o.Path), wantName)
		}
		data, readErr := os.ReadFile(o.Path)
		if readErr != nil {
			t.Fatalf("read %s: %v", o.Path, readErr)
		}
		if string(data) != want[i] {
			t.Errorf("outcomes[%d] content = %q, want %q", i, data, want[i])
		}
		if o.Bytes != int64(len(want[i])) {
			t.Errorf("outcomes[%d].Bytes = %d, want %d", i, o.Bytes, len(want[i]))
		}
	}
}

func TestPipelineRun_ReportsFailuresWithoutStopping(t *testing.T) {
	srv := newImageServer(t, map[string]string{
		"/scene-a": "AAAA",
		"/scene-c": "CC",
	})
	p, _ := newTestPipeline(t, srv)

	tasks := []Task{
		{Index: 0, Image: "scene-a"},
		{Index: 1, Image: "scene-missing"},
		{Index: 2, Image: "scene-c"},
	}
	outcomes, err := p.Run(context.Background(), tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !outcomes[0].Success() || !outcomes[2].Success() {
		t.Errorf("healthy tasks must finish despite a failing sibling: %v, %v", outcomes[0].Err, outcomes[2].Err)
	}
	failed := outcomes[1]
	if failed.Success() {
		t.Fatalf("expected task 1 to fail")
	}
	if failed.Attempts != 2 {
		t.Errorf("failed.Attempts = %d, want the whole retry budget of 2", failed.Attempts)
	}
	var fetchErr *FetchError
	if !errors.As(failed.Err, &fetchErr) {
		t.Fatalf("failed.Err = %v, want *FetchError", failed.Err)
	}
	if fetchErr.Status != http.StatusNotFound {
		t.Errorf("fetchErr.Status = %d, want 404", fetchErr.Status)
	}
}

func TestPipelineRun_NonTemporaryMintFailureIsTerminal(t *testing.T) {
	srv := newImageServer(t, nil)
	p, fake := newTestPipeline(t, srv)
	fake.URLErr = &catalog.APIError{Status: 404, Message: "no such image"}

	outcomes, err := p.Run(context.Background(), []Task{{Index: 0, Image: "gone"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes[0].Success() {
		t.Fatalf("expected failure")
	}
	if outcomes[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 for a non-temporary catalog rejection", outcomes[0].Attempts)
	}
}

func TestPipelineRun_TemporaryMintFailureRetries(t *testing.T) {
	srv := newImageServer(t, nil)
	p, fake := newTestPipeline(t, srv)
	fake.URLErr = &catalog.APIError{Status: 503}

	outcomes, err := p.Run(context.Background(), []Task{{Index: 0, Image: "flaky"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcomes[0].Attempts != 2 {
		t.Errorf("attempts = %d, want the whole retry budget of 2", outcomes[0].Attempts)
	}
}

func TestPipelineRun_CancelledContextFailsAllTasks(t *testing.T) {
	srv := newImageServer(t, map[string]string{"/scene-a": "AAAA"})
	p, _ := newTestPipeline(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tasks := []Task{{Index: 0, Image: "scene-a"}, {Index: 1, Image: "scene-a"}}
	outcomes, err := p.Run(ctx, tasks)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, o := range outcomes {
		if o.Err == nil {
			t.Errorf("outcomes[%d] succeeded under a cancelled context", i)
		}
	}
}

func TestPipelineRun_RequiresResolverAndOutDir(t *testing.T) {
	p := NewPipeline(nil, nil)
	p.OutDir = t.TempDir()
	if _, err := p.Run(context.Background(), nil); err == nil {
		t.Errorf("expected error without a resolver")
	}

	p = NewPipeline(catalog.NewFake(), nil)
	if _, err := p.Run(context.Background(), nil); err == nil {
		t.Errorf("expected error without an output directory")
	}
}

func TestOutputName_Format(t *testing.T) {
	got := OutputName(model.SensorLandsat8, "17R", 4, model.FormatGeoTIFF)
	if got != "l8_17R_00004.tif" {
		t.Errorf("OutputName = %q, want l8_17R_00004.tif", got)
	}
	got = OutputName(model.SensorSentinel2, "florida", 123, model.FormatPNG)
	if got != "s2_florida_00123.png" {
		t.Errorf("OutputName = %q, want s2_florida_00123.png", got)
	}
}
