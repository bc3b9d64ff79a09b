package tests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rasterline/imagery-retriever/catalog"
	"github.com/rasterline/imagery-retriever/core"
	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/internal/run"
	"github.com/rasterline/imagery-retriever/model"
	"github.com/rasterline/imagery-retriever/retrieve"
)

type fetchTestEnv struct {
	backend    *catalogBackend
	catalogURL string
	client     *catalog.Client
	runner     *run.Runner
	outDir     string
}

func newFetchTestEnv(t *testing.T) *fetchTestEnv {
	t.Helper()

	backend := newCatalogBackend("e2e-key")

	fileHost := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/")
		if strings.Contains(id, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, "pixels for %s", id)
	}))
	t.Cleanup(fileHost.Close)
	backend.fileBase = fileHost.URL

	catalogSrv := httptest.NewServer(backend.handler())
	t.Cleanup(catalogSrv.Close)

	client, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: catalogSrv.URL,
		APIKey:  "e2e-key",
		Log:     logging.Noop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	runner := run.NewRunner(client, core.NewGridRegistry(), logging.Noop())
	runner.Retry = retrieve.RetryPolicy{MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2}
	runner.PollInterval = time.Millisecond

	return &fetchTestEnv{
		backend:    backend,
		catalogURL: catalogSrv.URL,
		client:     client,
		runner:     runner,
		outDir:     t.TempDir(),
	}
}

func TestEndToEndSceneFetch(t *testing.T) {
	env := newFetchTestEnv(t)
	env.backend.scenes = []string{"LC08_044034_20220115", "LC08_044034_20220131"}

	summary, err := env.runner.Fetch(context.Background(), run.Params{
		Sensor:    model.SensorLandsat8,
		Bounds:    model.BoundingBox{West: -84, South: 24, East: -78, North: 32},
		Dates:     catalog.DateRange{Start: "2022", End: "2023"},
		ScaleM:    328,
		MaxImages: 10,
		CloudMax:  30,
		Format:    model.FormatGeoTIFF,
		OutDir:    env.outDir,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := len(summary.Outcomes); got != 2 {
		t.Fatalf("outcome count = %d, want 2", got)
	}
	if got := summary.Failures(); got != 0 {
		t.Fatalf("failure count = %d, want 0", got)
	}

	wantFiles := []string{"l8_custom_00000.tif", "l8_custom_00001.tif"}
	for i, o := range summary.Outcomes {
		if got := filepath.Base(o.Path); got != wantFiles[i] {
			t.Errorf("outcome %d file = %q, want %q", i, got, wantFiles[i])
		}
		data, err := os.ReadFile(o.Path)
		if err != nil {
			t.Fatalf("reading outcome %d: %v", i, err)
		}
		want := fmt.Sprintf("pixels for %s", env.backend.scenes[i])
		if string(data) != want {
			t.Errorf("outcome %d contents = %q, want %q", i, data, want)
		}
	}

	queries := env.backend.queriesSeen()
	if len(queries) != 1 {
		t.Fatalf("query count = %d, want 1", len(queries))
	}
	if queries[0].Collection != "LANDSAT/LC08/C02/T1_TOA" {
		t.Errorf("query collection = %q", queries[0].Collection)
	}
	if queries[0].SortBy != model.DateSortProperty {
		t.Errorf("query sort = %q, want %q", queries[0].SortBy, model.DateSortProperty)
	}
}

func TestEndToEndSceneMosaicFetch(t *testing.T) {
	env := newFetchTestEnv(t)
	env.backend.landPoints = []model.GeoPoint{
		{Lon: -81, Lat: 28},
		{Lon: -80, Lat: 26},
		{Lon: -79.5, Lat: 31},
	}

	summary, err := env.runner.Fetch(context.Background(), run.Params{
		Sensor:    model.SensorSentinel2,
		GridKey:   "17R",
		Dates:     catalog.DateRange{Start: "2022", End: "2023"},
		ScaleM:    328,
		MaxImages: 2,
		CloudMax:  30,
		Format:    model.FormatGeoTIFF,
		OutDir:    env.outDir,
		Seed:      11,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := len(summary.Outcomes); got != 2 {
		t.Fatalf("outcome count = %d, want 2", got)
	}
	for i, o := range summary.Outcomes {
		want := fmt.Sprintf("s2_17R_%05d.tif", i)
		if got := filepath.Base(o.Path); got != want {
			t.Errorf("outcome %d file = %q, want %q", i, got, want)
		}
		if o.Bytes == 0 {
			t.Errorf("outcome %d wrote no bytes", i)
		}
	}

	samples := env.backend.samplesSeen()
	if len(samples) != 1 {
		t.Fatalf("sample count = %d, want 1", len(samples))
	}
	zone := model.BoundingBox{West: -84, South: 24, East: -78, North: 32}
	if samples[0].Region != zone {
		t.Errorf("sample region = %+v, want zone 17R bounds", samples[0].Region)
	}

	mosaics := env.backend.mosaicsSeen()
	if len(mosaics) != 2 {
		t.Fatalf("mosaic count = %d, want 2", len(mosaics))
	}
	for i, ms := range mosaics {
		if ms.Region.CRS != "EPSG:32617" {
			t.Errorf("mosaic %d CRS = %q, want EPSG:32617", i, ms.Region.CRS)
		}
		if ms.Query.Collection != "COPERNICUS/S2_HARMONIZED" {
			t.Errorf("mosaic %d collection = %q", i, ms.Query.Collection)
		}
	}
}

func TestEndToEndCustomMosaicExport(t *testing.T) {
	env := newFetchTestEnv(t)
	env.backend.landPoints = []model.GeoPoint{
		{Lon: -81, Lat: 28},
		{Lon: -80, Lat: 26},
	}

	summary, err := env.runner.ExportMosaics(context.Background(), run.Params{
		Sensor:      model.SensorLandsat8,
		GridKey:     "17R",
		Dates:       catalog.DateRange{Start: "2022", End: "2023"},
		ScaleM:      328,
		MaxImages:   2,
		CloudMax:    30,
		Format:      model.FormatGeoTIFF,
		OutDir:      "drive_folder",
		Seed:        5,
		HalfWidthM:  425088,
		HalfHeightM: 318816,
	})
	if err != nil {
		t.Fatalf("ExportMosaics: %v", err)
	}
	if got := len(summary.Jobs); got != 2 {
		t.Fatalf("job count = %d, want 2", got)
	}
	if got := summary.Failures(); got != 0 {
		t.Fatalf("failure count = %d, want 0", got)
	}
	wantNames := []string{"l8_17R_00000", "l8_17R_00001"}
	for i, job := range summary.Jobs {
		if job.Name != wantNames[i] {
			t.Errorf("jobs[%d].Name = %q, want %q", i, job.Name, wantNames[i])
		}
		if job.State != model.ExportCompleted {
			t.Errorf("jobs[%d].State = %s, want COMPLETED", i, job.State)
		}
	}

	exports := env.backend.exportsSeen()
	if len(exports) != 2 {
		t.Fatalf("submission count = %d, want 2", len(exports))
	}
	for i, es := range exports {
		if es.Folder != "drive_folder" {
			t.Errorf("export %d folder = %q, want drive_folder", i, es.Folder)
		}
		if es.Region.CRS != "EPSG:32617" {
			t.Errorf("export %d CRS = %q, want EPSG:32617", i, es.Region.CRS)
		}
	}

	// Every job walks READY, RUNNING, COMPLETED, one state per round.
	for handle, polls := range env.backend.pollCounts() {
		if polls != 3 {
			t.Errorf("export %s polled %d times, want 3", handle, polls)
		}
	}
}

func TestEndToEndPartialDownloadFailure(t *testing.T) {
	env := newFetchTestEnv(t)
	env.backend.scenes = []string{"LC08_good", "LC08_missing"}

	summary, err := env.runner.Fetch(context.Background(), run.Params{
		Sensor:    model.SensorLandsat8,
		Bounds:    model.BoundingBox{West: -84, South: 24, East: -78, North: 32},
		ScaleM:    328,
		MaxImages: 10,
		Format:    model.FormatGeoTIFF,
		OutDir:    env.outDir,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := summary.Failures(); got != 1 {
		t.Fatalf("failure count = %d, want 1", got)
	}

	good, bad := summary.Outcomes[0], summary.Outcomes[1]
	if good.Err != nil {
		t.Errorf("good scene failed: %v", good.Err)
	}
	if bad.Err == nil {
		t.Fatal("missing scene should fail")
	}
	var fe *retrieve.FetchError
	if !errors.As(bad.Err, &fe) || fe.Status != http.StatusNotFound {
		t.Errorf("failure = %v, want a 404 fetch error", bad.Err)
	}
	if bad.Attempts != 2 {
		t.Errorf("failed download tried %d times, want the full retry budget of 2", bad.Attempts)
	}
}

func TestEndToEndRejectsBadCredentials(t *testing.T) {
	env := newFetchTestEnv(t)
	env.backend.scenes = []string{"LC08_good"}

	badClient, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: env.catalogURL,
		APIKey:  "wrong-key",
		Log:     logging.Noop(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	runner := run.NewRunner(badClient, core.NewGridRegistry(), logging.Noop())

	_, err = runner.Fetch(context.Background(), run.Params{
		Sensor:    model.SensorLandsat8,
		Bounds:    model.BoundingBox{West: -84, South: 24, East: -78, North: 32},
		ScaleM:    328,
		MaxImages: 1,
		Format:    model.FormatGeoTIFF,
		OutDir:    t.TempDir(),
	})
	var apiErr *catalog.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Fetch error = %v, want an API error", err)
	}
	if apiErr.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", apiErr.Status)
	}
	if !strings.Contains(apiErr.Message, "bearer token") {
		t.Errorf("message = %q, want the auth hint", apiErr.Message)
	}
}

// catalogBackend emulates the remote catalog REST API over an in-memory
// state, so runs exercise the real client, runner, and pipeline.
type catalogBackend struct {
	mu sync.Mutex

	apiKey   string
	fileBase string

	scenes     []string
	landPoints []model.GeoPoint

	queries     []catalog.QuerySpec
	mosaics     []catalog.MosaicSpec
	samples     []catalog.SampleSpec
	exports     []catalog.ExportSpec
	composed    int
	exportPolls map[string]int
}

func newCatalogBackend(apiKey string) *catalogBackend {
	return &catalogBackend{apiKey: apiKey, exportPolls: make(map[string]int)}
}

func (b *catalogBackend) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer "+b.apiKey {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"missing or invalid bearer token"}`)
			return
		}
		path := r.URL.Path
		switch {
		case path == "/v1/images:query":
			b.handleQuery(w, r)
		case path == "/v1/mosaics":
			b.handleMosaic(w, r)
		case strings.HasPrefix(path, "/v1/images/") && strings.HasSuffix(path, ":url"):
			id := strings.TrimSuffix(strings.TrimPrefix(path, "/v1/images/"), ":url")
			b.handleDownloadURL(w, id)
		case path == "/v1/points:sample":
			b.handleSample(w, r)
		case path == "/v1/exports" && r.Method == http.MethodPost:
			b.handleSubmit(w, r)
		case strings.HasPrefix(path, "/v1/exports/") && r.Method == http.MethodGet:
			b.handleStatus(w, strings.TrimPrefix(path, "/v1/exports/"))
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"error":"no route for %s"}`, path)
		}
	})
}

func (b *catalogBackend) handleQuery(w http.ResponseWriter, r *http.Request) {
	var spec catalog.QuerySpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.queries = append(b.queries, spec)
	ids := b.scenes
	b.mu.Unlock()
	if spec.Limit > 0 && spec.Limit < len(ids) {
		ids = ids[:spec.Limit]
	}
	writeJSON(w, struct {
		Images []string `json:"images"`
	}{Images: ids})
}

func (b *catalogBackend) handleMosaic(w http.ResponseWriter, r *http.Request) {
	var spec catalog.MosaicSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.mosaics = append(b.mosaics, spec)
	b.composed++
	id := fmt.Sprintf("mosaic-%04d", b.composed)
	b.mu.Unlock()
	writeJSON(w, struct {
		Image string `json:"image"`
	}{Image: id})
}

func (b *catalogBackend) handleDownloadURL(w http.ResponseWriter, id string) {
	writeJSON(w, struct {
		URL string `json:"url"`
	}{URL: b.fileBase + "/" + id})
}

func (b *catalogBackend) handleSample(w http.ResponseWriter, r *http.Request) {
	var spec catalog.SampleSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.samples = append(b.samples, spec)
	candidates := b.landPoints
	b.mu.Unlock()

	type wirePoint struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	}
	var points []wirePoint
	for _, p := range candidates {
		if len(points) == spec.Count {
			break
		}
		if spec.Region.Contains(p) {
			points = append(points, wirePoint{Lon: p.Lon, Lat: p.Lat})
		}
	}
	writeJSON(w, struct {
		Points []wirePoint `json:"points"`
	}{Points: points})
}

func (b *catalogBackend) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var spec catalog.ExportSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.exports = append(b.exports, spec)
	handle := fmt.Sprintf("export-%04d", len(b.exports))
	b.exportPolls[handle] = 0
	b.mu.Unlock()
	writeJSON(w, struct {
		Handle string `json:"handle"`
	}{Handle: handle})
}

func (b *catalogBackend) handleStatus(w http.ResponseWriter, handle string) {
	b.mu.Lock()
	polls, ok := b.exportPolls[handle]
	if ok {
		polls++
		b.exportPolls[handle] = polls
	}
	b.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"no export %s"}`, handle)
		return
	}

	state := model.ExportReady
	switch {
	case polls >= 3:
		state = model.ExportCompleted
	case polls == 2:
		state = model.ExportRunning
	}
	writeJSON(w, struct {
		State   string `json:"state"`
		Message string `json:"message,omitempty"`
	}{State: string(state)})
}

func (b *catalogBackend) queriesSeen() []catalog.QuerySpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]catalog.QuerySpec{}, b.queries...)
}

func (b *catalogBackend) mosaicsSeen() []catalog.MosaicSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]catalog.MosaicSpec{}, b.mosaics...)
}

func (b *catalogBackend) samplesSeen() []catalog.SampleSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]catalog.SampleSpec{}, b.samples...)
}

func (b *catalogBackend) exportsSeen() []catalog.ExportSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]catalog.ExportSpec{}, b.exports...)
}

func (b *catalogBackend) pollCounts() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	counts := make(map[string]int, len(b.exportPolls))
	for handle, polls := range b.exportPolls {
		counts[handle] = polls
	}
	return counts
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
