// Package run wires the catalog client, the geometry planners, and the
// download pipeline into the tool's three modes: single-scene fetches,
// per-point scene mosaics, and server-side exports of custom mosaics.
package run

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/rasterline/imagery-retriever/catalog"
	"github.com/rasterline/imagery-retriever/core"
	"github.com/rasterline/imagery-retriever/export"
	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/internal/observability"
	"github.com/rasterline/imagery-retriever/model"
	"github.com/rasterline/imagery-retriever/retrieve"
)

// sceneMosaicHalfWidthM sizes scene mosaics to a single scene footprint.
const sceneMosaicHalfWidthM = 185000.0 / 2

// Catalog is the full client surface the runs need. *catalog.Client
// implements it; tests use *catalog.Fake.
type Catalog interface {
	Query(ctx context.Context, spec catalog.QuerySpec) ([]catalog.ImageID, error)
	ComposeMosaic(ctx context.Context, spec catalog.MosaicSpec) (catalog.ImageID, error)
	DownloadURL(ctx context.Context, id catalog.ImageID, spec catalog.RenderSpec) (string, error)
	SamplePoints(ctx context.Context, region model.BoundingBox, count int, scaleM float64, seed int64) ([]model.GeoPoint, error)
	SubmitExport(ctx context.Context, spec catalog.ExportSpec) (string, error)
	ExportStatus(ctx context.Context, handle string) (model.ExportState, string, error)
}

// Params describes one retrieval request. Zero values fall back to the
// catalog's behaviour, not to local defaults; the config layer fills in
// the documented defaults before a request reaches the runner.
type Params struct {
	Sensor model.Sensor
	// GridKey selects a grid zone as the region. When set it overrides
	// Bounds.
	GridKey string
	Bounds  model.BoundingBox
	// Region labels output files. Empty falls back to the grid key, then
	// to "custom".
	Region string
	Dates  catalog.DateRange
	ScaleM float64
	// MaxImages caps the number of images fetched or exported.
	MaxImages int
	CloudMin  float64
	CloudMax  float64
	Bands     []string
	Format    model.OutputFormat
	// CRS overrides the projection of downloaded images. Empty keeps the
	// image's native projection for scenes and the zone projection for
	// scene mosaics.
	CRS string
	// Seed makes sampling and mosaic ordering reproducible. Zero draws a
	// fresh seed per run.
	Seed   int64
	OutDir string
	// HalfWidthM and HalfHeightM are the custom mosaic half-extents.
	HalfWidthM  float64
	HalfHeightM float64
}

// Summary is the result of one fetch run.
type Summary struct {
	Outcomes []retrieve.Outcome
}

// Failures counts tasks that did not produce a file.
func (s Summary) Failures() int {
	failed := 0
	for _, o := range s.Outcomes {
		if !o.Success() {
			failed++
		}
	}
	return failed
}

// ExportSummary is the result of one export run.
type ExportSummary struct {
	Jobs []model.ExportJob
}

// Failures counts jobs that ended FAILED.
func (s ExportSummary) Failures() int {
	failed := 0
	for _, j := range s.Jobs {
		if j.State == model.ExportFailed {
			failed++
		}
	}
	return failed
}

// Runner executes retrieval requests against a catalog. The exported
// fields tune the infrastructure shared by all runs.
type Runner struct {
	// Workers caps concurrent downloads; zero keeps the pipeline default.
	Workers int
	// Retry overrides the pipeline retry policy when MaxAttempts is set.
	Retry retrieve.RetryPolicy
	// PollInterval overrides the export controller's wait between rounds.
	PollInterval time.Duration
	// Clock drives export polling; swap for a ManualClock in tests.
	Clock      export.Clock
	HTTPClient *http.Client
	// ExportEvents, when set, observes every export job transition.
	ExportEvents func(export.Event)

	RetrievalMetrics *observability.RetrievalCollector
	ExportMetrics    *observability.ExportCollector

	catalog Catalog
	grid    *core.GridRegistry
	log     logging.Logger
}

// NewRunner constructs a runner over the given catalog and grid.
func NewRunner(cat Catalog, grid *core.GridRegistry, log logging.Logger) *Runner {
	if log == nil {
		log = logging.Noop()
	}
	return &Runner{catalog: cat, grid: grid, log: log}
}

// Fetch downloads imagery for the request, choosing single scenes or
// scene mosaics as appropriate for the sensor.
func (r *Runner) Fetch(ctx context.Context, p Params) (Summary, error) {
	if p.Sensor.Mosaic() {
		return r.FetchMosaics(ctx, p)
	}
	return r.FetchScenes(ctx, p)
}

// FetchScenes downloads individual catalog scenes. The visual transform
// is applied at render time and each scene keeps its native projection
// unless the request overrides the CRS.
func (r *Runner) FetchScenes(ctx context.Context, p Params) (Summary, error) {
	if p.Sensor.Mosaic() {
		return Summary{}, fmt.Errorf("sensor %q downloads scene mosaics, not single scenes", p.Sensor)
	}
	bounds, label, err := r.resolveRegion(p)
	if err != nil {
		return Summary{}, err
	}

	images, err := r.catalog.Query(ctx, r.querySpec(p, bounds))
	if err != nil {
		return Summary{}, fmt.Errorf("query collection: %w", err)
	}
	if len(images) == 0 {
		r.log.Info(ctx, "no images match the query")
		return Summary{}, nil
	}
	r.log.Info(ctx, "downloading images",
		logging.Int("count", len(images)),
		logging.String("sensor", string(p.Sensor)))

	tasks := make([]retrieve.Task, len(images))
	for i, id := range images {
		tasks[i] = retrieve.Task{Index: i, Image: id}
	}
	render := catalog.RenderSpec{
		ScaleM:          p.ScaleM,
		Format:          p.Format,
		Bands:           bandsOrDefault(p),
		CRS:             p.CRS,
		Multiplier:      p.Sensor.Spec().VisualMultiplier,
		ToByte:          true,
		ClipToFootprint: true,
	}
	outcomes, err := r.pipeline(p, label, render).Run(ctx, tasks)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Outcomes: outcomes}, nil
}

// FetchMosaics samples points in the region and downloads one
// scene-sized mosaic per point. The visual transform is baked into the
// mosaic at composition, so the render carries only scale, bands, and
// the zone projection.
func (r *Runner) FetchMosaics(ctx context.Context, p Params) (Summary, error) {
	if !p.Sensor.Mosaic() {
		return Summary{}, fmt.Errorf("sensor %q downloads single scenes, not scene mosaics", p.Sensor)
	}
	if p.GridKey == "" {
		return Summary{}, errors.New("scene mosaics require a zone key")
	}
	bounds, label, err := r.resolveRegion(p)
	if err != nil {
		return Summary{}, err
	}
	crs := p.CRS
	if crs == "" {
		proj, err := core.ResolveProjection(p.GridKey)
		if err != nil {
			return Summary{}, err
		}
		crs = proj.Code()
	}

	rng := orderingRand(p.Seed)
	planned, err := r.planMosaics(ctx, p, bounds, sceneMosaicHalfWidthM, 0, rng)
	if err != nil {
		return Summary{}, err
	}
	if len(planned) == 0 {
		r.log.Info(ctx, "no usable sample points in region")
		return Summary{}, nil
	}
	r.log.Info(ctx, "downloading images",
		logging.Int("count", len(planned)),
		logging.String("sensor", string(p.Sensor)))

	base := r.querySpec(p, bounds)
	tasks := make([]retrieve.Task, len(planned))
	for i, pm := range planned {
		id, err := r.catalog.ComposeMosaic(ctx, catalog.MosaicSpec{
			Query:      base,
			Region:     catalog.NewPlanarRegion(pm.Region),
			OrderSeed:  pm.OrderSeed,
			Multiplier: p.Sensor.Spec().VisualMultiplier,
			ToByte:     true,
		})
		if err != nil {
			return Summary{}, fmt.Errorf("compose mosaic %d: %w", i, err)
		}
		tasks[i] = retrieve.Task{Index: i, Image: id}
	}
	render := catalog.RenderSpec{
		ScaleM: p.ScaleM,
		Format: p.Format,
		Bands:  bandsOrDefault(p),
		CRS:    crs,
	}
	outcomes, err := r.pipeline(p, label, render).Run(ctx, tasks)
	if err != nil {
		return Summary{}, err
	}
	return Summary{Outcomes: outcomes}, nil
}

// ExportMosaics composes one custom-extent mosaic per sampled point and
// submits each as a server-side export, then polls the jobs to a
// terminal state. Exports always render in the zone projection.
func (r *Runner) ExportMosaics(ctx context.Context, p Params) (ExportSummary, error) {
	if p.GridKey == "" {
		return ExportSummary{}, errors.New("custom mosaic exports require a zone key")
	}
	bounds, label, err := r.resolveRegion(p)
	if err != nil {
		return ExportSummary{}, err
	}

	rng := orderingRand(p.Seed)
	planned, err := r.planMosaics(ctx, p, bounds, p.HalfWidthM, p.HalfHeightM, rng)
	if err != nil {
		return ExportSummary{}, err
	}
	if len(planned) == 0 {
		r.log.Info(ctx, "no usable sample points in region")
		return ExportSummary{}, nil
	}

	base := r.querySpec(p, bounds)
	specs := make([]catalog.ExportSpec, 0, len(planned))
	for i, pm := range planned {
		id, err := r.catalog.ComposeMosaic(ctx, catalog.MosaicSpec{
			Query:      base,
			Region:     catalog.NewPlanarRegion(pm.Region),
			OrderSeed:  pm.OrderSeed,
			Multiplier: p.Sensor.Spec().VisualMultiplier,
			ToByte:     true,
		})
		if err != nil {
			return ExportSummary{}, fmt.Errorf("compose mosaic %d: %w", i, err)
		}
		specs = append(specs, catalog.ExportSpec{
			Name:   fmt.Sprintf("%s_%s_%05d", p.Sensor, label, i),
			Image:  id,
			Region: catalog.NewPlanarRegion(pm.Region),
			ScaleM: p.ScaleM,
			Format: p.Format,
			Folder: p.OutDir,
		})
	}

	store := export.NewJobStore()
	if r.ExportEvents != nil {
		unsubscribe := store.Subscribe(r.ExportEvents)
		defer unsubscribe()
	}
	ctl := export.NewController(r.catalog, store, r.log)
	ctl.Metrics = r.ExportMetrics
	if r.PollInterval > 0 {
		ctl.PollInterval = r.PollInterval
	}
	if r.Clock != nil {
		ctl.Clock = r.Clock
	}

	if err := ctl.Submit(ctx, specs); err != nil {
		return ExportSummary{Jobs: store.List()}, err
	}
	jobs, err := ctl.PollUntilDone(ctx)
	return ExportSummary{Jobs: jobs}, err
}

// planMosaics samples points in the region and builds one planar
// rectangle per usable point.
func (r *Runner) planMosaics(ctx context.Context, p Params, bounds model.BoundingBox, halfWidthM, halfHeightM float64, rng *rand.Rand) ([]core.PlannedMosaic, error) {
	selector := core.NewSamplePointSelector(r.catalog, r.log)
	points, err := selector.Select(ctx, bounds, p.MaxImages, p.ScaleM, rng.Int63n(core.OrderSeedRange))
	if err != nil {
		return nil, fmt.Errorf("sample points: %w", err)
	}
	for i := range points {
		points[i].Zone = p.GridKey
	}
	planner := core.NewMosaicPlanner(halfWidthM, halfHeightM, r.log)
	return planner.Plan(ctx, points, p.GridKey, rng)
}

func (r *Runner) pipeline(p Params, label string, render catalog.RenderSpec) *retrieve.Pipeline {
	pl := retrieve.NewPipeline(r.catalog, r.log)
	pl.Render = render
	pl.Sensor = p.Sensor
	pl.Region = label
	pl.OutDir = p.OutDir
	pl.Metrics = r.RetrievalMetrics
	if r.Retry.MaxAttempts != 0 {
		pl.Retry = r.Retry
	}
	if r.Workers > 0 {
		pl.Workers = r.Workers
	}
	if r.HTTPClient != nil {
		pl.HTTPClient = r.HTTPClient
	}
	return pl
}

// resolveRegion returns the request's bounding box and output label. A
// grid key overrides explicit bounds.
func (r *Runner) resolveRegion(p Params) (model.BoundingBox, string, error) {
	bounds := p.Bounds
	if p.GridKey != "" {
		b, err := r.grid.Lookup(p.GridKey)
		if err != nil {
			return model.BoundingBox{}, "", err
		}
		bounds = b
	}
	label := p.Region
	if label == "" {
		label = p.GridKey
	}
	if label == "" {
		label = "custom"
	}
	return bounds, label, nil
}

func (r *Runner) querySpec(p Params, bounds model.BoundingBox) catalog.QuerySpec {
	spec := p.Sensor.Spec()
	return catalog.QuerySpec{
		Collection:         spec.Collection,
		CloudProperty:      spec.CloudProperty,
		Region:             bounds,
		RegionBufferMeters: spec.QueryBufferMeters,
		Dates:              p.Dates,
		CloudMin:           p.CloudMin,
		CloudMax:           p.CloudMax,
		Bands:              bandsOrDefault(p),
		SortBy:             model.DateSortProperty,
		Limit:              p.MaxImages,
	}
}

func bandsOrDefault(p Params) []string {
	if len(p.Bands) > 0 {
		return p.Bands
	}
	return model.DefaultBands()
}

// orderingRand seeds the run's randomness. A zero seed draws fresh
// entropy so repeated unseeded runs produce different samples.
func orderingRand(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
