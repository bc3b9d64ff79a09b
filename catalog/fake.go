package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/rasterline/imagery-retriever/model"
)

// Fake is an in-memory catalog for tests. It implements the same method
// surface as Client so any consumer-side capability interface is satisfied.
// Configure the exported fields before use; the per-capability Err fields
// inject failures. Calls are recorded for assertions and are safe for
// concurrent use once a test is running.
type Fake struct {
	mu sync.Mutex

	// Scenes are returned by Query in order, clipped to the spec's limit.
	Scenes []ImageID
	// LandPoints are the sampling candidates. Only points inside the
	// requested region qualify, and at most the requested count return,
	// so a region with too few qualifying points naturally under-fills.
	LandPoints []model.GeoPoint
	// DownloadBase prefixes minted URLs: <DownloadBase>/<image id>.
	DownloadBase string

	QueryErr   error
	ComposeErr error
	URLErr     error
	SampleErr  error
	SubmitErr  error
	StatusErr  error

	// Recorded requests, in call order.
	QuerySpecs  []QuerySpec
	MosaicSpecs []MosaicSpec
	RenderSpecs []RenderSpec
	SampleSpecs []SampleSpec
	ExportSpecs []ExportSpec

	exports  map[string]*fakeExport
	nextID   int
	composed int
}

type fakeExport struct {
	state   model.ExportState
	message string
}

// NewFake returns an empty fake catalog.
func NewFake() *Fake {
	return &Fake{exports: make(map[string]*fakeExport)}
}

// Query returns the configured scenes, honouring the spec's limit.
func (f *Fake) Query(ctx context.Context, spec QuerySpec) ([]ImageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	f.QuerySpecs = append(f.QuerySpecs, spec)
	ids := f.Scenes
	if spec.Limit > 0 && spec.Limit < len(ids) {
		ids = ids[:spec.Limit]
	}
	out := make([]ImageID, len(ids))
	copy(out, ids)
	return out, nil
}

// ComposeMosaic records the spec and mints a sequential mosaic id.
func (f *Fake) ComposeMosaic(ctx context.Context, spec MosaicSpec) (ImageID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ComposeErr != nil {
		return "", f.ComposeErr
	}
	f.MosaicSpecs = append(f.MosaicSpecs, spec)
	f.composed++
	return ImageID(fmt.Sprintf("mosaic-%04d", f.composed)), nil
}

// DownloadURL mints <DownloadBase>/<id>, recording the render spec.
func (f *Fake) DownloadURL(ctx context.Context, id ImageID, spec RenderSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.URLErr != nil {
		return "", f.URLErr
	}
	f.RenderSpecs = append(f.RenderSpecs, spec)
	return fmt.Sprintf("%s/%s", f.DownloadBase, id), nil
}

// SamplePoints returns up to count configured points inside the region.
func (f *Fake) SamplePoints(ctx context.Context, region model.BoundingBox, count int, scaleM float64, seed int64) ([]model.GeoPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SampleErr != nil {
		return nil, f.SampleErr
	}
	f.SampleSpecs = append(f.SampleSpecs, SampleSpec{
		Region:         region,
		Count:          count,
		ScaleM:         scaleM,
		Seed:           seed,
		MaskCollection: model.LandMaskCollection,
		MaskBand:       model.LandMaskBand,
		MaskClass:      model.LandMaskLandClass,
	})
	var out []model.GeoPoint
	for _, p := range f.LandPoints {
		if len(out) == count {
			break
		}
		if region.Contains(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// SubmitExport records the spec and returns a sequential handle. Submitted
// jobs start in the READY state, as if the remote side queued them.
func (f *Fake) SubmitExport(ctx context.Context, spec ExportSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.ExportSpecs = append(f.ExportSpecs, spec)
	f.nextID++
	handle := fmt.Sprintf("export-%04d", f.nextID)
	f.exports[handle] = &fakeExport{state: model.ExportReady}
	return handle, nil
}

// ExportStatus reports the current state of a submitted job.
func (f *Fake) ExportStatus(ctx context.Context, handle string) (model.ExportState, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return "", "", f.StatusErr
	}
	job, ok := f.exports[handle]
	if !ok {
		return "", "", &APIError{Status: 404, Message: fmt.Sprintf("no export %q", handle)}
	}
	return job.state, job.message, nil
}

// SetExportState moves a job to the given state, as if observed remotely.
func (f *Fake) SetExportState(handle string, state model.ExportState, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if job, ok := f.exports[handle]; ok {
		job.state = state
		job.message = message
	}
}

// Handles returns the submitted handles in submission order.
func (f *Fake) Handles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	handles := make([]string, 0, len(f.exports))
	for i := 1; i <= f.nextID; i++ {
		handles = append(handles, fmt.Sprintf("export-%04d", i))
	}
	return handles
}
