package core

import (
	"context"
	"fmt"

	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/model"
)

// PointSampler is the catalog capability the selector depends on:
// stratified random sampling of land points within a region.
type PointSampler interface {
	SamplePoints(ctx context.Context, region model.BoundingBox, count int, scaleM float64, seed int64) ([]model.GeoPoint, error)
}

// SamplePointSelector requests stratified random land points from the
// imagery catalog. Water is excluded by the catalog-side land/water mask,
// so returned points are terrestrial. Each call consumes catalog-side
// randomness keyed by the seed; calls are not restartable.
type SamplePointSelector struct {
	sampler PointSampler
	log     logging.Logger
}

// NewSamplePointSelector constructs a selector around a sampling capability.
func NewSamplePointSelector(sampler PointSampler, log logging.Logger) *SamplePointSelector {
	if log == nil {
		log = logging.Noop()
	}
	return &SamplePointSelector{sampler: sampler, log: log}
}

// Select returns up to count land points within the region. The catalog may
// return fewer points than requested when the region holds insufficient
// qualifying samples; callers must not assume exact cardinality.
func (s *SamplePointSelector) Select(ctx context.Context, region model.BoundingBox, count int, scaleM float64, seed int64) ([]model.GeoPoint, error) {
	if count <= 0 {
		return nil, fmt.Errorf("point count must be positive, got %d", count)
	}
	if scaleM <= 0 {
		return nil, fmt.Errorf("sampling scale must be positive, got %v", scaleM)
	}

	points, err := s.sampler.SamplePoints(ctx, region, count, scaleM, seed)
	if err != nil {
		return nil, fmt.Errorf("sampling %d land points: %w", count, err)
	}
	if len(points) < count {
		s.log.Info(ctx, "region returned fewer land points than requested",
			logging.Int("requested", count),
			logging.Int("returned", len(points)))
	}
	return points, nil
}
