package core

import (
	"context"
	"errors"
	"math/rand"

	"github.com/rasterline/imagery-retriever/internal/logging"
	"github.com/rasterline/imagery-retriever/model"
)

// OrderSeedRange bounds the randomization seeds drawn for mosaic
// ordering and point sampling.
const OrderSeedRange = 100000

// PlannedMosaic is one mosaic to compose: the sampled centre point, the
// planar rectangle it covers, and the seed that randomizes the layering
// order of source images inside the rectangle.
type PlannedMosaic struct {
	Point     model.GeoPoint
	Region    model.PlanarRectangle
	OrderSeed int64
}

// MosaicPlanner turns sampled points into per-point mosaic rectangles.
// Points whose projection is undefined are logged and skipped; they never
// abort the batch. All randomness comes from the caller-supplied generator
// so runs are reproducible from an explicit seed.
type MosaicPlanner struct {
	// HalfWidthM and HalfHeightM are the rectangle half-extents in metres.
	// A non-positive HalfHeightM means "same as HalfWidthM".
	HalfWidthM  float64
	HalfHeightM float64

	log logging.Logger
}

// NewMosaicPlanner constructs a planner with the given half-extents.
func NewMosaicPlanner(halfWidthM, halfHeightM float64, log logging.Logger) *MosaicPlanner {
	if log == nil {
		log = logging.Noop()
	}
	return &MosaicPlanner{HalfWidthM: halfWidthM, HalfHeightM: halfHeightM, log: log}
}

// Plan builds one PlannedMosaic per usable point. Points tagged with a
// source zone are built in that zone's projection; untagged points fall
// back to zoneKey. A zone key that does not parse fails the whole plan,
// since it indicates a configuration mistake rather than a bad sample.
func (p *MosaicPlanner) Plan(ctx context.Context, points []model.GeoPoint, zoneKey string, rng *rand.Rand) ([]PlannedMosaic, error) {
	planned := make([]PlannedMosaic, 0, len(points))
	for _, point := range points {
		key := zoneKey
		if point.Zone != "" {
			key = point.Zone
		}
		rect, err := BuildRectangle(point, key, p.HalfWidthM, p.HalfHeightM)
		if err != nil {
			if errors.Is(err, ErrProjection) {
				p.log.Warn(ctx, "skipping point with undefined projection",
					logging.Float64("lon", point.Lon),
					logging.Float64("lat", point.Lat),
					logging.Any("error", err))
				continue
			}
			return nil, err
		}
		planned = append(planned, PlannedMosaic{
			Point:     point,
			Region:    rect,
			OrderSeed: rng.Int63n(OrderSeedRange),
		})
	}
	return planned, nil
}
