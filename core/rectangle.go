package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/terrascope/geometry"
	"github.com/terrascope/proj4go"

	"github.com/rasterline/imagery-retriever/model"
)

// ErrProjection indicates that a coordinate transform is undefined for a
// point, typically because the point lies far outside the zone's valid
// domain. This is a data-quality condition: callers skip the point rather
// than retry.
var ErrProjection = errors.New("projection undefined for point")

// BuildRectangle projects a geographic point into the zone's planar
// coordinate reference and constructs an axis-aligned rectangle of the
// given half-extents around it, in metres. A non-positive halfHeightM
// means "same as halfWidthM". The result is normalized so the min corner
// is never greater than the max corner, regardless of hemisphere sign
// conventions.
func BuildRectangle(point model.GeoPoint, zoneKey string, halfWidthM, halfHeightM float64) (model.PlanarRectangle, error) {
	proj, err := ResolveProjection(zoneKey)
	if err != nil {
		return model.PlanarRectangle{}, err
	}

	pts := []geometry.Point{{X: point.Lon, Y: point.Lat}}
	if err := proj4go.Forwards(proj.Proj4(), pts); err != nil {
		return model.PlanarRectangle{}, fmt.Errorf("projecting (%.6f, %.6f) into %s: %v: %w",
			point.Lon, point.Lat, proj.Code(), err, ErrProjection)
	}
	x, y := pts[0].X, pts[0].Y
	if !isFinite(x) || !isFinite(y) {
		return model.PlanarRectangle{}, fmt.Errorf("projecting (%.6f, %.6f) into %s yields non-finite coordinates: %w",
			point.Lon, point.Lat, proj.Code(), ErrProjection)
	}

	if halfHeightM <= 0 {
		halfHeightM = halfWidthM
	}
	x0, x1 := x-halfWidthM, x+halfWidthM
	y0, y1 := y-halfHeightM, y+halfHeightM
	return model.PlanarRectangle{
		MinX:       math.Min(x0, x1),
		MinY:       math.Min(y0, y1),
		MaxX:       math.Max(x0, x1),
		MaxY:       math.Max(y0, y1),
		Projection: proj,
	}, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
