// Package catalog talks to the remote imagery catalog: collection queries,
// server-side mosaic composition, download-URL minting, stratified land
// sampling, and export job submission. Consumers depend on the narrow
// capability interfaces they declare for themselves; Client implements all
// of them.
package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rasterline/imagery-retriever/model"
)

// ImageID identifies an image the catalog can render or export, either a
// collection scene or a server-side composite. IDs are opaque to this
// program.
type ImageID string

// DateRange bounds a collection query in time. Values are passed through
// to the catalog, which accepts both full dates and bare years.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// QuerySpec selects scenes from a collection.
type QuerySpec struct {
	// Collection is the catalog collection identifier.
	Collection string `json:"collection"`
	// CloudProperty names the per-image cloud cover metadata property.
	CloudProperty string `json:"cloud_property"`
	// Region is the geographic filter.
	Region model.BoundingBox `json:"region"`
	// RegionBufferMeters widens Region for the filter only. Used for
	// sensors whose scenes would otherwise clip at the region edge.
	RegionBufferMeters float64   `json:"region_buffer_meters,omitempty"`
	Dates              DateRange `json:"dates"`
	// Cloud cover bounds: images satisfy CloudMin <= cover < CloudMax.
	CloudMin float64 `json:"cloud_min"`
	CloudMax float64 `json:"cloud_max"`
	// Bands restricts the selected bands.
	Bands []string `json:"bands,omitempty"`
	// SortBy orders results by a metadata property, ascending.
	SortBy string `json:"sort_by,omitempty"`
	// Limit caps the number of returned identifiers; zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// MosaicSpec defines a server-side composite over a planar rectangle.
// Composition has no side effects: the catalog returns an identifier for
// the (lazily evaluated) composite image.
type MosaicSpec struct {
	// Query is the base collection query; the catalog additionally filters
	// it to scenes intersecting Region.
	Query QuerySpec `json:"query"`
	// Region is the rectangle the mosaic covers, in its zone projection.
	Region PlanarRegion `json:"region"`
	// OrderSeed seeds the random layering order of source scenes.
	OrderSeed int64 `json:"order_seed"`
	// Multiplier rescales raw pixel values into the visual range.
	Multiplier float64 `json:"multiplier,omitempty"`
	// ToByte converts pixels to 8-bit after scaling.
	ToByte bool `json:"to_byte,omitempty"`
}

// RenderSpec controls download-URL minting for an image.
type RenderSpec struct {
	// ScaleM is the ground resolution in metres per pixel.
	ScaleM float64 `json:"scale_m"`
	Format model.OutputFormat `json:"format"`
	Bands  []string           `json:"bands,omitempty"`
	// CRS overrides the output coordinate reference (authority code like
	// "EPSG:32617"). Empty keeps the image's native projection.
	CRS string `json:"crs,omitempty"`
	// Multiplier rescales raw pixels into the visual range before byte
	// conversion; zero leaves pixels raw.
	Multiplier float64 `json:"multiplier,omitempty"`
	// ToByte converts pixels to 8-bit after scaling.
	ToByte bool `json:"to_byte,omitempty"`
	// ClipToFootprint clips the render to the image's own footprint.
	ClipToFootprint bool `json:"clip_to_footprint,omitempty"`
}

// SampleSpec requests stratified random points within a region, restricted
// to one class of a mask band.
type SampleSpec struct {
	Region model.BoundingBox `json:"region"`
	Count  int               `json:"count"`
	ScaleM float64           `json:"scale_m"`
	Seed   int64             `json:"seed"`
	// Mask selects the classification source, e.g. a land/water product.
	MaskCollection string `json:"mask_collection"`
	MaskBand       string `json:"mask_band"`
	// MaskClass is the band value a point must classify as.
	MaskClass int `json:"mask_class"`
}

// ExportSpec submits a server-side export of an image to a remote folder.
type ExportSpec struct {
	// Name is the output name, extension excluded.
	Name  string  `json:"name"`
	Image ImageID `json:"image"`
	// Region is the export extent in its zone projection.
	Region PlanarRegion       `json:"region"`
	ScaleM float64            `json:"scale_m"`
	Format model.OutputFormat `json:"format"`
	// Folder is the destination folder on the remote drive.
	Folder string `json:"folder"`
}

// PlanarRegion is the wire form of a model.PlanarRectangle.
type PlanarRegion struct {
	CRS  string  `json:"crs"`
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// NewPlanarRegion converts a planar rectangle to its wire form.
func NewPlanarRegion(r model.PlanarRectangle) PlanarRegion {
	return PlanarRegion{
		CRS:  r.Projection.Code(),
		MinX: r.MinX,
		MinY: r.MinY,
		MaxX: r.MaxX,
		MaxY: r.MaxY,
	}
}

// Rectangle converts the wire form back to a planar rectangle. The
// second return is false when CRS is not a UTM authority code.
func (r PlanarRegion) Rectangle() (model.PlanarRectangle, bool) {
	code, err := strconv.Atoi(strings.TrimPrefix(r.CRS, "EPSG:"))
	if err != nil {
		return model.PlanarRectangle{}, false
	}
	var proj model.ProjectionID
	switch {
	case code > 32600 && code <= 32660:
		proj = model.ProjectionID{Zone: code - 32600}
	case code > 32700 && code <= 32760:
		proj = model.ProjectionID{Zone: code - 32700, South: true}
	default:
		return model.PlanarRectangle{}, false
	}
	return model.PlanarRectangle{
		MinX:       r.MinX,
		MinY:       r.MinY,
		MaxX:       r.MaxX,
		MaxY:       r.MaxY,
		Projection: proj,
	}, true
}

// APIError is a non-2xx response from the catalog.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("catalog: status %d", e.Status)
	}
	return fmt.Sprintf("catalog: %s (status %d)", e.Message, e.Status)
}

// Temporary reports whether the request may succeed if repeated. Server
// errors and quota rejections are temporary; other client errors are not.
func (e *APIError) Temporary() bool {
	return e.Status >= 500 || e.Status == 429
}
