package model

import "fmt"

// Sensor identifies a supported imagery source.
type Sensor string

const (
	SensorLandsat8  Sensor = "l8"
	SensorLandsat9  Sensor = "l9"
	SensorSentinel2 Sensor = "s2"
)

// SensorSpec carries the catalog-facing constants for one sensor.
type SensorSpec struct {
	// Collection is the catalog collection identifier.
	Collection string
	// CloudProperty is the per-image metadata property holding cloud cover percent.
	CloudProperty string
	// QueryBufferMeters widens the collection query region to avoid images
	// whose footprint only grazes the region edge. Sampling regions are
	// never buffered.
	QueryBufferMeters float64
	// VisualMultiplier rescales raw pixel values into the visual byte range.
	VisualMultiplier float64
	// NativeProjection is true when single-scene downloads should default to
	// the image's own projection rather than the zone projection.
	NativeProjection bool
}

var sensorSpecs = map[Sensor]SensorSpec{
	SensorLandsat8: {
		Collection:       "LANDSAT/LC08/C02/T1_TOA",
		CloudProperty:    "CLOUD_COVER",
		VisualMultiplier: 255.0 / 0.3,
		NativeProjection: true,
	},
	SensorLandsat9: {
		Collection:       "LANDSAT/LC09/C02/T1_TOA",
		CloudProperty:    "CLOUD_COVER",
		VisualMultiplier: 255.0 / 0.3,
		NativeProjection: true,
	},
	SensorSentinel2: {
		Collection:        "COPERNICUS/S2_HARMONIZED",
		CloudProperty:     "CLOUDY_PIXEL_PERCENTAGE",
		QueryBufferMeters: 500000,
		VisualMultiplier:  255.0 * 0.0001 / 0.3,
	},
}

// ParseSensor validates a sensor name.
func ParseSensor(s string) (Sensor, error) {
	sensor := Sensor(s)
	if _, ok := sensorSpecs[sensor]; !ok {
		return "", fmt.Errorf("unknown sensor %q", s)
	}
	return sensor, nil
}

// Spec returns the catalog constants for the sensor. It panics on an
// unknown sensor; construct sensors through ParseSensor.
func (s Sensor) Spec() SensorSpec {
	spec, ok := sensorSpecs[s]
	if !ok {
		panic(fmt.Sprintf("unknown sensor %q", string(s)))
	}
	return spec
}

// Mosaic reports whether scene downloads for this sensor are composed as
// per-point mosaics rather than fetched as individual catalog scenes.
func (s Sensor) Mosaic() bool {
	return s == SensorSentinel2
}

const (
	// DateSortProperty orders collection queries by acquisition date.
	DateSortProperty = "DATE_ACQUIRED"

	// LandMaskCollection is the land/water classification source used for
	// stratified land sampling.
	LandMaskCollection = "MODIS/061/MCD12Q1"
	// LandMaskBand is the land/water band within the mask collection.
	LandMaskBand = "LW"
	// LandMaskLandClass is the band value classifying a cell as land.
	LandMaskLandClass = 2
)

// DefaultBands is the visual-spectrum band selection used when the caller
// does not specify bands.
func DefaultBands() []string {
	return []string{"B4", "B3", "B2"}
}

// OutputFormat selects the encoding of downloaded or exported images.
type OutputFormat string

const (
	FormatGeoTIFF OutputFormat = "GEOTiff"
	FormatPNG     OutputFormat = "PNG"
)

// ParseOutputFormat validates an output format name.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatGeoTIFF, FormatPNG:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q", s)
}

// Ext returns the file extension for the format, dot included.
func (f OutputFormat) Ext() string {
	if f == FormatGeoTIFF {
		return ".tif"
	}
	return ".png"
}
