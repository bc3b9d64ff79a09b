package model

import "fmt"

// GeoPoint is a geographic position in degrees.
type GeoPoint struct {
	Lon float64
	Lat float64
	// Zone optionally records the grid zone the point was sampled from.
	Zone string
}

// BoundingBox is a geographic rectangle in degrees.
// Invariant: West < East and South < North.
type BoundingBox struct {
	West  float64
	South float64
	East  float64
	North float64
}

// Width returns the longitudinal extent in degrees.
func (b BoundingBox) Width() float64 {
	return b.East - b.West
}

// Height returns the latitudinal extent in degrees.
func (b BoundingBox) Height() float64 {
	return b.North - b.South
}

// Center returns the midpoint of the box.
func (b BoundingBox) Center() GeoPoint {
	return GeoPoint{Lon: (b.West + b.East) / 2, Lat: (b.South + b.North) / 2}
}

// Contains reports whether the point lies inside the box, borders included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lon >= b.West && p.Lon <= b.East && p.Lat >= b.South && p.Lat <= b.North
}

// ProjectionID identifies a zone-local UTM coordinate reference.
type ProjectionID struct {
	// Zone is the UTM longitude zone number, 1-60.
	Zone int
	// South is true for the southern-hemisphere variant of the zone.
	South bool
}

// EPSG returns the numeric EPSG code for the projection.
func (p ProjectionID) EPSG() int {
	if p.South {
		return 32700 + p.Zone
	}
	return 32600 + p.Zone
}

// Code returns the EPSG authority string, e.g. "EPSG:32617".
func (p ProjectionID) Code() string {
	return fmt.Sprintf("EPSG:%d", p.EPSG())
}

// Proj4 returns the proj4 definition string for the projection.
func (p ProjectionID) Proj4() string {
	if p.South {
		return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", p.Zone)
	}
	return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", p.Zone)
}

// PlanarRectangle is an axis-aligned rectangle in a zone-local planar
// projection, in metres. Invariant: MinX <= MaxX and MinY <= MaxY.
type PlanarRectangle struct {
	MinX       float64
	MinY       float64
	MaxX       float64
	MaxY       float64
	Projection ProjectionID
}

// Width returns the horizontal extent in metres.
func (r PlanarRectangle) Width() float64 {
	return r.MaxX - r.MinX
}

// Height returns the vertical extent in metres.
func (r PlanarRectangle) Height() float64 {
	return r.MaxY - r.MinY
}
