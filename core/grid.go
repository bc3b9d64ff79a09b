package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rasterline/imagery-retriever/model"
)

// ErrUnknownZoneKey indicates a zone key that is absent from the grid,
// including the three wide-zone keys deleted by the MGRS irregularities.
var ErrUnknownZoneKey = errors.New("unknown zone key")

// bandLetters is the ordered MGRS latitude band alphabet. I and O are
// skipped to avoid confusion with digits.
const bandLetters = "CDEFGHJKLMNPQRSTUVWX"

const (
	lonZones   = 60
	lonStepDeg = 6.0
	latStepDeg = 8.0
	lonOrigin  = -180.0
	latOrigin  = -80.0
)

// irregularZones are the real-world MGRS exceptions around Norway and
// Svalbard. They replace the regular-grid entries for those keys.
var irregularZones = map[string]model.BoundingBox{
	"31V": {West: 0, South: 56, East: 3, North: 64},
	"32V": {West: 3, South: 56, East: 12, North: 64},
	"31X": {West: 0, South: 72, East: 9, North: 84},
	"33X": {West: 9, South: 72, East: 21, North: 84},
	"35X": {West: 21, South: 72, East: 33, North: 84},
	"37X": {West: 33, South: 72, East: 42, North: 84},
}

// deletedZones are the X-band columns absorbed into the neighbouring wide
// zones. Looking them up fails with ErrUnknownZoneKey.
var deletedZones = []string{"32X", "34X", "36X"}

// GridRegistry maps MGRS zone keys to geographic bounding boxes. The table
// is built once and is immutable afterwards, so lookups are safe for
// concurrent use.
type GridRegistry struct {
	zones map[string]model.BoundingBox
}

// NewGridRegistry builds the full zone table. Construction layers, in
// order: the regular 60x20 grid, the re-laid X band (72-84 degrees), the
// deleted wide-zone keys, and the irregular-zone overrides. Later layers
// win.
func NewGridRegistry() *GridRegistry {
	zones := make(map[string]model.BoundingBox, lonZones*len(bandLetters))

	for row := range len(bandLetters) {
		south := latOrigin + latStepDeg*float64(row)
		for col := 1; col <= lonZones; col++ {
			west := lonOrigin + lonStepDeg*float64(col-1)
			zones[zoneKey(col, bandLetters[row])] = model.BoundingBox{
				West:  west,
				South: south,
				East:  west + lonStepDeg,
				North: south + latStepDeg,
			}
		}
	}

	// The X band is taller than the regular rows: 72-84 degrees.
	for col := 1; col <= lonZones; col++ {
		west := lonOrigin + lonStepDeg*float64(col-1)
		zones[zoneKey(col, 'X')] = model.BoundingBox{
			West:  west,
			South: 72,
			East:  west + lonStepDeg,
			North: 84,
		}
	}

	for _, key := range deletedZones {
		delete(zones, key)
	}
	for key, box := range irregularZones {
		zones[key] = box
	}

	return &GridRegistry{zones: zones}
}

// Lookup resolves a zone key to its geographic bounds.
func (g *GridRegistry) Lookup(key string) (model.BoundingBox, error) {
	box, ok := g.zones[key]
	if !ok {
		return model.BoundingBox{}, fmt.Errorf("zone key %q: %w", key, ErrUnknownZoneKey)
	}
	return box, nil
}

// Keys returns every zone key in the registry, sorted.
func (g *GridRegistry) Keys() []string {
	keys := make([]string, 0, len(g.zones))
	for key := range g.zones {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func zoneKey(col int, band byte) string {
	return fmt.Sprintf("%02d%c", col, band)
}
