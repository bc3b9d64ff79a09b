package core

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rasterline/imagery-retriever/model"
)

// ErrInvalidZoneKey indicates a zone key whose shape cannot be parsed:
// no trailing band letter from the MGRS alphabet, or no numeric longitude
// zone prefix in 1-60.
var ErrInvalidZoneKey = errors.New("invalid zone key")

// ResolveProjection determines the planar coordinate reference for a zone.
// It is a pure function of the key: the longitude zone selects the UTM zone
// and the band letter selects the hemisphere. Band letters up to and
// including 'M' lie south of the equator.
func ResolveProjection(key string) (model.ProjectionID, error) {
	zone, band, err := parseZoneKey(key)
	if err != nil {
		return model.ProjectionID{}, err
	}
	south := strings.IndexByte(bandLetters, band) <= strings.IndexByte(bandLetters, 'M')
	return model.ProjectionID{Zone: zone, South: south}, nil
}

func parseZoneKey(key string) (int, byte, error) {
	if len(key) < 2 {
		return 0, 0, fmt.Errorf("zone key %q is too short: %w", key, ErrInvalidZoneKey)
	}
	band := key[len(key)-1]
	if strings.IndexByte(bandLetters, band) < 0 {
		return 0, 0, fmt.Errorf("zone key %q: band letter %c is not in the MGRS alphabet: %w", key, band, ErrInvalidZoneKey)
	}
	zone, err := strconv.Atoi(key[:len(key)-1])
	if err != nil || zone < 1 || zone > lonZones {
		return 0, 0, fmt.Errorf("zone key %q: longitude zone must be 1-60: %w", key, ErrInvalidZoneKey)
	}
	return zone, band, nil
}
