package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"wildlife-challenge-system/logger"
)

// DefaultCellDegrees keeps a region roughly metro sized (~28 km of latitude).
const DefaultCellDegrees = 0.25

// Region is the bucket a coordinate pair falls into.
type Region struct {
	Key             string  `json:"region_key"`
	DisplayLocation string  `json:"location"`
	CenterLat       float64 `json:"center_lat"`
	CenterLon       float64 `json:"center_lon"`
}

// Geocoder resolves a coordinate to a human readable place label.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, lat, lon float64) (string, error)
}

// RegionKeyer snaps coordinates to a fixed grid.
type RegionKeyer struct {
	cellDegrees float64
	geocoder    Geocoder // optional
	log         *logger.Logger
}

func NewRegionKeyer(cellDegrees float64, geocoder Geocoder, log *logger.Logger) *RegionKeyer {
	if cellDegrees <= 0 {
		cellDegrees = DefaultCellDegrees
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RegionKeyer{cellDegrees: cellDegrees, geocoder: geocoder, log: log}
}

// KeyFor is pure: every coordinate inside one grid cell yields the same key
// and the same coordinate-based label.
func (k *RegionKeyer) KeyFor(lat, lon float64) (Region, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return Region{}, err
	}

	row := cellIndex(lat, k.cellDegrees)
	col := cellIndex(lon, k.cellDegrees)

	centerLat := roundTo((float64(row)+0.5)*k.cellDegrees, 6)
	centerLon := roundTo((float64(col)+0.5)*k.cellDegrees, 6)

	return Region{
		Key:             fmt.Sprintf("g%s_%d_%d", cellTag(k.cellDegrees), row, col),
		DisplayLocation: coordinateLabel(centerLat, centerLon),
		CenterLat:       centerLat,
		CenterLon:       centerLon,
	}, nil
}

// Resolve is KeyFor plus a best-effort place name for the cell center.
// Geocoder failures keep the coordinate label.
func (k *RegionKeyer) Resolve(ctx context.Context, lat, lon float64) (Region, error) {
	region, err := k.KeyFor(lat, lon)
	if err != nil {
		return Region{}, err
	}
	if k.geocoder == nil {
		return region, nil
	}

	label, err := k.geocoder.ReverseGeocode(ctx, region.CenterLat, region.CenterLon)
	if err != nil {
		k.log.Warn("[REGION] reverse geocode failed, using coordinate label",
			"region_key", region.Key, "error", err)
		return region, nil
	}
	if label = strings.TrimSpace(label); label != "" {
		region.DisplayLocation = label
	}
	return region, nil
}

func validateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: coordinates must be finite", ErrInvalidLocation)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range [-90, 90]", ErrInvalidLocation, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range [-180, 180]", ErrInvalidLocation, lon)
	}
	return nil
}

// cellIndex floors toward negative infinity so cells never straddle the equator
// or the prime meridian. The poles and the antimeridian fold into the last cell.
func cellIndex(v, size float64) int {
	idx := int(math.Floor(v / size))
	if v > 0 && float64(idx)*size == v && (v == 90 || v == 180) {
		idx--
	}
	return idx
}

func cellTag(size float64) string {
	return strings.ReplaceAll(strconv.FormatFloat(size, 'f', -1, 64), ".", "p")
}

func coordinateLabel(lat, lon float64) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns = "S"
	}
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.3f°%s, %.3f°%s", math.Abs(lat), ns, math.Abs(lon), ew)
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
