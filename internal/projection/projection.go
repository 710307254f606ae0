// Package projection implements the spherical-Mercator math used
// throughout the engine: lon/lat to projected meters, lon/lat to tile
// addresses at a zoom level, and zoom/scale conversions.
//
// All functions are pure. Latitude outside the open interval (-90, 90)
// is rejected with an error rather than clamped: the tangent diverges
// at the poles and a silently clamped value would corrupt the tile
// wraparound math downstream.
package projection

import (
	"errors"
	"fmt"
	"math"

	"github.com/jaennil/tilekit/internal/tile"
)

const (
	// EarthRadius is the WGS84 semi-major axis in meters, the radius of
	// the sphere used by the web-Mercator projection.
	EarthRadius = 6378137.0

	// EarthCircumference is the equatorial circumference in meters.
	EarthCircumference = 2 * math.Pi * EarthRadius

	// MaxLatitude is the latitude bound of the square Mercator world.
	MaxLatitude = 85.05112878
)

var (
	ErrLatitudeOutOfRange = errors.New("latitude out of range (-90, 90)")
	ErrZoomOutOfRange     = errors.New("zoom out of range [0, 31]")
)

func checkLatitude(lat float64) error {
	if lat <= -90 || lat >= 90 || math.IsNaN(lat) {
		return fmt.Errorf("%w: %v", ErrLatitudeOutOfRange, lat)
	}
	return nil
}

func checkZoom(zoom int) error {
	if zoom < 0 || zoom >= 32 {
		return fmt.Errorf("%w: %d", ErrZoomOutOfRange, zoom)
	}
	return nil
}

// LonLatToTile converts geographic coordinates to the address of the
// tile containing them at the given zoom level. The x coordinate is
// normalized by wraparound, so longitudes outside [-180, 180) are valid
// input; latitude outside (-90, 90) is an error.
func LonLatToTile(lon, lat float64, zoom int) (tile.Address, error) {
	if err := checkLatitude(lat); err != nil {
		return tile.Address{}, err
	}
	if err := checkZoom(zoom); err != nil {
		return tile.Address{}, err
	}

	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180

	x := int(math.Floor((lon + 180) / 360 * n))
	y := int(math.Floor((1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n))

	// No vertical wrap: resolution stops at the poles.
	maxY := int(n) - 1
	if y < 0 {
		y = 0
	}
	if y > maxY {
		y = maxY
	}

	return tile.Address{Z: zoom, X: x, Y: y}.WrapX(), nil
}

// TileToLonLat returns the geographic coordinates of the tile's
// upper-left corner.
func TileToLonLat(a tile.Address) (lon, lat float64) {
	n := math.Exp2(float64(a.Z))
	lon = float64(a.X)/n*360 - 180
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(a.Y)/n)))
	lat = latRad * 180 / math.Pi
	return lon, lat
}

// LonLatToMeters projects geographic coordinates to spherical-Mercator
// meters. Longitude scales linearly; latitude through ln(tan).
func LonLatToMeters(lon, lat float64) (mx, my float64, err error) {
	if err := checkLatitude(lat); err != nil {
		return 0, 0, err
	}
	mx = lon * math.Pi / 180 * EarthRadius
	my = math.Log(math.Tan((90+lat)*math.Pi/360)) * EarthRadius
	return mx, my, nil
}

// MetersToLonLat is the inverse of LonLatToMeters.
func MetersToLonLat(mx, my float64) (lon, lat float64) {
	lon = mx / EarthRadius * 180 / math.Pi
	lat = (2*math.Atan(math.Exp(my/EarthRadius)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// MetersPerPixel returns the ground resolution of one pixel of a
// 256px tile at the given latitude and zoom level.
func MetersPerPixel(lat float64, zoom int) (float64, error) {
	if err := checkLatitude(lat); err != nil {
		return 0, err
	}
	if err := checkZoom(zoom); err != nil {
		return 0, err
	}
	return EarthCircumference * math.Cos(lat*math.Pi/180) / math.Exp2(float64(zoom+8)), nil
}

// TileEdgeMeters returns the projected edge length of a tile at the
// given zoom level. In Mercator meters every tile at one zoom level has
// the same edge length regardless of latitude.
func TileEdgeMeters(zoom int) float64 {
	return EarthCircumference / math.Exp2(float64(zoom))
}

// ZoomToScale converts a fractional zoom level to a display scale: the
// real-world distance covered by one screen distance unit, given the
// tile size in pixels and the display's pixel density in pixels per inch.
func ZoomToScale(zoom, lat float64, tileSizePx int, devicePPI float64) (float64, error) {
	if err := checkLatitude(lat); err != nil {
		return 0, err
	}
	metersPerPixel := EarthCircumference * math.Cos(lat*math.Pi/180) / (math.Exp2(zoom) * float64(tileSizePx))
	metersPerInch := 0.0254
	return metersPerPixel * devicePPI / metersPerInch, nil
}

// ScaleToZoom is the inverse of ZoomToScale.
func ScaleToZoom(scale, lat float64, tileSizePx int, devicePPI float64) (float64, error) {
	if err := checkLatitude(lat); err != nil {
		return 0, err
	}
	metersPerInch := 0.0254
	metersPerPixel := scale * metersPerInch / devicePPI
	return math.Log2(EarthCircumference * math.Cos(lat*math.Pi/180) / (metersPerPixel * float64(tileSizePx))), nil
}
