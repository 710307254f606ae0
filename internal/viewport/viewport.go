// Package viewport owns the camera-derived state of the map view and
// resolves it into the set of tile addresses that must be on screen.
package viewport

import (
	"math"

	"github.com/jaennil/tilekit/internal/projection"
)

// State is the viewport snapshot the resolver works from. It is mutated
// only by the map controller and read by everyone else.
type State struct {
	CenterLon float64
	CenterLat float64

	// Center in projected spherical-Mercator meters.
	CenterX float64
	CenterY float64

	// ZoomContinuous is the camera zoom; ZoomRounded is the integer
	// pyramid level currently rendered. The two diverge near integer
	// boundaries because of hysteresis.
	ZoomContinuous float64
	ZoomRounded    int

	Frustum Frustum
}

// RoundZoom applies hysteresis to a continuous zoom value. Starting
// from the previously rounded level, the level only increases once the
// continuous zoom passes prev+up, and only decreases once it drops
// below (prev-1)+down. This keeps the rendered level stable while the
// camera hovers near an integer boundary.
func RoundZoom(prev int, zoom, up, down float64) int {
	r := prev
	for zoom >= float64(r)+up {
		r++
	}
	for r > 0 && zoom <= float64(r-1)+down {
		r--
	}
	if r < 0 {
		r = 0
	}
	if r > 31 {
		r = 31
	}
	return r
}

// Plane is a half-plane in projected meters. Points with
// Nx*x + Ny*y + D >= 0 are inside.
type Plane struct {
	Nx, Ny, D float64
}

// Frustum is the camera's visible area as an intersection of
// half-planes. A convex set of four planes for an unrotated or rotated
// rectangular view.
type Frustum []Plane

// NewFrustum builds a rectangular frustum centered at (cx, cy) in
// projected meters, with the given half extents, rotated by rot radians.
func NewFrustum(cx, cy, halfWidth, halfHeight, rot float64) Frustum {
	sin, cos := math.Sin(rot), math.Cos(rot)

	// Outward axes of the rotated rectangle.
	rx, ry := cos, sin   // +x axis
	ux, uy := -sin, cos  // +y axis

	return Frustum{
		{Nx: -rx, Ny: -ry, D: rx*cx + ry*cy + halfWidth},  // right
		{Nx: rx, Ny: ry, D: -(rx*cx + ry*cy) + halfWidth}, // left
		{Nx: -ux, Ny: -uy, D: ux*cx + uy*cy + halfHeight}, // top
		{Nx: ux, Ny: uy, D: -(ux*cx + uy*cy) + halfHeight}, // bottom
	}
}

// IntersectsRect reports whether the axis-aligned rectangle intersects
// the frustum. A rectangle is rejected once all four of its corners lie
// outside any single plane; for convex frusta and axis-aligned tiles
// this is exact enough that the flood fill self-bounds.
func (f Frustum) IntersectsRect(minX, minY, maxX, maxY float64) bool {
	for _, p := range f {
		if p.Nx*minX+p.Ny*minY+p.D >= 0 {
			continue
		}
		if p.Nx*maxX+p.Ny*minY+p.D >= 0 {
			continue
		}
		if p.Nx*minX+p.Ny*maxY+p.D >= 0 {
			continue
		}
		if p.Nx*maxX+p.Ny*maxY+p.D >= 0 {
			continue
		}
		return false
	}
	return true
}

// NewState derives a full viewport snapshot. The frustum covers
// viewWidthPx by viewHeightPx screen pixels at the continuous zoom's
// ground resolution. prevRounded feeds the zoom hysteresis.
func NewState(lon, lat, zoom float64, prevRounded int, up, down float64, viewWidthPx, viewHeightPx int, rot float64) (State, error) {
	mx, my, err := projection.LonLatToMeters(lon, lat)
	if err != nil {
		return State{}, err
	}

	rounded := RoundZoom(prevRounded, zoom, up, down)

	// Ground resolution of one screen pixel at the continuous zoom.
	metersPerPixel := MetersPerPixelAt(lat, zoom)

	halfW := metersPerPixel * float64(viewWidthPx) / 2
	halfH := metersPerPixel * float64(viewHeightPx) / 2

	return State{
		CenterLon:      lon,
		CenterLat:      lat,
		CenterX:        mx,
		CenterY:        my,
		ZoomContinuous: zoom,
		ZoomRounded:    rounded,
		Frustum:        NewFrustum(mx, my, halfW, halfH, rot),
	}, nil
}
