// Package tile provides the slippy-map tile address type shared by the
// resolver, scheduler and controller.
package tile

import "fmt"

// Size is the edge length of a raster tile in pixels.
const Size = 256

// Address identifies a tile in the XYZ scheme (Tiled web map).
// X wraps modulo 2^Z; Y is clamped to [0, 2^Z) with no vertical wrap.
type Address struct {
	Z int
	X int
	Y int
}

func (a Address) Valid() bool {
	if a.Z < 0 || a.Z >= 32 {
		return false
	}
	n := 1 << a.Z
	return a.X >= 0 && a.X < n && a.Y >= 0 && a.Y < n
}

// Key returns the canonical z/x/y string used as a cache and job key.
func (a Address) Key() string {
	return fmt.Sprintf("%d/%d/%d", a.Z, a.X, a.Y)
}

func (a Address) String() string {
	return a.Key()
}

// WrapX normalizes the x coordinate into [0, 2^Z) by wraparound.
// Y is left untouched; the tile pyramid does not wrap vertically.
func (a Address) WrapX() Address {
	n := 1 << a.Z
	a.X = ((a.X % n) + n) % n
	return a
}

// Parent returns the address of the tile one zoom level up that
// contains this tile's footprint.
func (a Address) Parent() Address {
	return Address{Z: a.Z - 1, X: a.X / 2, Y: a.Y / 2}
}

// Children returns the four tiles at the next zoom level that together
// cover this tile's footprint.
func (a Address) Children() [4]Address {
	z, x, y := a.Z+1, a.X*2, a.Y*2
	return [4]Address{
		{Z: z, X: x, Y: y},
		{Z: z, X: x + 1, Y: y},
		{Z: z, X: x, Y: y + 1},
		{Z: z, X: x + 1, Y: y + 1},
	}
}
