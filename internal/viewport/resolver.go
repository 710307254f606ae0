package viewport

import (
	"math"

	"github.com/jaennil/tilekit/internal/projection"
	"github.com/jaennil/tilekit/internal/tile"
)

// Visible grows the set of tile addresses intersecting the frustum at
// the rounded zoom, flood-filling outward from the tile under the
// viewport center. Growth across the antimeridian keeps the unwrapped
// x for geometry and wraps it for the address, so a fill starting near
// x=0 reaches x=2^z-1 without special cases. There is no vertical
// wrap; neighbours past the poles are not generated. The fill
// terminates where the frustum test fails, so the cost is proportional
// to the number of visible tiles.
func Visible(st State) map[tile.Address]struct{} {
	zoom := st.ZoomRounded
	n := 1 << zoom
	edge := projection.TileEdgeMeters(zoom)
	half := projection.EarthCircumference / 2

	center, err := projection.LonLatToTile(st.CenterLon, st.CenterLat, zoom)
	if err != nil {
		// State is built through NewState, which validates the center.
		panic("viewport: malformed state: " + err.Error())
	}

	visited := make(map[tile.Address]struct{})

	var grow func(x, y int)
	grow = func(x, y int) {
		if y < 0 || y >= n {
			return
		}

		// Footprint in projected meters from the unwrapped x.
		minX := -half + float64(x)*edge
		maxY := half - float64(y)*edge
		if !st.Frustum.IntersectsRect(minX, maxY-edge, minX+edge, maxY) {
			return
		}

		addr := tile.Address{Z: zoom, X: x, Y: y}.WrapX()
		if _, ok := visited[addr]; ok {
			return
		}
		visited[addr] = struct{}{}

		grow(x+1, y)
		grow(x-1, y)
		grow(x, y+1)
		grow(x, y-1)
	}

	grow(center.X, center.Y)
	return visited
}

// Diff splits the transition between two visible sets into the tiles
// that became needed and the tiles that are no longer needed.
func Diff(prev, next map[tile.Address]struct{}) (added, removed []tile.Address) {
	for a := range next {
		if _, ok := prev[a]; !ok {
			added = append(added, a)
		}
	}
	for a := range prev {
		if _, ok := next[a]; !ok {
			removed = append(removed, a)
		}
	}
	return added, removed
}

// TileStateView answers whether a tile is fully on screen: its render
// slot enabled, its image present and its fade-in finished. The slot
// table implements it; tests substitute fakes.
type TileStateView interface {
	Ready(a tile.Address) bool
}

// CoveredByCoarser reports whether a single ready ancestor between the
// tile's zoom (exclusive) and targetZoom (inclusive) occupies the
// tile's footprint. Used to release a stale fine tile once a coarser
// replacement is rendered underneath it.
func CoveredByCoarser(view TileStateView, targetZoom int, a tile.Address) bool {
	if a.Z <= targetZoom {
		return false
	}
	parent := a.Parent()
	if view.Ready(parent) {
		return true
	}
	return CoveredByCoarser(view, targetZoom, parent)
}

// CoveredByFiner reports whether the tile's footprint is completely
// tiled over by ready descendants at targetZoom. All four children
// must individually be ready, or themselves be covered by their own
// children when the target is more than one level away. A ready child
// above the target level also counts: it hides the same area.
func CoveredByFiner(view TileStateView, targetZoom int, a tile.Address) bool {
	if a.Z >= targetZoom {
		return false
	}
	for _, child := range a.Children() {
		if view.Ready(child) {
			continue
		}
		if child.Z < targetZoom && CoveredByFiner(view, targetZoom, child) {
			continue
		}
		return false
	}
	return true
}

// Covered combines both directions: a stale tile may be released once
// replacements at the current rounded zoom hide its footprint, whether
// the zoom moved up or down.
func Covered(view TileStateView, targetZoom int, a tile.Address) bool {
	switch {
	case a.Z == targetZoom:
		return true
	case a.Z > targetZoom:
		return CoveredByCoarser(view, targetZoom, a)
	default:
		return CoveredByFiner(view, targetZoom, a)
	}
}

// MetersPerPixelAt is a convenience wrapper for the controller's
// derived-constant refresh on zoom changes, over the continuous zoom.
func MetersPerPixelAt(lat, zoom float64) float64 {
	return projection.EarthCircumference * math.Cos(lat*math.Pi/180) / (math.Exp2(zoom) * tile.Size)
}
