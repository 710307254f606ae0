package projection

import (
	"errors"
	"math"
	"testing"

	"github.com/jaennil/tilekit/internal/tile"
)

func TestLonLatToTileRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		lon  float64
		lat  float64
		zoom int
		want error
	}{
		{"north pole", 0, 90, 5, ErrLatitudeOutOfRange},
		{"south pole", 0, -90, 5, ErrLatitudeOutOfRange},
		{"beyond pole", 0, 95, 5, ErrLatitudeOutOfRange},
		{"nan latitude", 0, math.NaN(), 5, ErrLatitudeOutOfRange},
		{"negative zoom", 0, 0, -1, ErrZoomOutOfRange},
		{"zoom too deep", 0, 0, 32, ErrZoomOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LonLatToTile(tt.lon, tt.lat, tt.zoom)
			if !errors.Is(err, tt.want) {
				t.Errorf("LonLatToTile(%v, %v, %d) error = %v, want %v", tt.lon, tt.lat, tt.zoom, err, tt.want)
			}
		})
	}
}

func TestLonLatToTileWraparound(t *testing.T) {
	for _, zoom := range []int{1, 3, 8, 15} {
		n := 1 << zoom

		west, err := LonLatToTile(-180.0001, 0, zoom)
		if err != nil {
			t.Fatalf("LonLatToTile(-180.0001, 0, %d): %v", zoom, err)
		}
		if west.X < 0 || west.X >= n {
			t.Errorf("zoom %d: x = %d not normalized into [0, %d)", zoom, west.X, n)
		}

		east, err := LonLatToTile(179.9999, 0, zoom)
		if err != nil {
			t.Fatalf("LonLatToTile(179.9999, 0, %d): %v", zoom, err)
		}
		if east.X < 0 || east.X >= n {
			t.Errorf("zoom %d: x = %d not normalized into [0, %d)", zoom, east.X, n)
		}
	}
}

func TestTileRoundTrip(t *testing.T) {
	points := []struct {
		lon, lat float64
	}{
		{13.397, 52.529},
		{-122.4194, 37.7749},
		{151.2093, -33.8688},
		{0, 0},
		{179.5, 60},
		{-179.5, -60},
	}

	for _, p := range points {
		for _, zoom := range []int{3, 8, 14} {
			a, err := LonLatToTile(p.lon, p.lat, zoom)
			if err != nil {
				t.Fatalf("LonLatToTile(%v, %v, %d): %v", p.lon, p.lat, zoom, err)
			}

			// The upper-left corner must lie north-west of the point,
			// within one tile's span.
			cornerLon, cornerLat := TileToLonLat(a)
			if cornerLon > p.lon || cornerLat < p.lat {
				t.Errorf("corner (%v, %v) not north-west of (%v, %v)", cornerLon, cornerLat, p.lon, p.lat)
			}

			// Re-deriving the address from the tile's interior must
			// reproduce it. The midpoint of the tile is the corner of
			// its south-east child one level down.
			mid := tile.Address{Z: zoom + 1, X: a.X*2 + 1, Y: a.Y*2 + 1}
			midLon, midLat := TileToLonLat(mid)
			again, err := LonLatToTile(midLon, midLat, zoom)
			if err != nil {
				t.Fatalf("LonLatToTile midpoint: %v", err)
			}
			if again != a {
				t.Errorf("zoom %d: midpoint of %v re-derived as %v", zoom, a, again)
			}
		}
	}
}

func TestMetersRoundTrip(t *testing.T) {
	points := []struct {
		lon, lat float64
	}{
		{0, 0},
		{13.397, 52.529},
		{-122.4194, 37.7749},
		{179.9, 84},
		{-179.9, -84},
	}

	for _, p := range points {
		mx, my, err := LonLatToMeters(p.lon, p.lat)
		if err != nil {
			t.Fatalf("LonLatToMeters(%v, %v): %v", p.lon, p.lat, err)
		}
		lon, lat := MetersToLonLat(mx, my)
		if math.Abs(lon-p.lon) > 1e-9 || math.Abs(lat-p.lat) > 1e-9 {
			t.Errorf("round trip (%v, %v) -> (%v, %v)", p.lon, p.lat, lon, lat)
		}
	}
}

func TestLonLatToMetersRejectsPoles(t *testing.T) {
	if _, _, err := LonLatToMeters(0, 90); !errors.Is(err, ErrLatitudeOutOfRange) {
		t.Errorf("expected latitude error at the pole, got %v", err)
	}
}

func TestMetersPerPixel(t *testing.T) {
	got, err := MetersPerPixel(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := EarthCircumference / 256
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("MetersPerPixel(0, 0) = %v, want %v", got, want)
	}

	// Doubling the zoom level halves the resolution.
	a, _ := MetersPerPixel(45, 10)
	b, _ := MetersPerPixel(45, 11)
	if math.Abs(a/b-2) > 1e-9 {
		t.Errorf("resolution ratio between zooms = %v, want 2", a/b)
	}
}

func TestZoomScaleInverse(t *testing.T) {
	for _, zoom := range []float64{3, 9.5, 14.25} {
		for _, lat := range []float64{0, 45, -60} {
			scale, err := ZoomToScale(zoom, lat, 256, 96)
			if err != nil {
				t.Fatalf("ZoomToScale(%v, %v): %v", zoom, lat, err)
			}
			back, err := ScaleToZoom(scale, lat, 256, 96)
			if err != nil {
				t.Fatalf("ScaleToZoom: %v", err)
			}
			if math.Abs(back-zoom) > 1e-9 {
				t.Errorf("ScaleToZoom(ZoomToScale(%v)) = %v", zoom, back)
			}
		}
	}
}

func TestTileEdgeMeters(t *testing.T) {
	if got, want := TileEdgeMeters(0), EarthCircumference; math.Abs(got-want) > 1e-6 {
		t.Errorf("TileEdgeMeters(0) = %v, want %v", got, want)
	}
	if got, want := TileEdgeMeters(4), EarthCircumference/16; math.Abs(got-want) > 1e-6 {
		t.Errorf("TileEdgeMeters(4) = %v, want %v", got, want)
	}
}
