// Package source holds the tile source adapters the scheduler fetches
// through. The engine is agnostic to the transport behind a locator: an
// HTTP tile server, a Redis store or anything else satisfying Fetcher.
package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/jaennil/tilekit/internal/tile"
)

// Fetcher resolves a source locator to raw tile image bytes.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// URLFromTemplate expands a slippy-map URL template of the form
// https://host/{z}/{x}/{y}.png for the given tile address.
func URLFromTemplate(template string, a tile.Address) string {
	r := strings.NewReplacer(
		"{z}", strconv.Itoa(a.Z),
		"{x}", strconv.Itoa(a.X),
		"{y}", strconv.Itoa(a.Y),
	)
	return r.Replace(template)
}
