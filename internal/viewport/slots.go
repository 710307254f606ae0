package viewport

import (
	"time"

	"github.com/jaennil/tilekit/internal/tile"
)

// Slot tracks the render state of one tile: whether its slot is
// enabled, whether image bytes have arrived, and when the fade-in
// started. The engine never decodes or draws; the host does, through
// the render sink.
type Slot struct {
	Enabled   bool
	HasImage  bool
	FadeStart time.Time
}

// SlotTable is the tile-address-keyed registry the coverage checks
// consult. It is owned by the tick goroutine, like every other piece of
// mutable engine state.
type SlotTable struct {
	slots        map[tile.Address]*Slot
	fadeDuration time.Duration
	now          func() time.Time
}

func NewSlotTable(fadeDuration time.Duration) *SlotTable {
	return &SlotTable{
		slots:        make(map[tile.Address]*Slot),
		fadeDuration: fadeDuration,
		now:          time.Now,
	}
}

var _ TileStateView = (*SlotTable)(nil)

// Enable registers a slot for the address. A no-op if already present.
func (t *SlotTable) Enable(a tile.Address) {
	if _, ok := t.slots[a]; !ok {
		t.slots[a] = &Slot{Enabled: true}
	}
}

// SetImage marks the tile's image as present and starts its fade-in.
func (t *SlotTable) SetImage(a tile.Address) {
	s, ok := t.slots[a]
	if !ok {
		return
	}
	s.HasImage = true
	s.FadeStart = t.now()
}

// Release drops the slot. The host is expected to free whatever
// texture it assigned.
func (t *SlotTable) Release(a tile.Address) {
	delete(t.slots, a)
}

// HasImage reports whether image bytes arrived for the tile.
func (t *SlotTable) HasImage(a tile.Address) bool {
	s, ok := t.slots[a]
	return ok && s.HasImage
}

// Ready reports whether the tile is fully on screen: enabled, image
// present and fade-in complete.
func (t *SlotTable) Ready(a tile.Address) bool {
	s, ok := t.slots[a]
	if !ok || !s.Enabled || !s.HasImage {
		return false
	}
	return t.now().Sub(s.FadeStart) >= t.fadeDuration
}

// Len returns the number of live slots.
func (t *SlotTable) Len() int {
	return len(t.slots)
}
