// Package controller owns the viewport state and drives the resolver
// and scheduler each tick.
package controller

import (
	"context"

	"github.com/jaennil/tilekit/internal/scheduler"
	"github.com/jaennil/tilekit/internal/tile"
	"github.com/jaennil/tilekit/internal/viewport"
	"github.com/jaennil/tilekit/pkg/logger"
)

// RenderSink receives tile bytes once a download reaches Done. What the
// host does with them (decode, upload, composite) is its business.
type RenderSink func(a tile.Address, data []byte)

// Locator maps a tile address to the source locator the scheduler
// fetches from.
type Locator func(a tile.Address) string

type Config struct {
	ZoomHysteresisUp   float64
	ZoomHysteresisDown float64
	ViewWidthPx        int
	ViewHeightPx       int
}

// Controller is the single owner of the viewport. All methods must be
// called from the tick goroutine.
type Controller struct {
	cfg     Config
	sched   *scheduler.Scheduler
	slots   *viewport.SlotTable
	locator Locator
	sink    RenderSink
	logger  logger.Logger

	state viewport.State

	// Pending external inputs, ingested at the top of the next tick.
	pendingLon, pendingLat float64
	pendingZoom            float64
	pendingRot             float64
	hasPendingCenter       bool
	hasPendingZoom         bool
	hasPendingRot          bool

	dirty        bool
	manipulating bool

	// Ground resolution at the current center and continuous zoom.
	metersPerPixel float64

	visible map[tile.Address]struct{}
	stale   map[tile.Address]struct{}
	rot     float64
}

func New(cfg Config, sched *scheduler.Scheduler, slots *viewport.SlotTable, locator Locator, sink RenderSink, l logger.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		sched:   sched,
		slots:   slots,
		locator: locator,
		sink:    sink,
		logger:  l,
		visible: make(map[tile.Address]struct{}),
		stale:   make(map[tile.Address]struct{}),
	}
}

// SetCenter feeds a new map center, e.g. from an external location
// source. Applied at the top of the next tick.
func (c *Controller) SetCenter(lon, lat float64) {
	c.pendingLon, c.pendingLat = lon, lat
	c.hasPendingCenter = true
}

// SetZoom feeds a new continuous zoom. Applied at the next tick; the
// rounded zoom only follows once it crosses the hysteresis threshold.
func (c *Controller) SetZoom(zoom float64) {
	c.pendingZoom = zoom
	c.hasPendingZoom = true
}

// SetRotation sets the camera rotation in radians around the view axis.
// Applied at the top of the next tick, like center and zoom.
func (c *Controller) SetRotation(rot float64) {
	c.pendingRot = rot
	c.hasPendingRot = true
}

// BeginManipulation marks the viewport as actively panned or zoomed.
// Tile-set recomputation is deferred and downloads pause until
// EndManipulation.
func (c *Controller) BeginManipulation() {
	if c.manipulating {
		return
	}
	c.manipulating = true
	c.sched.PauseAll()
}

func (c *Controller) EndManipulation() {
	if !c.manipulating {
		return
	}
	c.manipulating = false
	c.sched.ResumeAll()
	c.dirty = true
}

// State returns the current viewport snapshot.
func (c *Controller) State() viewport.State {
	return c.state
}

// Tick runs one cycle: ingest external inputs, refresh derived
// constants, re-resolve the tile set when dirty, then let the
// scheduler make progress.
func (c *Controller) Tick(ctx context.Context) error {
	if err := c.ingest(); err != nil {
		return err
	}

	if c.dirty && !c.manipulating {
		c.resolve()
		c.dirty = false
	}

	c.releaseCovered()
	c.sched.Tick(ctx)
	return nil
}

func (c *Controller) ingest() error {
	changed := false

	lon, lat := c.state.CenterLon, c.state.CenterLat
	if c.hasPendingCenter {
		lon, lat = c.pendingLon, c.pendingLat
		c.hasPendingCenter = false
		changed = true
	}

	zoom := c.state.ZoomContinuous
	if c.hasPendingZoom {
		zoom = c.pendingZoom
		c.hasPendingZoom = false
		changed = true
	}

	rot := c.rot
	if c.hasPendingRot {
		rot = c.pendingRot
		c.hasPendingRot = false
		changed = true
	}

	if !changed {
		return nil
	}

	st, err := viewport.NewState(lon, lat, zoom, c.state.ZoomRounded,
		c.cfg.ZoomHysteresisUp, c.cfg.ZoomHysteresisDown,
		c.cfg.ViewWidthPx, c.cfg.ViewHeightPx, rot)
	if err != nil {
		return err
	}

	c.metersPerPixel = viewport.MetersPerPixelAt(lat, zoom)
	c.rot = rot
	c.state = st
	c.dirty = true
	return nil
}

// resolve recomputes the visible set, requests what is newly needed and
// demotes what is no longer needed to the stale set. Stale tiles stay
// on screen until releaseCovered confirms their replacements.
func (c *Controller) resolve() {
	next := viewport.Visible(c.state)

	added, removed := viewport.Diff(c.visible, next)

	for _, a := range added {
		// A tile that was lingering as stale and is visible again is
		// simply promoted back.
		delete(c.stale, a)

		c.slots.Enable(a)
		addr := a
		c.sched.Request(addr.Key(), c.locator(addr), func(res scheduler.Result) {
			c.onTile(addr, res)
		})
	}

	for _, a := range removed {
		c.stale[a] = struct{}{}
		// Anything still queued or fetching for the tile is wasted
		// work now.
		c.sched.Cancel(a.Key())
	}

	c.visible = next

	c.logger.Debug("tile set resolved",
		"zoom", c.state.ZoomRounded,
		"visible", len(next),
		"added", len(added),
		"removed", len(removed),
	)
}

func (c *Controller) onTile(a tile.Address, res scheduler.Result) {
	if res.State != scheduler.StateDone {
		// Terminal failure is surfaced and the slot stays empty; the
		// next resolve pass may re-request it.
		c.logger.Warn("tile unavailable", "tile", a, "error", res.Err)
		return
	}

	c.slots.SetImage(a)
	if c.sink != nil {
		c.sink(a, res.Data)
	}
}

// releaseCovered frees stale tiles whose footprint is confirmed hidden
// by ready tiles at the current rounded zoom. A stale tile failing the
// coverage check stays on screen until its replacements render.
func (c *Controller) releaseCovered() {
	if len(c.stale) == 0 {
		return
	}

	target := c.state.ZoomRounded
	for a := range c.stale {
		// A stale tile that never got an image cannot leave a hole.
		if c.slots.HasImage(a) && !viewport.Covered(c.slots, target, a) {
			continue
		}
		c.slots.Release(a)
		delete(c.stale, a)
		c.logger.Debug("released stale tile", "tile", a)
	}
}

// StaleCount reports how many superseded tiles are still held on
// screen awaiting coverage.
func (c *Controller) StaleCount() int {
	return len(c.stale)
}

// MetersPerPixel returns the ground resolution of one screen pixel at
// the current continuous zoom, for the host's scale display.
func (c *Controller) MetersPerPixel() float64 {
	return c.metersPerPixel
}
