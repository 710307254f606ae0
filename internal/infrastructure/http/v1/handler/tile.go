package handler

import (
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/jaennil/tilekit/internal/scheduler"
	"github.com/jaennil/tilekit/internal/tile"
	"github.com/jaennil/tilekit/pkg/logger"
)

type tileParams struct {
	Z int `validate:"gte=0,lt=32"`
	X int `validate:"gte=0"`
	Y int `validate:"gte=0"`
}

// Tile serves a tile straight from the engine's disk cache. The file
// path is a pure function of the key, so no scheduler state is touched;
// a file evicted mid-read simply turns into a 404.
func (h *Handler) Tile(c *gin.Context) {
	l := logger.FromContext(c.Request.Context())

	z, err := strconv.Atoi(c.Param("z"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "z should be integer"})
		return
	}

	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "x should be integer"})
		return
	}

	y, err := strconv.Atoi(c.Param("y"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "y should be integer"})
		return
	}

	params := tileParams{Z: z, X: x, Y: y}
	if err := h.validate.Struct(params); err != nil {
		l.Warn("invalid tile parameters", "z", z, "x", x, "y", y, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "tile address out of range"})
		return
	}

	addr := tile.Address{Z: z, X: x, Y: y}
	data, err := os.ReadFile(scheduler.CachePath(h.cacheDir, addr.Key()))
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "tile not cached"})
			return
		}
		l.Error("failed to read cached tile", "tile", addr, "error", err)
		h.RespondWithInternalServerError(c)
		return
	}

	c.Data(http.StatusOK, "image/png", data)
}
