// Package export renders a canvas snapshot to a file.
package export

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"LiveCanvas/internal/protocol"
	"LiveCanvas/internal/state"
)

// margin is the padding kept around the drawn shapes, in canvas units.
const margin = 20

// Snapshot is the canvas content to render, in stacking order.
type Snapshot struct {
	Canvas protocol.Canvas
	Shapes []state.Shape
}

// File writes s to path, picking the format from the extension.
func File(path string, s Snapshot) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return PDF(path, s)
	case ".png":
		return PNG(path, s)
	}
	return fmt.Errorf("export: unsupported format %q", filepath.Ext(path))
}

type rect struct{ minX, minY, maxX, maxY float64 }

func (r rect) width() float64  { return r.maxX - r.minX }
func (r rect) height() float64 { return r.maxY - r.minY }

// extent is the padded box around every shape. An empty canvas exports as
// an 800x600 page.
func extent(shapes []state.Shape) rect {
	if len(shapes) == 0 {
		return rect{0, 0, 800, 600}
	}
	r := rect{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	for _, sh := range shapes {
		b := bounds(sh)
		r.minX, r.minY = math.Min(r.minX, b.minX), math.Min(r.minY, b.minY)
		r.maxX, r.maxY = math.Max(r.maxX, b.maxX), math.Max(r.maxY, b.maxY)
	}
	return rect{r.minX - margin, r.minY - margin, r.maxX + margin, r.maxY + margin}
}

func bounds(sh state.Shape) rect {
	if sh.Kind == state.KindCircle {
		return rect{sh.X - sh.Radius, sh.Y - sh.Radius, sh.X + sh.Radius, sh.Y + sh.Radius}
	}
	return rect{sh.X, sh.Y, sh.X + sh.Width, sh.Y + sh.Height}
}

// pivot is the point a shape rotates about.
func pivot(sh state.Shape) (float64, float64) {
	if sh.Kind == state.KindCircle {
		return sh.X, sh.Y
	}
	return sh.X + sh.Width/2, sh.Y + sh.Height/2
}

// ParseColor reads #rgb and #rrggbb colours. Anything else falls back to def.
func ParseColor(s string, def color.NRGBA) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return def
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return def
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

var (
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	black = color.NRGBA{A: 255}
)

func opacity(sh state.Shape) float64 {
	return math.Max(0, math.Min(1, sh.Opacity))
}
