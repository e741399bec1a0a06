package export

import (
	"math"

	"github.com/fogleman/gg"

	"LiveCanvas/internal/state"
)

// MaxThumbnail caps the longer side of a PNG export, in pixels.
const MaxThumbnail = 1024

// PNG writes a raster thumbnail of s, scaled down to fit MaxThumbnail.
func PNG(path string, s Snapshot) error {
	return render(s).SavePNG(path)
}

func render(s Snapshot) *gg.Context {
	box := extent(s.Shapes)
	scale := math.Min(1, MaxThumbnail/math.Max(box.width(), box.height()))
	w := int(math.Ceil(box.width() * scale))
	h := int(math.Ceil(box.height() * scale))

	dc := gg.NewContext(w, h)
	dc.SetColor(ParseColor(s.Canvas.BackgroundColor, white))
	dc.Clear()
	dc.Scale(scale, scale)
	dc.Translate(-box.minX, -box.minY)
	for _, sh := range s.Shapes {
		drawPNG(dc, sh)
	}
	return dc
}

func drawPNG(dc *gg.Context, sh state.Shape) {
	dc.Push()
	defer dc.Pop()
	if sh.Rotation != 0 {
		px, py := pivot(sh)
		dc.RotateAbout(gg.Radians(sh.Rotation), px, py)
	}
	c := ParseColor(sh.Color, black)
	dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(math.Round(255*opacity(sh))))

	switch sh.Kind {
	case state.KindCircle:
		dc.DrawCircle(sh.X, sh.Y, sh.Radius)
		dc.Fill()
	case state.KindText:
		// The built-in face has a fixed size; the thumbnail ignores fontSize.
		ax := 0.0
		switch sh.TextAlign {
		case "center":
			ax = 0.5
		case "right":
			ax = 1
		}
		dc.DrawStringWrapped(sh.TextContent, sh.X+ax*sh.Width, sh.Y, ax, 0, sh.Width, 1.2, alignOf(sh.TextAlign))
	default:
		if sh.BorderRadius > 0 {
			dc.DrawRoundedRectangle(sh.X, sh.Y, sh.Width, sh.Height, sh.BorderRadius)
		} else {
			dc.DrawRectangle(sh.X, sh.Y, sh.Width, sh.Height)
		}
		dc.Fill()
	}
}

func alignOf(s string) gg.Align {
	switch s {
	case "center":
		return gg.AlignCenter
	case "right":
		return gg.AlignRight
	}
	return gg.AlignLeft
}
