package export

import (
	"github.com/jung-kurt/gofpdf"

	"LiveCanvas/internal/state"
)

// PDF writes a one-page vector rendering of s. One point on the page is one
// canvas unit.
func PDF(path string, s Snapshot) error {
	box := extent(s.Shapes)
	p := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           gofpdf.SizeType{Wd: box.width(), Ht: box.height()},
	})
	p.SetMargins(0, 0, 0)
	p.SetAutoPageBreak(false, 0)
	p.AddPage()

	bg := ParseColor(s.Canvas.BackgroundColor, white)
	p.SetFillColor(int(bg.R), int(bg.G), int(bg.B))
	p.Rect(0, 0, box.width(), box.height(), "F")

	for _, sh := range s.Shapes {
		drawPDF(p, sh, box)
	}
	return p.OutputFileAndClose(path)
}

func drawPDF(p *gofpdf.Fpdf, sh state.Shape, box rect) {
	x, y := sh.X-box.minX, sh.Y-box.minY
	c := ParseColor(sh.Color, black)

	p.TransformBegin()
	defer p.TransformEnd()
	if sh.Rotation != 0 {
		px, py := pivot(sh)
		// gofpdf turns counter-clockwise; canvas rotation is clockwise.
		p.TransformRotate(-sh.Rotation, px-box.minX, py-box.minY)
	}
	p.SetAlpha(opacity(sh), "Normal")
	defer p.SetAlpha(1, "Normal")

	switch sh.Kind {
	case state.KindCircle:
		p.SetFillColor(int(c.R), int(c.G), int(c.B))
		p.Circle(x, y, sh.Radius, "F")
	case state.KindText:
		p.SetTextColor(int(c.R), int(c.G), int(c.B))
		style := ""
		if sh.FontWeight == "bold" || sh.FontWeight == "700" {
			style = "B"
		}
		p.SetFont("Helvetica", style, sh.FontSize)
		p.SetXY(x, y)
		align := "L"
		switch sh.TextAlign {
		case "center":
			align = "C"
		case "right":
			align = "R"
		}
		p.MultiCell(sh.Width, sh.FontSize*1.2, sh.TextContent, "", align, false)
	default:
		p.SetFillColor(int(c.R), int(c.G), int(c.B))
		if sh.BorderRadius > 0 {
			p.RoundedRect(x, y, sh.Width, sh.Height, sh.BorderRadius, "1234", "F")
		} else {
			p.Rect(x, y, sh.Width, sh.Height, "F")
		}
	}
}
