package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Mark is one annotated LED box
type Mark struct {
	Box   image.Rectangle
	Label string
	Lit   bool
}

var (
	colorBoard = color.RGBA{0, 200, 255, 255}
	colorOn    = color.RGBA{0, 255, 0, 255}
	colorOff   = color.RGBA{0, 0, 255, 255}
	colorText  = color.RGBA{255, 255, 255, 255}
)

// Annotate draws the board outline, the LED boxes with their labels and
// the processing rate onto frame.
func Annotate(frame *gocv.Mat, polygon []image.Point, marks []Mark, fps float64) {
	if len(polygon) >= 3 {
		pv := gocv.NewPointsVectorFromPoints([][]image.Point{polygon})
		gocv.Polylines(frame, pv, true, colorBoard, 2)
		pv.Close()
	}

	for _, m := range marks {
		c := colorOff
		if m.Lit {
			c = colorOn
		}
		gocv.Rectangle(frame, m.Box, c, 2)
		if m.Label != "" {
			org := image.Pt(m.Box.Min.X, m.Box.Min.Y-4)
			if org.Y < 10 {
				org.Y = m.Box.Max.Y + 12
			}
			gocv.PutText(frame, m.Label, org, gocv.FontHersheySimplex, 0.4, c, 1)
		}
	}

	gocv.PutText(frame, fmt.Sprintf("%.1f fps", fps), image.Pt(8, 20), gocv.FontHersheySimplex, 0.6, colorText, 2)
}

// EncodeJPEG encodes frame as JPEG with the given quality.
func EncodeJPEG(frame gocv.Mat, quality int) ([]byte, error) {
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...), nil
}
