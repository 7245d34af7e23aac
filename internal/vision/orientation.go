package vision

import (
	"image"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
)

// Orientation is the result of localising the reference board in a frame.
// A failed localisation has a nil Homography and nil Corners.
type Orientation struct {
	Homography *mat.Dense
	Corners    []board.Point
	CreatedAt  time.Time
	Validity   time.Duration
}

// Valid reports whether the orientation carries a homography.
func (o *Orientation) Valid() bool {
	return o != nil && o.Homography != nil
}

// IsOutdated reports whether the orientation has to be recomputed at now.
func (o *Orientation) IsOutdated(now time.Time) bool {
	return now.Sub(o.CreatedAt) >= o.Validity
}

// Project maps a reference image point into the frame.
func (o *Orientation) Project(p board.Point) board.Point {
	return project(o.Homography, p)
}

// Polygon returns the board corners as integer points.
func (o *Orientation) Polygon() []image.Point {
	out := make([]image.Point, len(o.Corners))
	for i, c := range o.Corners {
		out[i] = image.Pt(int(math.Round(c.X)), int(math.Round(c.Y)))
	}
	return out
}

func project(h *mat.Dense, p board.Point) board.Point {
	in := mat.NewVecDense(3, []float64{p.X, p.Y, 1})
	var out mat.VecDense
	out.MulVec(h, in)
	w := out.AtVec(2)
	if w == 0 {
		return board.Point{X: math.Inf(1), Y: math.Inf(1)}
	}
	return board.Point{X: out.AtVec(0) / w, Y: out.AtVec(1) / w}
}

// minDeterminant rejects homographies that collapse the plane.
const minDeterminant = 1e-9

// Degenerate reports whether h cannot be used to project points.
func Degenerate(h *mat.Dense) bool {
	if h == nil {
		return true
	}
	r, c := h.Dims()
	if r != 3 || c != 3 {
		return true
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := h.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return math.Abs(mat.Det(h)) < minDeterminant
}

// referenceCorners returns the image corners in the order
// top-left, bottom-left, bottom-right, top-right.
func referenceCorners(width, height int) []board.Point {
	w, h := float64(width-1), float64(height-1)
	return []board.Point{{X: 0, Y: 0}, {X: 0, Y: h}, {X: w, Y: h}, {X: w, Y: 0}}
}

// frameCorners projects the reference image corners and orders them
// clockwise starting at the projected top-left corner.
func frameCorners(h *mat.Dense, width, height int) []board.Point {
	src := referenceCorners(width, height)
	out := make([]board.Point, len(src))
	for i, p := range src {
		out[i] = project(h, p)
	}
	out[1], out[3] = out[3], out[1]
	if board.SignedArea(out) < 0 {
		// mirrored homography, keep the first corner and reverse the rest
		out[1], out[3] = out[3], out[1]
	}
	return out
}

// NewOrientation wraps a homography, validating it first. A degenerate
// homography yields a failed orientation.
func NewOrientation(h *mat.Dense, refWidth, refHeight int, now time.Time, validity time.Duration) *Orientation {
	o := &Orientation{CreatedAt: now, Validity: validity}
	if Degenerate(h) {
		return o
	}
	o.Homography = h
	o.Corners = frameCorners(h, refWidth, refHeight)
	return o
}
