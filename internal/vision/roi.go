package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
)

// DetectionError reports that the current orientation does not place every
// LED inside the frame. The orientation should be discarded.
type DetectionError struct {
	Led    string
	Box    image.Rectangle
	Reason string
}

func (e *DetectionError) Error() string {
	if e.Led == "" {
		return "detection error: " + e.Reason
	}
	return fmt.Sprintf("detection error: led %s %s (box %v)", e.Led, e.Reason, e.Box)
}

// LedBoxes projects every LED of b into the frame and returns its square
// bounding box, index aligned with b.Leds. The radius in the frame is the
// larger axis distance between the projected center and the projected point
// center+(r, r).
func LedBoxes(b *board.Board, o *Orientation, bounds image.Rectangle) ([]image.Rectangle, error) {
	if !o.Valid() {
		return nil, &DetectionError{Reason: "orientation has no homography"}
	}

	boxes := make([]image.Rectangle, len(b.Leds))
	for i, led := range b.Leds {
		center := b.ImagePoint(led)
		edge := center.Add(board.Point{X: led.Radius, Y: led.Radius})

		pc := o.Project(center)
		pe := o.Project(edge)
		if !finite(pc) || !finite(pe) {
			return nil, &DetectionError{Led: led.ID, Reason: "projects to infinity"}
		}

		r := int(math.Round(math.Max(math.Abs(pe.X-pc.X), math.Abs(pe.Y-pc.Y))))
		cx := int(math.Round(pc.X))
		cy := int(math.Round(pc.Y))
		box := image.Rect(cx-r, cy-r, cx+r, cy+r)

		if r <= 0 || box.Empty() {
			return nil, &DetectionError{Led: led.ID, Box: box, Reason: "has an empty region"}
		}
		if !box.In(bounds) {
			return nil, &DetectionError{Led: led.ID, Box: box, Reason: "is outside the frame"}
		}
		boxes[i] = box
	}
	return boxes, nil
}

func finite(p board.Point) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// ROIs holds the cropped LED regions of one frame. The regions share memory
// with the frame and must be closed before it.
type ROIs struct {
	Mats  []gocv.Mat
	Boxes []image.Rectangle
}

// Close releases every region.
func (r *ROIs) Close() {
	for i := range r.Mats {
		r.Mats[i].Close()
	}
	r.Mats = nil
}

// ExtractROIs crops one region per LED from frame.
func ExtractROIs(frame gocv.Mat, b *board.Board, o *Orientation) (*ROIs, error) {
	bounds := image.Rect(0, 0, frame.Cols(), frame.Rows())
	boxes, err := LedBoxes(b, o, bounds)
	if err != nil {
		return nil, err
	}

	rois := &ROIs{Mats: make([]gocv.Mat, len(boxes)), Boxes: boxes}
	for i, box := range boxes {
		rois.Mats[i] = frame.Region(box)
	}
	return rois, nil
}
