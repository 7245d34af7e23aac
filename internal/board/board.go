package board

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gocv.io/x/gocv"
)

// Point is a 2D coordinate in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{p.X + q.X, p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{p.X - q.X, p.Y - q.Y} }

// Led describes a single LED on the reference board
type Led struct {
	ID       string   `json:"id"`
	Position Point    `json:"position"` // relative to the first corner
	Radius   float64  `json:"radius"`
	Colors   []string `json:"colors"`
}

// Board is the reference model the detector localises in camera frames
type Board struct {
	ID      string
	Author  string
	Image   gocv.Mat
	Corners []Point
	Leds    []Led
}

var (
	ErrCornerCount  = errors.New("board needs exactly 4 corners")
	ErrNoCorners    = errors.New("board corners are not set")
	ErrDuplicateLed = errors.New("duplicate led id")
)

// New creates an empty board owning the given reference image.
func New(id, author string, img gocv.Mat) *Board {
	return &Board{
		ID:     id,
		Author: author,
		Image:  img,
		Leds:   make([]Led, 0),
	}
}

// SetCorners stores the four corner points ordered clockwise, starting with
// the point closest to the image origin.
func (b *Board) SetCorners(points []Point) error {
	if len(points) != 4 {
		return fmt.Errorf("%w: got %d", ErrCornerCount, len(points))
	}
	b.Corners = SortClockwise(points)
	return nil
}

// AddLed appends an LED. Absolute positions are converted to positions
// relative to the first corner.
func (b *Board) AddLed(led Led, absolute bool) error {
	for _, l := range b.Leds {
		if l.ID == led.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateLed, led.ID)
		}
	}
	if absolute {
		if len(b.Corners) == 0 {
			return ErrNoCorners
		}
		led.Position = led.Position.Sub(b.Corners[0])
	}
	led.Colors = append([]string(nil), led.Colors...)
	b.Leds = append(b.Leds, led)
	return nil
}

// ImagePoint returns the LED center in reference image coordinates.
func (b *Board) ImagePoint(led Led) Point {
	if len(b.Corners) == 0 {
		return led.Position
	}
	return b.Corners[0].Add(led.Position)
}

// Led returns the LED with the given id.
func (b *Board) Led(id string) (Led, bool) {
	for _, l := range b.Leds {
		if l.ID == id {
			return l, true
		}
	}
	return Led{}, false
}

// Close releases the reference image.
func (b *Board) Close() error {
	return b.Image.Close()
}

// SortClockwise orders points clockwise around their centroid (image
// coordinates, y pointing down), starting with the point nearest the origin.
func SortClockwise(points []Point) []Point {
	out := append([]Point(nil), points...)
	if len(out) == 0 {
		return out
	}

	var cx, cy float64
	for _, p := range out {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(out))
	cy /= float64(len(out))

	// atan2 grows clockwise on screen because y points down
	angle := func(p Point) float64 { return math.Atan2(p.Y-cy, p.X-cx) }
	sort.SliceStable(out, func(i, j int) bool { return angle(out[i]) < angle(out[j]) })

	start := 0
	best := math.Inf(1)
	for i, p := range out {
		d := p.X*p.X + p.Y*p.Y
		if d < best {
			best = d
			start = i
		}
	}
	return append(out[start:], out[:start]...)
}

// SignedArea returns twice the signed polygon area. A positive value means
// clockwise winding in image coordinates.
func SignedArea(points []Point) float64 {
	var area float64
	for i := range points {
		j := (i + 1) % len(points)
		area += points[i].X*points[j].Y - points[j].X*points[i].Y
	}
	return area
}
