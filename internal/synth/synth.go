// Package synth renders synthetic LED boards: a textured reference image
// with dark LED sites and camera frames in which chosen LEDs are lit.
package synth

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"

	"gocv.io/x/gocv"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
)

// Off and on gray levels of an LED site
const (
	SiteLevel = 20
	OnLevel   = 250
)

// Led is one LED drawn on the scene
type Led struct {
	ID     string
	Center image.Point
	Radius int
	// Color is the BGR-independent color of the lit LED. Zero means white.
	Color  color.RGBA
	Colors []string
}

// Scene describes a synthetic board
type Scene struct {
	Width   int
	Height  int
	Seed    int64
	Patches int
	Leds    []Led
}

// DefaultScene is a 320x240 board with two LEDs, a green "A" and a red "B".
func DefaultScene() Scene {
	return Scene{
		Width:   320,
		Height:  240,
		Seed:    7,
		Patches: 60,
		Leds: []Led{
			{ID: "A", Center: image.Pt(90, 120), Radius: 8, Color: color.RGBA{40, 250, 40, 255}, Colors: []string{"green"}},
			{ID: "B", Center: image.Pt(230, 120), Radius: 8, Color: color.RGBA{250, 40, 40, 255}, Colors: []string{"red"}},
		},
	}
}

// Reference renders the scene with every LED off.
func (s Scene) Reference() gocv.Mat {
	return s.Frame(nil)
}

// Frame renders the scene with the LEDs in lit switched on.
func (s Scene) Frame(lit map[string]bool) gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(128, 128, 128, 0), s.Height, s.Width, gocv.MatTypeCV8UC3)

	// same seed, same texture in every frame
	rng := rand.New(rand.NewSource(s.Seed))
	for i := 0; i < s.Patches; i++ {
		w := 8 + rng.Intn(s.Width/6)
		h := 8 + rng.Intn(s.Height/6)
		x := rng.Intn(s.Width - w)
		y := rng.Intn(s.Height - h)
		level := uint8(60 + rng.Intn(170))
		c := color.RGBA{level, uint8(255 - int(level)/2), uint8(int(level) / 2), 255}
		if rng.Intn(2) == 0 {
			gocv.Rectangle(&img, image.Rect(x, y, x+w, y+h), c, -1)
		} else {
			gocv.Circle(&img, image.Pt(x+w/2, y+h/2), min(w, h)/2, c, -1)
		}
	}

	site := color.RGBA{SiteLevel, SiteLevel, SiteLevel, 255}
	for _, l := range s.Leds {
		pad := l.Radius + 4
		gocv.Rectangle(&img, image.Rect(l.Center.X-pad, l.Center.Y-pad, l.Center.X+pad, l.Center.Y+pad), site, -1)
		c := site
		if lit[l.ID] {
			c = l.Color
			if c == (color.RGBA{}) {
				c = color.RGBA{OnLevel, OnLevel, OnLevel, 255}
			}
		}
		gocv.Circle(&img, l.Center, l.Radius, c, -1)
	}
	return img
}

func (s Scene) corners() [][]float64 {
	w, h := float64(s.Width-1), float64(s.Height-1)
	return [][]float64{{0, 0}, {w, 0}, {w, h}, {0, h}}
}

// Board builds a board model from the scene. The board owns img.
func (s Scene) Board(id string, img gocv.Mat) (*board.Board, error) {
	b := board.New(id, "synth", img)
	points := make([]board.Point, 0, 4)
	for _, c := range s.corners() {
		points = append(points, board.Point{X: c[0], Y: c[1]})
	}
	if err := b.SetCorners(points); err != nil {
		return nil, err
	}
	for _, l := range s.Leds {
		led := board.Led{
			ID:       l.ID,
			Position: board.Point{X: float64(l.Center.X), Y: float64(l.Center.Y)},
			Radius:   float64(l.Radius),
			Colors:   l.Colors,
		}
		if err := b.AddLed(led, true); err != nil {
			return nil, fmt.Errorf("led %s: %w", l.ID, err)
		}
	}
	return b, nil
}

// Record returns the board description referencing imagePath.
func (s Scene) Record(id, author, imagePath string) *board.Record {
	rec := &board.Record{
		ID:        id,
		Author:    author,
		Corners:   s.corners(),
		ImagePath: imagePath,
	}
	for _, l := range s.Leds {
		rec.Leds = append(rec.Leds, board.LedRecord{
			ID:       l.ID,
			Position: []float64{float64(l.Center.X), float64(l.Center.Y)},
			Radius:   float64(l.Radius),
			Colors:   append([]string(nil), l.Colors...),
		})
	}
	return rec
}
