package observer

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/led"
)

// ChangeFunc is called for every published LED verdict.
type ChangeFunc func(index int, name string, isOn bool, color string, ts time.Time)

// Defaults for the board brightness window
const (
	DefaultDeviation = 5
	DefaultHistory   = 30
)

// Options tunes an Observer
type Options struct {
	Deviation int
	History   int
	Led       led.Options
}

// Observer watches the whole board brightness and the per LED detectors.
// A sudden board brightness shift (lamp switched, camera auto exposure)
// invalidates every LED so they bootstrap again.
type Observer struct {
	leds      []*led.Detector
	history   *led.Ring
	deviation int
	logger    *zap.Logger

	invalidations int
}

// New creates detectors for every LED of b.
func New(b *board.Board, opts Options, logger *zap.Logger) *Observer {
	if opts.History <= 0 {
		opts.History = DefaultHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	leds := make([]*led.Detector, len(b.Leds))
	for i, l := range b.Leds {
		leds[i] = led.NewDetector(l.ID, l.Colors, opts.Led)
	}
	return &Observer{
		leds:      leds,
		history:   led.NewRing(opts.History),
		deviation: opts.Deviation,
		logger:    logger,
	}
}

// Leds returns the per LED detectors, index aligned with the board.
func (o *Observer) Leds() []*led.Detector { return o.leds }

// Invalidations returns how often an ambient shift reset the LEDs.
func (o *Observer) Invalidations() int { return o.invalidations }

// Invalidate resets every LED detector.
func (o *Observer) Invalidate() {
	for _, d := range o.leds {
		d.Invalidate()
	}
	o.invalidations++
}

// Check runs one frame. boardBrightness feeds the ambient shift window;
// ambient is the reference for bootstrap guesses. rois must be index aligned
// with the board LEDs.
func (o *Observer) Check(boardBrightness, ambient int, rois []gocv.Mat, now time.Time, onChange ChangeFunc) {
	if len(rois) != len(o.leds) {
		panic(fmt.Sprintf("observer: got %d regions for %d leds", len(rois), len(o.leds)))
	}

	if o.history.Len() > 0 {
		avg := int(o.history.Mean())
		if int(math.Abs(float64(boardBrightness-avg))) > o.deviation {
			o.logger.Info("board brightness shifted, invalidating leds",
				zap.Int("brightness", boardBrightness),
				zap.Int("average", avg))
			o.Invalidate()
			// restart the window at the new level
			o.history.Clear()
		}
	}
	o.history.Push(float64(boardBrightness))

	for i, d := range o.leds {
		if d.DetectChange(rois[i], now) {
			onChange(i, d.Name(), d.Reported() == led.On, d.Color(), d.LastChange())
			continue
		}
		if d.State() == led.Unknown && d.Bootstrap(rois[i], ambient, now) {
			onChange(i, d.Name(), true, d.Color(), d.LastChange())
		}
	}
}
