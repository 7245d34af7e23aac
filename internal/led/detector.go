package led

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/vision"
)

// Detector holds the runtime state of one LED across frames.
//
// state is the classifier's latest definite verdict; reported is the last
// verdict handed to a change callback. Change notifications fire only when
// the two disagree, so a bootstrap guess confirmed later is not repeated.
type Detector struct {
	name       string
	colors     []string
	hysteresis *Hysteresis
	hue        *HueComparison

	state      State
	reported   State
	color      string
	lastChange time.Time

	bootstrapMargin int
}

// Options tunes a Detector
type Options struct {
	Deviation       int
	History         int
	BootstrapMargin int
}

func NewDetector(name string, colors []string, opts Options) *Detector {
	return &Detector{
		name:            name,
		colors:          append([]string(nil), colors...),
		hysteresis:      NewHysteresis(opts.Deviation, opts.History),
		hue:             NewHueComparison(colors),
		bootstrapMargin: opts.BootstrapMargin,
	}
}

func (d *Detector) Name() string          { return d.name }
func (d *Detector) State() State          { return d.state }
func (d *Detector) Reported() State       { return d.reported }
func (d *Detector) Color() string         { return d.color }
func (d *Detector) LastChange() time.Time { return d.lastChange }

// OnLevel returns the mean brightness of the LED while on, or -1 when it
// has not been seen on since the last invalidation.
func (d *Detector) OnLevel() int { return d.hysteresis.OnLevel() }

// DetectChange classifies the LED region and reports whether a new verdict
// should be published.
func (d *Detector) DetectChange(roi gocv.Mat, now time.Time) bool {
	return d.observe(vision.Brightness(roi), func() []float32 { return vision.HueHistogram(roi) }, now)
}

func (d *Detector) observe(brightness int, hist func() []float32, now time.Time) bool {
	verdict := d.hysteresis.Observe(brightness)

	if verdict == Unknown || verdict == d.state {
		if d.state == Unknown {
			d.hue.Update(hist(), Unknown)
		}
		return false
	}

	d.state = verdict
	d.lastChange = now
	color, ok := d.hue.Update(hist(), verdict)
	if verdict == On && ok {
		d.color = color
	}

	if verdict == d.reported {
		return false
	}
	d.reported = verdict
	return true
}

// Bootstrap guesses the state of an LED the classifier has not resolved
// yet: a region brighter than the ambient board brightness is assumed on.
// It returns true when that guess should be published.
func (d *Detector) Bootstrap(roi gocv.Mat, ambient int, now time.Time) bool {
	if d.state != Unknown || d.reported == On {
		return false
	}
	if vision.Brightness(roi) <= ambient+d.bootstrapMargin {
		return false
	}

	if hue, ok := vision.DominantHue(roi); ok {
		d.color = ColorForHue(hue, d.colors)
	} else if len(d.colors) > 0 {
		d.color = d.colors[0]
	}
	d.reported = On
	d.lastChange = now
	return true
}

// Invalidate drops the brightness history after an ambient light shift. The
// last reported verdict is kept.
func (d *Detector) Invalidate() {
	d.hysteresis.Invalidate()
	d.hue.Reset()
	d.state = Unknown
}
