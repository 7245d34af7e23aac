package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/led"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/observer"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/publisher"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/statetable"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/vision"
)

// FrameReader hands out frames; the caller owns the returned Mat. nil
// means no frame is available. A reader that also implements io.Closer is
// closed by Stop so a blocked Read returns.
type FrameReader interface {
	Read() *gocv.Mat
}

// Localizer finds the board in a frame
type Localizer interface {
	Compute(frame gocv.Mat, now time.Time) *vision.Orientation
}

// Options configures the detection loop
type Options struct {
	PollInterval time.Duration
	Annotate     bool
	Observer     observer.Options
}

// Stats tracks detection loop performance
type Stats struct {
	Frames           uint64
	Processed        uint64
	Skipped          uint64
	TrackingFailures uint64
	DetectionErrors  uint64
	Changes          uint64
	FPS              float64
	LastProcessTime  time.Duration
}

// Detector ties the frame source, the board localisation, the LED observer
// and the state table together. Step and Run must not be called
// concurrently; the orientation and the observer belong to the loop.
type Detector struct {
	board    *board.Board
	source   FrameReader
	tracker  Localizer
	observer *observer.Observer
	table    *statetable.Table
	queue    *publisher.Queue
	opts     Options
	logger   *zap.Logger

	clock       func() time.Time
	orientation *vision.Orientation
	lastStep    time.Time

	stopped atomic.Bool

	mu    sync.Mutex
	stats Stats
}

// New creates a detector for b. table and queue are shared with the
// publisher side.
func New(b *board.Board, source FrameReader, tracker Localizer, table *statetable.Table, queue *publisher.Queue, opts Options, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}
	return &Detector{
		board:    b,
		source:   source,
		tracker:  tracker,
		observer: observer.New(b, opts.Observer, logger.Named("observer")),
		table:    table,
		queue:    queue,
		opts:     opts,
		logger:   logger,
		clock:    time.Now,
	}
}

// Observer exposes the per LED runtime state.
func (d *Detector) Observer() *observer.Observer { return d.observer }

// Step processes one frame. It returns false when the frame was skipped.
func (d *Detector) Step() bool {
	frame := d.source.Read()
	if frame == nil {
		d.count(func(s *Stats) { s.Skipped++ })
		return false
	}
	start := time.Now()
	now := d.clock()
	d.count(func(s *Stats) { s.Frames++ })

	if d.orientation == nil || d.orientation.IsOutdated(now) {
		o := d.tracker.Compute(*frame, now)
		if !o.Valid() {
			d.orientation = nil
			frame.Close()
			d.count(func(s *Stats) { s.TrackingFailures++; s.Skipped++ })
			d.logger.Debug("board not found, skipping frame")
			return false
		}
		d.orientation = o
	}

	ambient := vision.GrayMean(*frame)
	polygon := d.orientation.Polygon()
	boardBrightness := vision.MaskedBrightness(*frame, polygon)

	rois, err := vision.ExtractROIs(*frame, d.board, d.orientation)
	if err != nil {
		var detErr *vision.DetectionError
		if errors.As(err, &detErr) {
			d.count(func(s *Stats) { s.DetectionErrors++; s.Skipped++ })
			d.logger.Warn("dropping orientation", zap.Error(err))
		} else {
			d.logger.Error("failed to extract led regions", zap.Error(err))
		}
		d.orientation = nil
		frame.Close()
		return false
	}

	var changes uint64
	d.observer.Check(boardBrightness, ambient, rois.Mats, now, func(index int, name string, isOn bool, color string, ts time.Time) {
		changes++
		d.publishChange(index, name, isOn, color, ts)
	})

	var marks []vision.Mark
	if d.opts.Annotate {
		marks = d.marks(rois)
	}
	rois.Close()

	elapsed := time.Since(start)
	fps := d.updateRate(now)
	d.count(func(s *Stats) {
		s.Processed++
		s.Changes += changes
		s.LastProcessTime = elapsed
	})

	if !d.opts.Annotate {
		frame.Close()
		return true
	}
	vision.Annotate(frame, polygon, marks, fps)
	d.queue.Push(publisher.Message{Frame: frame})
	return true
}

func (d *Detector) publishChange(index int, name string, isOn bool, color string, ts time.Time) {
	state := statetable.StateOff
	if isOn {
		state = statetable.StateOn
	}
	secs := float64(ts.UnixNano()) / float64(time.Second)
	e := d.table.Insert(name, state, color, secs)

	d.logger.Info("led changed",
		zap.String("led", name),
		zap.String("state", state),
		zap.String("color", color),
		zap.Int("on_level", d.observer.Leds()[index].OnLevel()))

	d.queue.Push(publisher.Message{Change: &publisher.Change{
		BoardID:   d.board.ID,
		LedID:     name,
		Index:     index,
		State:     e.State,
		Color:     e.Color,
		Frequency: e.Frequency,
		Time:      e.Time,
	}})
}

func (d *Detector) marks(rois *vision.ROIs) []vision.Mark {
	marks := make([]vision.Mark, len(rois.Boxes))
	leds := d.observer.Leds()
	for i, box := range rois.Boxes {
		id := d.board.Leds[i].ID
		label := id
		if e, ok := d.table.Last(id); ok {
			label = fmt.Sprintf("%s %s", id, e.State)
			if e.Color != "" {
				label += " " + e.Color
			}
		}
		marks[i] = vision.Mark{Box: box, Label: label, Lit: leds[i].Reported() == led.On}
	}
	return marks
}

func (d *Detector) updateRate(now time.Time) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.lastStep.IsZero() {
		if dt := now.Sub(d.lastStep).Seconds(); dt > 0 {
			inst := 1 / dt
			if d.stats.FPS == 0 {
				d.stats.FPS = inst
			} else {
				d.stats.FPS = 0.9*d.stats.FPS + 0.1*inst
			}
		}
	}
	d.lastStep = now
	return d.stats.FPS
}

func (d *Detector) count(fn func(s *Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// Run steps once per poll interval until Stop is called or ctx is done.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	d.logger.Info("detection loop started",
		zap.String("board", d.board.ID),
		zap.Int("leds", len(d.board.Leds)),
		zap.Duration("interval", d.opts.PollInterval))

	for {
		if d.stopped.Load() || ctx.Err() != nil {
			d.logger.Info("detection loop stopped")
			return
		}
		d.Step()

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Stop asks the loop to exit before its next iteration and closes the
// frame source, which wakes a Step waiting for a frame.
func (d *Detector) Stop() {
	if d.stopped.Swap(true) {
		return
	}
	if c, ok := d.source.(io.Closer); ok {
		if err := c.Close(); err != nil {
			d.logger.Warn("failed to close frame source", zap.Error(err))
		}
	}
}

// Stats returns detection loop counters
func (d *Detector) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
