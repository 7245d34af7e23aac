package vision

import (
	"errors"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
)

func identity() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func translation(dx, dy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, dx, 0, 1, dy, 0, 0, 1})
}

func TestOrientationStaleness(t *testing.T) {
	t0 := time.Unix(1000, 0)
	o := NewOrientation(identity(), 100, 100, t0, 3*time.Second)

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"at creation", t0, false},
		{"just before", t0.Add(3*time.Second - time.Millisecond), false},
		{"at validity", t0.Add(3 * time.Second), true},
		{"after", t0.Add(10 * time.Second), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := o.IsOutdated(tt.at); got != tt.want {
				t.Errorf("Expected outdated=%v, got %v", tt.want, got)
			}
		})
	}
}

func TestOrientationCornersClockwise(t *testing.T) {
	o := NewOrientation(translation(10, 20), 101, 51, time.Now(), time.Second)
	if !o.Valid() {
		t.Fatal("Expected valid orientation")
	}
	want := []board.Point{{10, 20}, {110, 20}, {110, 70}, {10, 70}}
	for i := range want {
		if math.Abs(o.Corners[i].X-want[i].X) > 1e-9 || math.Abs(o.Corners[i].Y-want[i].Y) > 1e-9 {
			t.Fatalf("Expected corners %v, got %v", want, o.Corners)
		}
	}

	// a mirrored homography must still give clockwise corners
	mirror := mat.NewDense(3, 3, []float64{-1, 0, 200, 0, 1, 0, 0, 0, 1})
	m := NewOrientation(mirror, 101, 51, time.Now(), time.Second)
	if board.SignedArea(m.Corners) <= 0 {
		t.Errorf("Expected clockwise winding for mirrored board, got %v", m.Corners)
	}
}

func TestDegenerateHomography(t *testing.T) {
	tests := []struct {
		name string
		h    *mat.Dense
		want bool
	}{
		{"nil", nil, true},
		{"identity", identity(), false},
		{"collapsed", mat.NewDense(3, 3, []float64{1, 0, 0, 1, 0, 0, 0, 0, 1}), true},
		{"nan", mat.NewDense(3, 3, []float64{math.NaN(), 0, 0, 0, 1, 0, 0, 0, 1}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Degenerate(tt.h); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	o := NewOrientation(mat.NewDense(3, 3, nil), 10, 10, time.Now(), time.Second)
	if o.Valid() || o.Corners != nil {
		t.Error("Expected degenerate homography to give a failed orientation")
	}
}

func testBoard(leds ...board.Led) *board.Board {
	b := board.New("t", "", gocv.NewMat())
	b.SetCorners([]board.Point{{0, 0}, {99, 0}, {99, 79}, {0, 79}})
	for _, l := range leds {
		b.AddLed(l, false)
	}
	return b
}

func TestLedBoxes(t *testing.T) {
	b := testBoard(
		board.Led{ID: "a", Position: board.Point{20, 20}, Radius: 5},
		board.Led{ID: "b", Position: board.Point{60, 40}, Radius: 3},
	)
	defer b.Close()

	o := NewOrientation(translation(5, 5), 100, 80, time.Now(), time.Second)
	boxes, err := LedBoxes(b, o, image.Rect(0, 0, 120, 100))
	if err != nil {
		t.Fatalf("LedBoxes failed: %v", err)
	}
	if len(boxes) != len(b.Leds) {
		t.Fatalf("Expected %d boxes, got %d", len(b.Leds), len(boxes))
	}
	if boxes[0] != image.Rect(20, 20, 30, 30) {
		t.Errorf("Unexpected box for a: %v", boxes[0])
	}
	if boxes[1] != image.Rect(62, 42, 68, 48) {
		t.Errorf("Unexpected box for b: %v", boxes[1])
	}
}

func TestLedBoxesErrors(t *testing.T) {
	tests := []struct {
		name string
		led  board.Led
		o    *Orientation
	}{
		{"zero radius", board.Led{ID: "z", Position: board.Point{10, 10}}, NewOrientation(identity(), 100, 80, time.Now(), time.Second)},
		{"outside frame", board.Led{ID: "o", Position: board.Point{10, 10}, Radius: 4}, NewOrientation(translation(-50, 0), 100, 80, time.Now(), time.Second)},
		{"no homography", board.Led{ID: "n", Position: board.Point{10, 10}, Radius: 4}, &Orientation{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := testBoard(tt.led)
			defer b.Close()
			_, err := LedBoxes(b, tt.o, image.Rect(0, 0, 100, 80))
			var de *DetectionError
			if !errors.As(err, &de) {
				t.Errorf("Expected DetectionError, got %v", err)
			}
		})
	}
}

func TestExtractROIs(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(50, 50, 50, 0), 80, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()
	b := testBoard(
		board.Led{ID: "a", Position: board.Point{20, 20}, Radius: 5},
		board.Led{ID: "b", Position: board.Point{60, 40}, Radius: 3},
	)
	defer b.Close()

	rois, err := ExtractROIs(frame, b, NewOrientation(identity(), 100, 80, time.Now(), time.Second))
	if err != nil {
		t.Fatal(err)
	}
	defer rois.Close()
	if len(rois.Mats) != 2 {
		t.Fatalf("Expected 2 regions, got %d", len(rois.Mats))
	}
	if rois.Mats[0].Cols() != 10 || rois.Mats[1].Rows() != 6 {
		t.Errorf("Unexpected region sizes %dx%d, %dx%d",
			rois.Mats[0].Cols(), rois.Mats[0].Rows(), rois.Mats[1].Cols(), rois.Mats[1].Rows())
	}
}

func TestMeasurements(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), 40, 40, gocv.MatTypeCV8UC3)
	defer img.Close()
	gocv.Rectangle(&img, image.Rect(0, 0, 20, 40), colorText, -1)

	if got := GrayMean(img); got < 170 || got > 180 {
		t.Errorf("Expected mean around 177, got %d", got)
	}
	if got := Brightness(img); got < 170 || got > 180 {
		t.Errorf("Expected blurred mean around 177, got %d", got)
	}

	left := []image.Point{{0, 0}, {15, 0}, {15, 39}, {0, 39}}
	if got := MaskedBrightness(img, left); got != 255 {
		t.Errorf("Expected masked brightness 255, got %d", got)
	}
	if got := MaskedBrightness(img, nil); got != GrayMean(img) {
		t.Errorf("Expected fallback to whole image, got %d", got)
	}
}

func TestDominantHue(t *testing.T) {
	blue := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer blue.Close()
	hue, ok := DominantHue(blue)
	if !ok || hue < 100 || hue > 130 {
		t.Errorf("Expected blue hue near 120, got %d (ok=%v)", hue, ok)
	}

	grey := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(90, 90, 90, 0), 8, 8, gocv.MatTypeCV8UC3)
	defer grey.Close()
	if _, ok := DominantHue(grey); ok {
		t.Error("Expected unsaturated image to have no dominant hue")
	}

	hist := HueHistogram(blue)
	if len(hist) != 180 || hist[120] != 64 {
		t.Errorf("Expected all 64 pixels in bin 120, got %v", hist[120])
	}
}

func TestRatioTest(t *testing.T) {
	matches := [][]gocv.DMatch{
		{{QueryIdx: 0, Distance: 10}, {QueryIdx: 0, Distance: 100}},
		{{QueryIdx: 1, Distance: 90}, {QueryIdx: 1, Distance: 100}},
		{{QueryIdx: 2, Distance: 10}},
	}
	good := RatioTest(matches, 0.75)
	if len(good) != 1 || good[0].QueryIdx != 0 {
		t.Errorf("Expected only the first match, got %+v", good)
	}
}

func TestParseScreenRegion(t *testing.T) {
	tests := []struct {
		id       string
		isScreen bool
		wantErr  bool
		want     image.Rectangle
	}{
		{"0", false, false, image.Rectangle{}},
		{"screen:10,20,300,200", true, false, image.Rect(10, 20, 310, 220)},
		{"screen:10,20,300", true, true, image.Rectangle{}},
		{"screen:a,b,c,d", true, true, image.Rectangle{}},
		{"screen:0,0,0,10", true, true, image.Rectangle{}},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r, isScreen, err := ParseScreenRegion(tt.id)
			if isScreen != tt.isScreen || (err != nil) != tt.wantErr || r != tt.want {
				t.Errorf("Got (%v, %v, %v)", r, isScreen, err)
			}
		})
	}
}

// fakeGrabber serves frames of increasing gray level until count is reached.
type fakeGrabber struct {
	mu     sync.Mutex
	count  int
	served int
	gate   chan struct{}
	closed bool
}

func (g *fakeGrabber) Grab(dst *gocv.Mat) bool {
	if g.gate != nil {
		<-g.gate
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.served >= g.count {
		return false
	}
	g.served++
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(g.served), 0, 0, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer m.Close()
	m.CopyTo(dst)
	return true
}

func (g *fakeGrabber) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func TestFrameSourceKeepsLatest(t *testing.T) {
	g := &fakeGrabber{count: 5}
	s := NewFrameSource(g, nil)
	defer s.Close()

	<-s.Done()

	f := s.Read()
	if f == nil {
		t.Fatal("Expected a frame")
	}
	if v := f.GetUCharAt(0, 0); v != 5 {
		t.Errorf("Expected newest frame (5), got %d", v)
	}
	f.Close()

	if f := s.Read(); f != nil {
		t.Error("Expected nil after the capture loop ended")
	}
	stats := s.Stats()
	if stats.Captured != 5 || stats.Dropped != 4 || !stats.Ended {
		t.Errorf("Unexpected stats %+v", stats)
	}
}

func TestFrameSourceCloseUnblocksReader(t *testing.T) {
	g := &fakeGrabber{count: 1, gate: make(chan struct{})}
	s := NewFrameSource(g, nil)

	got := make(chan *gocv.Mat)
	go func() { got <- s.Read() }()

	time.Sleep(20 * time.Millisecond)
	close(g.gate)
	// the single frame may or may not be consumed before close
	first := <-got
	if first != nil {
		first.Close()
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if f := s.Read(); f != nil {
		t.Error("Expected nil after close")
	}
	if !g.closed {
		t.Error("Expected grabber to be closed")
	}
}

func TestFrameSourceCloseWakesReaderOnEmptyMailbox(t *testing.T) {
	g := &fakeGrabber{count: 1, gate: make(chan struct{})}
	s := NewFrameSource(g, nil)

	got := make(chan *gocv.Mat, 1)
	go func() { got <- s.Read() }()
	time.Sleep(20 * time.Millisecond)

	// the grabber stays blocked, so Close waits for the capture loop
	closed := make(chan error, 1)
	go func() { closed <- s.Close() }()

	select {
	case f := <-got:
		if f != nil {
			f.Close()
			t.Error("Expected nil from a reader woken by close")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked reader")
	}

	close(g.gate)
	select {
	case err := <-closed:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	if !g.closed {
		t.Error("Expected grabber to be closed")
	}
	if s.Stats().Read != 0 {
		t.Errorf("Expected no frame handed out, got %d", s.Stats().Read)
	}
}
