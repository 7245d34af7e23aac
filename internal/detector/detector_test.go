package detector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/board"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/led"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/observer"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/publisher"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/statetable"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/synth"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/vision"
)

// sceneReader renders n frames of a synthetic scene; lit decides which
// LEDs are on in frame i.
type sceneReader struct {
	scene synth.Scene
	n     int
	i     int
	lit   func(i int) map[string]bool
}

func (r *sceneReader) Read() *gocv.Mat {
	if r.i >= r.n {
		return nil
	}
	var lit map[string]bool
	if r.lit != nil {
		lit = r.lit(r.i)
	}
	r.i++
	m := r.scene.Frame(lit)
	return &m
}

// blockingReader never has a frame; Read waits until Close.
type blockingReader struct {
	once   sync.Once
	closed chan struct{}
	reads  chan struct{}
}

func newBlockingReader() *blockingReader {
	return &blockingReader{closed: make(chan struct{}), reads: make(chan struct{}, 1)}
}

func (r *blockingReader) Read() *gocv.Mat {
	select {
	case r.reads <- struct{}{}:
	default:
	}
	<-r.closed
	return nil
}

func (r *blockingReader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

type fixedLocalizer struct {
	h     *mat.Dense
	size  [2]int
	calls int
}

func (l *fixedLocalizer) Compute(frame gocv.Mat, now time.Time) *vision.Orientation {
	l.calls++
	return vision.NewOrientation(l.h, l.size[0], l.size[1], now, 3*time.Second)
}

func translation(dx, dy float64) *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, dx, 0, 1, dy, 0, 0, 1})
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(100 * time.Millisecond)
	return c.t
}

func testOptions() Options {
	return Options{
		PollInterval: time.Millisecond,
		Observer: observer.Options{
			Deviation: 5,
			History:   30,
			Led:       led.Options{Deviation: 10, History: 20, BootstrapMargin: 20},
		},
	}
}

func newSceneBoard(t *testing.T, scene synth.Scene) *board.Board {
	t.Helper()
	b, err := scene.Board("synthetic", scene.Reference())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func drainChanges(q *publisher.Queue) []publisher.Change {
	q.Close()
	var out []publisher.Change
	for {
		m, ok := q.Pop()
		if !ok {
			return out
		}
		if m.Change != nil {
			out = append(out, *m.Change)
		}
		if m.Frame != nil {
			m.Frame.Close()
		}
	}
}

func TestSyntheticBoardEndToEnd(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)

	tracker, err := vision.NewTracker(b.Image, vision.TrackerOptions{}, nil)
	require.NoError(t, err)
	defer tracker.Close()

	reader := &sceneReader{
		scene: scene,
		n:     60,
		lit: func(i int) map[string]bool {
			return map[string]bool{"A": i >= 50}
		},
	}
	table := statetable.New()
	queue := publisher.NewQueue(0)
	d := New(b, reader, tracker, table, queue, testOptions(), nil)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d.clock = clock.now

	for i := 0; i < 60; i++ {
		require.True(t, d.Step(), "frame %d skipped", i)
	}

	changes := drainChanges(queue)
	require.Len(t, changes, 1)
	assert.Equal(t, "A", changes[0].LedID)
	assert.Equal(t, statetable.StateOn, changes[0].State)
	assert.Equal(t, "synthetic", changes[0].BoardID)
	assert.Equal(t, 0, changes[0].Index)
	// frame i is stamped 1000s + (i+1)*100ms by the fake clock
	assert.InDelta(t, 1005.1, changes[0].Time, 0.1001, "change must be reported at frame 50")

	last, ok := table.Last("A")
	require.True(t, ok)
	assert.Equal(t, statetable.StateOn, last.State)
	assert.Len(t, table.Series("A"), 1)
	assert.Empty(t, table.Series("B"))

	stats := d.Stats()
	assert.Equal(t, uint64(60), stats.Processed)
	assert.Equal(t, uint64(1), stats.Changes)
	assert.Equal(t, 0, d.Observer().Invalidations())
}

func TestTrackingFailureSkipsFrame(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: nil, size: [2]int{scene.Width, scene.Height}}
	queue := publisher.NewQueue(0)
	d := New(b, &sceneReader{scene: scene, n: 3}, loc, statetable.New(), queue, testOptions(), nil)

	for i := 0; i < 3; i++ {
		assert.False(t, d.Step())
	}
	assert.Equal(t, 3, loc.calls, "a failed orientation must not be reused")

	stats := d.Stats()
	assert.Equal(t, uint64(3), stats.TrackingFailures)
	assert.Equal(t, uint64(0), stats.Processed)
	assert.Zero(t, queue.Len())
}

func TestDetectionErrorDropsOrientation(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(1000, 0), size: [2]int{scene.Width, scene.Height}}
	d := New(b, &sceneReader{scene: scene, n: 2}, loc, statetable.New(), publisher.NewQueue(0), testOptions(), nil)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d.clock = clock.now

	assert.False(t, d.Step())
	assert.False(t, d.Step())
	assert.Equal(t, 2, loc.calls, "orientation must be recomputed after a detection error")
	assert.Equal(t, uint64(2), d.Stats().DetectionErrors)
}

func TestOrientationReusedUntilOutdated(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(0, 0), size: [2]int{scene.Width, scene.Height}}
	d := New(b, &sceneReader{scene: scene, n: 40}, loc, statetable.New(), publisher.NewQueue(0), testOptions(), nil)
	clock := &fakeClock{t: time.Unix(1000, 0)}
	d.clock = clock.now

	// 100ms per frame, 3s validity
	for i := 0; i < 40; i++ {
		require.True(t, d.Step())
	}
	assert.Equal(t, 2, loc.calls)
}

func TestNilFrameIsSkipped(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(0, 0), size: [2]int{scene.Width, scene.Height}}
	d := New(b, &sceneReader{scene: scene, n: 0}, loc, statetable.New(), publisher.NewQueue(0), testOptions(), nil)

	assert.False(t, d.Step())
	assert.Equal(t, 0, loc.calls)
	assert.Equal(t, uint64(1), d.Stats().Skipped)
}

func TestAnnotatedFramesAreQueued(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(0, 0), size: [2]int{scene.Width, scene.Height}}
	queue := publisher.NewQueue(0)
	opts := testOptions()
	opts.Annotate = true
	reader := &sceneReader{scene: scene, n: 4, lit: func(i int) map[string]bool {
		return map[string]bool{"B": i >= 2}
	}}
	d := New(b, reader, loc, statetable.New(), queue, opts, nil)

	for i := 0; i < 4; i++ {
		require.True(t, d.Step())
	}

	queue.Close()
	var frames, changes int
	for {
		m, ok := queue.Pop()
		if !ok {
			break
		}
		if m.Frame != nil {
			frames++
			assert.Equal(t, scene.Width, m.Frame.Cols())
			m.Frame.Close()
		}
		if m.Change != nil {
			changes++
			assert.Equal(t, "B", m.Change.LedID)
		}
	}
	assert.Equal(t, 4, frames)
	assert.Equal(t, 1, changes)
}

func TestRunStops(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(0, 0), size: [2]int{scene.Width, scene.Height}}
	d := New(b, &sceneReader{scene: scene, n: 1000}, loc, statetable.New(), publisher.NewQueue(0), testOptions(), nil)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	d.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Greater(t, d.Stats().Frames, uint64(0))
}

func TestStopUnblocksWaitingRead(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(0, 0), size: [2]int{scene.Width, scene.Height}}
	reader := newBlockingReader()
	d := New(b, reader, loc, statetable.New(), publisher.NewQueue(0), testOptions(), nil)

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	select {
	case <-reader.reads:
	case <-time.After(2 * time.Second):
		t.Fatal("Run never read a frame")
	}
	d.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not unblock the waiting read")
	}
	assert.Equal(t, uint64(1), d.Stats().Skipped)
	assert.Zero(t, loc.calls)
}

func TestRunHonoursContext(t *testing.T) {
	scene := synth.DefaultScene()
	b := newSceneBoard(t, scene)
	loc := &fixedLocalizer{h: translation(0, 0), size: [2]int{scene.Width, scene.Height}}
	d := New(b, &sceneReader{scene: scene, n: 1000}, loc, statetable.New(), publisher.NewQueue(0), testOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d.Run(ctx)
	assert.Greater(t, d.Stats().Frames, uint64(0))
}
