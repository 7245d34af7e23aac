package vision

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FrameSource runs a capture goroutine that keeps only the newest frame in a
// single slot mailbox. Readers always get the most recent frame; frames that
// were never read are dropped.
type FrameSource struct {
	grabber Grabber
	logger  *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	frame  *gocv.Mat
	closed bool
	ended  bool

	done     chan struct{}
	stopOnce sync.Once

	captured atomic.Uint64
	dropped  atomic.Uint64
	read     atomic.Uint64
	lastAt   atomic.Int64
}

// FrameSourceStats holds capture counters
type FrameSourceStats struct {
	Captured    uint64
	Dropped     uint64
	Read        uint64
	LastCapture time.Time
	Ended       bool
}

// OpenSource opens the grabber named by id and starts capturing. Failing to
// open the device is returned as an error.
func OpenSource(id string, width, height int, logger *zap.Logger) (*FrameSource, error) {
	g, err := OpenGrabber(id, width, height)
	if err != nil {
		return nil, err
	}
	return NewFrameSource(g, logger), nil
}

// NewFrameSource starts capturing from g.
func NewFrameSource(g Grabber, logger *zap.Logger) *FrameSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &FrameSource{
		grabber: g,
		logger:  logger,
		done:    make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.captureLoop()
	return s
}

func (s *FrameSource) captureLoop() {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.ended = true
		s.mu.Unlock()
		s.cond.Broadcast()
	}()

	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		mat := gocv.NewMat()
		if !s.grabber.Grab(&mat) {
			mat.Close()
			s.logger.Info("capture stopped, no more frames")
			return
		}
		s.captured.Add(1)
		s.lastAt.Store(time.Now().UnixNano())
		s.put(&mat)
	}
}

func (s *FrameSource) put(mat *gocv.Mat) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		mat.Close()
		return
	}
	if s.frame != nil {
		s.frame.Close()
		s.dropped.Add(1)
	}
	s.frame = mat
	s.cond.Signal()
}

// Read blocks until a frame is available and hands ownership of it to the
// caller. It returns nil once the source is closed or the capture loop has
// ended with nothing left to read.
func (s *FrameSource) Read() *gocv.Mat {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.frame == nil && !s.closed && !s.ended {
		s.cond.Wait()
	}
	if s.closed || s.frame == nil {
		return nil
	}
	f := s.frame
	s.frame = nil
	s.read.Add(1)
	return f
}

// Done is closed when the capture goroutine has exited.
func (s *FrameSource) Done() <-chan struct{} {
	return s.done
}

// Close stops capturing, wakes blocked readers and releases the device.
func (s *FrameSource) Close() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		if s.frame != nil {
			s.frame.Close()
			s.frame = nil
		}
		s.mu.Unlock()
		s.cond.Broadcast()

		// the grabber may be blocked in a driver read; wait for the loop
		// before releasing it
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			s.logger.Warn("capture loop did not stop in time")
		}
		err = s.grabber.Close()
	})
	return err
}

// Stats returns capture counters
func (s *FrameSource) Stats() FrameSourceStats {
	s.mu.Lock()
	ended := s.ended
	s.mu.Unlock()

	stats := FrameSourceStats{
		Captured: s.captured.Load(),
		Dropped:  s.dropped.Load(),
		Read:     s.read.Load(),
		Ended:    ended,
	}
	if ns := s.lastAt.Load(); ns > 0 {
		stats.LastCapture = time.Unix(0, ns)
	}
	return stats
}
