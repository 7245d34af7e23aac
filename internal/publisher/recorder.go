package publisher

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Recorder writes annotated frames to a video file. The writer is opened
// with the size of the first frame.
type Recorder struct {
	path   string
	codec  string
	fps    float64
	logger *zap.Logger

	mu     sync.Mutex
	writer *gocv.VideoWriter
	frames int
}

func NewRecorder(path, codec string, fps float64, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if codec == "" {
		codec = "MJPG"
	}
	return &Recorder{path: path, codec: codec, fps: fps, logger: logger}
}

func (r *Recorder) PublishFrame(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		w, err := gocv.VideoWriterFile(r.path, r.codec, r.fps, frame.Cols(), frame.Rows(), true)
		if err != nil {
			return fmt.Errorf("failed to open video writer %s: %w", r.path, err)
		}
		if !w.IsOpened() {
			w.Close()
			return fmt.Errorf("video writer %s not opened", r.path)
		}
		r.writer = w
		r.logger.Info("recording started",
			zap.String("path", r.path),
			zap.Int("width", frame.Cols()),
			zap.Int("height", frame.Rows()))
	}

	if err := r.writer.Write(frame); err != nil {
		return err
	}
	r.frames++
	return nil
}

// Frames returns the number of frames written
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	r.logger.Info("recording stopped", zap.String("path", r.path), zap.Int("frames", r.frames))
	return err
}
