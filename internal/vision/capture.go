package vision

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/kbinani/screenshot"
	"gocv.io/x/gocv"
)

// Grabber produces raw frames for a FrameSource
type Grabber interface {
	// Grab reads the next frame into dst and reports success.
	Grab(dst *gocv.Mat) bool
	Close() error
}

// CameraGrabber reads from a gocv video capture (device, file or stream URL)
type CameraGrabber struct {
	video *gocv.VideoCapture
}

// OpenCamera opens a capture device. A numeric id selects a device index;
// anything else is passed to OpenCV as a file name or URL.
func OpenCamera(id string, width, height int) (*CameraGrabber, error) {
	var device interface{} = id
	if n, err := strconv.Atoi(id); err == nil {
		device = n
	}

	video, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("failed to open video capture %q: %w", id, err)
	}
	if !video.IsOpened() {
		video.Close()
		return nil, fmt.Errorf("video capture %q not opened", id)
	}
	if width > 0 && height > 0 {
		video.Set(gocv.VideoCaptureFrameWidth, float64(width))
		video.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &CameraGrabber{video: video}, nil
}

// Grab reads the next frame
func (c *CameraGrabber) Grab(dst *gocv.Mat) bool {
	if !c.video.Read(dst) {
		return false
	}
	return !dst.Empty()
}

// Close releases the capture
func (c *CameraGrabber) Close() error {
	return c.video.Close()
}

// ScreenGrabber captures a fixed screen region
type ScreenGrabber struct {
	region image.Rectangle
}

// NewScreenGrabber creates a grabber for the given region
func NewScreenGrabber(region image.Rectangle) *ScreenGrabber {
	return &ScreenGrabber{region: region}
}

// Grab captures the screen region as a BGR frame
func (s *ScreenGrabber) Grab(dst *gocv.Mat) bool {
	img, err := screenshot.CaptureRect(s.region)
	if err != nil {
		return false
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return false
	}
	defer mat.Close()
	mat.CopyTo(dst)
	return !dst.Empty()
}

// Close is a no-op
func (s *ScreenGrabber) Close() error { return nil }

const screenPrefix = "screen:"

// ParseScreenRegion parses "screen:x,y,w,h". ok is false when id does not
// name a screen region.
func ParseScreenRegion(id string) (image.Rectangle, bool, error) {
	if !strings.HasPrefix(id, screenPrefix) {
		return image.Rectangle{}, false, nil
	}
	parts := strings.Split(strings.TrimPrefix(id, screenPrefix), ",")
	if len(parts) != 4 {
		return image.Rectangle{}, true, fmt.Errorf("screen region needs x,y,w,h: %q", id)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, true, fmt.Errorf("screen region %q: %w", id, err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return image.Rectangle{}, true, fmt.Errorf("screen region %q has no area", id)
	}
	return image.Rect(vals[0], vals[1], vals[0]+vals[2], vals[1]+vals[3]), true, nil
}

// OpenGrabber picks a grabber for a source identifier
func OpenGrabber(id string, width, height int) (Grabber, error) {
	region, isScreen, err := ParseScreenRegion(id)
	if err != nil {
		return nil, err
	}
	if isScreen {
		if screenshot.NumActiveDisplays() == 0 {
			return nil, fmt.Errorf("no active display for %q", id)
		}
		return NewScreenGrabber(region), nil
	}
	return OpenCamera(id, width, height)
}

// VideoInfo holds metadata about a video file
type VideoInfo struct {
	FPS        float64
	FrameCount int
	Width      int
	Height     int
}

// GetVideoInfo extracts metadata from a video file
func GetVideoInfo(videoPath string) (*VideoInfo, error) {
	video, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return nil, err
	}
	defer video.Close()

	if !video.IsOpened() {
		return nil, fmt.Errorf("failed to open video")
	}

	return &VideoInfo{
		FPS:        video.Get(gocv.VideoCaptureFPS),
		FrameCount: int(video.Get(gocv.VideoCaptureFrameCount)),
		Width:      int(video.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(video.Get(gocv.VideoCaptureFrameHeight)),
	}, nil
}
