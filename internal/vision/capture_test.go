package vision

import (
	"path/filepath"
	"testing"
)

func TestOpenCameraMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.avi")
	if g, err := OpenCamera(path, 0, 0); err == nil {
		g.Close()
		t.Fatal("Expected error for missing video file")
	}
}

func TestOpenGrabberRejectsBadScreenRegion(t *testing.T) {
	tests := []string{
		"screen:",
		"screen:1,2,3",
		"screen:0,0,0,10",
		"screen:a,b,c,d",
	}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			if _, err := OpenGrabber(id, 0, 0); err == nil {
				t.Errorf("Expected error for %q", id)
			}
		})
	}
}

func TestGetVideoInfoMissingFile(t *testing.T) {
	if _, err := GetVideoInfo(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Error("Expected error for missing video file")
	}
}

func TestOpenSourceFailsWithoutDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.mp4")
	if s, err := OpenSource(path, 0, 0, nil); err == nil {
		s.Close()
		t.Fatal("Expected OpenSource to fail for a missing file")
	}
}
