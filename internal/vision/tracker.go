package vision

import (
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Tracker defaults
const (
	DefaultRatio           = 0.75
	DefaultReprojThreshold = 5.0
	DefaultMinMatches      = 10
	DefaultValidity        = 3 * time.Second

	ransacMaxIters   = 2000
	ransacConfidence = 0.995
)

// TrackerOptions tunes feature matching
type TrackerOptions struct {
	Ratio           float64
	ReprojThreshold float64
	MinMatches      int
	Validity        time.Duration
}

func (o *TrackerOptions) withDefaults() TrackerOptions {
	out := *o
	if out.Ratio <= 0 {
		out.Ratio = DefaultRatio
	}
	if out.ReprojThreshold <= 0 {
		out.ReprojThreshold = DefaultReprojThreshold
	}
	if out.MinMatches <= 0 {
		out.MinMatches = DefaultMinMatches
	}
	if out.Validity <= 0 {
		out.Validity = DefaultValidity
	}
	return out
}

// Tracker localises a reference image in camera frames with SIFT features
// and a RANSAC homography. Reference features are computed once.
type Tracker struct {
	opts    TrackerOptions
	logger  *zap.Logger
	sift    gocv.SIFT
	matcher gocv.BFMatcher

	refSize        image.Point
	refKeypoints   []gocv.KeyPoint
	refDescriptors gocv.Mat
}

// NewTracker extracts the reference features.
func NewTracker(reference gocv.Mat, opts TrackerOptions, logger *zap.Logger) (*Tracker, error) {
	if reference.Empty() {
		return nil, errors.New("reference image is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	t := &Tracker{
		opts:    opts.withDefaults(),
		logger:  logger,
		sift:    gocv.NewSIFT(),
		matcher: gocv.NewBFMatcher(),
		refSize: image.Pt(reference.Cols(), reference.Rows()),
	}

	gray := toGray(reference)
	defer gray.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	t.refKeypoints, t.refDescriptors = t.sift.DetectAndCompute(gray, mask)
	if len(t.refKeypoints) < t.opts.MinMatches {
		n := len(t.refKeypoints)
		t.Close()
		return nil, fmt.Errorf("reference image has too few features: %d", n)
	}
	logger.Debug("reference features extracted", zap.Int("keypoints", len(t.refKeypoints)))
	return t, nil
}

// Compute localises the reference in frame. It never fails; an orientation
// without homography is returned when localisation is not possible.
func (t *Tracker) Compute(frame gocv.Mat, now time.Time) *Orientation {
	failed := &Orientation{CreatedAt: now, Validity: t.opts.Validity}
	if frame.Empty() {
		return failed
	}

	gray := toGray(frame)
	defer gray.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	keypoints, descriptors := t.sift.DetectAndCompute(gray, mask)
	defer descriptors.Close()
	if len(keypoints) < 2 || descriptors.Empty() {
		t.logger.Debug("no features in frame")
		return failed
	}

	matches := t.matcher.KnnMatch(descriptors, t.refDescriptors, 2)
	good := RatioTest(matches, t.opts.Ratio)
	if len(good) < t.opts.MinMatches {
		t.logger.Debug("too few matches",
			zap.Int("matches", len(good)),
			zap.Int("required", t.opts.MinMatches))
		return failed
	}

	src := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer src.Close()
	dst := gocv.NewMatWithSize(len(good), 1, gocv.MatTypeCV64FC2)
	defer dst.Close()
	for i, m := range good {
		ref := t.refKeypoints[m.TrainIdx]
		cur := keypoints[m.QueryIdx]
		src.SetDoubleAt(i, 0, ref.X)
		src.SetDoubleAt(i, 1, ref.Y)
		dst.SetDoubleAt(i, 0, cur.X)
		dst.SetDoubleAt(i, 1, cur.Y)
	}

	inliers := gocv.NewMat()
	defer inliers.Close()
	h := gocv.FindHomography(src, &dst, gocv.HomograpyMethodRANSAC, t.opts.ReprojThreshold, &inliers, ransacMaxIters, ransacConfidence)
	defer h.Close()
	if h.Empty() || h.Rows() != 3 || h.Cols() != 3 {
		t.logger.Debug("homography estimation failed", zap.Int("matches", len(good)))
		return failed
	}

	dense := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dense.Set(i, j, h.GetDoubleAt(i, j))
		}
	}

	o := NewOrientation(dense, t.refSize.X, t.refSize.Y, now, t.opts.Validity)
	if !o.Valid() {
		t.logger.Debug("degenerate homography")
	}
	return o
}

// RatioTest keeps the matches whose best distance is clearly smaller than
// the second best.
func RatioTest(matches [][]gocv.DMatch, ratio float64) []gocv.DMatch {
	good := make([]gocv.DMatch, 0, len(matches))
	for _, m := range matches {
		if len(m) < 2 {
			continue
		}
		if m[0].Distance < ratio*m[1].Distance {
			good = append(good, m[0])
		}
	}
	return good
}

// ReferenceSize returns the reference image size.
func (t *Tracker) ReferenceSize() image.Point { return t.refSize }

// Close releases the OpenCV objects.
func (t *Tracker) Close() error {
	t.refDescriptors.Close()
	t.matcher.Close()
	return t.sift.Close()
}
