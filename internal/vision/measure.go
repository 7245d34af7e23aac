package vision

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// toGray converts a BGR, BGRA or gray image into a new gray Mat.
func toGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}
	return gray
}

func toHSV(src gocv.Mat) gocv.Mat {
	bgr := src
	if src.Channels() == 4 {
		bgr = gocv.NewMat()
		defer bgr.Close()
		gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)
	}
	hsv := gocv.NewMat()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)
	return hsv
}

// Brightness returns the mean gray level of img after a 3x3 gaussian blur,
// truncated to an integer.
func Brightness(img gocv.Mat) int {
	if img.Empty() {
		return 0
	}
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(img, &blurred, image.Pt(3, 3), 0, 0, gocv.BorderDefault)

	gray := toGray(blurred)
	defer gray.Close()
	return int(gray.Mean().Val1)
}

// GrayMean returns the mean gray level of img.
func GrayMean(img gocv.Mat) int {
	if img.Empty() {
		return 0
	}
	gray := toGray(img)
	defer gray.Close()
	return int(gray.Mean().Val1)
}

// MaskedBrightness returns the mean gray level inside polygon. A polygon with
// fewer than 3 points falls back to the whole image.
func MaskedBrightness(img gocv.Mat, polygon []image.Point) int {
	if len(polygon) < 3 {
		return GrayMean(img)
	}
	if img.Empty() {
		return 0
	}
	gray := toGray(img)
	defer gray.Close()

	mask := gocv.NewMatWithSize(gray.Rows(), gray.Cols(), gocv.MatTypeCV8U)
	defer mask.Close()
	mask.SetTo(gocv.NewScalar(0, 0, 0, 0))

	pv := gocv.NewPointsVectorFromPoints([][]image.Point{polygon})
	defer pv.Close()
	gocv.FillPoly(&mask, pv, color.RGBA{255, 255, 255, 255})

	if gocv.CountNonZero(mask) == 0 {
		return GrayMean(img)
	}
	return int(gray.MeanWithMask(mask).Val1)
}

func histogram(src gocv.Mat, mask gocv.Mat, bins int) []float32 {
	hist := gocv.NewMat()
	defer hist.Close()
	gocv.CalcHist([]gocv.Mat{src}, []int{0}, mask, &hist, []int{bins}, []float64{0, 180}, false)

	out := make([]float32, bins)
	for i := 0; i < bins && i < hist.Rows(); i++ {
		out[i] = hist.GetFloatAt(i, 0)
	}
	return out
}

// HueHistogram returns the 180 bin hue histogram of a BGR image.
func HueHistogram(img gocv.Mat) []float32 {
	if img.Empty() {
		return make([]float32, 180)
	}
	hsv := toHSV(img)
	defer hsv.Close()
	empty := gocv.NewMat()
	defer empty.Close()
	return histogram(hsv, empty, 180)
}

// Saturation and value floors for pixels taking part in DominantHue.
const (
	MinSaturation = 60
	MinValue      = 32
	dominantBins  = 16
)

// DominantHue returns the hue (0..179) of the most populated of 16 hue bins,
// counting only saturated and reasonably bright pixels. ok is false when no
// pixel qualifies.
func DominantHue(img gocv.Mat) (hue int, ok bool) {
	if img.Empty() {
		return 0, false
	}
	hsv := toHSV(img)
	defer hsv.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(0, MinSaturation, MinValue, 0),
		gocv.NewScalar(180, 256, 256, 0),
		&mask)
	if gocv.CountNonZero(mask) == 0 {
		return 0, false
	}

	hist := histogram(hsv, mask, dominantBins)
	best := 0
	for i, v := range hist {
		if v > hist[best] {
			best = i
		}
	}
	return 180 * best / dominantBins, true
}
