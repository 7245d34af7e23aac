package led

import "strings"

// HueBins is the number of hue values OpenCV uses for 8-bit images.
const HueBins = 180

// HueRange is a half open hue interval [Low, High). Low may be negative for
// ranges that wrap around 0.
type HueRange struct {
	Low, High int
}

// Contains reports whether hue (0..179) lies inside the range.
func (r HueRange) Contains(hue int) bool {
	hue = wrapHue(hue)
	for _, h := range []int{hue, hue - HueBins} {
		if h >= r.Low && h < r.High {
			return true
		}
	}
	return false
}

// Center returns the middle hue, wrapped into 0..179.
func (r HueRange) Center() int {
	return wrapHue((r.Low + r.High) / 2)
}

// colorOrder fixes iteration order so ties resolve deterministically.
var colorOrder = []string{"red", "yellow", "green", "blue", "cyan", "purple"}

// ColorRanges maps known LED colors to their hue interval.
var ColorRanges = map[string]HueRange{
	"red":    {-15, 15},
	"yellow": {15, 45},
	"green":  {45, 75},
	"blue":   {75, 105},
	"cyan":   {105, 135},
	"purple": {135, 165},
}

func wrapHue(h int) int {
	h %= HueBins
	if h < 0 {
		h += HueBins
	}
	return h
}

func hueDistance(a, b int) int {
	d := wrapHue(a - b)
	if d > HueBins/2 {
		d = HueBins - d
	}
	return d
}

// candidates returns the allowed colors that have a hue range, in table
// order. An empty allow list means every known color.
func candidates(allowed []string) []string {
	if len(allowed) == 0 {
		return colorOrder
	}
	var out []string
	for _, name := range colorOrder {
		for _, a := range allowed {
			if strings.EqualFold(a, name) {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// ColorForHue returns the allowed color whose range contains hue, or the
// allowed color with the nearest center. Returns "" when nothing is allowed.
func ColorForHue(hue int, allowed []string) string {
	names := candidates(allowed)
	if len(names) == 0 {
		return ""
	}
	for _, name := range names {
		if ColorRanges[name].Contains(hue) {
			return name
		}
	}
	best, bestDist := "", HueBins
	for _, name := range names {
		if d := hueDistance(hue, ColorRanges[name].Center()); d < bestDist {
			best, bestDist = name, d
		}
	}
	return best
}

// ScoreColors sums delta over each allowed color's hue range and returns the
// color with the highest score.
func ScoreColors(delta []float32, allowed []string) string {
	names := candidates(allowed)
	if len(names) == 0 || len(delta) == 0 {
		return ""
	}

	best := ""
	var bestScore float64
	for _, name := range names {
		r := ColorRanges[name]
		var score float64
		for h := r.Low; h < r.High; h++ {
			idx := wrapHue(h)
			if idx < len(delta) {
				score += float64(delta[idx])
			}
		}
		if best == "" || score > bestScore {
			best, bestScore = name, score
		}
	}
	return best
}
