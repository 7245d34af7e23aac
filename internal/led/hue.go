package led

// HueComparison tracks the hue histogram of an LED while off and while on.
// The color of a lit LED is the allowed color whose hue range gained the
// most weight compared to the off histogram.
type HueComparison struct {
	allowed []string
	on      []float32
	off     []float32
}

func NewHueComparison(allowed []string) *HueComparison {
	return &HueComparison{allowed: append([]string(nil), allowed...)}
}

// Update feeds the histogram of the LED region observed in the given state.
// It returns the detected color when state is On and an off reference exists.
func (c *HueComparison) Update(hist []float32, state State) (string, bool) {
	switch state {
	case Unknown:
		c.on = hist
		c.off = hist
	case Off:
		c.off = hist
	case On:
		c.on = hist
		if len(c.allowed) == 0 {
			return "", true
		}
		if c.off == nil {
			return "", false
		}
		delta := make([]float32, len(c.on))
		for i := range c.on {
			if i < len(c.off) {
				delta[i] = c.on[i] - c.off[i]
			} else {
				delta[i] = c.on[i]
			}
		}
		return ScoreColors(delta, c.allowed), true
	}
	return "", false
}

// Reset drops both histograms.
func (c *HueComparison) Reset() {
	c.on = nil
	c.off = nil
}
