package led

// State is the tri-state verdict of a single LED
type State int

const (
	Unknown State = iota
	On
	Off
)

func (s State) String() string {
	switch s {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "unknown"
	}
}

// StateOf maps a boolean verdict to a State.
func StateOf(on bool) State {
	if on {
		return On
	}
	return Off
}

const (
	DefaultDeviation = 10
	DefaultHistory   = 20
)

// Hysteresis classifies brightness samples of one LED.
//
// Until the first on sample is seen, each sample is compared with the
// previous one: within the deviation band it becomes the new baseline and
// the verdict stays Unknown; a jump up means On, a drop means Off (and the
// previous bright sample is remembered as an on sample). Once on samples
// exist, a sample is On when it is no darker than their mean minus the
// deviation.
type Hysteresis struct {
	deviation int
	last      int
	onSamples *Ring
}

// NewHysteresis creates a classifier; non-positive history uses DefaultHistory.
func NewHysteresis(deviation, history int) *Hysteresis {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Hysteresis{
		deviation: deviation,
		last:      -1,
		onSamples: NewRing(history),
	}
}

// Observe classifies one brightness sample.
func (h *Hysteresis) Observe(brightness int) State {
	if h.onSamples.Len() == 0 {
		return h.bootstrap(brightness)
	}

	avg := int(h.onSamples.Mean())
	if brightness >= avg-h.deviation {
		h.onSamples.Push(float64(brightness))
		return On
	}
	return Off
}

func (h *Hysteresis) bootstrap(brightness int) State {
	last := h.last
	if last == -1 || (brightness >= last-h.deviation && brightness < last+h.deviation) {
		h.last = brightness
		return Unknown
	}
	if brightness > last {
		h.onSamples.Push(float64(brightness))
		return On
	}
	h.onSamples.Push(float64(last))
	return Off
}

// Invalidate forgets all history.
func (h *Hysteresis) Invalidate() {
	h.last = -1
	h.onSamples.Clear()
}

// OnLevel returns the mean on brightness, or -1 before any on sample.
func (h *Hysteresis) OnLevel() int {
	if h.onSamples.Len() == 0 {
		return -1
	}
	return int(h.onSamples.Mean())
}
