package led

import "gonum.org/v1/gonum/stat"

// Ring is a fixed capacity history; pushing into a full ring evicts the
// oldest sample.
type Ring struct {
	buf  []float64
	next int
	full bool
}

// NewRing creates a ring holding up to size samples.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{buf: make([]float64, size)}
}

func (r *Ring) Push(v float64) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *Ring) Len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// Values returns the samples oldest first.
func (r *Ring) Values() []float64 {
	if !r.full {
		return append([]float64(nil), r.buf[:r.next]...)
	}
	out := make([]float64, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Mean returns the average of the held samples, 0 when empty.
func (r *Ring) Mean() float64 {
	if r.Len() == 0 {
		return 0
	}
	if r.full {
		return stat.Mean(r.buf, nil)
	}
	return stat.Mean(r.buf[:r.next], nil)
}

func (r *Ring) Clear() {
	r.next = 0
	r.full = false
}
