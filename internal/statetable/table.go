package statetable

import (
	"math"
	"sort"
	"sync"
)

// Entry is one row of the state table
type Entry struct {
	LedID       string  `json:"led_id"`
	State       string  `json:"state"`
	Color       string  `json:"color"`
	Time        float64 `json:"time"`
	LastTimeOff float64 `json:"last_time_off"`
	LastTimeOn  float64 `json:"last_time_on"`
	Frequency   float64 `json:"frequency"`
}

const (
	StateOn  = "on"
	StateOff = "off"

	// Never marks a transition time that has not happened yet.
	Never = 0

	minInterval = 1e-9
)

// Table is an append-only log of LED transitions. All access goes through a
// single lock; readers always receive copies.
type Table struct {
	mu     sync.Mutex
	rows   []Entry
	last   map[string]int
	latest float64
}

func New() *Table {
	return &Table{last: make(map[string]int)}
}

// Insert appends a transition for ledID and returns the stored row.
//
// The field named after the new state is set to ts. The other field is set
// to the previous row's time when the state changed and carried over
// otherwise. On an off to on transition the frequency becomes the inverse of
// the time since the previous on; otherwise it is carried over.
func (t *Table) Insert(ledID, state, color string, ts float64) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{LedID: ledID, State: state, Color: color, Time: ts}
	idx, ok := t.last[ledID]
	if !ok {
		if state == StateOn {
			e.LastTimeOn = ts
		} else {
			e.LastTimeOff = ts
		}
		return t.appendLocked(e)
	}

	prev := t.rows[idx]
	e.LastTimeOn = prev.LastTimeOn
	e.LastTimeOff = prev.LastTimeOff
	e.Frequency = prev.Frequency

	if prev.State != state {
		if prev.State == StateOn {
			e.LastTimeOn = prev.Time
		} else {
			e.LastTimeOff = prev.Time
		}
	}

	if prev.State == StateOff && state == StateOn && prev.LastTimeOn != Never {
		if d := math.Abs(ts - prev.LastTimeOn); d > minInterval {
			e.Frequency = 1 / d
		}
	}

	if state == StateOn {
		e.LastTimeOn = ts
	} else {
		e.LastTimeOff = ts
	}
	return t.appendLocked(e)
}

func (t *Table) appendLocked(e Entry) Entry {
	t.rows = append(t.rows, e)
	t.last[e.LedID] = len(t.rows) - 1
	if e.Time > t.latest {
		t.latest = e.Time
	}
	return e
}

// Last returns the most recent row for ledID.
func (t *Table) Last(ledID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.last[ledID]
	if !ok {
		return Entry{}, false
	}
	return t.rows[idx], true
}

// Snapshot returns the latest row of every LED, sorted by LED id.
func (t *Table) Snapshot() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.last))
	for _, idx := range t.last {
		out = append(out, t.rows[idx])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LedID < out[j].LedID })
	return out
}

// Series returns every row of ledID in insertion order.
func (t *Table) Series(ledID string) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Entry
	for _, e := range t.rows {
		if e.LedID == ledID {
			out = append(out, e)
		}
	}
	return out
}

// Rows returns a copy of the whole table.
func (t *Table) Rows() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.rows...)
}

// LedIDs returns the known LED ids, sorted.
func (t *Table) LedIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.last))
	for id := range t.last {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Latest returns the most recent insertion time.
func (t *Table) Latest() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rows)
}

func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
	t.last = make(map[string]int)
	t.latest = 0
}
