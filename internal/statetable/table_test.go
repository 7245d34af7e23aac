package statetable

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestInsertBookkeeping(t *testing.T) {
	tbl := New()
	tbl.Insert("A", StateOn, "green", 100)
	tbl.Insert("A", StateOff, "green", 110)
	tbl.Insert("A", StateOn, "green", 130)

	want := []Entry{
		{LedID: "A", State: "on", Color: "green", Time: 100, LastTimeOn: 100, LastTimeOff: Never},
		{LedID: "A", State: "off", Color: "green", Time: 110, LastTimeOn: 100, LastTimeOff: 110},
		{LedID: "A", State: "on", Color: "green", Time: 130, LastTimeOn: 130, LastTimeOff: 110, Frequency: 1.0 / 30},
	}
	if diff := cmp.Diff(want, tbl.Series("A")); diff != "" {
		t.Errorf("Series mismatch (-want +got):\n%s", diff)
	}
}

func TestInsertCarriesFrequency(t *testing.T) {
	tbl := New()
	tbl.Insert("A", StateOff, "", 10)
	first := tbl.Insert("A", StateOn, "", 12)
	if first.Frequency != 0 {
		t.Errorf("Expected no frequency without earlier on, got %f", first.Frequency)
	}
	tbl.Insert("A", StateOff, "", 14)
	second := tbl.Insert("A", StateOn, "", 16)
	if second.Frequency != 0.25 {
		t.Errorf("Expected frequency 0.25, got %f", second.Frequency)
	}
	third := tbl.Insert("A", StateOn, "red", 17)
	if third.Frequency != 0.25 || third.LastTimeOn != 17 {
		t.Errorf("Expected carried frequency, got %+v", third)
	}
}

func TestSnapshotAndLast(t *testing.T) {
	tbl := New()
	tbl.Insert("b", StateOn, "red", 1)
	tbl.Insert("a", StateOff, "", 2)
	tbl.Insert("b", StateOff, "red", 3)

	snap := tbl.Snapshot()
	if len(snap) != 2 || snap[0].LedID != "a" || snap[1].State != "off" {
		t.Fatalf("Unexpected snapshot %+v", snap)
	}
	snap[0].State = "tampered"
	if last, _ := tbl.Last("a"); last.State != StateOff {
		t.Error("Snapshot must be a copy")
	}
	if _, ok := tbl.Last("missing"); ok {
		t.Error("Expected no row for unknown led")
	}
	if tbl.Latest() != 3 || tbl.Len() != 3 {
		t.Errorf("Unexpected latest %f / len %d", tbl.Latest(), tbl.Len())
	}
	if diff := cmp.Diff([]string{"a", "b"}, tbl.LedIDs()); diff != "" {
		t.Errorf("LedIDs mismatch:\n%s", diff)
	}

	tbl.Reset()
	if tbl.Len() != 0 || len(tbl.Snapshot()) != 0 {
		t.Error("Expected empty table after reset")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tbl := New()
	tbl.Insert("A", StateOn, "green", 100)
	tbl.Insert("B", StateOff, "", 105.5)
	tbl.Insert("A", StateOff, "green", 110)

	path := filepath.Join(t.TempDir(), "table.csv")
	if err := tbl.SaveFile(path); err != nil {
		t.Fatal(err)
	}

	loaded := New()
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(tbl.Rows(), loaded.Rows()); diff != "" {
		t.Errorf("Round trip mismatch (-want +got):\n%s", diff)
	}

	// bookkeeping continues from loaded rows
	e := loaded.Insert("A", StateOn, "green", 130)
	if e.Frequency != 1.0/30 {
		t.Errorf("Expected frequency 1/30 after reload, got %f", e.Frequency)
	}
}

func TestLoadRejectsSchemaMismatch(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing column", "led_id,state,color,time,last_time_off,last_time_on\n"},
		{"renamed column", "id,state,color,time,last_time_off,last_time_on,frequency\n"},
		{"bad state", strings.Join(Columns, ",") + "\nA,blinking,,1,0,0,0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Load(strings.NewReader(tt.data))
			if !errors.Is(err, ErrSchemaMismatch) {
				t.Errorf("Expected ErrSchemaMismatch, got %v", err)
			}
		})
	}
}

func TestSaveHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := New().Save(&buf); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(buf.String()); got != strings.Join(Columns, ",") {
		t.Errorf("Unexpected header %q", got)
	}
}

func TestConcurrentInsert(t *testing.T) {
	tbl := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				state := StateOn
				if j%2 == 1 {
					state = StateOff
				}
				tbl.Insert("led", state, "", float64(i*1000+j))
				tbl.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	if tbl.Len() != 800 {
		t.Errorf("Expected 800 rows, got %d", tbl.Len())
	}
}
