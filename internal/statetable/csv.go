package statetable

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Columns is the persisted column schema
var Columns = []string{"led_id", "state", "color", "time", "last_time_off", "last_time_on", "frequency"}

// ErrSchemaMismatch is returned when a loaded file has unexpected columns
var ErrSchemaMismatch = errors.New("state table schema mismatch")

// Save writes the table as CSV.
func (t *Table) Save(w io.Writer) error {
	rows := t.Rows()

	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return err
	}
	for _, e := range rows {
		rec := []string{
			e.LedID,
			e.State,
			e.Color,
			formatFloat(e.Time),
			formatFloat(e.LastTimeOff),
			formatFloat(e.LastTimeOn),
			formatFloat(e.Frequency),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Load replaces the table contents with rows read from CSV.
func (t *Table) Load(r io.Reader) error {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(Columns, ",") {
		return fmt.Errorf("%w: got %v, want %v", ErrSchemaMismatch, header, Columns)
	}

	var rows []Entry
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		e := Entry{LedID: rec[0], State: rec[1], Color: rec[2]}
		fields := []*float64{&e.Time, &e.LastTimeOff, &e.LastTimeOn, &e.Frequency}
		for i, f := range fields {
			v, err := strconv.ParseFloat(rec[3+i], 64)
			if err != nil {
				return fmt.Errorf("line %d column %s: %w", line, Columns[3+i], err)
			}
			*f = v
		}
		if e.State != StateOn && e.State != StateOff {
			return fmt.Errorf("line %d: %w: unknown state %q", line, ErrSchemaMismatch, e.State)
		}
		rows = append(rows, e)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = nil
	t.last = make(map[string]int)
	t.latest = 0
	for _, e := range rows {
		t.appendLocked(e)
	}
	return nil
}

// SaveFile writes the table to path.
func (t *Table) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadFile replaces the table with the contents of path.
func (t *Table) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return t.Load(f)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
