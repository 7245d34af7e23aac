package iface

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/config"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/statetable"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/storage"
)

func newTestCLI(quiet bool) (*CLI, *bytes.Buffer) {
	var buf bytes.Buffer
	cli := NewCLI(config.DefaultConfig(), quiet)
	cli.SetOutput(&buf)
	return cli, &buf
}

func TestCLICreation(t *testing.T) {
	cfg := config.DefaultConfig()
	cli := NewCLI(cfg, false)

	if cli == nil {
		t.Fatal("Failed to create CLI")
	}
	if cli.config != cfg {
		t.Error("Config not set correctly")
	}
}

func TestPrintStatesQuiet(t *testing.T) {
	cli, buf := newTestCLI(true)
	cli.PrintStates([]statetable.Entry{
		{LedID: "power", State: "on", Color: "green", Time: 10, Frequency: 0.5},
		{LedID: "fault", State: "off", Time: 12},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %q", buf.String())
	}
	if lines[0] != "power on green 0.500" {
		t.Errorf("Unexpected line %q", lines[0])
	}
	if lines[1] != "fault off - 0.000" {
		t.Errorf("Unexpected line %q", lines[1])
	}
}

func TestPrintStatesAlignsColoredColumns(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	cli, buf := newTestCLI(false)
	cli.PrintStates([]statetable.Entry{
		{LedID: "power", State: "on", Color: "green", Time: 10, Frequency: 0.5},
		{LedID: "fault", State: "off", Time: 12},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %q", buf.String())
	}
	if !strings.Contains(lines[1], ColorGreen+"on   "+ColorReset+" green") {
		t.Errorf("State not padded inside the color codes: %q", lines[1])
	}
	if !strings.Contains(lines[2], ColorDim+"off  "+ColorReset+" -") {
		t.Errorf("State not padded inside the color codes: %q", lines[2])
	}

	strip := strings.NewReplacer(ColorGreen, "", ColorDim, "", ColorReset, "")
	header := strings.Index(lines[0], "COLOR")
	for _, l := range lines[1:] {
		plain := strip.Replace(l)
		if plain[header-1] != ' ' || plain[header] == ' ' {
			t.Errorf("Color column misaligned in %q", plain)
		}
	}
}

func TestPrintErrorUsesErrorOutput(t *testing.T) {
	cli, out := newTestCLI(false)
	var errBuf bytes.Buffer
	cli.SetErrorOutput(&errBuf)

	cli.PrintError(errors.New("board not found"))
	if errBuf.String() != "Error: board not found\n" {
		t.Errorf("Unexpected error output %q", errBuf.String())
	}
	if out.Len() != 0 {
		t.Errorf("Error leaked to regular output: %q", out.String())
	}
}

func TestPrintStatesEmpty(t *testing.T) {
	cli, buf := newTestCLI(false)
	cli.PrintStates(nil)
	if !strings.Contains(buf.String(), "no led transitions") {
		t.Errorf("Unexpected output %q", buf.String())
	}
}

func TestPrintBoards(t *testing.T) {
	cli, buf := newTestCLI(false)
	cli.PrintBoards([]storage.Entry{
		{ID: "router", Author: "lab", Leds: 4, Imported: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	})

	out := buf.String()
	for _, want := range []string{"ID", "router", "lab", "2024-05-01T12:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output %q", want, out)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	cli, buf := newTestCLI(true)

	levels := []string{"info", "success", "warning", "error"}
	for _, level := range levels {
		cli.PrintStatus("Test message", level)
	}
	if got := strings.Count(buf.String(), "Test message"); got != 1 {
		t.Errorf("Quiet CLI should only print errors, got %d lines", got)
	}
}

func TestPrintModeHeader(t *testing.T) {
	cli, buf := newTestCLI(false)
	cli.PrintModeHeader("detect")
	if !strings.Contains(buf.String(), "DETECT MODE") || !strings.Contains(buf.String(), "source 0") {
		t.Errorf("Unexpected header %q", buf.String())
	}
}

func TestPrintSummary(t *testing.T) {
	cli, buf := newTestCLI(true)
	cli.PrintSummary(10, 8, 2, 9.5, time.Minute)
	if got := strings.TrimSpace(buf.String()); got != "frames=10 processed=8 changes=2 fps=9.5" {
		t.Errorf("Unexpected summary %q", got)
	}
}
