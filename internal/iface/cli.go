package iface

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/config"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/statetable"
	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/storage"
)

// CLI provides command-line output helpers
type CLI struct {
	config *config.Config
	quiet  bool
	out    io.Writer
	errOut io.Writer
}

// NewCLI creates a CLI writing to stdout
func NewCLI(cfg *config.Config, quiet bool) *CLI {
	return &CLI{
		config: cfg,
		quiet:  quiet,
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

// SetOutput redirects regular output.
func (c *CLI) SetOutput(w io.Writer) { c.out = w }

// SetErrorOutput redirects PrintError.
func (c *CLI) SetErrorOutput(w io.Writer) { c.errOut = w }

// PrintBanner displays the application banner
func (c *CLI) PrintBanner() {
	if c.quiet {
		return
	}
	fmt.Fprintln(c.out, strings.Repeat("━", 60))
	fmt.Fprintln(c.out, "  LED board state detector")
	fmt.Fprintln(c.out, strings.Repeat("━", 60))
}

// PrintModeHeader displays the mode-specific header
func (c *CLI) PrintModeHeader(mode string) {
	if c.quiet {
		return
	}

	var header string
	switch mode {
	case "detect":
		header = "DETECT MODE\nWatching the board through " + c.source() + ". Press Ctrl+C to stop."
	case "import":
		header = "IMPORT MODE\nArchiving a board description."
	case "list":
		header = "LIST MODE\nBoards in the archive."
	case "export":
		header = "EXPORT MODE\nWriting a board description from the archive."
	case "delete":
		header = "DELETE MODE\nRemoving a board from the archive."
	default:
		header = strings.ToUpper(mode) + " MODE"
	}
	fmt.Fprintf(c.out, "\n%s\n%s\n", header, strings.Repeat("─", 60))
}

func (c *CLI) source() string {
	if c.config == nil {
		return "the camera"
	}
	return "source " + c.config.Camera.Source
}

// PrintStatus prints a status message
func (c *CLI) PrintStatus(message string, level string) {
	if c.quiet && level != "error" {
		return
	}

	var prefix string
	switch level {
	case "info":
		prefix = "[i]"
	case "success":
		prefix = "[+]"
	case "warning":
		prefix = "[!]"
	case "error":
		prefix = "[x]"
	default:
		prefix = " - "
	}
	fmt.Fprintf(c.out, "%s %s\n", prefix, message)
}

// PrintStates prints the latest row of every LED.
func (c *CLI) PrintStates(entries []statetable.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no led transitions recorded")
		return
	}

	if !c.quiet {
		fmt.Fprintf(c.out, "%-16s %-5s %-8s %-20s %s\n", "LED", "STATE", "COLOR", "SINCE", "FREQ")
	}
	for _, e := range entries {
		// pad before colorizing, escape codes would count as width
		state := fmt.Sprintf("%-5s", e.State)
		switch e.State {
		case statetable.StateOn:
			state = c.Colorize(state, ColorGreen)
		case statetable.StateOff:
			state = c.Colorize(state, ColorDim)
		}
		color := e.Color
		if color == "" {
			color = "-"
		}
		since := time.Unix(0, int64(e.Time*float64(time.Second))).Format("2006-01-02 15:04:05")
		if c.quiet {
			fmt.Fprintf(c.out, "%s %s %s %.3f\n", e.LedID, e.State, color, e.Frequency)
			continue
		}
		fmt.Fprintf(c.out, "%-16s %s %-8s %-20s %.3f Hz\n", e.LedID, state, color, since, e.Frequency)
	}
}

// PrintBoards lists archived boards.
func (c *CLI) PrintBoards(entries []storage.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "no boards archived")
		return
	}
	if !c.quiet {
		fmt.Fprintf(c.out, "%-24s %-16s %-5s %s\n", "ID", "AUTHOR", "LEDS", "IMPORTED")
	}
	for _, e := range entries {
		fmt.Fprintf(c.out, "%-24s %-16s %-5d %s\n", e.ID, e.Author, e.Leds, e.Imported.Format(time.RFC3339))
	}
}

// PrintSummary prints detection counters on shutdown.
func (c *CLI) PrintSummary(frames, processed, changes uint64, fps float64, elapsed time.Duration) {
	if c.quiet {
		fmt.Fprintf(c.out, "frames=%d processed=%d changes=%d fps=%.1f\n", frames, processed, changes, fps)
		return
	}
	fmt.Fprintln(c.out, "\n"+strings.Repeat("━", 60))
	fmt.Fprintln(c.out, "SESSION SUMMARY")
	fmt.Fprintln(c.out, strings.Repeat("━", 60))
	fmt.Fprintf(c.out, "Running time:     %s\n", elapsed.Round(time.Second))
	fmt.Fprintf(c.out, "Frames read:      %d\n", frames)
	fmt.Fprintf(c.out, "Frames processed: %d\n", processed)
	fmt.Fprintf(c.out, "LED changes:      %d\n", changes)
	fmt.Fprintf(c.out, "Processing rate:  %.1f fps\n", fps)
}

// PrintError prints an error message
func (c *CLI) PrintError(err error) {
	fmt.Fprintf(c.errOut, "Error: %v\n", err)
}

// Color codes for terminal output
const (
	ColorReset = "\033[0m"
	ColorGreen = "\033[32m"
	ColorBold  = "\033[1m"
	ColorDim   = "\033[2m"
)

// Colorize applies color to text if terminal supports it
func (c *CLI) Colorize(text string, color string) string {
	if c.quiet || os.Getenv("NO_COLOR") != "" {
		return text
	}
	return color + text + ColorReset
}
