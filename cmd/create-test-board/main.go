package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"

	"github.com/SE-Projekt-LED-Detection/LED-Detection/internal/synth"
)

func main() {
	var (
		outDir  = flag.String("out", "testdata", "Output directory")
		id      = flag.String("id", "synthetic", "Board id")
		author  = flag.String("author", "create-test-board", "Board author")
		lit     = flag.String("lit", "", "Comma separated LED ids to render lit into frame.png")
		inline  = flag.Bool("inline", false, "Embed the image into the board description")
		seed    = flag.Int64("seed", 7, "Texture seed")
		patches = flag.Int("patches", 60, "Number of texture patches")
	)
	flag.Parse()

	scene := synth.DefaultScene()
	scene.Seed = *seed
	scene.Patches = *patches

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *outDir, err)
		os.Exit(1)
	}

	ref := scene.Reference()
	defer ref.Close()
	imagePath := filepath.Join(*outDir, *id+".png")
	if ok := gocv.IMWrite(imagePath, ref); !ok {
		fmt.Fprintf(os.Stderr, "Failed to save image to %s\n", imagePath)
		os.Exit(1)
	}

	if *lit != "" {
		on := make(map[string]bool)
		for _, l := range strings.Split(*lit, ",") {
			on[strings.TrimSpace(l)] = true
		}
		frame := scene.Frame(on)
		framePath := filepath.Join(*outDir, *id+"-frame.png")
		ok := gocv.IMWrite(framePath, frame)
		frame.Close()
		if !ok {
			fmt.Fprintf(os.Stderr, "Failed to save frame to %s\n", framePath)
			os.Exit(1)
		}
		fmt.Printf("Created frame with lit leds %s: %s\n", *lit, framePath)
	}

	rec := scene.Record(*id, *author, filepath.Base(imagePath))
	if *inline {
		if err := rec.Embed(*outDir); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to embed image: %v\n", err)
			os.Exit(1)
		}
	}
	data, err := rec.Marshal()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode board: %v\n", err)
		os.Exit(1)
	}
	boardPath := filepath.Join(*outDir, *id+".json")
	if err := os.WriteFile(boardPath, data, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", boardPath, err)
		os.Exit(1)
	}

	fmt.Printf("Created test board image: %s\n", imagePath)
	fmt.Printf("Image size: %dx%d, %d leds\n", scene.Width, scene.Height, len(scene.Leds))
	fmt.Printf("Board description: %s\n", boardPath)
}
