package board

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// DefaultAuthor is used when a record carries no author
const DefaultAuthor = "anonymous"

// ErrMissingImage is returned when a record has neither byte_image nor image_path
var ErrMissingImage = errors.New("board record has no image")

// Record is the on-disk JSON form of a board description
type Record struct {
	ID                string      `json:"id"`
	Author            string      `json:"author,omitempty"`
	Corners           [][]float64 `json:"corners"`
	Leds              []LedRecord `json:"led"`
	RelativePositions *bool       `json:"relative_positions,omitempty"`
	ByteImage         string      `json:"byte_image,omitempty"`
	ImagePath         string      `json:"image_path,omitempty"`
}

// LedRecord is the JSON form of a single LED
type LedRecord struct {
	ID       string    `json:"id"`
	Position []float64 `json:"position"`
	Radius   float64   `json:"radius"`
	Colors   []string  `json:"colors"`
}

// ParseRecord decodes a board record without touching the image.
func ParseRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode board record: %w", err)
	}
	if rec.ID == "" {
		return nil, errors.New("board record has no id")
	}
	return &rec, nil
}

// Load reads a board description file. An image_path is resolved relative
// to the file's directory.
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse builds a Board from JSON bytes.
func Parse(data []byte, baseDir string) (*Board, error) {
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, err
	}
	return rec.Build(baseDir)
}

// Build decodes the reference image and assembles the Board.
func (r *Record) Build(baseDir string) (*Board, error) {
	img, err := r.decodeImage(baseDir)
	if err != nil {
		return nil, err
	}

	author := r.Author
	if author == "" {
		author = DefaultAuthor
	}
	b := New(r.ID, author, img)

	corners := make([]Point, 0, len(r.Corners))
	for i, c := range r.Corners {
		if len(c) != 2 {
			b.Close()
			return nil, fmt.Errorf("corner %d: expected [x, y], got %v", i, c)
		}
		corners = append(corners, Point{c[0], c[1]})
	}
	if err := b.SetCorners(corners); err != nil {
		b.Close()
		return nil, err
	}

	relative := r.RelativePositions == nil || *r.RelativePositions
	for _, l := range r.Leds {
		if len(l.Position) != 2 {
			b.Close()
			return nil, fmt.Errorf("led %s: expected [x, y] position, got %v", l.ID, l.Position)
		}
		led := Led{
			ID:       l.ID,
			Position: Point{l.Position[0], l.Position[1]},
			Radius:   l.Radius,
			Colors:   l.Colors,
		}
		if err := b.AddLed(led, !relative); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

// Embed replaces an image_path with an inline data URI so the record is
// self contained.
func (r *Record) Embed(baseDir string) error {
	if r.ByteImage != "" || r.ImagePath == "" {
		return nil
	}
	path := r.resolve(baseDir)
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read board image: %w", err)
	}
	r.inline(raw, path)
	return nil
}

func (r *Record) inline(raw []byte, name string) {
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "image/png"
	}
	r.ByteImage = "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
	r.ImagePath = ""
}

// Marshal encodes the record as indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

func (r *Record) resolve(baseDir string) string {
	if filepath.IsAbs(r.ImagePath) {
		return r.ImagePath
	}
	return filepath.Join(baseDir, r.ImagePath)
}

func (r *Record) decodeImage(baseDir string) (gocv.Mat, error) {
	switch {
	case r.ByteImage != "":
		raw, err := DecodeDataURI(r.ByteImage)
		if err != nil {
			return gocv.Mat{}, err
		}
		img, err := gocv.IMDecode(raw, gocv.IMReadColor)
		if err != nil {
			return gocv.Mat{}, fmt.Errorf("failed to decode board image: %w", err)
		}
		if img.Empty() {
			img.Close()
			return gocv.Mat{}, errors.New("board image is empty")
		}
		return img, nil
	case r.ImagePath != "":
		path := r.resolve(baseDir)
		img := gocv.IMRead(path, gocv.IMReadColor)
		if img.Empty() {
			img.Close()
			return gocv.Mat{}, fmt.Errorf("failed to load board image: %s", path)
		}
		return img, nil
	default:
		return gocv.Mat{}, ErrMissingImage
	}
}

// DecodeDataURI decodes a base64 data URI. A bare base64 string is accepted too.
func DecodeDataURI(uri string) ([]byte, error) {
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		idx := strings.Index(uri, ",")
		if idx < 0 {
			return nil, errors.New("malformed data uri")
		}
		payload = uri[idx+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	return raw, nil
}

// EncodeDataURI encodes a board image as a PNG data URI.
func EncodeDataURI(img gocv.Mat) (string, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return "", fmt.Errorf("failed to encode board image: %w", err)
	}
	defer buf.Close()
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.GetBytes()), nil
}
