package board

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// MaxArchiveSize bounds downloaded and extracted board archives
const MaxArchiveSize = 64 << 20

// ParseArchive reads a board archive written by the board authoring tool: a
// zip holding <name>.json next to the board image. The image is inlined
// into the returned record. When the archive has no <name>.json, a single
// JSON file is accepted instead.
func ParseArchive(data []byte, name string) (*Record, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a board archive: %w", err)
	}

	files := make(map[string]*zip.File)
	var descriptions []string
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// entries are looked up by base name only, nothing is written to disk
		base := path.Base(f.Name)
		files[base] = f
		if strings.EqualFold(path.Ext(base), ".json") {
			descriptions = append(descriptions, base)
		}
	}

	desc := name + ".json"
	if _, ok := files[desc]; !ok {
		if len(descriptions) != 1 {
			return nil, fmt.Errorf("archive has no board description %s", desc)
		}
		desc = descriptions[0]
	}
	raw, err := readEntry(files[desc])
	if err != nil {
		return nil, err
	}
	rec, err := ParseRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec.ByteImage != "" {
		return rec, nil
	}
	if rec.ImagePath == "" {
		return nil, ErrMissingImage
	}

	imageName := path.Base(filepath.ToSlash(rec.ImagePath))
	f, ok := files[imageName]
	if !ok {
		return nil, fmt.Errorf("archive has no image %s: %w", imageName, ErrMissingImage)
	}
	img, err := readEntry(f)
	if err != nil {
		return nil, err
	}
	rec.inline(img, imageName)
	return rec, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > MaxArchiveSize {
		return nil, fmt.Errorf("archive entry %s is too large", f.Name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, MaxArchiveSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}

// IsURL reports whether src names an http or https resource.
func IsURL(src string) bool {
	u, err := url.Parse(src)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FetchArchive downloads a board archive and parses it. The archive name
// is the last path element of the URL without its extension.
func FetchArchive(ctx context.Context, client *http.Client, rawURL string) (*Record, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid board url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download board: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download board: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to download board: %w", err)
	}
	if len(data) > MaxArchiveSize {
		return nil, fmt.Errorf("board archive exceeds %d bytes", MaxArchiveSize)
	}

	base := path.Base(u.Path)
	name := strings.TrimSuffix(base, path.Ext(base))
	return ParseArchive(data, name)
}
