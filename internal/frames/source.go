// Package frames provides encoded-image sources for the headless capture
// client. A source stands in for the browser camera: it emits one opaque
// frame payload per capture tick.
package frames

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Source produces one encoded frame payload per call. Payloads are data
// URLs, matching what a canvas capture emits.
type Source interface {
	Next(ctx context.Context) (string, error)
}

// DirSource cycles through the image files of a directory, caching encoded
// payloads after first load.
type DirSource struct {
	dir   string
	files []string

	mu    sync.Mutex
	idx   int
	cache map[string]string
}

// NewDirSource scans dir for image files. Fails when none are found.
func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, entry.Name())
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{
		dir:   dir,
		files: files,
		cache: make(map[string]string),
	}, nil
}

// Next returns the next frame payload, wrapping around at the end.
func (d *DirSource) Next(_ context.Context) (string, error) {
	d.mu.Lock()
	name := d.files[d.idx]
	d.idx = (d.idx + 1) % len(d.files)
	if payload, ok := d.cache[name]; ok {
		d.mu.Unlock()
		return payload, nil
	}
	d.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to load frame %s: %w", name, err)
	}
	payload := encodeDataURL(name, data)

	d.mu.Lock()
	d.cache[name] = payload
	d.mu.Unlock()
	return payload, nil
}

func encodeDataURL(name string, data []byte) string {
	mime := "image/jpeg"
	if strings.ToLower(filepath.Ext(name)) == ".png" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
