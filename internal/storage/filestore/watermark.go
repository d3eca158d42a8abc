package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const watermarkFile = "last_extraction.txt"

// naive ISO timestamps written by older tooling, read as UTC
var legacyLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// WatermarkStore keeps the watermark as a single RFC 3339 line in a text file.
type WatermarkStore struct {
	path string
}

func NewWatermarkStore(dataDir string) *WatermarkStore {
	return &WatermarkStore{path: filepath.Join(dataDir, watermarkFile)}
}

func (s *WatermarkStore) Read(_ context.Context) (time.Time, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read watermark: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return time.Time{}, false, nil
	}

	t, err := parseWatermark(text)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", text, err)
	}
	return t, true, nil
}

func (s *WatermarkStore) Write(_ context.Context, t time.Time) error {
	return WriteAtomic(s.path, func(w io.Writer) error {
		_, err := io.WriteString(w, t.UTC().Format(time.RFC3339)+"\n")
		return err
	})
}

func parseWatermark(text string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, text)
	if err == nil {
		return t.UTC(), nil
	}
	for _, layout := range legacyLayouts {
		if lt, lerr := time.Parse(layout, text); lerr == nil {
			return lt.UTC(), nil
		}
	}
	return time.Time{}, err
}
