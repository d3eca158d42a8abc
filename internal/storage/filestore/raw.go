package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"flood_etl/internal/domain"
)

// RawStore keeps the verbatim record list of each kind as <dir>/raw/<kind>.json.
type RawStore struct {
	dir string
}

func NewRawStore(dataDir string) *RawStore {
	return &RawStore{dir: filepath.Join(dataDir, "raw")}
}

func (s *RawStore) path(kind domain.EntityKind) string {
	return filepath.Join(s.dir, string(kind)+".json")
}

func (s *RawStore) Save(_ context.Context, kind domain.EntityKind, records []domain.Record) error {
	if records == nil {
		records = []domain.Record{}
	}
	err := WriteAtomic(s.path(kind), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	})
	if err != nil {
		return fmt.Errorf("save raw %s: %w", kind, err)
	}
	return nil
}

// Load returns the last saved records of kind, or nil when none were saved.
func (s *RawStore) Load(_ context.Context, kind domain.EntityKind) ([]domain.Record, error) {
	f, err := os.Open(s.path(kind))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open raw %s: %w", kind, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var records []domain.Record
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("decode raw %s: %w", kind, err)
	}
	return records, nil
}
