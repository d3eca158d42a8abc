package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"flood_etl/internal/domain"
	"flood_etl/internal/storage/filestore"
	"flood_etl/internal/table"
)

// Store keeps each table as <dir>/<name>.csv with a header row. Empty cells
// are the only absent marker.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

func (s *Store) Read(_ context.Context, name string) (domain.Table, error) {
	f, err := os.Open(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Table{}, table.ErrNotFound
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return domain.Table{}, nil
	}
	if err != nil {
		return domain.Table{}, fmt.Errorf("read header of %s: %w", name, err)
	}

	t := domain.Table{Columns: header}
	for {
		cells, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Table{}, fmt.Errorf("read %s: %w", name, err)
		}

		row := make(domain.Record, len(header))
		for i, cell := range cells {
			if cell != "" {
				row[header[i]] = cell
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

func (s *Store) Replace(_ context.Context, name string, t domain.Table) error {
	err := filestore.WriteAtomic(s.path(name), func(w io.Writer) error {
		if len(t.Columns) == 0 {
			return nil
		}

		cw := csv.NewWriter(w)
		if err := cw.Write(t.Columns); err != nil {
			return err
		}

		cells := make([]string, len(t.Columns))
		for _, row := range t.Rows {
			for i, col := range t.Columns {
				cells[i], _ = domain.FormatCell(row[col])
			}
			if err := cw.Write(cells); err != nil {
				return err
			}
		}

		cw.Flush()
		return cw.Error()
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
