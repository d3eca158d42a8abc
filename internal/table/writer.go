package table

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
)

// ErrNotFound is returned by a Store when the named table has never been written.
var ErrNotFound = errors.New("table not found")

// Store persists whole tables. Replace must be atomic: on failure the
// previous version of the table stays readable.
type Store interface {
	Read(ctx context.Context, name string) (domain.Table, error)
	Replace(ctx context.Context, name string, t domain.Table) error
}

type Option func(*Writer)

// WithDedupeKey makes WriteAppendMerge on table drop incoming rows whose
// column value is already present.
func WithDedupeKey(table, column string) Option {
	return func(w *Writer) {
		w.dedupeKeys[table] = column
	}
}

// Writer turns record lists into flat tables on a Store.
type Writer struct {
	store      Store
	dedupeKeys map[string]string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func NewWriter(store Store, metrics *observability.Metrics, logger *slog.Logger, opts ...Option) *Writer {
	w := &Writer{
		store:      store,
		dedupeKeys: make(map[string]string),
		metrics:    metrics,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WriteFull replaces the table with records, using their own field names as
// the schema.
func (w *Writer) WriteFull(ctx context.Context, name string, records []domain.Record) (int, error) {
	t := domain.Table{
		Columns: Reconcile(nil, records),
		Rows:    records,
	}
	if err := w.store.Replace(ctx, name, t); err != nil {
		return 0, fmt.Errorf("replace table %s: %w", name, err)
	}

	w.metrics.RowsWritten.WithLabelValues(name).Add(float64(len(records)))
	w.logger.Debug("table written",
		"table", name,
		"rows", len(records),
		"columns", len(t.Columns),
	)
	return len(records), nil
}

// WriteAppendMerge appends records to the table, widening its schema to
// cover any new field names. The whole table is rewritten. A missing table
// is treated as empty. It returns the number of rows appended.
func (w *Writer) WriteAppendMerge(ctx context.Context, name string, records []domain.Record) (int, error) {
	existing, err := w.store.Read(ctx, name)
	switch {
	case errors.Is(err, ErrNotFound):
		existing = domain.Table{}
	case err != nil:
		return 0, fmt.Errorf("read table %s: %w", name, err)
	}

	incoming := records
	if key, ok := w.dedupeKeys[name]; ok {
		incoming = dropDuplicates(existing.Rows, records, key)
		if dropped := len(records) - len(incoming); dropped > 0 {
			w.logger.Info("dropped duplicate rows", "table", name, "key", key, "dropped", dropped)
		}
	}

	merged := domain.Table{
		Columns: Reconcile(existing.Columns, incoming),
		Rows:    append(slices.Clip(existing.Rows), incoming...),
	}
	if err := w.store.Replace(ctx, name, merged); err != nil {
		return 0, fmt.Errorf("replace table %s: %w", name, err)
	}

	w.metrics.RowsWritten.WithLabelValues(name).Add(float64(len(incoming)))
	w.logger.Debug("table merged",
		"table", name,
		"existing_rows", len(existing.Rows),
		"appended", len(incoming),
		"columns", len(merged.Columns),
	)
	return len(incoming), nil
}

func dropDuplicates(existing, incoming []domain.Record, key string) []domain.Record {
	seen := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		if v, ok := row.String(key); ok {
			seen[v] = struct{}{}
		}
	}

	kept := make([]domain.Record, 0, len(incoming))
	for _, row := range incoming {
		v, ok := row.String(key)
		if !ok {
			kept = append(kept, row)
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		kept = append(kept, row)
	}
	return kept
}
