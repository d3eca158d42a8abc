package table

import (
	"slices"

	"flood_etl/internal/domain"
)

// Reconcile returns the sorted union of the existing column names and every
// field name found in records. A column present in existing is never dropped,
// so repeated appends can only widen a schema.
func Reconcile(existing []string, records []domain.Record) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, c := range existing {
		seen[c] = struct{}{}
	}
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}

	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	slices.Sort(cols)
	return cols
}
