// Package features derives the model-ready feature table from normalized
// stations and readings.
package features

import (
	"cmp"
	"slices"
	"time"

	"flood_etl/internal/domain"
)

const (
	shortLag = 1
	longLag  = 24
)

// Build left-joins readings to stations and adds calendar and lag columns.
//
// Every reading yields exactly one row. Rows are ordered by station ID, then
// ascending timestamp; readings without a timestamp go last in their station
// and keep their input order. Lags count positions within a station's rows,
// so value_lag_24 is the value 24 readings earlier, not 24 hours earlier.
func Build(stations []domain.Station, readings []domain.Reading) []domain.FeatureRow {
	byID := make(map[string]*domain.Station, len(stations))
	for i := range stations {
		id := stations[i].ID
		if id == "" {
			continue
		}
		if _, dup := byID[id]; !dup {
			byID[id] = &stations[i]
		}
	}

	order := make([]int, len(readings))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ra, rb := readings[a], readings[b]
		if c := cmp.Compare(ra.StationID, rb.StationID); c != 0 {
			return c
		}
		return compareTimestamps(ra.Timestamp, rb.Timestamp)
	})

	rows := make([]domain.FeatureRow, len(order))
	groupStart := 0
	for i, idx := range order {
		r := readings[idx]
		if i > 0 && r.StationID != rows[i-1].StationID {
			groupStart = i
		}

		row := domain.FeatureRow{Reading: r}
		if r.StationID != "" {
			row.Station = byID[r.StationID]
		}
		if r.Timestamp != nil {
			addCalendar(&row, r.Timestamp.UTC())
		}
		if j := i - shortLag; j >= groupStart {
			row.ValueLag1 = copyFloat(rows[j].Value)
		}
		if j := i - longLag; j >= groupStart {
			row.ValueLag24 = copyFloat(rows[j].Value)
		}
		rows[i] = row
	}
	return rows
}

// Records renders feature rows for table storage.
func Records(rows []domain.FeatureRow) []domain.Record {
	out := make([]domain.Record, len(rows))
	for i := range rows {
		out[i] = rows[i].Record()
	}
	return out
}

func compareTimestamps(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}

func addCalendar(row *domain.FeatureRow, ts time.Time) {
	hour, month, year := ts.Hour(), int(ts.Month()), ts.Year()
	dow := (int(ts.Weekday()) + 6) % 7
	row.Hour = &hour
	row.DayOfWeek = &dow
	row.Month = &month
	row.Year = &year
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
