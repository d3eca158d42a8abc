package domain

import "time"

type EntityKind string

const (
	KindStations EntityKind = "stations"
	KindReadings EntityKind = "readings"
	KindFloods   EntityKind = "floods"
)

// EntityKinds lists every kind in extraction order.
var EntityKinds = []EntityKind{KindStations, KindReadings, KindFloods}

// FeaturesTable is the name of the derived feature table.
const FeaturesTable = "features"

// Table returns the name of the raw reconciled table for the kind.
func (k EntityKind) Table() string {
	return string(k)
}

// ProcessedTable returns the name of the normalized table for the kind.
func (k EntityKind) ProcessedTable() string {
	return "processed_" + string(k)
}

// Extraction is the outcome of paging through one collection. A non-nil Err
// means the run stopped early; Records still holds every page fetched before
// the failure.
type Extraction struct {
	Kind    EntityKind
	Records []Record
	Pages   int
	Err     error
}

func (e Extraction) Partial() bool {
	return e.Err != nil
}

// Table is a flat table: the reconciled column set plus rows keyed by column.
type Table struct {
	Columns []string
	Rows    []Record
}

type Station struct {
	ID          string
	Label       *string
	RiverName   *string
	Town        *string
	Lat         *float64
	Long        *float64
	Status      *string
	ProcessedAt time.Time
}

type Reading struct {
	ID          string
	StationID   string
	Timestamp   *time.Time
	Value       *float64
	ValueText   *string // set when the reported value is not numeric
	Unit        *string
	Parameter   *string
	Qualifier   *string
	ProcessedAt time.Time
}

type FloodWarning struct {
	ID            string
	Severity      *string
	SeverityLevel *int
	Description   *string
	Message       *string
	IsActive      bool
	AreaName      string
	LastChanged   *time.Time
	ProcessedAt   time.Time
}

// FeatureRow is a reading joined with its station plus derived columns.
// Station is nil when the reading's station is unknown; lag values are nil
// when the station has too little history.
type FeatureRow struct {
	Reading
	Station    *Station
	Hour       *int
	DayOfWeek  *int // Monday = 0
	Month      *int
	Year       *int
	ValueLag1  *float64
	ValueLag24 *float64
}

func (s Station) Record() Record {
	rec := Record{
		"station_id":   s.ID,
		"processed_at": s.ProcessedAt,
	}
	s.putMetadata(rec)
	return rec
}

func (s Station) putMetadata(rec Record) {
	putString(rec, "label", s.Label)
	putString(rec, "river_name", s.RiverName)
	putString(rec, "town", s.Town)
	putFloat(rec, "lat", s.Lat)
	putFloat(rec, "long", s.Long)
	putString(rec, "status", s.Status)
}

func (r Reading) Record() Record {
	rec := Record{
		"reading_id":   r.ID,
		"station_id":   r.StationID,
		"processed_at": r.ProcessedAt,
	}
	if r.Timestamp != nil {
		rec["date_time"] = *r.Timestamp
	}
	switch {
	case r.Value != nil:
		rec["value"] = *r.Value
	case r.ValueText != nil:
		rec["value"] = *r.ValueText
	}
	putString(rec, "unit", r.Unit)
	putString(rec, "parameter", r.Parameter)
	putString(rec, "qualifier", r.Qualifier)
	return rec
}

func (f FloodWarning) Record() Record {
	rec := Record{
		"flood_id":     f.ID,
		"is_active":    f.IsActive,
		"area_name":    f.AreaName,
		"processed_at": f.ProcessedAt,
	}
	putString(rec, "severity", f.Severity)
	if f.SeverityLevel != nil {
		rec["severity_level"] = *f.SeverityLevel
	}
	putString(rec, "description", f.Description)
	putString(rec, "message", f.Message)
	if f.LastChanged != nil {
		rec["last_changed"] = *f.LastChanged
	}
	return rec
}

func (f FeatureRow) Record() Record {
	rec := f.Reading.Record()
	if f.Station != nil {
		f.Station.putMetadata(rec)
	}
	putInt(rec, "hour", f.Hour)
	putInt(rec, "day_of_week", f.DayOfWeek)
	putInt(rec, "month", f.Month)
	putInt(rec, "year", f.Year)
	putFloat(rec, "value_lag_1", f.ValueLag1)
	putFloat(rec, "value_lag_24", f.ValueLag24)
	return rec
}

func putString(rec Record, key string, v *string) {
	if v != nil {
		rec[key] = *v
	}
}

func putFloat(rec Record, key string, v *float64) {
	if v != nil {
		rec[key] = *v
	}
}

func putInt(rec Record, key string, v *int) {
	if v != nil {
		rec[key] = *v
	}
}
