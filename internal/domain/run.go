package domain

import "time"

type RunMode string

const (
	ModeFull        RunMode = "full"
	ModeIncremental RunMode = "incremental"
)

// KindStats holds extraction counters for one entity kind.
type KindStats struct {
	Extracted int    `json:"extracted"`
	Pages     int    `json:"pages"`
	Partial   bool   `json:"partial"`
	Error     string `json:"error,omitempty"`
}

// RunStats holds statistics about a pipeline run.
type RunStats struct {
	Mode              RunMode                  `json:"mode"`
	StartedAt         time.Time                `json:"started_at"`
	Kinds             map[EntityKind]KindStats `json:"kinds"`
	RowsWritten       map[string]int           `json:"rows_written"`
	FeatureRows       int                      `json:"feature_rows"`
	Exported          int                      `json:"exported"`
	PreviousWatermark *time.Time               `json:"previous_watermark,omitempty"`
	Watermark         *time.Time               `json:"watermark,omitempty"`
	Errors            int                      `json:"errors"`
	Duration          time.Duration            `json:"duration"`
}

func NewRunStats(mode RunMode, startedAt time.Time) *RunStats {
	return &RunStats{
		Mode:        mode,
		StartedAt:   startedAt,
		Kinds:       make(map[EntityKind]KindStats),
		RowsWritten: make(map[string]int),
	}
}

// TableStatus describes one persisted table.
type TableStatus struct {
	Name    string `json:"name"`
	Exists  bool   `json:"exists"`
	Rows    int    `json:"rows"`
	Columns int    `json:"columns"`
}

// Status is the inspection view over every store.
type Status struct {
	Tables    []TableStatus `json:"tables"`
	Watermark *time.Time    `json:"watermark,omitempty"`
}
