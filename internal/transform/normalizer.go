package transform

import (
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"flood_etl/internal/domain"
)

const UnknownArea = "Unknown area"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer turns raw API records into typed entities. Fields that are
// missing or have an unexpected shape become absent; no record is rejected.
type Normalizer struct {
	clock clockwork.Clock
}

func NewNormalizer(clock clockwork.Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

func (n *Normalizer) now() time.Time {
	return n.clock.Now().UTC().Truncate(time.Second)
}

func (n *Normalizer) Station(rec domain.Record) domain.Station {
	id := firstOf(
		lastSegment(rec.StringOr("@id", "")),
		rec.StringOr("stationReference", ""),
		rec.StringOr("notation", ""),
		rec.StringOr("id", ""),
	)

	s := domain.Station{
		ID:          id,
		Label:       optString(rec, "label"),
		RiverName:   optString(rec, "riverName"),
		Town:        optString(rec, "town"),
		Lat:         optFloat(rec, "lat"),
		Long:        optFloat(rec, "long"),
		ProcessedAt: n.now(),
	}
	if status, ok := rec.String("status"); ok {
		status = lastSegment(status)
		s.Status = &status
	}
	return s
}

func (n *Normalizer) Reading(rec domain.Record) domain.Reading {
	id := rec.StringOr("id", "")
	if id == "" {
		id = rec.StringOr("@id", "")
		if _, after, ok := strings.Cut(id, "/readings/"); ok {
			id = after
		}
	}

	stationID := lastSegment(rec.StringOr("station", ""))
	if stationID == "" {
		stationID = rec.StringOr("stationReference", "")
	}
	if stationID == "" {
		measure := lastSegment(rec.StringOr("measure", ""))
		stationID, _, _ = strings.Cut(measure, "-")
	}

	r := domain.Reading{
		ID:          id,
		StationID:   stationID,
		Timestamp:   optTime(rec, "dateTime"),
		Unit:        firstPtr(optString(rec, "unit"), optString(rec, "unitName")),
		Parameter:   firstPtr(optString(rec, "parameterName"), optString(rec, "parameter")),
		Qualifier:   optString(rec, "qualifier"),
		ProcessedAt: n.now(),
	}
	if v := optFloat(rec, "value"); v != nil {
		r.Value = v
	} else {
		r.ValueText = optString(rec, "value")
	}
	return r
}

func (n *Normalizer) Flood(rec domain.Record) domain.FloodWarning {
	f := domain.FloodWarning{
		ID:          firstOf(rec.StringOr("floodAreaID", ""), lastSegment(rec.StringOr("@id", ""))),
		Severity:    optString(rec, "severity"),
		Description: optString(rec, "description"),
		Message:     optString(rec, "message"),
		AreaName:    UnknownArea,
		LastChanged: firstPtr(optTime(rec, "timeMessageChanged"), optTime(rec, "timeRaised")),
		ProcessedAt: n.now(),
	}
	if active, ok := rec.Bool("isActive"); ok {
		f.IsActive = active
	}
	if lvl, ok := rec.Float("severityLevel"); ok && lvl == math.Trunc(lvl) {
		level := int(lvl)
		f.SeverityLevel = &level
	}
	if area, ok := rec.Object("floodArea"); ok {
		f.AreaName = area.StringOr("name", UnknownArea)
	}
	return f
}

// Normalize maps one raw record of kind to its normalized row.
func (n *Normalizer) Normalize(kind domain.EntityKind, rec domain.Record) domain.Record {
	switch kind {
	case domain.KindStations:
		return n.Station(rec).Record()
	case domain.KindReadings:
		return n.Reading(rec).Record()
	case domain.KindFloods:
		return n.Flood(rec).Record()
	}
	return nil
}

func (n *Normalizer) Stations(recs []domain.Record) []domain.Station {
	out := make([]domain.Station, len(recs))
	for i, rec := range recs {
		out[i] = n.Station(rec)
	}
	return out
}

func (n *Normalizer) Readings(recs []domain.Record) []domain.Reading {
	out := make([]domain.Reading, len(recs))
	for i, rec := range recs {
		out[i] = n.Reading(rec)
	}
	return out
}

func (n *Normalizer) Floods(recs []domain.Record) []domain.FloodWarning {
	out := make([]domain.FloodWarning, len(recs))
	for i, rec := range recs {
		out[i] = n.Flood(rec)
	}
	return out
}

// lastSegment returns the part of a URI after its final slash.
func lastSegment(uri string) string {
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func firstOf(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPtr[T any](vals ...*T) *T {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func optString(rec domain.Record, key string) *string {
	if s, ok := rec.String(key); ok {
		return &s
	}
	return nil
}

func optFloat(rec domain.Record, key string) *float64 {
	if f, ok := rec.Float(key); ok && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return &f
	}
	return nil
}

func optTime(rec domain.Record, key string) *time.Time {
	s, ok := rec.String(key)
	if !ok {
		return nil
	}
	if t, ok := ParseTimestamp(s); ok {
		return &t
	}
	return nil
}

// ParseTimestamp accepts RFC 3339 and the zone-less forms the API uses,
// reading the latter as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
