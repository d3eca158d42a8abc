package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"flood_etl/internal/config"
	"flood_etl/internal/domain"
	"flood_etl/internal/features"
	"flood_etl/internal/observability"
	"flood_etl/internal/table"
	"flood_etl/internal/transform"
)

// Pipeline runs extraction, persistence, normalization and feature building
// as one sequential flow. Runs must not overlap: the watermark written at the
// end of a run describes the tables that run produced.
type Pipeline struct {
	extractor  Extractor
	raw        RawStore
	writer     TableWriter
	tables     TableReader
	watermark  WatermarkStore
	normalizer *transform.Normalizer
	sink       FeatureSink
	publisher  Publisher
	clock      clockwork.Clock
	metrics    *observability.Metrics
	logger     *slog.Logger
	config     config.SyncConfig
}

// NewPipeline wires a pipeline. sink and publisher may be nil.
func NewPipeline(
	extractor Extractor,
	raw RawStore,
	writer TableWriter,
	tables TableReader,
	watermark WatermarkStore,
	normalizer *transform.Normalizer,
	sink FeatureSink,
	publisher Publisher,
	clock clockwork.Clock,
	metrics *observability.Metrics,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *Pipeline {
	return &Pipeline{
		extractor:  extractor,
		raw:        raw,
		writer:     writer,
		tables:     tables,
		watermark:  watermark,
		normalizer: normalizer,
		sink:       sink,
		publisher:  publisher,
		clock:      clock,
		metrics:    metrics,
		logger:     logger.With("component", "pipeline"),
		config:     cfg,
	}
}

// RunFull re-extracts everything, with readings limited to the trailing
// full window, and rebuilds every table.
func (p *Pipeline) RunFull(ctx context.Context) (*domain.RunStats, error) {
	return p.run(ctx, domain.ModeFull, nil)
}

// RunIncremental extracts readings taken since the watermark and appends
// them. Without a watermark it falls back to a full run.
func (p *Pipeline) RunIncremental(ctx context.Context) (*domain.RunStats, error) {
	since, ok, err := p.watermark.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if !ok {
		p.logger.Info("no previous extraction found, running full extraction")
		return p.run(ctx, domain.ModeFull, nil)
	}
	return p.run(ctx, domain.ModeIncremental, &since)
}

// Sync runs an incremental extraction. It is what the scheduler calls.
func (p *Pipeline) Sync(ctx context.Context) (*domain.RunStats, error) {
	return p.RunIncremental(ctx)
}

// CheckReadiness reports whether the watermark store can be read.
func (p *Pipeline) CheckReadiness(ctx context.Context) error {
	if _, _, err := p.watermark.Read(ctx); err != nil {
		return fmt.Errorf("watermark store: %w", err)
	}
	return nil
}

// Status reports row and column counts for every table and the current
// watermark.
func (p *Pipeline) Status(ctx context.Context) (*domain.Status, error) {
	status := &domain.Status{}

	for _, name := range tableNames() {
		ts := domain.TableStatus{Name: name}
		t, err := p.tables.Read(ctx, name)
		switch {
		case errors.Is(err, table.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("read table %s: %w", name, err)
		default:
			ts.Exists = true
			ts.Rows = len(t.Rows)
			ts.Columns = len(t.Columns)
		}
		status.Tables = append(status.Tables, ts)
	}

	wm, ok, err := p.watermark.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if ok {
		status.Watermark = &wm
	}
	return status, nil
}

func tableNames() []string {
	names := make([]string, 0, 2*len(domain.EntityKinds)+1)
	for _, kind := range domain.EntityKinds {
		names = append(names, kind.Table())
	}
	for _, kind := range domain.EntityKinds {
		names = append(names, kind.ProcessedTable())
	}
	return append(names, domain.FeaturesTable)
}

func (p *Pipeline) run(ctx context.Context, mode domain.RunMode, since *time.Time) (stats *domain.RunStats, err error) {
	startedAt := p.clock.Now().UTC().Truncate(time.Second)
	stats = domain.NewRunStats(mode, startedAt)
	stats.PreviousWatermark = since

	logger := p.logger.With("mode", mode)
	logger.Info("starting run",
		"since", timeAttr(since),
		"full_window_days", p.config.FullWindowDays,
	)

	p.metrics.PipelineRunning.Set(1)
	defer func() {
		p.metrics.PipelineRunning.Set(0)
		stats.Duration = p.clock.Since(startedAt)
		p.metrics.RunDuration.WithLabelValues(string(mode)).Observe(stats.Duration.Seconds())
		p.metrics.RunsTotal.WithLabelValues(string(mode), outcome(stats, err)).Inc()
	}()

	extractions := p.extract(ctx, mode, startedAt, since)
	for _, ext := range extractions {
		ks := domain.KindStats{
			Extracted: len(ext.Records),
			Pages:     ext.Pages,
			Partial:   ext.Partial(),
		}
		if ext.Err != nil {
			ks.Error = ext.Err.Error()
			stats.Errors++
		}
		stats.Kinds[ext.Kind] = ks
	}

	if err := p.persistRaw(ctx, mode, extractions, stats); err != nil {
		return stats, err
	}

	rows, err := p.rebuildProcessed(ctx, stats)
	if err != nil {
		return stats, err
	}

	p.export(ctx, rows, stats)

	if readings := extractions[domain.KindReadings]; readings.Partial() {
		logger.Warn("readings extraction incomplete, watermark not advanced",
			"error", readings.Err,
		)
	} else {
		if err := p.watermark.Write(ctx, startedAt); err != nil {
			return stats, fmt.Errorf("write watermark: %w", err)
		}
		stats.Watermark = &startedAt
		p.metrics.WatermarkTimestamp.Set(float64(startedAt.Unix()))
	}

	p.notify(ctx, stats)

	logger.Info("run completed",
		"stations", stats.Kinds[domain.KindStations].Extracted,
		"readings", stats.Kinds[domain.KindReadings].Extracted,
		"floods", stats.Kinds[domain.KindFloods].Extracted,
		"feature_rows", stats.FeatureRows,
		"exported", stats.Exported,
		"errors", stats.Errors,
		"watermark", timeAttr(stats.Watermark),
		"duration", p.clock.Since(startedAt),
	)

	return stats, nil
}

func (p *Pipeline) extract(ctx context.Context, mode domain.RunMode, startedAt time.Time, since *time.Time) map[domain.EntityKind]domain.Extraction {
	out := make(map[domain.EntityKind]domain.Extraction, len(domain.EntityKinds))

	out[domain.KindStations] = p.extractor.Stations(ctx)
	if mode == domain.ModeIncremental && since != nil {
		out[domain.KindReadings] = p.extractor.ReadingsSince(ctx, *since)
	} else {
		out[domain.KindReadings] = p.extractor.ReadingsWindow(ctx, startedAt.AddDate(0, 0, -p.config.FullWindowDays), startedAt)
	}
	out[domain.KindFloods] = p.extractor.Floods(ctx)

	return out
}

// persistRaw saves the verbatim records and writes the raw tables. A kind
// whose extraction failed before its first page keeps its previous data.
func (p *Pipeline) persistRaw(ctx context.Context, mode domain.RunMode, extractions map[domain.EntityKind]domain.Extraction, stats *domain.RunStats) error {
	for _, kind := range domain.EntityKinds {
		ext := extractions[kind]
		if ext.Partial() && len(ext.Records) == 0 {
			p.logger.Warn("nothing extracted, keeping previous data", "kind", kind)
			continue
		}

		if err := p.raw.Save(ctx, kind, ext.Records); err != nil {
			return fmt.Errorf("save raw %s: %w", kind, err)
		}

		var (
			n   int
			err error
		)
		if kind == domain.KindReadings && mode == domain.ModeIncremental {
			if len(ext.Records) == 0 {
				continue
			}
			n, err = p.writer.WriteAppendMerge(ctx, kind.Table(), ext.Records)
		} else {
			n, err = p.writer.WriteFull(ctx, kind.Table(), ext.Records)
		}
		if err != nil {
			return fmt.Errorf("write %s table: %w", kind, err)
		}
		stats.RowsWritten[kind.Table()] = n
	}
	return nil
}

// rebuildProcessed normalizes the raw tables and derives the feature table
// from them.
func (p *Pipeline) rebuildProcessed(ctx context.Context, stats *domain.RunStats) ([]domain.FeatureRow, error) {
	raw := make(map[domain.EntityKind][]domain.Record, len(domain.EntityKinds))
	for _, kind := range domain.EntityKinds {
		t, err := p.tables.Read(ctx, kind.Table())
		if err != nil && !errors.Is(err, table.ErrNotFound) {
			return nil, fmt.Errorf("read %s table: %w", kind, err)
		}
		raw[kind] = t.Rows
	}

	stations := p.normalizer.Stations(raw[domain.KindStations])
	readings := p.normalizer.Readings(raw[domain.KindReadings])
	floods := p.normalizer.Floods(raw[domain.KindFloods])

	processed := map[domain.EntityKind][]domain.Record{
		domain.KindStations: recordsOf(stations),
		domain.KindReadings: recordsOf(readings),
		domain.KindFloods:   recordsOf(floods),
	}
	for _, kind := range domain.EntityKinds {
		n, err := p.writer.WriteFull(ctx, kind.ProcessedTable(), processed[kind])
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", kind.ProcessedTable(), err)
		}
		stats.RowsWritten[kind.ProcessedTable()] = n
	}

	rows := features.Build(stations, readings)
	n, err := p.writer.WriteFull(ctx, domain.FeaturesTable, features.Records(rows))
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", domain.FeaturesTable, err)
	}
	stats.RowsWritten[domain.FeaturesTable] = n
	stats.FeatureRows = len(rows)

	return rows, nil
}

func (p *Pipeline) export(ctx context.Context, rows []domain.FeatureRow, stats *domain.RunStats) {
	if p.sink == nil || len(rows) == 0 {
		return
	}
	if err := p.sink.LoadBatch(ctx, rows); err != nil {
		stats.Errors++
		p.logger.Error("feature export failed", "rows", len(rows), "error", err)
		return
	}
	stats.Exported = len(rows)
	p.metrics.FeaturesExported.Add(float64(len(rows)))
}

func (p *Pipeline) notify(ctx context.Context, stats *domain.RunStats) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishRun(ctx, stats); err != nil {
		stats.Errors++
		p.logger.Error("run notification failed", "error", err)
	}
}

type recorder interface {
	Record() domain.Record
}

func recordsOf[T recorder](items []T) []domain.Record {
	out := make([]domain.Record, len(items))
	for i, item := range items {
		out[i] = item.Record()
	}
	return out
}

func timeAttr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func outcome(stats *domain.RunStats, err error) string {
	switch {
	case err != nil:
		return "error"
	case stats.Errors > 0:
		return "partial"
	}
	return "success"
}
