package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"flood_etl/internal/domain"
)

type Extractor interface {
	Stations(ctx context.Context) domain.Extraction
	Floods(ctx context.Context) domain.Extraction
	ReadingsWindow(ctx context.Context, start, end time.Time) domain.Extraction
	ReadingsSince(ctx context.Context, since time.Time) domain.Extraction
}

type RawStore interface {
	Save(ctx context.Context, kind domain.EntityKind, records []domain.Record) error
}

type TableWriter interface {
	WriteFull(ctx context.Context, name string, records []domain.Record) (int, error)
	WriteAppendMerge(ctx context.Context, name string, records []domain.Record) (int, error)
}

type TableReader interface {
	Read(ctx context.Context, name string) (domain.Table, error)
}

type WatermarkStore interface {
	Read(ctx context.Context) (time.Time, bool, error)
	Write(ctx context.Context, t time.Time) error
}

type FeatureSink interface {
	LoadBatch(ctx context.Context, rows []domain.FeatureRow) error
	Close() error
}

type Publisher interface {
	PublishRun(ctx context.Context, stats *domain.RunStats) error
	Close() error
}
