package floodapi

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"flood_etl/internal/domain"
)

const (
	stationsEndpoint = "stations"
	readingsEndpoint = "readings"
	floodsEndpoint   = "floods"

	dateLayout = "2006-01-02"
)

// PageSizes sets the page size used for each collection.
type PageSizes struct {
	Stations int
	Readings int
	Floods   int
}

// Extractor pulls the three entity collections through a Client.
type Extractor struct {
	client *Client
	sizes  PageSizes
	logger *slog.Logger
}

func NewExtractor(client *Client, sizes PageSizes, logger *slog.Logger) *Extractor {
	return &Extractor{
		client: client,
		sizes:  sizes,
		logger: logger,
	}
}

// Stations fetches every monitoring station.
func (e *Extractor) Stations(ctx context.Context) domain.Extraction {
	return e.fetch(ctx, domain.KindStations, stationsEndpoint, nil, e.sizes.Stations)
}

// Floods fetches every current flood warning.
func (e *Extractor) Floods(ctx context.Context) domain.Extraction {
	return e.fetch(ctx, domain.KindFloods, floodsEndpoint, nil, e.sizes.Floods)
}

// ReadingsWindow fetches readings dated between start and end inclusive,
// oldest first.
func (e *Extractor) ReadingsWindow(ctx context.Context, start, end time.Time) domain.Extraction {
	params := url.Values{}
	params.Set("startdate", start.UTC().Format(dateLayout))
	params.Set("enddate", end.UTC().Format(dateLayout))
	params.Set("_sorted", "asc")
	return e.fetch(ctx, domain.KindReadings, readingsEndpoint, params, e.sizes.Readings)
}

// ReadingsSince fetches readings taken at or after since, oldest first.
func (e *Extractor) ReadingsSince(ctx context.Context, since time.Time) domain.Extraction {
	params := url.Values{}
	params.Set("since", since.UTC().Format(time.RFC3339))
	params.Set("_sorted", "asc")
	return e.fetch(ctx, domain.KindReadings, readingsEndpoint, params, e.sizes.Readings)
}

func (e *Extractor) fetch(ctx context.Context, kind domain.EntityKind, endpoint string, params url.Values, pageSize int) domain.Extraction {
	start := time.Now()
	ext := e.client.FetchAll(ctx, kind, endpoint, params, pageSize)

	attrs := []any{
		"kind", kind,
		"records", len(ext.Records),
		"pages", ext.Pages,
		"duration", time.Since(start),
	}
	if ext.Err != nil {
		e.logger.Warn("extraction incomplete", append(attrs, "error", ext.Err)...)
	} else {
		e.logger.Info("extracted", attrs...)
	}

	return ext
}
