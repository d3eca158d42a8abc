package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const DefaultPipelineID = "flood_etl"

// WatermarkStore keeps the watermark as one row of etl_watermark.
type WatermarkStore struct {
	db         *sqlx.DB
	pipelineID string
}

func NewWatermarkStore(db *sqlx.DB, pipelineID string) *WatermarkStore {
	if pipelineID == "" {
		pipelineID = DefaultPipelineID
	}
	return &WatermarkStore{db: db, pipelineID: pipelineID}
}

func (s *WatermarkStore) Read(ctx context.Context) (time.Time, bool, error) {
	var text string
	query := s.db.Rebind(`
		SELECT extracted_until
		FROM etl_watermark
		WHERE pipeline_id = ?`)

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &text, query, s.pipelineID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("select watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", text, err)
	}
	return t.UTC(), true, nil
}

func (s *WatermarkStore) Write(ctx context.Context, t time.Time) error {
	query := s.db.Rebind(`
		INSERT INTO etl_watermark (pipeline_id, extracted_until)
		VALUES (?, ?)
		ON CONFLICT (pipeline_id) DO UPDATE SET
			extracted_until = EXCLUDED.extracted_until`)

	_, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, s.pipelineID, t.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert watermark: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *WatermarkStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
