package sqldb

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
	"flood_etl/internal/table"
)

// StoreSuite runs against any driver; SQLite here, Postgres in the
// integration build.
type StoreSuite struct {
	suite.Suite
	ctx context.Context
	db  *sqlx.DB

	tables    *TableStore
	watermark *WatermarkStore
}

func (s *StoreSuite) SetupTest() {
	s.tables = NewTableStore(s.db, NewTransactionManager(s.db))
	s.watermark = NewWatermarkStore(s.db, "")

	for _, name := range []string{"readings", "stations"} {
		_, _ = s.db.ExecContext(s.ctx, `DROP TABLE IF EXISTS `+quoteIdent(name))
	}
	_, _ = s.db.ExecContext(s.ctx, `DELETE FROM etl_watermark`)
}

type SQLiteStoreSuite struct {
	StoreSuite
}

func (s *SQLiteStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	db, err := Open(s.ctx, DriverSQLite, filepath.Join(s.T().TempDir(), "flood.db"))
	s.Require().NoError(err)
	s.db = db
}

func (s *SQLiteStoreSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, new(SQLiteStoreSuite))
}

func (s *StoreSuite) TestTableStore_ReadMissing() {
	_, err := s.tables.Read(s.ctx, "readings")
	s.ErrorIs(err, table.ErrNotFound)
}

func (s *StoreSuite) TestTableStore_ReplaceAndRead() {
	in := domain.Table{
		Columns: []string{"@id", "dateTime", "value"},
		Rows: []domain.Record{
			{"@id": "R3", "value": 3.5},
			{"@id": "R1", "dateTime": "2024-01-01T00:00:00Z", "value": ""},
			{"@id": "R2", "value": true},
		},
	}

	s.Require().NoError(s.tables.Replace(s.ctx, "readings", in))

	out, err := s.tables.Read(s.ctx, "readings")
	s.Require().NoError(err)
	s.Equal([]string{"@id", "dateTime", "value"}, out.Columns)
	s.Equal([]domain.Record{
		{"@id": "R3", "value": "3.5"},
		{"@id": "R1", "dateTime": "2024-01-01T00:00:00Z"},
		{"@id": "R2", "value": "true"},
	}, out.Rows)
}

func (s *StoreSuite) TestTableStore_ReplaceWidensColumns() {
	s.Require().NoError(s.tables.Replace(s.ctx, "readings", domain.Table{
		Columns: []string{"id"},
		Rows:    []domain.Record{{"id": "R1"}},
	}))
	s.Require().NoError(s.tables.Replace(s.ctx, "readings", domain.Table{
		Columns: []string{"id", "unit"},
		Rows:    []domain.Record{{"id": "R1"}, {"id": "R2", "unit": "m"}},
	}))

	out, err := s.tables.Read(s.ctx, "readings")
	s.Require().NoError(err)
	s.Equal([]string{"id", "unit"}, out.Columns)
	s.Len(out.Rows, 2)
	s.Equal("m", out.Rows[1]["unit"])
}

func (s *StoreSuite) TestTableStore_ManyRowsKeepOrder() {
	rows := make([]domain.Record, 1200)
	for i := range rows {
		rows[i] = domain.Record{"n": i}
	}

	s.Require().NoError(s.tables.Replace(s.ctx, "readings", domain.Table{Columns: []string{"n"}, Rows: rows}))

	out, err := s.tables.Read(s.ctx, "readings")
	s.Require().NoError(err)
	s.Require().Len(out.Rows, 1200)
	s.Equal("0", out.Rows[0]["n"])
	s.Equal("1199", out.Rows[1199]["n"])
}

func (s *StoreSuite) TestTableStore_FailedReplaceKeepsPrevious() {
	s.Require().NoError(s.tables.Replace(s.ctx, "stations", domain.Table{
		Columns: []string{"id"},
		Rows:    []domain.Record{{"id": "S1"}},
	}))

	tm := NewTransactionManager(s.db)
	boom := errors.New("boom")
	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if err := s.tables.Replace(ctx, "stations", domain.Table{Columns: []string{"id"}}); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	out, err := s.tables.Read(s.ctx, "stations")
	s.Require().NoError(err)
	s.Equal([]domain.Record{{"id": "S1"}}, out.Rows)
}

func (s *StoreSuite) TestTableStore_AppendMergeThroughWriter() {
	w := table.NewWriter(s.tables, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := w.WriteAppendMerge(s.ctx, "readings", []domain.Record{{"id": "R1", "value": 1.0}})
	s.Require().NoError(err)
	_, err = w.WriteAppendMerge(s.ctx, "readings", []domain.Record{{"id": "R2", "qualifier": "Estimated"}})
	s.Require().NoError(err)

	out, err := s.tables.Read(s.ctx, "readings")
	s.Require().NoError(err)
	s.Equal([]string{"id", "qualifier", "value"}, out.Columns)
	s.Equal([]domain.Record{
		{"id": "R1", "value": "1"},
		{"id": "R2", "qualifier": "Estimated"},
	}, out.Rows)
}

func (s *StoreSuite) TestWatermark_AbsentThenUpsert() {
	_, ok, err := s.watermark.Read(s.ctx)
	s.Require().NoError(err)
	s.False(ok)

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)
	s.Require().NoError(s.watermark.Write(s.ctx, first))
	s.Require().NoError(s.watermark.Write(s.ctx, second))

	got, ok, err := s.watermark.Read(s.ctx)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(second, got)
	s.NoError(s.watermark.Ping(s.ctx))
}
