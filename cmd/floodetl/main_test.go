package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flood_etl/internal/config"
	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
)

func TestPrintStatus(t *testing.T) {
	wm := time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)
	var buf bytes.Buffer

	err := printStatus(&buf, &domain.Status{
		Tables: []domain.TableStatus{
			{Name: "stations", Exists: true, Rows: 2, Columns: 9},
			{Name: "features"},
		},
		Watermark: &wm,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, []string{"TABLE", "ROWS", "COLUMNS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"stations", "2", "9"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"features", "-", "-"}, strings.Fields(lines[2]))
	assert.Equal(t, "last extraction: 2024-01-02T06:00:00Z", lines[4])
}

func TestPrintStatusNeverExtracted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, &domain.Status{}))
	assert.Contains(t, buf.String(), "last extraction: never")
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), "rebuild", &config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorContains(t, err, `unknown command "rebuild"`)
}

func TestBuildAppStatusOnEmptyDataDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  data_dir: "+filepath.Join(dir, "data")+"\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(context.Background(), cfg, observability.NewMetricsForTesting(), logger, false)
	require.NoError(t, err)
	defer a.Close(logger)

	status, err := a.pipeline.Status(context.Background())
	require.NoError(t, err)
	assert.Nil(t, status.Watermark)
	require.Len(t, status.Tables, 7)
	for _, tbl := range status.Tables {
		assert.False(t, tbl.Exists, tbl.Name)
	}
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestBuildAppSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage = config.StorageConfig{
		DataDir:   dir,
		Tables:    config.BackendSQLite,
		Raw:       config.BackendFile,
		Watermark: config.BackendDatabase,
	}
	cfg.Database.Path = filepath.Join(dir, "flood.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := buildApp(context.Background(), cfg, observability.NewMetricsForTesting(), logger, false)
	require.NoError(t, err)
	defer a.Close(logger)

	assert.NoError(t, a.pipeline.CheckReadiness(context.Background()))
	assert.FileExists(t, cfg.Database.Path)
}
