package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flood_etl/internal/domain"
	"flood_etl/internal/server"
)

type fakeBackend struct {
	readyErr  error
	status    *domain.Status
	statusErr error
}

func (f *fakeBackend) CheckReadiness(_ context.Context) error { return f.readyErr }

func (f *fakeBackend) Status(_ context.Context) (*domain.Status, error) {
	return f.status, f.statusErr
}

func newTestServer(b *fakeBackend) *server.Server {
	return server.NewServer(":0", b, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func serve(srv *server.Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	rec := serve(newTestServer(&fakeBackend{}), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(&fakeBackend{}), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])
}

func TestReadyzReturns503WhenWatermarkUnreadable(t *testing.T) {
	rec := serve(newTestServer(&fakeBackend{readyErr: errors.New("database is closed")}), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "database is closed", body["error"])
}

func TestStatusReportsTables(t *testing.T) {
	wm := time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC)
	b := &fakeBackend{status: &domain.Status{
		Tables: []domain.TableStatus{
			{Name: "stations", Exists: true, Rows: 2, Columns: 9},
			{Name: "features"},
		},
		Watermark: &wm,
	}}

	rec := serve(newTestServer(b), "/status")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got domain.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, b.status.Tables, got.Tables)
	require.NotNil(t, got.Watermark)
	assert.True(t, wm.Equal(*got.Watermark))
}

func TestStatusError(t *testing.T) {
	rec := serve(newTestServer(&fakeBackend{statusErr: errors.New("boom")}), "/status")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", decode(t, rec)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(&fakeBackend{}), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestUnknownMethodRejected(t *testing.T) {
	srv := newTestServer(&fakeBackend{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
