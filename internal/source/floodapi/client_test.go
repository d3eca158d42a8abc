package floodapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flood_etl/internal/domain"
	"flood_etl/internal/observability"
)

type fakeAPI struct {
	mu       sync.Mutex
	total    int
	failAt   map[int]int // offset -> remaining failures; -1 fails forever
	offsets  []int
	queries  []map[string][]string
	rawPages map[int]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offset, _ := strconv.Atoi(r.URL.Query().Get("_offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("_limit"))
	f.offsets = append(f.offsets, offset)
	f.queries = append(f.queries, r.URL.Query())

	if n, ok := f.failAt[offset]; ok && n != 0 {
		if n > 0 {
			f.failAt[offset] = n - 1
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if raw, ok := f.rawPages[offset]; ok {
		_, _ = io.WriteString(w, raw)
		return
	}

	items := []map[string]any{}
	for i := offset; i < offset+limit && i < f.total; i++ {
		items = append(items, map[string]any{"@id": fmt.Sprintf("item-%d", i), "n": i})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

func newTestClient(t *testing.T, api http.Handler, maxAttempts int) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:        srv.URL,
		Timeout:        2 * time.Second,
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFetchAllStopsAtFirstEmptyPage(t *testing.T) {
	api := &fakeAPI{total: 25}
	c := newTestClient(t, api, 1)

	ext := c.FetchAll(context.Background(), domain.KindStations, "stations", nil, 10)

	require.NoError(t, ext.Err)
	assert.False(t, ext.Partial())
	assert.Len(t, ext.Records, 25)
	assert.Equal(t, 3, ext.Pages)
	assert.Equal(t, []int{0, 10, 20, 30}, api.offsets)
	assert.Equal(t, "item-0", ext.Records[0]["@id"])
	assert.Equal(t, "item-24", ext.Records[24]["@id"])
}

func TestFetchAllMissingItemsEndsPaging(t *testing.T) {
	api := &fakeAPI{total: 100, rawPages: map[int]string{0: `{"meta":{}}`}}
	c := newTestClient(t, api, 1)

	ext := c.FetchAll(context.Background(), domain.KindFloods, "floods", nil, 10)

	require.NoError(t, ext.Err)
	assert.Empty(t, ext.Records)
	assert.Equal(t, []int{0}, api.offsets)
}

func TestFetchAllRetainsPagesBeforeFailure(t *testing.T) {
	// Five pages of data, the third one fails every attempt.
	api := &fakeAPI{total: 50, failAt: map[int]int{20: -1}}
	c := newTestClient(t, api, 2)

	ext := c.FetchAll(context.Background(), domain.KindReadings, "readings", nil, 10)

	require.Error(t, ext.Err)
	assert.True(t, ext.Partial())
	assert.Len(t, ext.Records, 20)
	assert.Equal(t, 2, ext.Pages)

	var fetchErr *FetchError
	require.ErrorAs(t, ext.Err, &fetchErr)
	assert.Equal(t, "readings", fetchErr.Endpoint)
	assert.Equal(t, 20, fetchErr.Offset)
	assert.True(t, IsStatus(ext.Err, http.StatusInternalServerError))

	// two attempts at offset 20, nothing after it
	assert.Equal(t, []int{0, 10, 20, 20}, api.offsets)
}

func TestFetchAllRetriesTransientFailure(t *testing.T) {
	api := &fakeAPI{total: 5, failAt: map[int]int{0: 1}}
	c := newTestClient(t, api, 3)

	ext := c.FetchAll(context.Background(), domain.KindStations, "stations", nil, 10)

	require.NoError(t, ext.Err)
	assert.Len(t, ext.Records, 5)
	assert.Equal(t, []int{0, 0, 10}, api.offsets)
}

func TestFetchAllMalformedJSON(t *testing.T) {
	api := &fakeAPI{total: 30, rawPages: map[int]string{10: `{"items": [`}}
	c := newTestClient(t, api, 1)

	ext := c.FetchAll(context.Background(), domain.KindStations, "stations", nil, 10)

	require.Error(t, ext.Err)
	assert.Len(t, ext.Records, 10)
	assert.Contains(t, ext.Err.Error(), "decode response")
}

func TestPagesStopsWhenConsumerBreaks(t *testing.T) {
	api := &fakeAPI{total: 100}
	c := newTestClient(t, api, 1)

	var got int
	for page, err := range c.Pages(context.Background(), "stations", nil, 10) {
		require.NoError(t, err)
		got += len(page.Items)
		if page.Offset == 10 {
			break
		}
	}

	assert.Equal(t, 20, got)
	assert.Equal(t, []int{0, 10}, api.offsets)
}

func TestPagesRejectsInvalidPageSize(t *testing.T) {
	api := &fakeAPI{total: 10}
	c := newTestClient(t, api, 1)

	ext := c.FetchAll(context.Background(), domain.KindStations, "stations", nil, 0)

	require.Error(t, ext.Err)
	assert.Empty(t, api.offsets)
}

func TestFetchAllHonoursCancellation(t *testing.T) {
	api := &fakeAPI{total: 100}
	c := newTestClient(t, api, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ext := c.FetchAll(ctx, domain.KindStations, "stations", nil, 10)

	require.Error(t, ext.Err)
	assert.True(t, errors.Is(ext.Err, context.Canceled))
	assert.Empty(t, ext.Records)
}

func TestCalculateBackoff(t *testing.T) {
	c := &Client{initialBackoff: time.Second, maxBackoff: 5 * time.Second}

	assert.Equal(t, time.Second, c.calculateBackoff(1))
	assert.Equal(t, 2*time.Second, c.calculateBackoff(2))
	assert.Equal(t, 4*time.Second, c.calculateBackoff(3))
	assert.Equal(t, 5*time.Second, c.calculateBackoff(4))
}

func TestExtractorReadingsParams(t *testing.T) {
	api := &fakeAPI{total: 3}
	c := newTestClient(t, api, 1)
	e := NewExtractor(c, PageSizes{Stations: 5, Readings: 7, Floods: 5}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	since := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	ext := e.ReadingsSince(context.Background(), since)
	require.NoError(t, ext.Err)
	assert.Equal(t, domain.KindReadings, ext.Kind)

	q := api.queries[0]
	assert.Equal(t, []string{"2024-03-01T12:30:00Z"}, q["since"])
	assert.Equal(t, []string{"asc"}, q["_sorted"])
	assert.Equal(t, []string{"7"}, q["_limit"])
	assert.Equal(t, []string{"0"}, q["_offset"])

	api.queries = nil
	ext = e.ReadingsWindow(context.Background(), since.AddDate(0, 0, -90), since)
	require.NoError(t, ext.Err)

	q = api.queries[0]
	assert.Equal(t, []string{"2023-12-02"}, q["startdate"])
	assert.Equal(t, []string{"2024-03-01"}, q["enddate"])
	assert.Empty(t, q["since"])
}
