package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ChuanYuanNotBoat/malody-api/internal/crawl"
	"github.com/ChuanYuanNotBoat/malody-api/internal/query"
	"github.com/ChuanYuanNotBoat/malody-api/internal/schema"
	"github.com/ChuanYuanNotBoat/malody-api/internal/store"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeQuerier struct {
	rows      []map[string]any
	lastStmt  query.BoundStatement
	searchHit []store.SongSearchResult
	recentHit []store.RecentSong
	err       error
}

func (f *fakeQuerier) Select(_ context.Context, stmt query.BoundStatement) ([]map[string]any, error) {
	f.lastStmt = stmt
	return f.rows, f.err
}

func (f *fakeQuerier) SearchSongs(_ context.Context, _ string, _ int) ([]store.SongSearchResult, error) {
	return f.searchHit, f.err
}

func (f *fakeQuerier) RecentSongs(_ context.Context, _ int) ([]store.RecentSong, error) {
	return f.recentHit, f.err
}

type fakeCrawler struct {
	records  crawl.RecordSet
	err      error
	resource string
}

func (f *fakeCrawler) GetOrFetch(_ context.Context, resource string) (crawl.RecordSet, error) {
	f.resource = resource
	return f.records, f.err
}

func newTestServer(querier RowQuerier, crawler CrawlService) *Server {
	registry := schema.NewRegistry()
	return NewServer(
		registry,
		query.NewBuilder(registry, 500),
		querier,
		crawler,
		fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		zap.NewNop(),
	)
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, &fakeCrawler{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, true, body["success"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRunQuery_Success(t *testing.T) {
	t.Parallel()
	querier := &fakeQuerier{rows: []map[string]any{{"cid": float64(10)}, {"cid": float64(30)}}}
	s := newTestServer(querier, &fakeCrawler{})

	payload := `{
		"table": "player_rankings",
		"filters": [
			{"column": "cid", "op": "equals", "value": 12345},
			{"column": "score", "op": "greaterThan", "value": 899999}
		],
		"sort": {"column": "score", "direction": "desc"},
		"limit": 100
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(payload))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeEnvelope(t, rec)
	require.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	require.Equal(t, float64(2), data["count"])
	require.Contains(t, querier.lastStmt.SQL, "WHERE cid = ? AND score > ?")
}

func TestRunQuery_ArrayValuesBindOperators(t *testing.T) {
	t.Parallel()
	querier := &fakeQuerier{rows: []map[string]any{}}
	s := newTestServer(querier, &fakeCrawler{})

	payload := `{
		"table": "charts",
		"filters": [
			{"column": "mode", "op": "in", "value": [0, 3, 5]},
			{"column": "cid", "op": "between", "value": [100, 200]}
		]
	}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(payload))
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, querier.lastStmt.SQL, "mode IN (?, ?, ?)")
	require.Contains(t, querier.lastStmt.SQL, "cid BETWEEN ? AND ?")
}

func TestRunQuery_ValidationFailures(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, &fakeCrawler{})

	cases := []struct {
		name    string
		payload string
	}{
		{"invalid json", `{not json`},
		{"unknown table", `{"table": "secrets"}`},
		{"unknown column", `{"table": "songs", "filters": [{"column": "nope", "op": "equals", "value": 1}]}`},
		{"disallowed operator", `{"table": "songs", "filters": [{"column": "title", "op": "greaterThan", "value": "a"}]}`},
		{"limit over ceiling", `{"table": "songs", "limit": 501}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(tc.payload))
			s.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeEnvelope(t, rec)
			require.Equal(t, false, body["success"])
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestSchemaEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, &fakeCrawler{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	require.Len(t, data["tables"], 6)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schema/player_rankings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeEnvelope(t, rec)["data"].(map[string]any)
	require.Equal(t, "player_rankings", data["table"])
	require.NotEmpty(t, data["columns"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/schema/unknown", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChartRanking_Success(t *testing.T) {
	t.Parallel()
	crawler := &fakeCrawler{records: crawl.RecordSet{
		Resource: crawl.ResourceID{Kind: crawl.KindChart, ID: 42},
		Rankings: []crawl.RankingRow{{Rank: 1, PlayerName: "alpha", Score: 990000}},
	}}
	s := newTestServer(&fakeQuerier{}, crawler)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/charts/42/ranking", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "chart:42", crawler.resource)
	body := decodeEnvelope(t, rec)
	data := body["data"].(map[string]any)
	require.Equal(t, "chart:42", data["resource"])
	require.Len(t, data["rankings"], 1)
}

func TestChartRanking_InvalidID(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, &fakeCrawler{})

	for _, path := range []string{"/v1/charts/abc/ranking", "/v1/charts/0/ranking", "/v1/charts/-3/ranking"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
	}
}

func TestCrawlErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"rate limited", crawl.ErrRateLimited, http.StatusTooManyRequests},
		{"structure mismatch", &crawl.StructureMismatch{Kind: crawl.KindChart, Landmark: "div.song_title"}, http.StatusBadGateway},
		{"remote 404", &crawl.FetchError{URL: "u", StatusCode: 404}, http.StatusNotFound},
		{"remote 503", &crawl.FetchError{URL: "u", StatusCode: 503}, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(&fakeQuerier{}, &fakeCrawler{err: tc.err})
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/charts/42/ranking", nil))
			require.Equal(t, tc.want, rec.Code)
			body := decodeEnvelope(t, rec)
			require.Equal(t, false, body["success"])
		})
	}
}

func TestSongCharts(t *testing.T) {
	t.Parallel()
	crawler := &fakeCrawler{records: crawl.RecordSet{
		Resource: crawl.ResourceID{Kind: crawl.KindSong, ID: 321},
		Charts:   []crawl.SongChart{{ChartID: 1111, Mode: 0, Status: 2}},
	}}
	s := newTestServer(&fakeQuerier{}, crawler)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/songs/321", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "song:321", crawler.resource)
}

func TestSearchSongs(t *testing.T) {
	t.Parallel()
	querier := &fakeQuerier{searchHit: []store.SongSearchResult{{SongID: 1, Title: "Freedom Dive"}}}
	s := newTestServer(querier, &fakeCrawler{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/songs/search?q=freedom", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(1), data["count"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/songs/search", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecentSongs(t *testing.T) {
	t.Parallel()
	querier := &fakeQuerier{recentHit: []store.RecentSong{{SongID: 3, Title: "Halcyon"}}}
	s := newTestServer(querier, &fakeCrawler{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/songs/recent?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeEnvelope(t, rec)["data"].(map[string]any)
	require.Equal(t, float64(1), data["count"])
}

func TestEnvelopeTimestampUsesClock(t *testing.T) {
	t.Parallel()
	s := newTestServer(&fakeQuerier{}, &fakeCrawler{})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	body := decodeEnvelope(t, rec)
	require.Equal(t, "2026-03-01T12:00:00Z", body["timestamp"])
}
