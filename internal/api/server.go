// Package api exposes the HTTP interface for the ranking data service. It
// parses requests into query specs and resource identifiers, calls into the
// core, and wraps every result in the standard JSON envelope.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ChuanYuanNotBoat/malody-api/internal/crawl"
	"github.com/ChuanYuanNotBoat/malody-api/internal/metrics"
	"github.com/ChuanYuanNotBoat/malody-api/internal/query"
	"github.com/ChuanYuanNotBoat/malody-api/internal/schema"
	"github.com/ChuanYuanNotBoat/malody-api/internal/store"
)

// RowQuerier executes builder statements and the fixed song lookups.
type RowQuerier interface {
	Select(ctx context.Context, stmt query.BoundStatement) ([]map[string]any, error)
	SearchSongs(ctx context.Context, term string, limit int) ([]store.SongSearchResult, error)
	RecentSongs(ctx context.Context, limit int) ([]store.RecentSong, error)
}

// CrawlService serves live page data.
type CrawlService interface {
	GetOrFetch(ctx context.Context, resource string) (crawl.RecordSet, error)
}

// Server wires HTTP handlers to the query builder and crawl coordinator.
type Server struct {
	router      chi.Router
	registry    *schema.Registry
	builder     *query.Builder
	querier     RowQuerier
	coordinator CrawlService
	clock       crawl.Clock
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	registry *schema.Registry,
	builder *query.Builder,
	querier RowQuerier,
	coordinator CrawlService,
	clock crawl.Clock,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry:    registry,
		builder:     builder,
		querier:     querier,
		coordinator: coordinator,
		clock:       clock,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", s.runQuery)
		r.Get("/schema", s.listTables)
		r.Get("/schema/{table}", s.describeTable)
		r.Get("/charts/{cid}/ranking", s.chartRanking)
		r.Route("/songs", func(r chi.Router) {
			r.Get("/search", s.searchSongs)
			r.Get("/recent", s.recentSongs)
			r.Get("/{sid}", s.songCharts)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeData(w, http.StatusOK, map[string]string{"status": "healthy"}, "")
}

type queryRequest struct {
	Table   string          `json:"table"`
	Filters []filterRequest `json:"filters"`
	Sort    *sortRequest    `json:"sort"`
	Offset  int             `json:"offset"`
	Limit   int             `json:"limit"`
}

type filterRequest struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

type sortRequest struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

func (s *Server) runQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	stmt, err := s.builder.Build(toSpec(req))
	if err != nil {
		var verr *query.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, "query build failed")
		return
	}

	rows, err := s.querier.Select(r.Context(), stmt)
	if err != nil {
		s.logger.Error("query execution failed", zap.String("table", req.Table), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "query execution failed")
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"rows": rows, "count": len(rows)}, "")
}

// toSpec converts the wire representation. A JSON array value becomes the
// clause's value list; everything else binds as a single value.
func toSpec(req queryRequest) query.Spec {
	spec := query.Spec{
		Table:  req.Table,
		Offset: req.Offset,
		Limit:  req.Limit,
	}
	for _, f := range req.Filters {
		values, ok := f.Value.([]any)
		if !ok {
			values = []any{f.Value}
		}
		spec.Filters = append(spec.Filters, query.Filter{
			Column: f.Column,
			Op:     schema.Operator(f.Op),
			Values: values,
		})
	}
	if req.Sort != nil {
		spec.Sort = &query.Sort{
			Column:    req.Sort.Column,
			Direction: query.Direction(req.Sort.Direction),
		}
	}
	return spec
}

func (s *Server) listTables(w http.ResponseWriter, _ *http.Request) {
	s.writeData(w, http.StatusOK, map[string]any{"tables": s.registry.Tables()}, "")
}

type columnResponse struct {
	Name      string            `json:"name"`
	Type      string            `json:"type"`
	Operators []schema.Operator `json:"operators"`
}

func (s *Server) describeTable(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	desc, err := s.registry.Describe(table)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "unknown table: "+table)
		return
	}
	columns := make([]columnResponse, len(desc.Columns))
	for i, c := range desc.Columns {
		columns[i] = columnResponse{Name: c.Name, Type: string(c.Type), Operators: c.Operators}
	}
	s.writeData(w, http.StatusOK, map[string]any{"table": desc.Table, "columns": columns}, "")
}

func (s *Server) chartRanking(w http.ResponseWriter, r *http.Request) {
	cid, err := strconv.ParseInt(chi.URLParam(r, "cid"), 10, 64)
	if err != nil || cid <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid chart id")
		return
	}
	records, err := s.coordinator.GetOrFetch(r.Context(), crawl.ResourceID{Kind: crawl.KindChart, ID: cid}.String())
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	message := "chart has no ranking entries"
	if len(records.Rankings) > 0 {
		message = "parsed " + strconv.Itoa(len(records.Rankings)) + " ranking entries"
	}
	s.writeData(w, http.StatusOK, records, message)
}

func (s *Server) songCharts(w http.ResponseWriter, r *http.Request) {
	sid, err := strconv.ParseInt(chi.URLParam(r, "sid"), 10, 64)
	if err != nil || sid <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid song id")
		return
	}
	records, err := s.coordinator.GetOrFetch(r.Context(), crawl.ResourceID{Kind: crawl.KindSong, ID: sid}.String())
	if err != nil {
		s.writeCrawlError(w, err)
		return
	}
	s.writeData(w, http.StatusOK, records, "")
}

func (s *Server) searchSongs(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("q")
	if term == "" {
		s.writeError(w, http.StatusBadRequest, "missing query parameter q")
		return
	}
	limit := queryLimit(r, 20, 50)
	results, err := s.querier.SearchSongs(r.Context(), term, limit)
	if err != nil {
		s.logger.Error("song search failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "song search failed")
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"songs": results, "count": len(results)}, "")
}

func (s *Server) recentSongs(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 10, 50)
	results, err := s.querier.RecentSongs(r.Context(), limit)
	if err != nil {
		s.logger.Error("recent songs lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "recent songs lookup failed")
		return
	}
	s.writeData(w, http.StatusOK, map[string]any{"songs": results, "count": len(results)}, "")
}

// writeCrawlError maps the crawl error taxonomy onto HTTP statuses without
// exposing raw upstream payloads.
func (s *Server) writeCrawlError(w http.ResponseWriter, err error) {
	var (
		mismatch *crawl.StructureMismatch
		fetchErr *crawl.FetchError
	)
	switch {
	case errors.Is(err, crawl.ErrRateLimited):
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
	case errors.As(err, &mismatch):
		s.writeError(w, http.StatusBadGateway, mismatch.Error())
	case errors.As(err, &fetchErr) && fetchErr.NotFound():
		s.writeError(w, http.StatusNotFound, "remote resource not found")
	case errors.As(err, &fetchErr):
		s.writeError(w, http.StatusBadGateway, "remote fetch failed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		s.writeError(w, http.StatusGatewayTimeout, "crawl timed out")
	default:
		s.writeError(w, http.StatusBadRequest, err.Error())
	}
}

// envelope is the standard JSON response shape produced only at this
// boundary.
type envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeData(w http.ResponseWriter, status int, data any, message string) {
	s.writeJSON(w, status, envelope{
		Success:   true,
		Data:      data,
		Message:   message,
		Timestamp: s.clock.Now(),
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, envelope{
		Success:   false,
		Error:     msg,
		Timestamp: s.clock.Now(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
