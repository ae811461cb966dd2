package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"approval/api/internal/logging"
	"approval/api/internal/metrics"
	"approval/api/internal/pipeline"
	"approval/api/internal/review"
	"approval/api/internal/store"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, notFound("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, domainError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil))
	})

	r.Get("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	r.Get("/v1/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/request/copy/{project_code}", func(r chi.Router) {
		r.Post("/", s.handleCreateRequest)
		r.Get("/", s.handleListRequests)
		r.Put("/", s.handleCompleteRequest)
		r.Get("/files", s.handleListFiles)
		r.Put("/files", s.handleReviewAll)
		r.Patch("/files", s.handleReviewSelected)
		r.Get("/pending-files", s.handlePendingFiles)
		r.Delete("/delete/{request_id}", s.handleDeleteRequest)
	})
	return r
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	created, err := s.service.CreateRequest(r.Context(), chi.URLParam(r, "project_code"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, newRequestView(created), 0, 1, 1)
}

func (s *HTTPServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := s.pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	requests, total, err := s.service.ListRequests(r.Context(), chi.URLParam(r, "project_code"), ListRequestsInput{
		Status:      query.Get("status"),
		SubmittedBy: query.Get("submitted_by"),
		Page:        page,
		PageSize:    pageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]requestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, newRequestView(req))
	}
	writeResult(w, views, page, total, numPages(total, pageSize))
}

func (s *HTTPServer) handleCompleteRequest(w http.ResponseWriter, r *http.Request) {
	var body CompleteRequestInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	result, err := s.service.CompleteRequest(r.Context(), chi.URLParam(r, "project_code"), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, result, 0, 1, 1)
}

func (s *HTTPServer) handleListFiles(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := s.pagination(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	filters, err := parseQueryJSON(query.Get("query"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	partial, err := parsePartialJSON(query.Get("partial"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	files, err := s.service.ListFiles(r.Context(), chi.URLParam(r, "project_code"), ListFilesInput{
		RequestID: query.Get("request_id"),
		ParentID:  query.Get("parent_id"),
		Query:     filters,
		Partial:   partial,
		OrderBy:   query.Get("order_by"),
		OrderType: query.Get("order_type"),
		Page:      page,
		PageSize:  pageSize,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, map[string]any{
		"data":    newEntityViews(files.Data),
		"routing": newEntityViews(files.Routing),
	}, page, files.Total, numPages(files.Total, pageSize))
}

func (s *HTTPServer) handleReviewAll(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, true)
}

func (s *HTTPServer) handleReviewSelected(w http.ResponseWriter, r *http.Request) {
	s.handleReview(w, r, false)
}

func (s *HTTPServer) handleReview(w http.ResponseWriter, r *http.Request, all bool) {
	var body ReviewInput
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}
	auth := pipeline.AuthFromHeader(r.Header)
	project := chi.URLParam(r, "project_code")

	apply := s.service.ReviewSelected
	if all {
		apply = s.service.ReviewAll
	}
	result, err := apply(r.Context(), project, body, auth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, result, 0, 1, 1)
}

func (s *HTTPServer) handlePendingFiles(w http.ResponseWriter, r *http.Request) {
	blockers, err := s.service.PendingFiles(r.Context(), chi.URLParam(r, "project_code"), r.URL.Query().Get("request_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, blockers, 0, 1, 1)
}

func (s *HTTPServer) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteRequest(r.Context(), chi.URLParam(r, "project_code"), chi.URLParam(r, "request_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeResult(w, "success", 0, 1, 1)
}

// pagination reads page and page_size, defaulting page_size from config.
func (s *HTTPServer) pagination(r *http.Request) (page, pageSize int, err error) {
	query := r.URL.Query()
	pageSize = s.service.DefaultPageSize()
	if raw := query.Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 0 {
			return 0, 0, badRequest("page must be a non-negative integer")
		}
	}
	if raw := query.Get("page_size"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil || pageSize <= 0 {
			return 0, 0, badRequest("page_size must be a positive integer")
		}
	}
	return page, pageSize, nil
}

// parseQueryJSON decodes the files filter object into column/value strings.
func parseQueryJSON(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var values map[string]any
	if err := decoder.Decode(&values); err != nil {
		return nil, badRequest(fmt.Sprintf("Invalid json: %s", raw))
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			return nil, badRequest(fmt.Sprintf("Invalid json: unsupported value for %s", key))
		}
	}
	return out, nil
}

func parsePartialJSON(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var fields []string
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, badRequest(fmt.Sprintf("Invalid json: %s", raw))
	}
	return fields, nil
}

func numPages(total, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

type requestView struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	SubmittedBy     string  `json:"submitted_by"`
	SubmittedAt     string  `json:"submitted_at"`
	SourceID        string  `json:"source_id"`
	SourcePath      string  `json:"source_path"`
	DestinationID   string  `json:"destination_id"`
	DestinationPath string  `json:"destination_path"`
	Note            string  `json:"note"`
	ProjectCode     string  `json:"project_code"`
	ReviewNotes     *string `json:"review_notes"`
	CompletedBy     *string `json:"completed_by"`
	CompletedAt     *string `json:"completed_at"`
}

func newRequestView(req store.Request) requestView {
	return requestView{
		ID:              req.ID,
		Status:          req.Status,
		SubmittedBy:     req.SubmittedBy,
		SubmittedAt:     formatTime(req.SubmittedAt),
		SourceID:        req.SourceID,
		SourcePath:      req.SourcePath,
		DestinationID:   req.DestinationID,
		DestinationPath: req.DestinationPath,
		Note:            req.Note,
		ProjectCode:     req.ProjectCode,
		ReviewNotes:     req.ReviewNotes,
		CompletedBy:     req.CompletedBy,
		CompletedAt:     formatOptionalTime(req.CompletedAt),
	}
}

type entityView struct {
	ID           string  `json:"id"`
	RequestID    string  `json:"request_id"`
	EntityID     string  `json:"entity_id"`
	EntityType   string  `json:"entity_type"`
	ReviewStatus *string `json:"review_status"`
	ReviewedBy   *string `json:"reviewed_by"`
	ReviewedAt   *string `json:"reviewed_at"`
	ParentID     *string `json:"parent_id"`
	CopyStatus   *string `json:"copy_status"`
	Name         string  `json:"name"`
	UploadedBy   *string `json:"uploaded_by"`
	UploadedAt   string  `json:"uploaded_at"`
	DcmID        *string `json:"dcm_id"`
	FileSize     *int64  `json:"file_size"`
}

func newEntityViews(entities []store.Entity) []entityView {
	views := make([]entityView, 0, len(entities))
	for _, e := range entities {
		views = append(views, entityView{
			ID:           e.ID,
			RequestID:    e.RequestID,
			EntityID:     e.EntityID,
			EntityType:   e.EntityType,
			ReviewStatus: e.ReviewStatus,
			ReviewedBy:   e.ReviewedBy,
			ReviewedAt:   formatOptionalTime(e.ReviewedAt),
			ParentID:     e.ParentID,
			CopyStatus:   e.CopyStatus,
			Name:         e.Name,
			UploadedBy:   e.UploadedBy,
			UploadedAt:   formatTime(e.UploadedAt),
			DcmID:        e.DcmID,
			FileSize:     e.FileSize,
		})
	}
	return views
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := formatTime(*t)
	return &formatted
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		r = r.WithContext(logging.WithRequestID(r.Context(), s.logger, requestID))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		metrics.RecordHTTPRequest(r.Method, route, writer.status, elapsed.Seconds())
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Refresh-Token, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// envelope is the response body of every copy request endpoint.
type envelope struct {
	Code       int    `json:"code"`
	ErrorMsg   string `json:"error_msg"`
	ErrorCode  string `json:"error_code,omitempty"`
	Details    any    `json:"details,omitempty"`
	Result     any    `json:"result"`
	Page       int    `json:"page"`
	Total      int    `json:"total"`
	NumOfPages int    `json:"num_of_pages"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeResult(w http.ResponseWriter, result any, page, total, numOfPages int) {
	writeJSON(w, http.StatusOK, envelope{
		Code:       http.StatusOK,
		Result:     result,
		Page:       page,
		Total:      total,
		NumOfPages: numOfPages,
	})
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	logger := logging.FromContext(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error().Err(err).Int("status", status).Msg("request failed")
	case isBlocked(err):
		logger.Info().Msg(message)
	default:
		logger.Debug().Err(err).Int("status", status).Msg("request rejected")
	}

	var result any
	var domainErr *DomainError
	var dispatchErr *review.DispatchError
	switch {
	case errors.As(err, &domainErr):
		result = domainErr.Result
	case errors.As(err, &dispatchErr):
		result = dispatchErr.Result
	}
	writeJSON(w, status, envelope{
		Code:      status,
		ErrorMsg:  message,
		ErrorCode: code,
		Details:   details,
		Result:    result,
	})
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	if len(bytes.TrimSpace(buf.Bytes())) == 0 {
		return nil
	}
	if err := json.Unmarshal(buf.Bytes(), target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
