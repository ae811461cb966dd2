package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"approval/api/internal/metadata"
	"approval/api/internal/review"
	"approval/api/internal/store"
)

func newTestServer() (http.Handler, *testDeps) {
	svc, deps := newTestService()
	return NewHTTPServer(svc, "*", zerolog.Nop()).Handler(), deps
}

func doRequest(t *testing.T, handler http.Handler, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response: %v (%s)", err, rr.Body.String())
		}
	}
	return rr, env
}

func TestHealthEndpoint(t *testing.T) {
	handler, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response["ok"])
	}
}

func TestReadyEndpointReportsDatabaseFailure(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.pingFn = func(context.Context) error {
		return errors.New("connection refused")
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/ready", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", response["status"])
	}
}

func TestPreflightAndRequestID(t *testing.T) {
	handler, _ := newTestServer()
	req := httptest.NewRequest(http.MethodOptions, "/v1/request/copy/p1", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected CORS origin %q", got)
	}
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	handler, _ := newTestServer()
	rr, env := doRequest(t, handler, http.MethodGet, "/v1/unknown", "")
	if rr.Code != http.StatusNotFound || env.Code != http.StatusNotFound || env.ErrorCode != "NOT_FOUND" {
		t.Fatalf("unexpected response %d %+v", rr.Code, env)
	}
}

func TestCreateRequestEndpoint(t *testing.T) {
	handler, deps := newTestServer()
	seedProjectTree(deps.items)

	body := `{"entity_ids":["f1"],"source_id":"src","destination_id":"dst","note":"copy please","submitted_by":"alice"}`
	rr, env := doRequest(t, handler, http.MethodPost, "/v1/request/copy/p1", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	result, ok := env.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result %T", env.Result)
	}
	if result["id"] != testRequestID || result["status"] != store.RequestPending {
		t.Fatalf("unexpected request %+v", result)
	}
	if result["submitted_at"] != "2024-03-01T10:00:00.000Z" {
		t.Fatalf("unexpected submitted_at %v", result["submitted_at"])
	}
	if result["completed_at"] != nil {
		t.Fatalf("expected null completed_at, got %v", result["completed_at"])
	}
}

func TestCreateRequestEndpointRejectsMalformedBody(t *testing.T) {
	handler, _ := newTestServer()
	rr, env := doRequest(t, handler, http.MethodPost, "/v1/request/copy/p1", `{"note":`)
	if rr.Code != http.StatusBadRequest || env.ErrorMsg != "invalid JSON body" {
		t.Fatalf("unexpected response %d %+v", rr.Code, env)
	}
}

func TestListRequestsEndpointPaging(t *testing.T) {
	handler, deps := newTestServer()
	var filter store.RequestFilter
	deps.store.listRequestsFn = func(_ context.Context, f store.RequestFilter) ([]store.Request, int, error) {
		filter = f
		return []store.Request{{ID: testRequestID, Status: store.RequestPending, ProjectCode: "p1"}}, 21, nil
	}

	rr, env := doRequest(t, handler, http.MethodGet, "/v1/request/copy/p1?status=pending&page=2&page_size=10&submitted_by=alice", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if filter.ProjectCode != "p1" || filter.Page != 2 || filter.PageSize != 10 || filter.SubmittedBy != "alice" {
		t.Fatalf("unexpected filter %+v", filter)
	}
	if env.Page != 2 || env.Total != 21 || env.NumOfPages != 3 {
		t.Fatalf("unexpected paging %+v", env)
	}
}

func TestListRequestsEndpointDefaultsPageSize(t *testing.T) {
	handler, deps := newTestServer()
	var filter store.RequestFilter
	deps.store.listRequestsFn = func(_ context.Context, f store.RequestFilter) ([]store.Request, int, error) {
		filter = f
		return nil, 0, nil
	}
	rr, _ := doRequest(t, handler, http.MethodGet, "/v1/request/copy/p1?status=complete", "")
	if rr.Code != http.StatusOK || filter.PageSize != 25 {
		t.Fatalf("unexpected response %d, page size %d", rr.Code, filter.PageSize)
	}
}

func TestListRequestsEndpointRejectsPageSize(t *testing.T) {
	handler, _ := newTestServer()
	rr, _ := doRequest(t, handler, http.MethodGet, "/v1/request/copy/p1?status=pending&page_size=0", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestCompleteEndpointBlockedByPendingFiles(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.getRequestFn = pendingRequest("p1")
	deps.store.pendingFileIDsFn = func(context.Context, string) ([]string, error) {
		return []string{"a", "b"}, nil
	}

	body := `{"request_id":"` + testRequestID + `","status":"complete","review_notes":"ok","username":"admin"}`
	rr, env := doRequest(t, handler, http.MethodPut, "/v1/request/copy/p1", body)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if env.ErrorMsg != "2 pending files in request" {
		t.Fatalf("unexpected error message %q", env.ErrorMsg)
	}
	result, ok := env.Result.(map[string]any)
	if !ok {
		t.Fatalf("expected blocking result, got %T", env.Result)
	}
	if result["status"] != store.RequestPending || result["pending_count"] != float64(2) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestReviewSelectedEndpointForwardsAuth(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.getRequestFn = pendingRequest("p1")
	deps.store.nodes = reviewNodes()

	body := `{"request_id":"` + testRequestID + `","review_status":"approved","entity_ids":["a"],"username":"admin","session_id":"s1"}`
	req := httptest.NewRequest(http.MethodPatch, "/v1/request/copy/p1/files", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(deps.dispatcher.calls) != 1 {
		t.Fatalf("expected one copy trigger, got %d", len(deps.dispatcher.calls))
	}
	if got := deps.dispatcher.auths[0].Authorization; got != "secret" {
		t.Fatalf("expected forwarded token, got %q", got)
	}
	var env struct {
		Result review.Result `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Result.Updated != 1 {
		t.Fatalf("unexpected result %+v", env.Result)
	}
}

func TestReviewAllEndpointDispatchFailure(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.getRequestFn = pendingRequest("p1")
	deps.store.nodes = reviewNodes()
	deps.dispatcher.err = errors.New("pipeline unavailable")

	body := `{"request_id":"` + testRequestID + `","review_status":"approved","username":"admin"}`
	rr, env := doRequest(t, handler, http.MethodPut, "/v1/request/copy/p1/files", body)
	if rr.Code != http.StatusBadGateway || env.ErrorCode != "COPY_TRIGGER_FAILED" {
		t.Fatalf("unexpected response %d %+v", rr.Code, env)
	}
	result, ok := env.Result.(map[string]any)
	if !ok || result["updated"] != float64(2) {
		t.Fatalf("expected committed result in envelope, got %+v", env.Result)
	}
}

func TestListFilesEndpointParsesFilters(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.getRequestFn = pendingRequest("p1")
	var filter store.EntityFilter
	deps.store.listEntitiesFn = func(_ context.Context, f store.EntityFilter) ([]store.Entity, int, error) {
		filter = f
		return []store.Entity{{
			ID:         "row-1",
			EntityID:   "a",
			EntityType: store.EntityFile,
			Name:       "a.txt",
			UploadedAt: time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.UTC),
		}}, 1, nil
	}

	params := url.Values{}
	params.Set("request_id", testRequestID)
	params.Set("query", `{"name":"a.txt","file_size":10}`)
	params.Set("partial", `["name"]`)
	params.Set("order_by", "name")
	params.Set("order_type", "asc")
	rr, env := doRequest(t, handler, http.MethodGet, "/v1/request/copy/p1/files?"+params.Encode(), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if filter.Query["name"] != "a.txt" || filter.Query["file_size"] != "10" {
		t.Fatalf("unexpected query %+v", filter.Query)
	}
	if len(filter.Partial) != 1 || filter.Partial[0] != "name" {
		t.Fatalf("unexpected partial %+v", filter.Partial)
	}
	result := env.Result.(map[string]any)
	data := result["data"].([]any)
	first := data[0].(map[string]any)
	if first["uploaded_at"] != "2024-01-02T03:04:05.600Z" {
		t.Fatalf("unexpected uploaded_at %v", first["uploaded_at"])
	}
	if routing := result["routing"].([]any); len(routing) != 0 {
		t.Fatalf("expected empty routing, got %v", routing)
	}
}

func TestListFilesEndpointRejectsMalformedQuery(t *testing.T) {
	handler, _ := newTestServer()
	rr, env := doRequest(t, handler, http.MethodGet, "/v1/request/copy/p1/files?request_id="+testRequestID+"&query=%7Bbad", "")
	if rr.Code != http.StatusBadRequest || !strings.HasPrefix(env.ErrorMsg, "Invalid json") {
		t.Fatalf("unexpected response %d %+v", rr.Code, env)
	}
}

func TestPendingFilesEndpoint(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.getRequestFn = pendingRequest("p1")
	deps.store.pendingFileIDsFn = func(context.Context, string) ([]string, error) {
		return []string{"a"}, nil
	}
	deps.items.items["a"] = metadata.Item{ID: "a"}

	rr, env := doRequest(t, handler, http.MethodGet, "/v1/request/copy/p1/pending-files?request_id="+testRequestID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	result := env.Result.(map[string]any)
	if result["pending_count"] != float64(1) {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	handler, deps := newTestServer()
	deps.store.getRequestFn = pendingRequest("p1")
	deleted := ""
	deps.store.deleteRequestFn = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}

	rr, env := doRequest(t, handler, http.MethodDelete, "/v1/request/copy/p1/delete/"+testRequestID, "")
	if rr.Code != http.StatusOK || env.Result != "success" || deleted != testRequestID {
		t.Fatalf("unexpected response %d %+v", rr.Code, env)
	}

	rr, _ = doRequest(t, handler, http.MethodDelete, "/v1/request/copy/other/delete/"+testRequestID, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another project, got %d", rr.Code)
	}
}
