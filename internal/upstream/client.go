// Package upstream holds the JSON-over-HTTP plumbing shared by the clients of
// collaborator services (metadata, data-ops pipeline, auth, graph, email).
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"approval/api/internal/metrics"
)

const maxErrorBody = 2048

// Error reports a failed call to a collaborator service. StatusCode is zero when
// the service could not be reached at all.
type Error struct {
	Service    string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s service unreachable: %v", e.Service, e.Err)
	}
	return fmt.Sprintf("%s service returned %d: %s", e.Service, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client issues JSON requests against one collaborator service.
type Client struct {
	service    string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for service rooted at baseURL. A zero timeout
// falls back to 30 seconds so calls never hang indefinitely.
func NewClient(service, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		service: service,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithHTTP is used by tests to point a client at an httptest server.
func NewClientWithHTTP(service, baseURL string, httpClient *http.Client) *Client {
	return &Client{service: service, baseURL: baseURL, httpClient: httpClient}
}

func (c *Client) Service() string {
	return c.service
}

// NewRequest builds a request for path (relative to the base URL) with an
// optional query string and JSON body.
func (c *Client) NewRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request body: %w", c.service, err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	target := joinURL(c.baseURL, path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.service, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Do sends req and decodes a 2xx JSON response into result (when non-nil).
// Any other status becomes an *Error carrying the response body.
func (c *Client) Do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(c.service, "unreachable")
		return &Error{Service: c.service, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordUpstream(c.service, "error")
		return &Error{Service: c.service, StatusCode: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordUpstream(c.service, "error")
		text := strings.TrimSpace(string(body))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &Error{Service: c.service, StatusCode: resp.StatusCode, Body: text}
	}
	metrics.RecordUpstream(c.service, "ok")

	if result != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode %s response: %w", c.service, err)
		}
	}
	return nil
}

func joinURL(base, path string) string {
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
