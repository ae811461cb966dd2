// Package pipeline triggers the data-ops copy pipeline for approved entities.
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"approval/api/internal/upstream"
)

// Auth carries the caller's credentials forwarded to the data-ops service.
type Auth struct {
	Authorization string
	RefreshToken  string
}

// AuthFromHeader extracts forwarded credentials from an incoming request.
// The data-ops service expects the raw token, so the bearer prefix is dropped.
func AuthFromHeader(header http.Header) Auth {
	token := strings.TrimSpace(header.Get("Authorization"))
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	return Auth{
		Authorization: token,
		RefreshToken:  header.Get("Refresh-Token"),
	}
}

// CopyRequest is one copy trigger for a set of top-level entities.
type CopyRequest struct {
	RequestID     string
	ProjectCode   string
	SourceID      string
	DestinationID string
	TargetIDs     []string
	Operator      string
	SessionID     string
}

type target struct {
	ID string `json:"id"`
}

type copyPayload struct {
	Targets     []target `json:"targets"`
	Destination string   `json:"destination"`
	Source      string   `json:"source"`
	RequestID   string   `json:"request_id"`
}

type actionBody struct {
	Payload     copyPayload `json:"payload"`
	Operator    string      `json:"operator"`
	Operation   string      `json:"operation"`
	ProjectCode string      `json:"project_code"`
	SessionID   string      `json:"session_id"`
}

type Client struct {
	http *upstream.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{http: upstream.NewClient("dataops", baseURL, timeout)}
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{http: upstream.NewClientWithHTTP("dataops", baseURL, httpClient)}
}

// TriggerCopy posts a copy action and returns the service's result payload.
func (c *Client) TriggerCopy(ctx context.Context, in CopyRequest, auth Auth) (json.RawMessage, error) {
	targets := make([]target, 0, len(in.TargetIDs))
	for _, id := range in.TargetIDs {
		targets = append(targets, target{ID: id})
	}
	body := actionBody{
		Payload: copyPayload{
			Targets:     targets,
			Destination: in.DestinationID,
			Source:      in.SourceID,
			RequestID:   in.RequestID,
		},
		Operator:    in.Operator,
		Operation:   "copy",
		ProjectCode: in.ProjectCode,
		SessionID:   in.SessionID,
	}

	req, err := c.http.NewRequest(ctx, http.MethodPost, "files/actions/", nil, body)
	if err != nil {
		return nil, err
	}
	if auth.Authorization != "" {
		req.Header.Set("Authorization", auth.Authorization)
	}
	if auth.RefreshToken != "" {
		req.Header.Set("Refresh-Token", auth.RefreshToken)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.http.Do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}
