// Package graph resolves project containers through the graph service.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"approval/api/internal/cache"
	"approval/api/internal/upstream"
)

var ErrProjectNotFound = errors.New("project not found")

type Project struct {
	ID   string `json:"global_entity_id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type Client struct {
	http  *upstream.Client
	cache cache.Cache
}

func NewClient(baseURL string, timeout time.Duration, c cache.Cache) *Client {
	return &Client{http: upstream.NewClient("graph", baseURL, timeout), cache: c}
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client, c cache.Cache) *Client {
	return &Client{http: upstream.NewClientWithHTTP("graph", baseURL, httpClient), cache: c}
}

// ProjectByCode returns the first Container node with the given code.
func (c *Client) ProjectByCode(ctx context.Context, code string) (Project, error) {
	return cache.Fetch(ctx, c.cache, "project:"+code, func(ctx context.Context) (Project, error) {
		req, err := c.http.NewRequest(ctx, http.MethodPost, "nodes/Container/query", nil, map[string]string{"code": code})
		if err != nil {
			return Project{}, err
		}
		var nodes []Project
		if err := c.http.Do(req, &nodes); err != nil {
			return Project{}, err
		}
		if len(nodes) == 0 {
			return Project{}, fmt.Errorf("%w: %s", ErrProjectNotFound, code)
		}
		return nodes[0], nil
	})
}
