// Package metadata is a client for the entity metadata service, the source of
// truth for the live file/folder tree of a project.
package metadata

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"approval/api/internal/upstream"
)

const (
	TypeFile   = "file"
	TypeFolder = "folder"

	// batchSize bounds the number of ids sent in one items/batch query string.
	batchSize = 500
)

var ErrNotFound = errors.New("item not found")

// Item is an entity as reported by the metadata service.
type Item struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Parent        string `json:"parent"`
	ParentPath    string `json:"parent_path"`
	Type          string `json:"type"`
	ContainerCode string `json:"container_code"`
	Zone          int    `json:"zone"`
	Archived      bool   `json:"archived"`
	Owner         string `json:"owner"`
	CreatedTime   string `json:"created_time"`
	Size          int64  `json:"size"`
	DcmID         string `json:"dcm_id,omitempty"`
}

func (i Item) IsFolder() bool {
	return i.Type == TypeFolder
}

// Path is the dotted location of the item itself, i.e. the parent_path its
// children carry.
func (i Item) Path() string {
	return JoinPath(i.ParentPath, i.Name)
}

func JoinPath(parentPath, name string) string {
	if parentPath == "" {
		return name
	}
	return parentPath + "." + name
}

// SearchQuery selects items below a parent path.
type SearchQuery struct {
	ContainerCode string
	Zone          int
	ParentPath    string
	Recursive     bool
}

type Client struct {
	http *upstream.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{http: upstream.NewClient("metadata", baseURL, timeout)}
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{http: upstream.NewClientWithHTTP("metadata", baseURL, httpClient)}
}

// GetItem returns a single item or ErrNotFound when the service has no result.
func (c *Client) GetItem(ctx context.Context, id string) (Item, error) {
	req, err := c.http.NewRequest(ctx, http.MethodGet, "item/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return Item{}, err
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.http.Do(req, &resp); err != nil {
		return Item{}, err
	}
	raw := bytes.TrimSpace(resp.Result)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("{}")) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return Item{}, fmt.Errorf("decode item %s: %w", id, err)
	}
	if item.ID == "" {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

// BatchGet resolves ids in chunks. Ids unknown to the service are simply
// absent from the result.
func (c *Client) BatchGet(ctx context.Context, ids []string) ([]Item, error) {
	items := make([]Item, 0, len(ids))
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		query := url.Values{}
		for _, id := range ids[start:end] {
			query.Add("ids", id)
		}
		req, err := c.http.NewRequest(ctx, http.MethodGet, "items/batch", query, nil)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Result []Item `json:"result"`
		}
		if err := c.http.Do(req, &resp); err != nil {
			return nil, err
		}
		items = append(items, resp.Result...)
	}
	return items, nil
}

func (c *Client) Search(ctx context.Context, q SearchQuery) ([]Item, error) {
	query := url.Values{}
	query.Set("container_code", q.ContainerCode)
	query.Set("zone", strconv.Itoa(q.Zone))
	query.Set("recursive", strconv.FormatBool(q.Recursive))
	query.Set("parent_path", q.ParentPath)

	req, err := c.http.NewRequest(ctx, http.MethodGet, "items/search", query, nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Result []Item `json:"result"`
	}
	if err := c.http.Do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}
