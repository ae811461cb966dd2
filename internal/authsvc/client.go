// Package authsvc looks up platform users and role members in the auth service.
package authsvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"approval/api/internal/cache"
	"approval/api/internal/upstream"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// DisplayFirstName falls back to the username when no first name is set.
func (u User) DisplayFirstName() string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return u.Username
}

type Client struct {
	http  *upstream.Client
	cache cache.Cache
}

func NewClient(baseURL string, timeout time.Duration, c cache.Cache) *Client {
	return &Client{http: upstream.NewClient("auth", baseURL, timeout), cache: c}
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client, c cache.Cache) *Client {
	return &Client{http: upstream.NewClientWithHTTP("auth", baseURL, httpClient), cache: c}
}

func (c *Client) GetUser(ctx context.Context, username string) (User, error) {
	return cache.Fetch(ctx, c.cache, "user:"+username, func(ctx context.Context) (User, error) {
		query := url.Values{}
		query.Set("username", username)
		query.Set("exact", "true")
		req, err := c.http.NewRequest(ctx, http.MethodGet, "admin/user", query, nil)
		if err != nil {
			return User{}, err
		}
		var resp struct {
			Result json.RawMessage `json:"result"`
		}
		if err := c.http.Do(req, &resp); err != nil {
			return User{}, err
		}
		raw := bytes.TrimSpace(resp.Result)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		var user User
		if err := json.Unmarshal(raw, &user); err != nil {
			return User{}, fmt.Errorf("decode user %s: %w", username, err)
		}
		if user.Username == "" {
			return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, username)
		}
		return user, nil
	})
}

// ProjectAdmins lists the active members of the project's admin role.
func (c *Client) ProjectAdmins(ctx context.Context, projectCode string) ([]User, error) {
	return cache.Fetch(ctx, c.cache, "admins:"+projectCode, func(ctx context.Context) ([]User, error) {
		body := map[string]any{
			"role_names": []string{projectCode + "-admin"},
			"status":     "active",
		}
		req, err := c.http.NewRequest(ctx, http.MethodPost, "admin/roles/users", nil, body)
		if err != nil {
			return nil, err
		}
		var resp struct {
			Result []User `json:"result"`
		}
		if err := c.http.Do(req, &resp); err != nil {
			return nil, err
		}
		return resp.Result, nil
	})
}
