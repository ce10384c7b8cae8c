// Package apiclient is the HTTP boundary to the backend's CRUD endpoints.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrRequestFailed is matched by every error a Collection returns.
var ErrRequestFailed = errors.New("request failed")

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 4 << 10

// RequestFailedError describes a failed CRUD call. Status is zero when the
// request never produced a response.
type RequestFailedError struct {
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *RequestFailedError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Status, msg)
}

// Is makes errors.Is(err, ErrRequestFailed) true.
func (e *RequestFailedError) Is(target error) bool {
	return target == ErrRequestFailed
}

func (e *RequestFailedError) Unwrap() error {
	return e.Err
}

// Client issues JSON requests against the backend origin.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// New returns a client rooted at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends in as JSON (when non-nil) and decodes the response into out (when
// non-nil). Non-2xx responses become *RequestFailedError.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	target := c.baseURL + path

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &RequestFailedError{Method: method, URL: target, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return &RequestFailedError{Method: method, URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &RequestFailedError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RequestFailedError{
			Method: method,
			URL:    target,
			Status: resp.StatusCode,
			Body:   errorMessage(raw),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &RequestFailedError{
			Method: method,
			URL:    target,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}

// errorMessage extracts {"error": "..."} bodies written by the server and
// falls back to the raw text.
func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return string(raw)
}

// Collection is the CRUD surface of one resource collection:
// GET/POST {path}, PUT/DELETE {path}/{id}.
type Collection[T any] struct {
	client *Client
	path   string
}

// NewCollection binds a collection path such as "/api/agents".
func NewCollection[T any](client *Client, path string) *Collection[T] {
	return &Collection[T]{client: client, path: "/" + strings.Trim(path, "/")}
}

func (c *Collection[T]) itemPath(id string) string {
	return c.path + "/" + url.PathEscape(id)
}

// List fetches the full collection.
func (c *Collection[T]) List(ctx context.Context) ([]T, error) {
	var items []T
	if err := c.client.Do(ctx, http.MethodGet, c.path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Get fetches one item.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var item T
	err := c.client.Do(ctx, http.MethodGet, c.itemPath(id), nil, &item)
	return item, err
}

// Create posts a draft and returns the server's copy with its assigned id.
func (c *Collection[T]) Create(ctx context.Context, draft T) (T, error) {
	var created T
	err := c.client.Do(ctx, http.MethodPost, c.path, draft, &created)
	return created, err
}

// Update replaces the item identified by id.
func (c *Collection[T]) Update(ctx context.Context, id string, item T) (T, error) {
	var updated T
	err := c.client.Do(ctx, http.MethodPut, c.itemPath(id), item, &updated)
	return updated, err
}

// Delete removes the item identified by id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.client.Do(ctx, http.MethodDelete, c.itemPath(id), nil, nil)
}
