// Package client is a Go client for the anchor API server.
//
// # Usage Example
//
//	c, err := client.New("http://localhost:8095", client.WithToken(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := c.StartCluster(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	run, err := c.WaitStarted(ctx, time.Second, func(s models.ClusterStatus) {
//	    fmt.Println(s)
//	})
package client

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

	"github.com/gorilla/websocket"

	"evalgo.org/anchor/internal/api"
	"evalgo.org/anchor/models"
)

// Client talks to one anchor API server.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid baseURL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url(path string, query url.Values) string {
	u := *c.baseURL
	u.Path += path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a request and decodes a 2xx JSON body into out, if out is non-nil.
// Any other status is returned as an *api.APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path, query), r)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	apiErr := &api.APIError{}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr = &api.APIError{Message: http.StatusText(resp.StatusCode), Details: strings.TrimSpace(string(data))}
	}
	apiErr.Code = resp.StatusCode
	return apiErr
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}

// Health returns nil when the server and its container engine are up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// Cluster returns the observed state of the managed cluster.
func (c *Client) Cluster(ctx context.Context) (*api.ClusterResponse, error) {
	var resp api.ClusterResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/cluster", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StartCluster asks the server to start the cluster. It returns once the
// start is accepted; use WaitStarted or Events to follow it.
func (c *Client) StartCluster(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/cluster/start", nil, nil, nil)
}

// StopCluster stops and removes every managed container.
func (c *Client) StopCluster(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/v1/cluster/stop", nil, nil, nil)
}

// RemoveCluster removes every managed container and, with images, their images.
func (c *Client) RemoveCluster(ctx context.Context, images bool) error {
	var q url.Values
	if images {
		q = url.Values{"images": {"true"}}
	}
	return c.do(ctx, http.MethodPost, "/api/v1/cluster/remove", q, nil, nil)
}

// WaitStarted polls the cluster every interval until the last start has
// finished. onStatus, if set, receives every status notification once, in
// order. A start that finished with an error is returned as an error along
// with the run.
func (c *Client) WaitStarted(ctx context.Context, interval time.Duration, onStatus func(models.ClusterStatus)) (*api.StartRun, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seen := 0
	for {
		resp, err := c.Cluster(ctx)
		if err != nil {
			return nil, err
		}

		run := resp.LastStart
		if run == nil {
			return nil, fmt.Errorf("no cluster start recorded")
		}
		for ; seen < len(run.Statuses); seen++ {
			if onStatus != nil {
				onStatus(run.Statuses[seen])
			}
		}
		if run.FinishedAt != nil {
			if run.Error != "" {
				return run, errors.New(run.Error)
			}
			return run, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TaskFilter narrows Tasks. Zero fields do not filter.
type TaskFilter struct {
	Status models.TaskStatus
	Kind   models.TaskKind
	Limit  int
	Offset int
}

// Tasks lists scheduled tasks.
func (c *Client) Tasks(ctx context.Context, f TaskFilter) (*api.TasksResponse, error) {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Kind != "" {
		q.Set("kind", string(f.Kind))
	}
	if f.Limit > 0 {
		q.Set("limit", fmt.Sprint(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", fmt.Sprint(f.Offset))
	}

	var resp api.TasksResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Task returns one task by id.
func (c *Client) Task(ctx context.Context, id string) (*models.TaskInfo, error) {
	var info models.TaskInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+url.PathEscape(id), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CancelTask cancels a pending or running task.
func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tasks/"+url.PathEscape(id), nil, nil, nil)
}

// envelope is the wire form of one streamed event.
type envelope struct {
	Type      models.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data"`
}

// Events streams progress events to fn until ctx is done or the server
// closes the stream. Frames of unknown type are skipped. It returns nil when
// ctx ends the stream.
func (c *Client) Events(ctx context.Context, fn func(time.Time, models.ProgressEvent)) error {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/api/v1/ws/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		e, err := models.DecodeEvent(env.Type, env.Data)
		if err != nil {
			continue
		}
		fn(env.Timestamp, e)
	}
}
