package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Client is a rate limited API client.
// It is safe for concurrent use by multiple goroutines.
type Client struct {
	transport *Transport
	manager   *Manager
}

// NewClient creates a client authenticating with token. Bare tokens are
// sent as bot tokens; tokens starting with "Bot " or "Bearer " are sent as-is.
func NewClient(token string, opts ...Option) *Client {
	cfg := newConfig(opts)
	t := newTransport(token, cfg)
	return &Client{
		transport: t,
		manager:   newManager(t, cfg),
	}
}

// Manager returns the rate limit manager.
func (c *Client) Manager() *Manager {
	return c.manager
}

// StartJanitor sweeps idle buckets until ctx is done.
func (c *Client) StartJanitor(ctx context.Context) {
	c.manager.StartJanitor(ctx)
}

// Do sends req and returns the raw 2xx response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	return c.manager.Do(ctx, req)
}

// Get sends a GET request and decodes the response into out, if non-nil.
func (c *Client) Get(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.request(ctx, http.MethodGet, endpoint, nil, out, opts)
}

// Post sends body as JSON and decodes the response into out, if non-nil.
func (c *Client) Post(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.request(ctx, http.MethodPost, endpoint, body, out, opts)
}

// Patch sends body as JSON and decodes the response into out, if non-nil.
func (c *Client) Patch(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.request(ctx, http.MethodPatch, endpoint, body, out, opts)
}

// Put sends body as JSON and decodes the response into out, if non-nil.
func (c *Client) Put(ctx context.Context, endpoint string, body, out any, opts ...RequestOption) error {
	return c.request(ctx, http.MethodPut, endpoint, body, out, opts)
}

// Delete sends a DELETE request and decodes the response into out, if non-nil.
func (c *Client) Delete(ctx context.Context, endpoint string, out any, opts ...RequestOption) error {
	return c.request(ctx, http.MethodDelete, endpoint, nil, out, opts)
}

func (c *Client) request(ctx context.Context, method, endpoint string, body, out any, opts []RequestOption) error {
	req := &Request{Method: method, Endpoint: endpoint, Body: body}
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("fluxer: decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

// RequestOption configures a single request.
type RequestOption func(*Request)

// WithQuery adds query parameters.
func WithQuery(q url.Values) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		for k, vs := range q {
			r.Query[k] = append(r.Query[k], vs...)
		}
	}
}

// WithReason sets the audit log reason.
func WithReason(reason string) RequestOption {
	return func(r *Request) {
		r.Reason = reason
	}
}

// WithFiles uploads files as a multipart request.
func WithFiles(files ...File) RequestOption {
	return func(r *Request) {
		r.Files = append(r.Files, files...)
	}
}

// WithHeader sets an extra request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}
