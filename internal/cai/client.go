// Package cai is a REST client for the machine learning platform's v2 API.
//
// Every call goes through Client.Request, which adds the bearer credential,
// applies the per-call timeout, and turns non-2xx responses into *APIError
// values. Nothing above this package talks to net/http directly.
package cai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	APIPrefix       = "/api/v2"
	maxResponseSize = 8 << 20
)

type Options struct {
	// Host is the platform URL, e.g. https://ml-1234.example.site
	Host   string
	APIKey string
	// Timeout bounds a single request, including reading the body.
	Timeout time.Duration
	// RequestsPerSecond throttles outgoing calls. Zero disables throttling.
	RequestsPerSecond float64
	PageSize          int
	// Transport overrides the base round tripper, mostly for tests.
	Transport http.RoundTripper
}

type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

func NewClient(opts Options) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(opts.Host), "/")
	if host == "" {
		return nil, errors.New("platform host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("platform api key is required")
	}

	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	c := &Client{
		baseURL: host + APIPrefix,
		http: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{
					AccessToken: apiKey,
					TokenType:   "Bearer",
				}),
				Base: base,
			},
		},
		pageSize: pageSize,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

// Request sends body as JSON to path (relative to the API prefix) and decodes
// a 2xx response into out. out may be nil. Non-2xx responses are returned as
// *APIError and network failures as *TransportError.
func (c *Client) Request(ctx context.Context, method, path string, body, out any) error {
	path = "/" + strings.TrimLeft(path, "/")

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Method: method, Path: path, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s body: %w", method, path, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return &TransportError{Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// paginate calls fetch with successive page tokens until the platform stops
// returning one.
func (c *Client) paginate(path string, fetch func(pagePath string) (string, error)) error {
	token := ""
	for {
		q := url.Values{}
		q.Set("page_size", strconv.Itoa(c.pageSize))
		if token != "" {
			q.Set("page_token", token)
		}
		next, err := fetch(path + "?" + q.Encode())
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		if next == token {
			return fmt.Errorf("list %s: page token %q repeated", path, next)
		}
		token = next
	}
}

func (c *Client) Close() {
	c.http.CloseIdleConnections()
}
