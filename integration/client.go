// Package integration is a small HTTP client for exercising a running bits
// service from tests. Every call issues exactly one request and never fails
// outright: the outcome, good or bad, is captured in a Result.
package integration

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Endpoint is where a locally started service listens.
const Endpoint = "http://localhost:9292"

var (
	// ErrNoResponse marks failures that happened before any response was
	// received, e.g., connection refused.
	ErrNoResponse = errors.New("no response")
)

// StatusError is the error of a failed Result whose response has a 4xx or 5xx
// status code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Result is either a success carrying a response, or a failure carrying an
// error and, for HTTP level failures, the response.
type Result struct {
	response *Response
	err      error
}

// Ok reports whether the request succeeded with a non-error status.
func (r Result) Ok() bool {
	return r.err == nil
}

// Err returns nil on success.
func (r Result) Err() error {
	return r.err
}

// Response returns the response, or nil if none was received.
func (r Result) Response() *Response {
	return r.response
}

// StatusCode returns the response status code, or 0 if there was no response.
func (r Result) StatusCode() int {
	if r.response == nil {
		return 0
	}
	return r.response.StatusCode
}

// Body returns the response body, or nil if there was no response.
func (r Result) Body() []byte {
	if r.response == nil {
		return nil
	}
	return r.response.Body
}

type Option func(*options)

type options struct {
	endpoint string
	client   *http.Client
}

func WithEndpoint(value string) Option {
	return func(o *options) {
		o.endpoint = value
	}
}

func WithHTTPClient(value *http.Client) Option {
	return func(o *options) {
		o.client = value
	}
}

type Client struct {
	opts options
}

func New(opts ...Option) *Client {
	var c Client
	c.opts.endpoint = Endpoint
	c.opts.client = http.DefaultClient
	for _, o := range opts {
		o(&c.opts)
	}
	c.opts.endpoint = strings.TrimSuffix(c.opts.endpoint, "/")
	return &c
}

// Get issues a GET for the endpoint followed by path.
func (c *Client) Get(path string) Result {
	return c.do(http.MethodGet, path, nil)
}

// Put issues a PUT for the endpoint followed by path, sending body unmodified.
func (c *Client) Put(path string, body []byte) Result {
	if body == nil {
		body = []byte{}
	}
	return c.do(http.MethodPut, path, body)
}

func (c *Client) do(method string, path string, body []byte) Result {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequest(method, c.opts.endpoint+path, reader)
	if err != nil {
		return Result{err: fmt.Errorf("%s %s: %v: %w", method, path, err, ErrNoResponse)}
	}
	response, err := c.opts.client.Do(request)
	if response != nil && response.Body != nil {
		defer func() {
			_ = response.Body.Close()
		}()
	}
	if err != nil {
		return Result{err: fmt.Errorf("%s %s: %v: %w", method, path, err, ErrNoResponse)}
	}
	b, err := io.ReadAll(response.Body)
	resp := &Response{
		StatusCode: response.StatusCode,
		Header:     response.Header,
		Body:       b,
	}
	if err != nil {
		return Result{response: resp, err: fmt.Errorf("%s %s: reading body: %w", method, path, err)}
	}
	if response.StatusCode >= http.StatusBadRequest {
		return Result{response: resp, err: &StatusError{StatusCode: response.StatusCode}}
	}
	return Result{response: resp}
}
