// Package client is a Go client for the ruleengine HTTP API.
package client

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

	"github.com/google/uuid"
)

// Client talks to a ruleengine server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key as a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rule is a stored rule as returned by the server.
type Rule struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	RuleString string          `json:"rule_string"`
	AST        json.RawMessage `json:"ast"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Compiled is the result of compiling a rule without storing it.
type Compiled struct {
	AST    json.RawMessage `json:"ast"`
	Fields []string        `json:"fields"`
	Depth  int             `json:"depth"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Position and Token are set for rule syntax errors.
	Position *int
	Token    string
	// Field is set for evaluation errors.
	Field string
	// Path is set for invalid ASTs.
	Path string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ruleengine: %d %s", e.StatusCode, e.Message)
}

// CreateRule compiles and stores rule under name. An empty name defaults to
// the rule text.
func (c *Client) CreateRule(ctx context.Context, name, rule string) (*Rule, error) {
	req := map[string]string{"rule_string": rule}
	if name != "" {
		req["name"] = name
	}
	var out Rule
	if err := c.do(ctx, http.MethodPost, "/api/rules", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rule fetches a stored rule.
func (c *Client) Rule(ctx context.Context, id string) (*Rule, error) {
	var out Rule
	if err := c.do(ctx, http.MethodGet, "/api/rules/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Rules lists stored rules, newest first.
func (c *Client) Rules(ctx context.Context) ([]Rule, error) {
	var out struct {
		Rules []Rule `json:"rules"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rules", nil, &out); err != nil {
		return nil, err
	}
	return out.Rules, nil
}

// DeleteRule removes a stored rule.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/rules/"+url.PathEscape(id), nil, nil)
}

// Compile parses rule on the server and returns its AST.
func (c *Client) Compile(ctx context.Context, rule string) (*Compiled, error) {
	var out Compiled
	if err := c.do(ctx, http.MethodPost, "/api/compile", map[string]string{"rule_string": rule}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type evalRequest struct {
	AST  json.RawMessage `json:"ast,omitempty"`
	Data map[string]any  `json:"data"`
}

type evalResponse struct {
	Result bool `json:"result"`
}

// Evaluate evaluates a serialized AST against data.
func (c *Client) Evaluate(ctx context.Context, ast json.RawMessage, data map[string]any) (bool, error) {
	var out evalResponse
	if err := c.do(ctx, http.MethodPost, "/api/evaluate", evalRequest{AST: ast, Data: data}, &out); err != nil {
		return false, err
	}
	return out.Result, nil
}

// EvaluateRule evaluates the stored rule id against data.
func (c *Client) EvaluateRule(ctx context.Context, id string, data map[string]any) (bool, error) {
	var out evalResponse
	path := "/api/rules/" + url.PathEscape(id) + "/evaluate"
	if err := c.do(ctx, http.MethodPost, path, evalRequest{Data: data}, &out); err != nil {
		return false, err
	}
	return out.Result, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var body struct {
		Message  string `json:"message"`
		Position *int   `json:"position"`
		Token    string `json:"token"`
		Field    string `json:"field"`
		Path     string `json:"path"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(data))
	}
	return &APIError{
		StatusCode: status,
		Message:    body.Message,
		Position:   body.Position,
		Token:      body.Token,
		Field:      body.Field,
		Path:       body.Path,
	}
}
