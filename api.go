package supportchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// APIError is a non-2xx HTTP response.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// HTTPClient sends the non-socket requests of a conversation. Every request
// carries the same fixed headers as the socket handshake.
type HTTPClient struct {
	client *http.Client
	logger *slog.Logger

	mu     sync.RWMutex
	header http.Header
}

// NewHTTPClient creates a client. hc may be nil.
func NewHTTPClient(header http.Header, hc *http.Client, logger *slog.Logger) *HTTPClient {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		client: hc,
		header: header.Clone(),
		logger: logger.With("component", "http"),
	}
}

// SetHeader replaces one default header.
func (c *HTTPClient) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.header == nil {
		c.header = http.Header{}
	}
	c.header.Set(key, value)
}

// SendRequest sends params to rawURL and decodes the JSON object in the
// response. GET params go in the query string and must be strings; other
// methods send params as a JSON body. A nil map is returned when the response
// body is not a JSON object.
func (c *HTTPClient) SendRequest(ctx context.Context, method, rawURL string, params map[string]any) (map[string]any, error) {
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	var body io.Reader
	if method == http.MethodGet {
		q := target.Query()
		for k, v := range params {
			s, ok := v.(string)
			if !ok {
				c.logger.Warn("skipping non-string GET parameter", "name", k)
				continue
			}
			q.Add(k, s)
		}
		target.RawQuery = q.Encode()
	} else if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.mu.RUnlock()
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, URL: rawURL, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out map[string]any
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			c.logger.Warn("response is not a JSON object", "url", rawURL, "error", err)
			return nil, nil
		}
	}
	return out, nil
}
