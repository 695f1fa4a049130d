package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ignite/inboxbench/internal/pkg/httpretry"
)

// maxErrorBody bounds the response text kept on an APIError.
const maxErrorBody = 512

// Client performs JSON requests against one platform's REST API. Adapters
// supply the auth scheme; retries happen in the wrapped HTTPDoer.
type Client struct {
	provider   string
	baseURL    string
	httpClient httpretry.HTTPDoer
	authorize  func(req *http.Request)
}

// NewClient creates a client for baseURL. authorize is called on every
// request to attach credentials.
func NewClient(provider, baseURL string, doer httpretry.HTTPDoer, authorize func(req *http.Request)) *Client {
	if doer == nil {
		doer = httpretry.NewRetryClient(nil, httpretry.DefaultMaxAttempts)
	}
	return &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
		authorize:  authorize,
	}
}

// Do sends body (if non-nil) as JSON and decodes a 2xx response into out
// (if non-nil). A non-2xx response becomes an *APIError tagged with op.
func (c *Client) Do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	fullURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s %s: marshaling request body: %w", c.provider, op, err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return fmt.Errorf("%s %s: creating request: %w", c.provider, op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: executing request: %w", c.provider, op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: reading response: %w", c.provider, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &APIError{Provider: c.provider, Op: op, StatusCode: resp.StatusCode, Body: text}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s %s: parsing response: %w", c.provider, op, err)
	}
	return nil
}
