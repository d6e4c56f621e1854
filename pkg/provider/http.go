package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPResult holds the response from a single upstream call.
type HTTPResult struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// PostJSON sends body to baseURL+path and reads the whole response.
// Transport errors are returned as classified failures.
func PostJSON(ctx context.Context, client *http.Client, name, baseURL, path string, headers map[string]string, body []byte) (*HTTPResult, error) {
	target, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, &Failure{Kind: KindInvalidRequest, Provider: name, Message: "invalid provider URL", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, &Failure{Kind: KindInvalidRequest, Provider: name, Message: "create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, Classify(name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(name, fmt.Errorf("read response: %w", err))
	}

	return &HTTPResult{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Header:     resp.Header,
	}, nil
}

// Failure returns the classified failure for a non-2xx result, or nil.
func (r *HTTPResult) Failure(name string) *Failure {
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return nil
	}
	return FromStatus(name, r.StatusCode, r.Body, ParseRetryAfter(r.Header.Get("Retry-After")))
}
