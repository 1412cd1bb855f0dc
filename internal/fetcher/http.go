package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPFetcher issues requests with the standard library's net/http. It
// reads "url" (required), and optionally "method" (default GET) and
// "headers" (map[string]string) out of requestConfig.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher with a sane default timeout,
// surfacing expiry as a Transport-shaped error from the caller's point
// of view.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, requestConfig map[string]any) (*Response, error) {
	rawURL, _ := requestConfig["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("fetcher: requestConfig missing url")
	}

	method := http.MethodGet
	if m, ok := requestConfig["method"].(string); ok && m != "" {
		method = m
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	if headers, ok := requestConfig["headers"].(map[string]string); ok {
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
