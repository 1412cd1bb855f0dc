// Package fetcher abstracts "issue a GET for a URL, get a status code and
// a byte stream back" so the Download Engine never depends on a concrete
// transport. HTTPFetcher and S3Fetcher are the two production
// implementations; MockFetcher backs tests.
package fetcher

import (
	"context"
	"io"
)

// Response is the result of a fetch: a status code and a streaming body.
// StatusCode follows HTTP conventions (200 for success) even for
// non-HTTP-backed fetchers, so the Download Engine's 2xx check works
// uniformly.
type Response struct {
	StatusCode int
	Body       io.ReadCloser
}

// Fetcher issues a GET-equivalent request described by requestConfig and
// returns a streaming response. requestConfig always carries "url"
// (manifest.Entry.MergedRequestConfig guarantees this); other keys are
// interpreted by the concrete Fetcher and otherwise ignored.
type Fetcher interface {
	Fetch(ctx context.Context, requestConfig map[string]any) (*Response, error)
}
