// Package manifest defines the declarative list of remote assets a
// working directory should contain.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
)

// Entry declares one asset the reconciler should keep present in the
// working directory.
type Entry struct {
	URL            string         `json:"url"`
	FileName       string         `json:"fileName,omitempty"`
	UnzipTo        string         `json:"unzipTo,omitempty"`
	DelayInSeconds *int           `json:"delayInSeconds,omitempty"`
	RequestConfig  map[string]any `json:"requestConfig,omitempty"`
	RetryLimit     *int           `json:"retryLimit,omitempty"`
}

// Manifest is an ordered sequence of entries, replaced atomically each
// reconciliation tick. No uniqueness constraint is enforced on resolved
// file names; two entries resolving to the same destination are a user
// error and the engine treats the second as a duplicate at download time.
type Manifest []Entry

// ResolvedFileName returns the entry's FileName, defaulting to the last
// path segment of URL when FileName is empty.
func (e Entry) ResolvedFileName() string {
	if e.FileName != "" {
		return e.FileName
	}
	return path.Base(e.URL)
}

// ResolvedRetryLimit returns the entry's RetryLimit, falling back to
// defaultLimit when unset.
func (e Entry) ResolvedRetryLimit(defaultLimit int) int {
	if e.RetryLimit != nil {
		return *e.RetryLimit
	}
	return defaultLimit
}

// ResolvedDelaySeconds returns the entry's DelayInSeconds, falling back
// to defaultDelay when unset.
func (e Entry) ResolvedDelaySeconds(defaultDelay int) int {
	if e.DelayInSeconds != nil {
		return *e.DelayInSeconds
	}
	return defaultDelay
}

// IsZip reports whether the entry's resolved file name ends in ".zip".
func (e Entry) IsZip() bool {
	name := e.ResolvedFileName()
	return len(name) > 4 && name[len(name)-4:] == ".zip"
}

// IsArchive reports whether the entry names a zip archive that should be
// extracted: it ends in ".zip" and UnzipTo is set.
func (e Entry) IsArchive() bool {
	return e.IsZip() && e.UnzipTo != ""
}

// MergedRequestConfig returns a copy of RequestConfig with "url" always
// overridden to the entry's URL: url within request config is never
// trusted from the stored config itself.
func (e Entry) MergedRequestConfig() map[string]any {
	cfg := make(map[string]any, len(e.RequestConfig)+1)
	for k, v := range e.RequestConfig {
		cfg[k] = v
	}
	cfg["url"] = e.URL
	return cfg
}

// Validate checks the one required field.
func (e Entry) Validate() error {
	if e.URL == "" {
		return fmt.Errorf("manifest entry: url is required")
	}
	return nil
}

// ManifestSource produces a fresh Manifest, e.g. by fetching and parsing
// a remote document. It is opaque to the reconciliation loop, which only
// calls it once per tick.
type ManifestSource func(ctx context.Context) (Manifest, error)

// ParseJSON parses a manifest document from raw JSON bytes, as returned
// by an HTTP or S3 manifest producer.
func ParseJSON(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	for i, e := range m {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return m, nil
}

// ToJSON serializes the manifest to JSON bytes.
func (m Manifest) ToJSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
