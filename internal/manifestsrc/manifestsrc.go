// Package manifestsrc supplies concrete manifest producers for the two
// transports the rest of the repo already speaks: plain HTTP and
// S3-compatible object storage.
package manifestsrc

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/jacobfgrant/reconciler/internal/fetcher"
	"github.com/jacobfgrant/reconciler/internal/manifest"
)

// HTTPSource returns a manifest.ManifestSource that fetches and
// JSON-decodes a manifest document over f, reusing the generic Fetcher
// rather than a dedicated HTTP client.
func HTTPSource(f fetcher.Fetcher, requestConfig map[string]any) manifest.ManifestSource {
	return func(ctx context.Context) (manifest.Manifest, error) {
		resp, err := f.Fetch(ctx, requestConfig)
		if err != nil {
			return nil, fmt.Errorf("fetching manifest: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetching manifest: status %d", resp.StatusCode)
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading manifest body: %w", err)
		}

		return manifest.ParseJSON(data)
	}
}

// s3GetObjectAPI is the subset of *s3.Client's surface S3Source needs,
// narrow enough for a test double to satisfy without a real client.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source returns a manifest.ManifestSource that downloads bucket/key
// with a single GetObject call, for devices that keep their manifest
// next to the assets it describes in the same bucket. A manifest
// document is small enough that the multipart transfer manager buys
// nothing over a direct GetObject.
func S3Source(client s3GetObjectAPI, bucket, key string) manifest.ManifestSource {
	return func(ctx context.Context) (manifest.Manifest, error) {
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("downloading manifest s3://%s/%s: %w", bucket, key, err)
		}
		defer out.Body.Close()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("reading manifest s3://%s/%s: %w", bucket, key, err)
		}

		return manifest.ParseJSON(data)
	}
}

// parseS3URL splits an "s3://bucket/key" reference, for callers that want
// to build an S3Source from a single URL rather than a separate
// bucket/key pair.
func parseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parsing s3 url %q: %w", raw, err)
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("not an s3:// url: %q", raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// S3SourceFromURL is a convenience wrapper around S3Source for an
// "s3://bucket/key" manifest reference.
func S3SourceFromURL(client s3GetObjectAPI, rawURL string) (manifest.ManifestSource, error) {
	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}
	return S3Source(client, bucket, key), nil
}

// S3SourceFromConfig builds its own client from cfg and returns an
// S3SourceFromURL over it, for callers that only have credentials and an
// "s3://bucket/key" reference, not an already-constructed client.
func S3SourceFromConfig(cfg fetcher.S3Config, rawURL string) (manifest.ManifestSource, error) {
	return S3SourceFromURL(fetcher.NewS3Client(cfg), rawURL)
}
