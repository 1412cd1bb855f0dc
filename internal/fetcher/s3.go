package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config carries the credentials an S3Fetcher or S3 manifest source
// needs.
type S3Config struct {
	EndpointURL string
	KeyID       string
	SecretKey   string
	Region      string
}

// s3GetObjectAPI is the subset of *s3.Client's surface S3Fetcher needs,
// narrow enough for a test double to satisfy without a real client.
type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher treats requestConfig's "url" as an "s3://bucket/key"
// reference and serves it via s3.Client.GetObject, for devices that pull
// manifest assets from a Backblaze/S3-compatible bucket rather than over
// plain HTTP.
type S3Fetcher struct {
	client s3GetObjectAPI
}

// NewS3Client builds the underlying *s3.Client from cfg, for callers
// that need to share one client between an S3Fetcher and an S3 manifest
// source.
func NewS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.KeyID, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.EndpointURL != "" {
		opts.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return s3.New(opts)
}

// NewS3Fetcher builds an S3Fetcher from config.
func NewS3Fetcher(cfg S3Config) *S3Fetcher {
	return NewS3FetcherFromClient(NewS3Client(cfg))
}

// NewS3FetcherFromClient builds an S3Fetcher over an already-constructed
// client, letting callers share one client across an S3Fetcher and an S3
// manifest source, and letting tests inject a fake.
func NewS3FetcherFromClient(client s3GetObjectAPI) *S3Fetcher {
	return &S3Fetcher{client: client}
}

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

func (f *S3Fetcher) Fetch(ctx context.Context, requestConfig map[string]any) (*Response, error) {
	rawURL, _ := requestConfig["url"].(string)
	if rawURL == "" {
		return nil, fmt.Errorf("fetcher: requestConfig missing url")
	}

	bucket, key, err := parseS3URL(rawURL)
	if err != nil {
		return nil, err
	}

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		// The SDK distinguishes missing objects and access errors by
		// error type rather than an HTTP-like status code; the engine
		// only understands "non-2xx status" or "transport error", so a
		// GetObject failure is always surfaced as a transport error and
		// the caller's retry/back-off policy decides what to do next.
		return nil, fmt.Errorf("s3 getobject s3://%s/%s: %w", bucket, key, err)
	}

	return &Response{StatusCode: 200, Body: out.Body}, nil
}
