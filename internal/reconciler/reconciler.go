// Package reconciler is the public API: it wires the Clock, FileSystem,
// Fetcher, and Extractor leaves together with a Download Engine and a
// Reconciliation Loop, and exposes the construction/Init/Start/Close
// surface an embedding application uses.
package reconciler

import (
	"context"
	"strings"
	"time"

	"github.com/jacobfgrant/reconciler/internal/clock"
	"github.com/jacobfgrant/reconciler/internal/engine"
	"github.com/jacobfgrant/reconciler/internal/enginelog"
	"github.com/jacobfgrant/reconciler/internal/extractor"
	"github.com/jacobfgrant/reconciler/internal/fetcher"
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/manifestsrc"
	"github.com/jacobfgrant/reconciler/internal/progress"
	"github.com/jacobfgrant/reconciler/internal/ratelimit"
	"github.com/jacobfgrant/reconciler/internal/reconcile"
)

// Options configures a Reconciler. Zero values take the defaults noted
// below; the FileSystem/Fetcher/Extractor/Clock leaves default to their
// production implementations.
type Options struct {
	AbandonedTimeout         time.Duration // default 30 * time.Minute
	DefaultDelaySeconds      int           // default 0
	DefaultRetryLimit        int           // default 5
	GetDownloadDelay         func(retries int) int
	DisableUnzip             bool
	DownloadManifest         manifest.Manifest
	Interval                 time.Duration // default 60 * time.Second
	Verbose                  bool
	WorkingDirectory         string // default "./downloads"
	GetManifest              manifest.ManifestSource
	DisableImmediateDownload bool

	// ReportProgress enables NDJSON instrumentation events on stdout for
	// scheduling, transfer, extraction, purge, and tick activity.
	ReportProgress bool
	// BandwidthLimitBytesPerSec, when positive, caps combined download
	// throughput across every concurrent transfer.
	BandwidthLimitBytesPerSec int64

	// Transport selects the Fetcher manifest entries download through when
	// Fetcher is left nil: "http" (default) or "s3".
	Transport string
	// S3 supplies the credentials for the "s3" Transport and for an
	// "s3://" ManifestURL, regardless of Transport.
	S3 fetcher.S3Config
	// ManifestURL, when set and GetManifest is nil, is re-fetched on every
	// reconciliation tick: an "s3://" URL through S3, anything else
	// through the configured Transport.
	ManifestURL string

	FileSystem fsadapter.FileSystem
	Fetcher    fetcher.Fetcher
	Extractor  extractor.Extractor
	Clock      clock.Clock
}

// StartOptions parameterizes an ad-hoc Start call.
type StartOptions = engine.StartOptions

// Reconciler is the top-level entry point: an Engine plus the loop that
// drives it on a schedule.
type Reconciler struct {
	engine *engine.Engine
	loop   *reconcile.Loop
	sink   *enginelog.Sink

	workingDir string
}

// New constructs a Reconciler from opts, applying the documented
// defaults for every zero field.
func New(opts Options) *Reconciler {
	fs := opts.FileSystem
	if fs == nil {
		fs = fsadapter.OSFileSystem{}
	}
	f := opts.Fetcher
	if f == nil {
		if opts.Transport == "s3" {
			f = fetcher.NewS3Fetcher(opts.S3)
		} else {
			f = fetcher.NewHTTPFetcher()
		}
	}
	ext := opts.Extractor
	if ext == nil {
		ext = extractor.NewZipExtractor(fs)
	}
	c := opts.Clock
	if c == nil {
		c = clock.RealClock{}
	}

	workingDir := opts.WorkingDirectory
	if workingDir == "" {
		workingDir = "./downloads"
	}

	sink := enginelog.New(nil, opts.Verbose)
	rep := progress.NewReporter(opts.ReportProgress)

	getManifest := opts.GetManifest
	if getManifest == nil && opts.ManifestURL != "" {
		if strings.HasPrefix(opts.ManifestURL, "s3://") {
			src, err := manifestsrc.S3SourceFromConfig(opts.S3, opts.ManifestURL)
			if err != nil {
				sink.Errorf("reconciler: malformed manifest url %q: %v", opts.ManifestURL, err)
			} else {
				getManifest = src
			}
		} else {
			getManifest = manifestsrc.HTTPSource(f, map[string]any{"url": opts.ManifestURL})
		}
	}

	var limiter *ratelimit.Limiter
	if opts.BandwidthLimitBytesPerSec > 0 {
		limiter = ratelimit.NewLimiter(opts.BandwidthLimitBytesPerSec)
	}

	e := engine.New(fs, f, ext, c, sink, engine.Options{
		AbandonedTimeout:    opts.AbandonedTimeout,
		DefaultDelaySeconds: opts.DefaultDelaySeconds,
		DefaultRetryLimit:   opts.DefaultRetryLimit,
		GetDownloadDelay:    opts.GetDownloadDelay,
		DisableUnzip:        opts.DisableUnzip,
		Progress:            rep,
		Limiter:             limiter,
	})

	loop := reconcile.New(e, fs, c, sink, reconcile.Options{
		WorkingDir:               workingDir,
		Interval:                 opts.Interval,
		GetManifest:              getManifest,
		InitialManifest:          opts.DownloadManifest,
		DisableImmediateDownload: opts.DisableImmediateDownload,
		DisableUnzip:             opts.DisableUnzip,
		Progress:                 rep,
	})

	return &Reconciler{engine: e, loop: loop, sink: sink, workingDir: workingDir}
}

// Init starts the reconciliation loop.
func (r *Reconciler) Init(ctx context.Context) error {
	return r.loop.Init(ctx)
}

// Start runs an ad-hoc download outside the reconciliation loop's own
// schedule, e.g. for a CLI-triggered one-off fetch.
func (r *Reconciler) Start(ctx context.Context, destination string, requestConfig map[string]any, opts StartOptions) (string, error) {
	return r.engine.Start(ctx, destination, requestConfig, opts)
}

// Download runs entry through the same Retry Coordinator path the
// reconciliation loop uses, including archive post-processing, without
// waiting for the next scheduled tick.
func (r *Reconciler) Download(ctx context.Context, workingDir string, entry manifest.Entry) error {
	return r.engine.Retry(ctx, workingDir, entry)
}

// Close stops the loop and cancels any pending scheduled downloads.
func (r *Reconciler) Close() error {
	r.loop.Close()
	r.engine.Close()
	return nil
}
