// Package reconcile implements the Reconciliation Loop: the
// ticker-driven orchestration that pulls the manifest, asks the Cache
// Inspector what's missing, hands each missing entry to the Download
// Engine's Retry Coordinator, and purges orphaned cache entries.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/jacobfgrant/reconciler/internal/cacheinspect"
	"github.com/jacobfgrant/reconciler/internal/cachepurge"
	"github.com/jacobfgrant/reconciler/internal/clock"
	"github.com/jacobfgrant/reconciler/internal/engine"
	"github.com/jacobfgrant/reconciler/internal/enginelog"
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/progress"
)

// Options configures a new Loop.
type Options struct {
	WorkingDir               string
	Interval                 time.Duration // default 60s
	GetManifest              manifest.ManifestSource
	InitialManifest          manifest.Manifest
	DisableImmediateDownload bool
	DisableUnzip             bool
	Progress                 *progress.Reporter
}

// Loop is the Reconciliation Loop.
type Loop struct {
	engine   *engine.Engine
	fs       fsadapter.FileSystem
	clock    clock.Clock
	sink     *enginelog.Sink
	progress *progress.Reporter

	workingDir               string
	interval                 time.Duration
	getManifest              manifest.ManifestSource
	disableImmediateDownload bool
	disableUnzip             bool

	mu       sync.Mutex
	manifest manifest.Manifest
	stop     chan struct{}
}

// New constructs a Loop. e drives every download it initiates.
func New(e *engine.Engine, fs fsadapter.FileSystem, c clock.Clock, sink *enginelog.Sink, opts Options) *Loop {
	interval := opts.Interval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Loop{
		engine:                   e,
		fs:                       fs,
		clock:                    c,
		sink:                     sink,
		progress:                 opts.Progress,
		workingDir:               opts.WorkingDir,
		interval:                 interval,
		getManifest:              opts.GetManifest,
		manifest:                 opts.InitialManifest,
		disableImmediateDownload: opts.DisableImmediateDownload,
		disableUnzip:             opts.DisableUnzip,
	}
}

// Init starts the loop: it logs the interval, ensures the working
// directory exists, fires an immediate tick unless disabled, and arms a
// periodic ticker for subsequent ticks. A second call to Init is
// idempotent: it stops the existing ticker, if any, before starting a
// new one.
func (l *Loop) Init(ctx context.Context) error {
	l.sink.Logf("starting reconciliation loop: interval=%s", l.interval)

	if err := l.fs.MkdirAll(l.workingDir); err != nil {
		l.sink.Errorf("creating working directory %s: %v", l.workingDir, err)
	}

	l.mu.Lock()
	if l.stop != nil {
		close(l.stop)
	}
	stop := make(chan struct{})
	l.stop = stop
	l.mu.Unlock()

	if !l.disableImmediateDownload {
		l.tick(ctx)
	}

	go l.run(ctx, stop)
	return nil
}

// Close stops the ticker. It does not cancel in-flight downloads; the
// engine's own Close handles that.
func (l *Loop) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}

func (l *Loop) run(ctx context.Context, stop chan struct{}) {
	for {
		timer := l.clock.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C():
			l.tick(ctx)
		}
	}
}

// tick performs one reconciliation pass: refresh the manifest, inspect
// the cache, initiate downloads for everything missing, then purge.
// Initiation is non-blocking — the purge observes the manifest, not the
// download outcomes.
func (l *Loop) tick(ctx context.Context) {
	if err := l.fs.MkdirAll(l.workingDir); err != nil {
		l.sink.Errorf("creating working directory %s: %v", l.workingDir, err)
	}

	l.mu.Lock()
	if l.getManifest != nil {
		m, err := l.getManifest(ctx)
		if err != nil {
			l.sink.Errorf("fetching manifest: %v", err)
			l.mu.Unlock()
			return
		}
		l.manifest = m
	}
	current := l.manifest
	l.mu.Unlock()

	missing := cacheinspect.Missing(l.fs, l.workingDir, current, l.disableUnzip)
	for _, entry := range missing {
		go func(e manifest.Entry) {
			if err := l.engine.Retry(ctx, l.workingDir, e); err != nil {
				l.sink.Errorf("reconciling %s: %v", e.ResolvedFileName(), err)
			}
		}(entry)
	}

	purged, errs := cachepurge.Purge(l.fs, l.sink, l.progress, l.workingDir, current)
	for _, err := range errs {
		l.sink.Errorf("purge: %v", err)
	}

	l.progress.Tick(len(missing), purged, len(errs), 0)
}
