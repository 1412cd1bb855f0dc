// Package engine implements the Download Engine: a per-destination state
// machine for scheduling, deduplicating, streaming, and cleaning up
// manifest-driven downloads.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jacobfgrant/reconciler/internal/backoff"
	"github.com/jacobfgrant/reconciler/internal/clock"
	"github.com/jacobfgrant/reconciler/internal/enginelog"
	"github.com/jacobfgrant/reconciler/internal/enginerr"
	"github.com/jacobfgrant/reconciler/internal/extractor"
	"github.com/jacobfgrant/reconciler/internal/fetcher"
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/progress"
	"github.com/jacobfgrant/reconciler/internal/ratelimit"
)

// downloadRecord marks a destination as owned by an in-flight writer.
type downloadRecord struct {
	startTime time.Time
}

// scheduledRecord marks a destination as awaiting a delayed Start.
type scheduledRecord struct {
	startTime time.Time
	timer     clock.Timer
	cancel    chan struct{}
}

// downloadLog tracks process-lifetime statistics for one destination.
type downloadLog struct {
	retries             int
	lastDownloadAttempt time.Time
	downloadedAt        time.Time
}

// Options configures a new Engine.
type Options struct {
	AbandonedTimeout    time.Duration     // default 30 minutes
	DefaultDelaySeconds int               // default 0
	DefaultRetryLimit   int               // default 5
	GetDownloadDelay    func(retries int) int
	DisableUnzip        bool
	Progress            *progress.Reporter // nil disables instrumentation
	Limiter             *ratelimit.Limiter // nil disables bandwidth throttling
}

// StartOptions parameterizes a single Start call.
type StartOptions struct {
	DelaySeconds  *int
	OnNewDownload func()
}

// Engine is the Download Engine: it owns all in-flight and scheduled
// download state for one working directory's worth of destinations.
type Engine struct {
	fs        fsadapter.FileSystem
	fetcher   fetcher.Fetcher
	extractor extractor.Extractor
	clock     clock.Clock
	sink      *enginelog.Sink
	progress  *progress.Reporter
	limiter   *ratelimit.Limiter

	mu        sync.Mutex // guards current, scheduled, log, closed
	current   map[string]*downloadRecord
	scheduled map[string]*scheduledRecord
	log       map[string]*downloadLog
	closed    bool

	wg            sync.WaitGroup // tracks in-flight transfer() calls
	shutdownCtx   context.Context
	shutdownAbort context.CancelFunc

	abandonedTimeout    time.Duration
	defaultDelaySeconds int
	defaultRetryLimit   int
	getDownloadDelay    func(retries int) int
	disableUnzip        bool
}

// New constructs an Engine over the given leaf dependencies.
func New(fs fsadapter.FileSystem, f fetcher.Fetcher, ext extractor.Extractor, c clock.Clock, sink *enginelog.Sink, opts Options) *Engine {
	abandoned := opts.AbandonedTimeout
	if abandoned <= 0 {
		abandoned = 30 * time.Minute
	}
	retryLimit := opts.DefaultRetryLimit
	if retryLimit <= 0 {
		retryLimit = 5
	}

	shutdownCtx, shutdownAbort := context.WithCancel(context.Background())

	return &Engine{
		fs:                  fs,
		fetcher:             f,
		extractor:           ext,
		clock:               c,
		sink:                sink,
		progress:            opts.Progress,
		limiter:             opts.Limiter,
		current:             make(map[string]*downloadRecord),
		scheduled:           make(map[string]*scheduledRecord),
		log:                 make(map[string]*downloadLog),
		shutdownCtx:         shutdownCtx,
		shutdownAbort:       shutdownAbort,
		abandonedTimeout:    abandoned,
		defaultDelaySeconds: opts.DefaultDelaySeconds,
		defaultRetryLimit:   retryLimit,
		getDownloadDelay:    opts.GetDownloadDelay,
		disableUnzip:        opts.DisableUnzip,
	}
}

// ensureLog returns the downloadLog for destination, creating it if
// absent. Callers must hold e.mu.
func (e *Engine) ensureLog(destination string) *downloadLog {
	l, ok := e.log[destination]
	if !ok {
		l = &downloadLog{}
		e.log[destination] = l
	}
	return l
}

// Start admits and runs a download for destination. A positive
// DelaySeconds enters the scheduled path; Start blocks for the duration
// of the delay and the transfer, since the engine models timers as
// cancellable sleeps rather than detached futures.
func (e *Engine) Start(ctx context.Context, destination string, requestConfig map[string]any, opts StartOptions) (string, error) {
	delay := 0
	if opts.DelaySeconds != nil {
		delay = *opts.DelaySeconds
	}
	if delay > 0 {
		return e.startScheduled(ctx, destination, requestConfig, delay, opts)
	}
	return e.startImmediate(ctx, destination, requestConfig, opts)
}

func (e *Engine) startImmediate(ctx context.Context, destination string, requestConfig map[string]any, opts StartOptions) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", &enginerr.Cancelled{Destination: destination}
	}

	if sched, ok := e.scheduled[destination]; ok {
		sched.timer.Stop()
		close(sched.cancel)
		delete(e.scheduled, destination)
	}

	if cur, ok := e.current[destination]; ok {
		if e.clock.Now().Sub(cur.startTime) <= e.abandonedTimeout {
			e.mu.Unlock()
			return "", &enginerr.Duplicate{Destination: destination}
		}
		delete(e.current, destination)
		e.mu.Unlock()
		e.fs.Remove(destination)
		e.sink.Logf("evicted stale in-flight record for %s", destination)
		e.progress.Abandoned(destination)
		return "", &enginerr.Abandoned{Destination: destination}
	}

	if e.fs.Exists(destination) {
		e.fs.Remove(destination)
	}

	if opts.OnNewDownload != nil {
		opts.OnNewDownload()
	}

	now := e.clock.Now()
	e.current[destination] = &downloadRecord{startTime: now}
	e.ensureLog(destination).lastDownloadAttempt = now
	e.wg.Add(1)
	e.mu.Unlock()

	e.sink.Logf("starting download: %s", destination)
	return e.transfer(ctx, destination, requestConfig)
}

func (e *Engine) startScheduled(ctx context.Context, destination string, requestConfig map[string]any, delaySeconds int, opts StartOptions) (string, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return "", &enginerr.Cancelled{Destination: destination}
	}

	if sched, ok := e.scheduled[destination]; ok {
		remaining := int(sched.startTime.Sub(e.clock.Now()).Seconds())
		e.mu.Unlock()
		return "", &enginerr.DuplicateScheduled{Destination: destination, SecondsRemaining: remaining}
	}

	if cur, ok := e.current[destination]; ok {
		if e.clock.Now().Sub(cur.startTime) <= e.abandonedTimeout {
			e.mu.Unlock()
			return "", &enginerr.DuplicateInFlight{Destination: destination}
		}
		delete(e.current, destination)
		e.mu.Unlock()
		e.fs.Remove(destination)
		e.sink.Logf("evicted stale in-flight record for %s", destination)
		e.mu.Lock()
	}

	delay := time.Duration(delaySeconds) * time.Second
	timer := e.clock.NewTimer(delay)
	cancel := make(chan struct{})
	e.scheduled[destination] = &scheduledRecord{
		startTime: e.clock.Now().Add(delay),
		timer:     timer,
		cancel:    cancel,
	}
	e.mu.Unlock()

	e.sink.Logf("scheduled download: %s in %ds", destination, delaySeconds)
	e.progress.Scheduled(destination)

	switch err := backoff.WaitTimer(ctx, timer, cancel); {
	case err == nil:
		e.mu.Lock()
		delete(e.scheduled, destination)
		e.mu.Unlock()
		return e.startImmediate(ctx, destination, requestConfig, StartOptions{OnNewDownload: opts.OnNewDownload})
	case errors.Is(err, backoff.ErrCancelled):
		return "", &enginerr.Cancelled{Destination: destination}
	default:
		e.mu.Lock()
		delete(e.scheduled, destination)
		e.mu.Unlock()
		timer.Stop()
		return "", &enginerr.Cancelled{Destination: destination}
	}
}

// transfer opens the destination, invokes the Fetcher, copies the body,
// and releases the in-flight record. Closing the engine aborts any call
// to transfer still running by cancelling the context passed to the
// Fetcher and the body copy; the abort still runs the normal failure
// path, which removes the partial file, and the call fails with
// Cancelled.
func (e *Engine) transfer(ctx context.Context, destination string, requestConfig map[string]any) (string, error) {
	defer e.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.shutdownCtx, cancel)
	defer stop()

	w, err := e.fs.Create(destination)
	if err != nil {
		e.release(destination)
		return "", &enginerr.Transport{Destination: destination, Err: fmt.Errorf("creating %s: %w", destination, err)}
	}

	resp, err := e.fetcher.Fetch(ctx, requestConfig)
	if err != nil {
		w.Close()
		e.fail(destination)
		e.progress.FileError(destination, err)
		if e.shutdownCtx.Err() != nil {
			return "", &enginerr.Cancelled{Destination: destination}
		}
		return "", &enginerr.Transport{Destination: destination, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		w.Close()
		e.fail(destination)
		httpErr := &enginerr.HttpStatus{Destination: destination, Code: resp.StatusCode}
		e.progress.FileError(destination, httpErr)
		return "", httpErr
	}

	e.progress.Start(destination, 0)

	body := io.Reader(resp.Body)
	if e.limiter != nil {
		body = ratelimit.NewReader(resp.Body, e.limiter)
	}

	_, copyErr := io.Copy(w, body)
	resp.Body.Close()
	closeErr := w.Close()

	if copyErr != nil {
		e.fail(destination)
		e.progress.FileError(destination, copyErr)
		if e.shutdownCtx.Err() != nil {
			return "", &enginerr.Cancelled{Destination: destination}
		}
		return "", &enginerr.Transport{Destination: destination, Err: copyErr}
	}
	if closeErr != nil {
		e.fail(destination)
		e.progress.FileError(destination, closeErr)
		return "", &enginerr.Transport{Destination: destination, Err: closeErr}
	}

	e.release(destination)
	e.sink.Logf("completed download: %s", destination)
	e.progress.Complete(destination)
	return destination, nil
}

// release removes destination's in-flight record on success.
func (e *Engine) release(destination string) {
	e.mu.Lock()
	delete(e.current, destination)
	e.mu.Unlock()
}

// fail removes destination's in-flight record and its partial file on
// any failure path.
func (e *Engine) fail(destination string) {
	e.release(destination)
	e.fs.Remove(destination)
}

// Close stops every scheduled timer (their pending Start calls fail with
// Cancelled), aborts every in-flight transfer by cancelling its Fetcher
// context and body copy, and blocks until all of them have unwound —
// each abort still runs transfer's normal failure path, which removes
// the partial file. A second call to Close is a no-op.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	for dest, sched := range e.scheduled {
		sched.timer.Stop()
		close(sched.cancel)
		delete(e.scheduled, dest)
	}
	e.shutdownAbort()
	e.mu.Unlock()

	e.wg.Wait()
}
