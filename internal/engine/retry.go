package engine

import (
	"context"

	"github.com/jacobfgrant/reconciler/internal/enginerr"
	"github.com/jacobfgrant/reconciler/internal/manifest"
)

// Retry is the Retry/Back-off Coordinator: it ensures a
// downloadLog exists for entry's destination, abandons it once retries
// exceed its limit, computes the next attempt's delay, and invokes
// Start. On success it runs post-processing and resets the retry
// counter; on failure the counter is bumped unless the error was an
// inhibited attempt (a Duplicate* variant), which was never really
// tried.
func (e *Engine) Retry(ctx context.Context, workingDir string, entry manifest.Entry) error {
	destination := workingDir + "/" + entry.ResolvedFileName()

	e.mu.Lock()
	l := e.ensureLog(destination)
	retries := l.retries
	e.mu.Unlock()

	limit := entry.ResolvedRetryLimit(e.defaultRetryLimit)
	if retries > limit {
		e.sink.Logf("abandoning %s: %d retries exceeds limit %d", destination, retries, limit)
		e.progress.Abandoned(destination)
		return &enginerr.Abandoned{Destination: destination}
	}

	delaySeconds := entry.ResolvedDelaySeconds(e.defaultDelaySeconds)
	if e.getDownloadDelay != nil {
		delaySeconds = e.getDownloadDelay(retries)
	}

	requestConfig := entry.MergedRequestConfig()
	_, err := e.Start(ctx, destination, requestConfig, StartOptions{DelaySeconds: &delaySeconds})
	if err != nil {
		if !enginerr.IsDuplicate(err) {
			e.mu.Lock()
			l.retries++
			e.mu.Unlock()
		}
		e.sink.Errorf("download failed for %s: %v", destination, err)
		return err
	}

	now := e.clock.Now()
	if ppErr := postProcess(ctx, e.fs, e.extractor, e.sink, e.progress, workingDir, entry, now, e.disableUnzip); ppErr != nil {
		e.sink.Errorf("post-processing %s: %v", destination, ppErr)
	}

	e.mu.Lock()
	l.retries = 0
	l.downloadedAt = now
	e.mu.Unlock()

	return nil
}
