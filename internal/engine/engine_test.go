package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jacobfgrant/reconciler/internal/clock"
	"github.com/jacobfgrant/reconciler/internal/enginelog"
	"github.com/jacobfgrant/reconciler/internal/enginerr"
	"github.com/jacobfgrant/reconciler/internal/extractor"
	"github.com/jacobfgrant/reconciler/internal/fetcher"
	"github.com/jacobfgrant/reconciler/internal/fsadapter"
	"github.com/jacobfgrant/reconciler/internal/manifest"
	"github.com/jacobfgrant/reconciler/internal/progress"
	"github.com/jacobfgrant/reconciler/internal/ratelimit"
)

func newTestEngine(fs fsadapter.FileSystem, f fetcher.Fetcher, c clock.Clock, opts Options) *Engine {
	return New(fs, f, extractor.NewZipExtractor(fs), c, enginelog.New(nil, false), opts)
}

func TestStartColdPlainFile(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = []byte("hello")
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	dest, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if dest != "/work/a.bin" {
		t.Fatalf("dest = %q", dest)
	}
	data, ok := fs.ReadFile("/work/a.bin")
	if !ok || string(data) != "hello" {
		t.Fatalf("file contents = %q, ok=%v", data, ok)
	}
}

func TestStartDuplicateSuppression(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	e.mu.Lock()
	e.current["/work/a.bin"] = &downloadRecord{startTime: c.Now()}
	e.mu.Unlock()

	_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
	var dup *enginerr.Duplicate
	if !errors.As(err, &dup) {
		t.Fatalf("err = %v, want *enginerr.Duplicate", err)
	}
}

func TestStartAbandonsStaleRecord(t *testing.T) {
	fs := fsadapter.NewMem()
	fs.WriteFile("/work/a.bin", []byte("partial"))
	mf := fetcher.NewMockFetcher()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{AbandonedTimeout: 10 * time.Minute})

	e.mu.Lock()
	e.current["/work/a.bin"] = &downloadRecord{startTime: c.Now()}
	e.mu.Unlock()
	c.Advance(11 * time.Minute)

	_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
	var ab *enginerr.Abandoned
	if !errors.As(err, &ab) {
		t.Fatalf("err = %v, want *enginerr.Abandoned", err)
	}
	if fs.Exists("/work/a.bin") {
		t.Fatal("partial file should have been removed on abandonment")
	}

	// A subsequent Start proceeds normally.
	mf.Bodies["http://h/a.bin"] = []byte("fresh")
	dest, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
	if err != nil {
		t.Fatalf("Start after abandonment: %v", err)
	}
	if dest != "/work/a.bin" {
		t.Fatalf("dest = %q", dest)
	}
}

func TestStartHttpStatusFailureCleansUpFile(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = []byte("x")
	mf.StatusCodes["http://h/a.bin"] = 404
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
	var status *enginerr.HttpStatus
	if !errors.As(err, &status) || status.Code != 404 {
		t.Fatalf("err = %v, want *enginerr.HttpStatus{Code:404}", err)
	}
	if fs.Exists("/work/a.bin") {
		t.Fatal("file should not remain after failed status")
	}
}

func TestStartScheduledThenFires(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = []byte("data")
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	delay := 5
	done := make(chan struct{})
	var gotDest string
	var gotErr error
	go func() {
		gotDest, gotErr = e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{DelaySeconds: &delay})
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	c.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduled Start never fired")
	}

	if gotErr != nil {
		t.Fatalf("Start: %v", gotErr)
	}
	if gotDest != "/work/a.bin" {
		t.Fatalf("dest = %q", gotDest)
	}
}

func TestStartScheduledDuplicateRejected(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	delay := 60
	go e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{DelaySeconds: &delay})
	time.Sleep(20 * time.Millisecond)

	_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{DelaySeconds: &delay})
	var dupSched *enginerr.DuplicateScheduled
	if !errors.As(err, &dupSched) {
		t.Fatalf("err = %v, want *enginerr.DuplicateScheduled", err)
	}

	e.Close()
}

func TestCloseCancelsScheduled(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	delay := 60
	done := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{DelaySeconds: &delay})
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	e.Close()

	select {
	case err := <-done:
		var cancelled *enginerr.Cancelled
		if !errors.As(err, &cancelled) {
			t.Fatalf("err = %v, want *enginerr.Cancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Close")
	}
}

// blockingFetcher never returns until its context is cancelled, for
// exercising Close's abort-in-flight-transfer path.
type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, _ map[string]any) (*fetcher.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCloseAbortsInFlightTransferAndCleansUpPartialFile(t *testing.T) {
	fs := fsadapter.NewMem()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, blockingFetcher{}, c, Options{})

	startDone := make(chan error, 1)
	go func() {
		_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
		startDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	closeDone := make(chan struct{})
	go func() {
		e.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after aborting in-flight transfer")
	}

	select {
	case err := <-startDone:
		var cancelled *enginerr.Cancelled
		if !errors.As(err, &cancelled) {
			t.Fatalf("err = %v, want *enginerr.Cancelled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Close aborted the transfer")
	}

	if fs.Exists("/work/a.bin") {
		t.Fatal("partial file should have been cleaned up after abort")
	}
}

func TestRetryBumpsCounterOnFailureAndResetsOnSuccess(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = []byte("ok")
	mf.FailNTimes["http://h/a.bin"] = 2
	c := clock.NewFake(time.Unix(0, 0))

	var delays []int
	e := newTestEngine(fs, mf, c, Options{
		DefaultRetryLimit: 5,
		GetDownloadDelay: func(retries int) int {
			d := 10 + 30*retries
			delays = append(delays, d)
			return d
		},
	})

	entry := manifest.Entry{URL: "http://h/a.bin", FileName: "a.bin"}

	for i := 0; i < 3; i++ {
		done := make(chan error, 1)
		go func() { done <- e.Retry(context.Background(), "/work", entry) }()
		time.Sleep(20 * time.Millisecond)
		c.Advance(time.Duration(delays[len(delays)-1]) * time.Second)
		if err := <-done; err != nil && i < 2 {
			// expected transport failures on first two attempts
		} else if err != nil {
			t.Fatalf("attempt %d: unexpected error %v", i, err)
		}
	}

	if len(delays) != 3 || delays[0] != 10 || delays[1] != 40 || delays[2] != 70 {
		t.Fatalf("delays = %v, want [10 40 70]", delays)
	}

	e.mu.Lock()
	retries := e.log["/work/a.bin"].retries
	e.mu.Unlock()
	if retries != 0 {
		t.Fatalf("retries = %d, want 0 after eventual success", retries)
	}
}

func TestRetryAbandonsAfterLimitExceeded(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{DefaultRetryLimit: 1})

	entry := manifest.Entry{URL: "http://h/a.bin", FileName: "a.bin"}
	e.mu.Lock()
	e.ensureLog("/work/a.bin").retries = 2
	e.mu.Unlock()

	err := e.Retry(context.Background(), "/work", entry)
	var ab *enginerr.Abandoned
	if !errors.As(err, &ab) {
		t.Fatalf("err = %v, want *enginerr.Abandoned", err)
	}
	if len(mf.Calls) != 0 {
		t.Fatal("Fetcher should not have been invoked once abandoned")
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip.Create: %v", err)
		}
		w.Write([]byte(content))
	}
	zw.Close()
	return buf.Bytes()
}

func TestRetryArchiveRoundTrip(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/p.zip"] = buildZip(t, map[string]string{
		"f1":      "one",
		"f2":      "two",
		".hidden": "secret",
	})
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	entry := manifest.Entry{URL: "http://h/p.zip", FileName: "p.zip", UnzipTo: "p"}
	if err := e.Retry(context.Background(), "/work", entry); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	if fs.Exists("/work/p.zip") {
		t.Fatal("archive should have been deleted after extraction")
	}
	if !fs.Exists("/work/p/f1") || !fs.Exists("/work/p/f2") {
		t.Fatal("extracted entries missing")
	}

	catalog, err := manifest.ReadCatalog(fs, "/work/p")
	if err != nil {
		t.Fatalf("ReadCatalog: %v", err)
	}
	want := []string{"f1", "f2"}
	if len(catalog.RequiredFiles) != len(want) || catalog.RequiredFiles[0] != want[0] || catalog.RequiredFiles[1] != want[1] {
		t.Fatalf("RequiredFiles = %v, want %v", catalog.RequiredFiles, want)
	}
}

func TestRetryDuplicateDoesNotIncrementCounter(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{})

	entry := manifest.Entry{URL: "http://h/a.bin", FileName: "a.bin"}
	e.mu.Lock()
	e.current["/work/a.bin"] = &downloadRecord{startTime: c.Now()}
	e.mu.Unlock()

	err := e.Retry(context.Background(), "/work", entry)
	if err == nil {
		t.Fatal("expected duplicate error")
	}
	if !enginerr.IsDuplicate(err) {
		t.Fatalf("err = %v, want a Duplicate variant", err)
	}

	e.mu.Lock()
	retries := e.log["/work/a.bin"].retries
	e.mu.Unlock()
	if retries != 0 {
		t.Fatalf("retries = %d, want 0 after an inhibited attempt", retries)
	}
}

func TestStartEmitsProgressEvents(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = []byte("hello")
	c := clock.NewFake(time.Unix(0, 0))
	var buf bytes.Buffer
	e := newTestEngine(fs, mf, c, Options{Progress: progress.NewReporterWriter(&buf)})

	if _, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `"event":"start"`) {
		t.Errorf("expected a start event, got %q", out)
	}
	if !strings.Contains(out, `"event":"complete"`) {
		t.Errorf("expected a complete event, got %q", out)
	}
}

func TestStartHttpStatusFailureEmitsErrorEvent(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = []byte("not found")
	mf.StatusCodes["http://h/a.bin"] = 404
	c := clock.NewFake(time.Unix(0, 0))
	var buf bytes.Buffer
	e := newTestEngine(fs, mf, c, Options{Progress: progress.NewReporterWriter(&buf)})

	_, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{})
	if err == nil {
		t.Fatal("expected an HttpStatus error")
	}
	if !strings.Contains(buf.String(), `"event":"error"`) {
		t.Errorf("expected an error event, got %q", buf.String())
	}
}

func TestStartRatelimitedThroughputPreservesData(t *testing.T) {
	fs := fsadapter.NewMem()
	mf := fetcher.NewMockFetcher()
	mf.Bodies["http://h/a.bin"] = bytes.Repeat([]byte("x"), 4096)
	c := clock.NewFake(time.Unix(0, 0))
	e := newTestEngine(fs, mf, c, Options{Limiter: ratelimit.NewLimiter(1024 * 1024)})

	if _, err := e.Start(context.Background(), "/work/a.bin", map[string]any{"url": "http://h/a.bin"}, StartOptions{}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	data, ok := fs.ReadFile("/work/a.bin")
	if !ok || len(data) != 4096 {
		t.Fatalf("file contents length = %d, ok=%v, want 4096", len(data), ok)
	}
}
