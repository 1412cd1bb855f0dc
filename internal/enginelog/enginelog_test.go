package enginelog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogfSilentWhenNotVerbose(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false)
	s.Logf("download started: %s", "a.bin")
	if buf.Len() != 0 {
		t.Errorf("expected no output in silent mode, got %q", buf.String())
	}
}

func TestLogfWritesWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, true)
	s.Logf("download started: %s", "a.bin")
	if !strings.Contains(buf.String(), "download started: a.bin") {
		t.Errorf("expected transition logged, got %q", buf.String())
	}
}

func TestErrorfAlwaysLogs(t *testing.T) {
	var buf bytes.Buffer
	s := New(&buf, false)
	s.Errorf("purge failed: %s", "stale.bin")
	if !strings.Contains(buf.String(), "purge failed: stale.bin") {
		t.Errorf("expected error logged even in silent mode, got %q", buf.String())
	}
}

func TestNilSinkIsSafe(t *testing.T) {
	var s *Sink
	s.Logf("should not panic")
	s.Errorf("should not panic")
	if s.Verbose() {
		t.Error("nil sink should report not verbose")
	}
}
