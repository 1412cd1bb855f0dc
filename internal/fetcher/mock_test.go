package fetcher

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestMockFetcherServesBody(t *testing.T) {
	m := NewMockFetcher()
	m.Bodies["https://h/a.bin"] = []byte("hello")

	resp, err := m.Fetch(context.Background(), map[string]any{"url": "https://h/a.bin"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "hello" {
		t.Errorf("body = %q, want %q", data, "hello")
	}
	if len(m.Calls) != 1 || m.Calls[0] != "https://h/a.bin" {
		t.Errorf("Calls = %v", m.Calls)
	}
}

func TestMockFetcherFailNTimesThenSucceeds(t *testing.T) {
	m := NewMockFetcher()
	m.Bodies["https://h/a.bin"] = []byte("ok")
	m.FailNTimes["https://h/a.bin"] = 2
	m.TransportErr["https://h/a.bin"] = errors.New("connection reset")

	for i := 0; i < 2; i++ {
		if _, err := m.Fetch(context.Background(), map[string]any{"url": "https://h/a.bin"}); err == nil {
			t.Fatalf("attempt %d: expected failure", i)
		}
	}

	resp, err := m.Fetch(context.Background(), map[string]any{"url": "https://h/a.bin"})
	if err != nil {
		t.Fatalf("third attempt should succeed: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "ok" {
		t.Errorf("body = %q, want %q", data, "ok")
	}
}
