package fetcher

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MockFetcher is an in-memory Fetcher for testing, keyed by URL. It can
// be configured to fail (status code or transport error) and records
// every call for assertions.
type MockFetcher struct {
	mu sync.Mutex

	Bodies       map[string][]byte
	StatusCodes  map[string]int   // defaults to 200 if absent and Bodies has an entry
	TransportErr map[string]error // when set, Fetch returns this error instead of a response
	Calls        []string

	// FailNTimes makes the given URL return TransportErr that many times
	// before succeeding, for retry/back-off tests.
	FailNTimes map[string]int
	failCount  map[string]int
}

// NewMockFetcher creates an empty MockFetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		Bodies:       make(map[string][]byte),
		StatusCodes:  make(map[string]int),
		TransportErr: make(map[string]error),
		FailNTimes:   make(map[string]int),
		failCount:    make(map[string]int),
	}
}

func (m *MockFetcher) Fetch(_ context.Context, requestConfig map[string]any) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rawURL, _ := requestConfig["url"].(string)
	m.Calls = append(m.Calls, rawURL)

	if n, ok := m.FailNTimes[rawURL]; ok {
		if m.failCount[rawURL] < n {
			m.failCount[rawURL]++
			if err, ok := m.TransportErr[rawURL]; ok {
				return nil, err
			}
			return nil, fmt.Errorf("mock transport failure for %s", rawURL)
		}
	} else if err, ok := m.TransportErr[rawURL]; ok {
		return nil, err
	}

	code := 200
	if c, ok := m.StatusCodes[rawURL]; ok {
		code = c
	}

	body, ok := m.Bodies[rawURL]
	if !ok {
		return nil, fmt.Errorf("mock fetcher: no body registered for %s", rawURL)
	}

	return &Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(string(body)))}, nil
}
