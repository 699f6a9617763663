package strategy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/tasky-app/tasky-offline/internal/cache"
)

// memStore is an in-memory cache.Store for strategy tests.
type memStore struct {
	mu         sync.Mutex
	partitions map[string]map[string]*cache.StoredResponse
}

func newMemStore() *memStore {
	return &memStore{partitions: make(map[string]map[string]*cache.StoredResponse)}
}

func (s *memStore) Open(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.partitions[partition]; !ok {
		s.partitions[partition] = make(map[string]*cache.StoredResponse)
	}
	return nil
}

func (s *memStore) Get(ctx context.Context, partition, key string) (*cache.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.partitions[partition]
	if !ok {
		return nil, cache.ErrNotFound
	}
	resp, ok := entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	return resp.Clone(), nil
}

func (s *memStore) Put(ctx context.Context, partition, key string, resp *cache.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.partitions[partition]
	if !ok {
		entries = make(map[string]*cache.StoredResponse)
		s.partitions[partition] = entries
	}
	entries[key] = resp.Clone()
	return nil
}

func (s *memStore) Delete(ctx context.Context, partition, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.partitions[partition]; ok {
		delete(entries, key)
	}
	return nil
}

func (s *memStore) Keys(ctx context.Context, partition string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.partitions[partition]
	if !ok {
		return nil, cache.ErrNotFound
	}
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func (s *memStore) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	return names, nil
}

func (s *memStore) Drop(ctx context.Context, partition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, partition)
	return nil
}

func (s *memStore) Close() error { return nil }

// countingFetcher records call counts and serves a fixed response or error.
type countingFetcher struct {
	mu    sync.Mutex
	calls int
	resp  *cache.StoredResponse
	err   error
}

func (f *countingFetcher) Fetch(ctx context.Context, req *Request) (*cache.StoredResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp.Clone(), nil
}

func (f *countingFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var errOffline = errors.New("dial tcp: network is unreachable")

func okResponse(body string) *cache.StoredResponse {
	return &cache.StoredResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/plain"}},
		Body:   []byte(body),
	}
}

func testNames() cache.Names {
	return cache.Names{Product: "tasky", Version: "1.1.0"}
}

// syncDeps runs background work inline so assertions see every write.
func syncDeps(store cache.Store, fetcher Fetcher) Deps {
	return Deps{
		Store:      store,
		Fetcher:    fetcher,
		Cacheable:  func(*url.URL) bool { return true },
		Partitions: testNames,
		Background: func(task func()) { task() },
	}
}

func testRequest(t *testing.T, raw string) *Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return &Request{Method: http.MethodGet, URL: u, Header: http.Header{}}
}
