package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/tasky-app/tasky-offline/internal/cache"
)

func TestCacheFirstHitShortCircuitsNetwork(t *testing.T) {
	store := newMemStore()
	key := "https://tasky.local/assets/app.js"
	if err := store.Put(context.Background(), testNames().Static(), key, okResponse("bundle")); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	fetcher := &countingFetcher{resp: okResponse("should not be fetched")}
	s := CacheFirst{Deps: syncDeps(store, fetcher)}

	outcome, err := s.Execute(context.Background(), testRequest(t, key))
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if !outcome.FromCache {
		t.Fatalf("hit must be flagged as cached")
	}
	if string(outcome.Response.Body) != "bundle" {
		t.Fatalf("unexpected body: %s", string(outcome.Response.Body))
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("cache hit must not touch the network, saw %d fetches", fetcher.callCount())
	}
}

func TestCacheFirstMissFetchesAndStores(t *testing.T) {
	store := newMemStore()
	fetcher := &countingFetcher{resp: okResponse("fresh asset")}
	s := CacheFirst{Deps: syncDeps(store, fetcher)}

	req := testRequest(t, "https://tasky.local/assets/late.css")
	outcome, err := s.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if outcome.FromCache {
		t.Fatalf("cold fetch must be reported as live")
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("expected exactly one fetch, saw %d", fetcher.callCount())
	}

	// Runtime-discovered assets land in the dynamic partition.
	key, _ := cache.RequestKey(req.Method, req.URL)
	cached, err := store.Get(context.Background(), testNames().Dynamic(), key)
	if err != nil {
		t.Fatalf("expected dynamic partition write: %v", err)
	}
	if string(cached.Body) != "fresh asset" {
		t.Fatalf("cached body mismatch: %s", string(cached.Body))
	}
}

func TestCacheFirstMissPropagatesNetworkError(t *testing.T) {
	store := newMemStore()
	s := CacheFirst{Deps: syncDeps(store, &countingFetcher{err: errOffline})}

	_, err := s.Execute(context.Background(), testRequest(t, "https://tasky.local/assets/missing.js"))
	if !errors.Is(err, errOffline) {
		t.Fatalf("cold miss must surface the network error, got %v", err)
	}
}

func TestCacheFirstChecksDynamicAfterStatic(t *testing.T) {
	store := newMemStore()
	key := "https://tasky.local/assets/runtime.js"
	if err := store.Put(context.Background(), testNames().Dynamic(), key, okResponse("runtime cached")); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	fetcher := &countingFetcher{err: errOffline}
	s := CacheFirst{Deps: syncDeps(store, fetcher)}

	outcome, err := s.Execute(context.Background(), testRequest(t, key))
	if err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if string(outcome.Response.Body) != "runtime cached" {
		t.Fatalf("unexpected body: %s", string(outcome.Response.Body))
	}
	if fetcher.callCount() != 0 {
		t.Fatalf("dynamic hit must not touch the network")
	}
}
