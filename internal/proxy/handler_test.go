package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
	"github.com/tasky-app/tasky-offline/internal/config"
	"github.com/tasky-app/tasky-offline/internal/lifecycle"
	"github.com/tasky-app/tasky-offline/internal/routing"
	"github.com/tasky-app/tasky-offline/internal/server"
	"github.com/tasky-app/tasky-offline/internal/strategy"
)

type handlerFixture struct {
	app        *fiber.App
	store      cache.Store
	controller *lifecycle.Controller
	route      *server.OriginRoute
	upstream   *url.URL
}

// newHandlerFixture wires a Handler against the given upstream base URL and a
// fresh fs store, mounted in a bare Fiber app.
func newHandlerFixture(t *testing.T, upstreamBase string) *handlerFixture {
	t.Helper()

	upstream, err := url.Parse(upstreamBase)
	if err != nil {
		t.Fatalf("parse upstream: %v", err)
	}

	store, err := cache.NewStore("fs", t.TempDir())
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	controller, err := lifecycle.NewController(lifecycle.Options{
		Store: store,
		Fetcher: strategy.FetcherFunc(func(ctx context.Context, req *strategy.Request) (*cache.StoredResponse, error) {
			return nil, errors.New("fixture controller never fetches")
		}),
		Names:   cache.Names{Product: "tasky", Version: "1.1.0"},
		AppBase: upstream,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("create controller: %v", err)
	}

	tables, err := routing.NewTables(config.DefaultRules())
	if err != nil {
		t.Fatalf("compile rules: %v", err)
	}
	classifier := routing.NewClassifier(tables)
	policy := routing.NewCacheability(upstream.Host, tables)

	handler := NewHandler(&http.Client{}, logger, store, classifier, policy, controller)

	route := &server.OriginRoute{
		Config: config.OriginConfig{
			Name:     "app",
			Domain:   "tasky.local",
			Upstream: upstreamBase,
			App:      true,
		},
		ListenPort:  5000,
		UpstreamURL: upstream,
	}

	app := fiber.New()
	app.All("/*", func(c fiber.Ctx) error {
		return handler.Handle(c, route)
	})

	return &handlerFixture{
		app:        app,
		store:      store,
		controller: controller,
		route:      route,
		upstream:   upstream,
	}
}

func (f *handlerFixture) seedStatic(t *testing.T, key, body string) {
	t.Helper()
	static := f.controller.Partitions().Static()
	if err := f.store.Open(context.Background(), static); err != nil {
		t.Fatalf("open static partition: %v", err)
	}
	resp := &cache.StoredResponse{
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:   []byte(body),
	}
	if err := f.store.Put(context.Background(), static, key, resp); err != nil {
		t.Fatalf("seed static partition: %v", err)
	}
}

// deadUpstream is a base URL nothing listens on; connections fail fast.
const deadUpstream = "http://127.0.0.1:1"

func TestHandlerPassesThroughNonGET(t *testing.T) {
	var gotMethod, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		gotMethod = r.Method
		gotBody = string(raw)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"t1"}`))
	}))
	defer upstream.Close()

	fixture := newHandlerFixture(t, upstream.URL)

	req := httptest.NewRequest(http.MethodPost, "http://tasky.local/api/tasks", strings.NewReader(`{"title":"new"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := fixture.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from upstream, got %d", resp.StatusCode)
	}
	if gotMethod != http.MethodPost || gotBody != `{"title":"new"}` {
		t.Fatalf("upstream should see the original request: method=%s body=%s", gotMethod, gotBody)
	}
	if hit := resp.Header.Get("X-Tasky-Cache-Hit"); hit != "false" {
		t.Fatalf("non-GET must never be a cache hit: %s", hit)
	}

	// Nothing may be written to either partition.
	for _, partition := range []string{fixture.controller.Partitions().Static(), fixture.controller.Partitions().Dynamic()} {
		keys, err := fixture.store.Keys(context.Background(), partition)
		if err == nil && len(keys) > 0 {
			t.Fatalf("non-GET must not populate partition %s: %v", partition, keys)
		}
	}
}

func TestHandlerServesCachedAssetWhileOffline(t *testing.T) {
	fixture := newHandlerFixture(t, deadUpstream)

	target := fixture.upstream.ResolveReference(&url.URL{Path: "/icons/icon-192.png"})
	key, _ := cache.RequestKey(http.MethodGet, target)
	fixture.seedStatic(t, key, "png bytes")

	req := httptest.NewRequest(http.MethodGet, "http://tasky.local/icons/icon-192.png", nil)
	resp, err := fixture.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected cached asset, got %d", resp.StatusCode)
	}
	if strategyName := resp.Header.Get("X-Tasky-Strategy"); strategyName != "cache-first" {
		t.Fatalf("icon should classify cache-first, got %s", strategyName)
	}
	if hit := resp.Header.Get("X-Tasky-Cache-Hit"); hit != "true" {
		t.Fatalf("expected cache hit header, got %s", hit)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "png bytes" {
		t.Fatalf("unexpected body: %s", string(body))
	}
}

func TestHandlerNonNavigationFailureReturns502(t *testing.T) {
	fixture := newHandlerFixture(t, deadUpstream)

	req := httptest.NewRequest(http.MethodGet, "http://tasky.local/api/custom", nil)
	req.Header.Set("Sec-Fetch-Mode", "cors")

	resp, err := fixture.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("asset/API failures must propagate as 502, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "upstream_failed") {
		t.Fatalf("expected upstream_failed error body, got %s", string(body))
	}
}

func TestHandlerNavigationFallsBackToPinnedRoot(t *testing.T) {
	fixture := newHandlerFixture(t, deadUpstream)
	fixture.seedStatic(t, fixture.controller.OfflineKey(), "<html>offline shell</html>")

	req := httptest.NewRequest(http.MethodGet, "http://tasky.local/tasks", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")

	resp, err := fixture.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pinned root should serve with its stored status, got %d", resp.StatusCode)
	}
	if hit := resp.Header.Get("X-Tasky-Cache-Hit"); hit != "true" {
		t.Fatalf("offline page is a cache hit, got %s", hit)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<html>offline shell</html>" {
		t.Fatalf("unexpected fallback body: %s", string(body))
	}
}

func TestHandlerNavigationSynthesizes503WithoutPinnedRoot(t *testing.T) {
	fixture := newHandlerFixture(t, deadUpstream)

	req := httptest.NewRequest(http.MethodGet, "http://tasky.local/tasks", nil)
	req.Header.Set("Sec-Fetch-Mode", "navigate")

	resp, err := fixture.app.Test(req)
	if err != nil {
		t.Fatalf("the navigation fallback must never error: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected synthesized 503, got %d", resp.StatusCode)
	}
	if mode := resp.Header.Get("X-Tasky-Fallback"); mode != "synthesized" {
		t.Fatalf("expected synthesized fallback marker, got %q", mode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("synthesized page must be html, got %s", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "offline") {
		t.Fatalf("synthesized page should mention being offline: %s", string(body))
	}
}

func TestHandlerStoresNetworkFirstSuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"tasks":[]}`))
	}))
	defer upstream.Close()

	fixture := newHandlerFixture(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "http://tasky.local/api/custom", nil)
	req.Header.Set("Sec-Fetch-Mode", "cors")

	resp, err := fixture.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected live response, got %d", resp.StatusCode)
	}
	if hit := resp.Header.Get("X-Tasky-Cache-Hit"); hit != "false" {
		t.Fatalf("live response must not claim a cache hit: %s", hit)
	}
	if got := resp.Header.Get("X-Tasky-Strategy"); got != "network-first" {
		t.Fatalf("unmatched non-navigation requests default to network-first, got %s", got)
	}
}

func TestIsNavigationDetection(t *testing.T) {
	app := fiber.New()
	var navigation bool
	app.Get("/probe", func(c fiber.Ctx) error {
		navigation = isNavigation(c)
		return c.SendStatus(http.StatusNoContent)
	})

	probe := func(t *testing.T, mutate func(*http.Request)) bool {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "http://tasky.local/probe", nil)
		mutate(req)
		if _, err := app.Test(req); err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		return navigation
	}

	if !probe(t, func(r *http.Request) { r.Header.Set("Sec-Fetch-Mode", "navigate") }) {
		t.Fatalf("Sec-Fetch-Mode navigate must mark a navigation")
	}
	if probe(t, func(r *http.Request) { r.Header.Set("Sec-Fetch-Mode", "cors") }) {
		t.Fatalf("Sec-Fetch-Mode cors is not a navigation")
	}
	if !probe(t, func(r *http.Request) { r.Header.Set("Accept", "text/html,application/xhtml+xml") }) {
		t.Fatalf("html-preferring Accept should fall back to navigation")
	}
	if probe(t, func(r *http.Request) { r.Header.Set("Accept", "application/json") }) {
		t.Fatalf("json Accept is not a navigation")
	}
}
