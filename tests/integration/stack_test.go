package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
	"github.com/tasky-app/tasky-offline/internal/config"
	"github.com/tasky-app/tasky-offline/internal/lifecycle"
	"github.com/tasky-app/tasky-offline/internal/proxy"
	"github.com/tasky-app/tasky-offline/internal/routing"
	"github.com/tasky-app/tasky-offline/internal/server"
	"github.com/tasky-app/tasky-offline/internal/server/routes"
)

// appStub 模拟 Tasky 应用的上游：app shell 页面、图标资产与一个 JSON API。
// Close 之后监听端口释放，模拟整站断网。
type appStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	mu   sync.Mutex
	hits map[string]int
}

func newAppStub(t *testing.T) *appStub {
	t.Helper()

	stub := &appStub{hits: make(map[string]int)}

	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		page("<html>app shell</html>")(w, r)
	})
	mux.Handle("/tasks", page("<html>tasks page</html>"))
	mux.HandleFunc("/icons/icon-192.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png bytes"))
	})
	mux.HandleFunc("/api/data", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[1,2,3]}`))
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hits[r.URL.Path]++
		stub.mu.Unlock()
		mux.ServeHTTP(w, r)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start app stub listener: %v", err)
	}

	srv := &http.Server{Handler: handler}
	stub.server = srv
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = srv.Serve(listener)
	}()

	return stub
}

func (s *appStub) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if s.server != nil {
		_ = s.server.Shutdown(ctx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

func (s *appStub) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// offlineStack 聚合集成测试用到的全套组件。
type offlineStack struct {
	app        *fiber.App
	store      cache.Store
	controller *lifecycle.Controller
}

// newOfflineStack 按 main.go 的启动顺序搭建完整栈：
// 配置 → 规则表 → Origin 注册表 → 分区存储 → 生命周期 → Fiber。
func newOfflineStack(t *testing.T, upstreamURL string, manifest []string) *offlineStack {
	t.Helper()

	storageDir := t.TempDir()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			StoragePath:     storageDir,
			StorageDriver:   "fs",
			Product:         "tasky",
			AppVersion:      "1.1.0",
			UpstreamTimeout: config.Duration(3 * time.Second),
		},
		Origins: []config.OriginConfig{
			{
				Name:     "app",
				Domain:   "tasky.local",
				Upstream: upstreamURL,
				App:      true,
			},
		},
	}

	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(cfg.Global.StorageDriver, cfg.Global.StoragePath)
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	client := server.NewUpstreamClient(cfg)

	controller, err := lifecycle.NewController(lifecycle.Options{
		Store:    store,
		Fetcher:  proxy.NewUpstreamFetcher(client),
		Names:    cache.Names{Product: cfg.Global.Product, Version: cfg.Global.AppVersion},
		AppBase:  registry.App().UpstreamURL,
		Manifest: manifest,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("controller error: %v", err)
	}

	tables, err := routing.NewTables(config.DefaultRules())
	if err != nil {
		t.Fatalf("rules error: %v", err)
	}
	classifier := routing.NewClassifier(tables)
	policy := routing.NewCacheability(registry.App().UpstreamURL.Host, tables)

	handler := proxy.NewHandler(client, logger, store, classifier, policy, controller)

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   registry,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterControlRoutes(app, registry, controller, logger)

	return &offlineStack{app: app, store: store, controller: controller}
}

// get 以指定 Host 向 Fiber 栈发起 GET，headers 为可选的 k/v 对。
func (s *offlineStack) get(t *testing.T, path string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, "http://tasky.local"+path, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	req.Host = "tasky.local"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

// assertSameStrings 输出 unified diff，方便定位分区/键枚举的偏差。
func assertSameStrings(t *testing.T, want, got []string, label string) {
	t.Helper()
	w := append([]string(nil), want...)
	g := append([]string(nil), got...)
	sort.Strings(w)
	sort.Strings(g)

	same := len(w) == len(g)
	if same {
		for i := range w {
			if w[i] != g[i] {
				same = false
				break
			}
		}
	}
	if same {
		return
	}

	diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        w,
		B:        g,
		FromFile: label + " (want)",
		ToFile:   label + " (got)",
		Context:  3,
	})
	t.Fatalf("%s mismatch:\n%s", label, diff)
}
