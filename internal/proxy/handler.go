package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
	"github.com/tasky-app/tasky-offline/internal/lifecycle"
	"github.com/tasky-app/tasky-offline/internal/logging"
	"github.com/tasky-app/tasky-offline/internal/routing"
	"github.com/tasky-app/tasky-offline/internal/server"
	"github.com/tasky-app/tasky-offline/internal/strategy"
)

// Handler 负责 orchestrate “分类 → 策略 → 离线兜底” 的全流程，
// 对外暴露 Fiber handler，内部复用共享 http.Client 与分区存储。
// 非 GET 请求完全不经过缓存，直接透传上游。
type Handler struct {
	client     *http.Client
	logger     *logrus.Logger
	store      cache.Store
	classifier *routing.Classifier
	controller *lifecycle.Controller

	networkFirst strategy.NetworkFirst
	cacheFirst   strategy.CacheFirst
	swr          strategy.StaleWhileRevalidate
}

// NewHandler constructs the cache proxy with shared client/logger/store and
// the compiled routing tables.
func NewHandler(
	client *http.Client,
	logger *logrus.Logger,
	store cache.Store,
	classifier *routing.Classifier,
	policy routing.Cacheability,
	controller *lifecycle.Controller,
) *Handler {
	deps := strategy.Deps{
		Store:      store,
		Fetcher:    &upstreamFetcher{client: client},
		Cacheable:  policy.Cacheable,
		Partitions: controller.Partitions,
		Logger:     logger,
	}
	return &Handler{
		client:       client,
		logger:       logger,
		store:        store,
		classifier:   classifier,
		controller:   controller,
		networkFirst: strategy.NetworkFirst{Deps: deps},
		cacheFirst:   strategy.CacheFirst{Deps: deps},
		swr:          strategy.StaleWhileRevalidate{Deps: deps},
	}
}

// Handle 执行请求分类与策略执行，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	target := resolveTargetURL(route, c)
	method := c.Method()

	if method != http.MethodGet {
		return h.passthrough(c, route, target, requestID, started)
	}

	navigation := isNavigation(c)
	disposition := h.classifier.Classify(target, navigation)

	req := &strategy.Request{
		Method:     method,
		URL:        target,
		Header:     fiberHeadersAsHTTP(c),
		Navigation: navigation,
	}

	var ctx context.Context = c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	outcome, err := h.execute(ctx, disposition, req)
	if err != nil {
		return h.fallback(c, route, target, disposition, navigation, requestID, started, err)
	}

	h.logResult(route, target.String(), string(disposition), navigation, outcome.FromCache, requestID, outcome.Response.Status, started, nil)
	return h.serve(c, target, string(disposition), outcome, requestID)
}

// execute 按 disposition 选择策略；分类器只产出三种值，default 仅作保底。
func (h *Handler) execute(ctx context.Context, disposition routing.Disposition, req *strategy.Request) (*strategy.Outcome, error) {
	switch disposition {
	case routing.DispositionCacheFirst:
		return h.cacheFirst.Execute(ctx, req)
	case routing.DispositionStaleWhileRevalidate:
		return h.swr.Execute(ctx, req)
	default:
		return h.networkFirst.Execute(ctx, req)
	}
}

// serve 将 StoredResponse 写回下游，无论它来自缓存还是实时网络。
func (h *Handler) serve(c fiber.Ctx, target *url.URL, dispositionName string, outcome *strategy.Outcome, requestID string) error {
	resp := outcome.Response

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Tasky-Upstream", target.String())
	c.Set("X-Tasky-Strategy", dispositionName)
	c.Set("X-Tasky-Cache-Hit", fmt.Sprintf("%t", outcome.FromCache))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	if len(resp.Body) > 0 {
		c.Response().Header.SetContentLength(len(resp.Body))
	} else {
		c.Response().Header.Del("Content-Length")
	}

	c.Status(resp.Status)
	return c.Send(resp.Body)
}

// fallback 是请求错误路径的终点：导航请求回放安装时固化的离线页，
// 没有离线页则合成 503；资产请求把错误交还给发起方。这里绝不再抛错。
func (h *Handler) fallback(
	c fiber.Ctx,
	route *server.OriginRoute,
	target *url.URL,
	disposition routing.Disposition,
	navigation bool,
	requestID string,
	started time.Time,
	cause error,
) error {
	h.logResult(route, target.String(), string(disposition), navigation, false, requestID, 0, started, cause)

	if !navigation {
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	var ctx context.Context = c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	static := h.controller.Partitions().Static()
	if cached, err := h.store.Get(ctx, static, h.controller.OfflineKey()); err == nil {
		h.logOfflineServe(route, requestID, "offline_page")
		return h.serve(c, target, string(disposition), &strategy.Outcome{Response: cached, FromCache: true}, requestID)
	}

	h.logOfflineServe(route, requestID, "synthesized")
	c.Set("Content-Type", "text/html; charset=utf-8")
	c.Set("X-Tasky-Fallback", "synthesized")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(fiber.StatusServiceUnavailable)
	return c.SendString(offlineDocument)
}

// offlineDocument 是终极兜底页：静态分区不可用时也要给调用方一个响应。
const offlineDocument = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Tasky — offline</title></head>
<body><h1>You are offline</h1><p>Tasky could not reach the network and has no cached copy of this page.</p></body>
</html>
`

// passthrough 透传非 GET 请求：不读缓存、不写缓存、不分类。
func (h *Handler) passthrough(
	c fiber.Ctx,
	route *server.OriginRoute,
	target *url.URL,
	requestID string,
	started time.Time,
) error {
	var ctx context.Context = c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var body io.Reader = http.NoBody
	if raw := c.Body(); len(raw) > 0 {
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		h.logResult(route, target.String(), "not-intercepted", false, false, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Host = target.Host
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())

	resp, err := h.client.Do(req)
	if err != nil {
		h.logResult(route, target.String(), "not-intercepted", false, false, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set("X-Tasky-Upstream", target.String())
	c.Set("X-Tasky-Cache-Hit", "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	_, copyErr := io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, target.String(), "not-intercepted", false, false, requestID, resp.StatusCode, started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", copyErr))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	upstream string,
	disposition string,
	navigation bool,
	cacheHit bool,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(
		route.Config.Name,
		route.Config.Domain,
		disposition,
		navigation,
		cacheHit,
	)
	fields["action"] = "proxy"
	fields["upstream"] = upstream
	fields["upstream_status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func (h *Handler) logOfflineServe(route *server.OriginRoute, requestID, mode string) {
	fields := logrus.Fields{
		"action": "offline_fallback",
		"origin": route.Config.Name,
		"mode":   mode,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	h.logger.WithFields(fields).Warn("offline_fallback_served")
}

// isNavigation 从请求头推导整页导航标记。浏览器导航会带
// Sec-Fetch-Mode: navigate；老客户端退化为 Accept 首选 text/html。
func isNavigation(c fiber.Ctx) bool {
	if mode := strings.TrimSpace(c.Get("Sec-Fetch-Mode")); mode != "" {
		return strings.EqualFold(mode, "navigate")
	}
	accept := c.Get(fiber.HeaderAccept)
	return strings.HasPrefix(strings.TrimSpace(accept), "text/html")
}

func resolveTargetURL(route *server.OriginRoute, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return route.UpstreamURL.ResolveReference(relative)
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
