package strategy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
)

// Request 描述一次被拦截的出站请求。Navigation 标记整页导航，
// 由代理层从请求头推导。
type Request struct {
	Method     string
	URL        *url.URL
	Header     http.Header
	Navigation bool
}

// Fetcher 抽象真实网络请求；代理层基于共享 http.Client 实现，
// 测试中可注入桩实现模拟离线或挂起。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*cache.StoredResponse, error)
}

// FetcherFunc 将普通函数适配为 Fetcher。
type FetcherFunc func(ctx context.Context, req *Request) (*cache.StoredResponse, error)

// Fetch 使 FetcherFunc 满足 Fetcher。
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*cache.StoredResponse, error) {
	return f(ctx, req)
}

// Outcome 是策略执行的结果：响应本体加上它来自缓存还是实时网络。
type Outcome struct {
	Response  *cache.StoredResponse
	FromCache bool
}

// Deps 汇总三种策略共享的依赖。Partitions 返回当前生效的分区名，
// 版本切换（activate）后新请求自动落到新分区。
type Deps struct {
	Store      cache.Store
	Fetcher    Fetcher
	Cacheable  func(*url.URL) bool
	Partitions func() cache.Names
	Logger     *logrus.Logger

	// Background 执行拆离的后台任务，默认为 go 协程；
	// 测试可替换为同步执行以获得确定性。
	Background func(func())
}

func (d Deps) run(task func()) {
	if d.Background != nil {
		d.Background(task)
		return
	}
	go task()
}

// storeBestEffort 以 fire-and-forget 语义写入缓存：使用拆离的 context，
// 失败只记日志，绝不影响已经返回给调用方的响应。
func (d Deps) storeBestEffort(partition, key string, resp *cache.StoredResponse, u *url.URL) {
	if d.Cacheable != nil && !d.Cacheable(u) {
		return
	}
	copied := resp.Clone()
	d.run(func() {
		if err := d.Store.Put(context.Background(), partition, key, copied); err != nil {
			d.logWriteFailure(partition, key, err)
		}
	})
}

func (d Deps) logWriteFailure(partition, key string, err error) {
	if d.Logger == nil {
		return
	}
	d.Logger.WithError(err).WithFields(logrus.Fields{
		"action":    "cache_write",
		"partition": partition,
		"key":       key,
	}).Warn("cache_write_failed")
}

// isOK 对应浏览器 Response.ok 的判定区间。
func isOK(resp *cache.StoredResponse) bool {
	return resp != nil && resp.Status >= 200 && resp.Status < 300
}

// lookup 依序查找多个分区，第一个命中的条目生效。
func (d Deps) lookup(ctx context.Context, key string, partitions ...string) (*cache.StoredResponse, bool) {
	for _, partition := range partitions {
		cached, err := d.Store.Get(ctx, partition, key)
		if err == nil {
			return cached, true
		}
	}
	return nil, false
}
