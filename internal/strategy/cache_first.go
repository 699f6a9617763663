package strategy

import (
	"context"

	"github.com/tasky-app/tasky-offline/internal/cache"
)

// CacheFirst 命中缓存立即返回，完全不碰网络；未命中才回源，
// 成功后顺带写入动态分区，失败则把网络错误抛回调用方。
type CacheFirst struct {
	Deps
}

// Name 返回策略标识，供响应头与日志输出。
func (s CacheFirst) Name() string { return "cache-first" }

// Execute 解析单个 GET 请求。安装清单固化的资产在静态分区，
// 运行期抓取的在动态分区，两者都算命中。
func (s CacheFirst) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	key, ok := cache.RequestKey(req.Method, req.URL)
	if !ok {
		resp, err := s.Fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Outcome{Response: resp}, nil
	}

	names := s.Partitions()

	if cached, hit := s.lookup(ctx, key, names.Static(), names.Dynamic()); hit {
		return &Outcome{Response: cached, FromCache: true}, nil
	}

	resp, err := s.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if isOK(resp) {
		s.storeBestEffort(names.Dynamic(), key, resp, req.URL)
	}
	return &Outcome{Response: resp}, nil
}
