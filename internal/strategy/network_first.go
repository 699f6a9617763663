package strategy

import (
	"context"

	"github.com/tasky-app/tasky-offline/internal/cache"
)

// NetworkFirst 先走网络，成功则顺带写入动态分区并返回实时响应；
// 网络失败时回退到任意分区中的缓存，无缓存则把原始网络错误抛回调用方。
type NetworkFirst struct {
	Deps
}

// Name 返回策略标识，供响应头与日志输出。
func (s NetworkFirst) Name() string { return "network-first" }

// Execute 解析单个 GET 请求。
func (s NetworkFirst) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	key, ok := cache.RequestKey(req.Method, req.URL)
	if !ok {
		resp, err := s.Fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Outcome{Response: resp}, nil
	}

	names := s.Partitions()

	resp, err := s.Fetcher.Fetch(ctx, req)
	if err == nil {
		if isOK(resp) {
			s.storeBestEffort(names.Dynamic(), key, resp, req.URL)
		}
		return &Outcome{Response: resp}, nil
	}

	if cached, hit := s.lookup(ctx, key, names.Dynamic(), names.Static()); hit {
		return &Outcome{Response: cached, FromCache: true}, nil
	}
	return nil, err
}
