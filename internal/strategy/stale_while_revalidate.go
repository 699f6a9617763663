package strategy

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tasky-app/tasky-offline/internal/cache"
)

// StaleWhileRevalidate 命中时立即返回旧副本，同时在后台刷新缓存；
// 冷缓存时退化为等待网络的 network-first（没有旧副本可以兜底）。
//
// 刷新写入的是静态分区而非动态分区，与导航页同属 app shell 的存放约定。
type StaleWhileRevalidate struct {
	Deps
}

// Name 返回策略标识，供响应头与日志输出。
func (s StaleWhileRevalidate) Name() string { return "stale-while-revalidate" }

// Execute 解析单个 GET 请求。命中路径不等待网络结果：
// 后台刷新使用拆离的 context，调用方取消或超时都不影响它。
func (s StaleWhileRevalidate) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	key, ok := cache.RequestKey(req.Method, req.URL)
	if !ok {
		resp, err := s.Fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Outcome{Response: resp}, nil
	}

	names := s.Partitions()

	cached, err := s.Store.Get(ctx, names.Static(), key)
	if err == nil {
		s.revalidateInBackground(req, names.Static(), key)
		return &Outcome{Response: cached, FromCache: true}, nil
	}

	resp, fetchErr := s.Fetcher.Fetch(ctx, req)
	if fetchErr != nil {
		return nil, fetchErr
	}
	if isOK(resp) {
		s.storeBestEffort(names.Static(), key, resp, req.URL)
	}
	return &Outcome{Response: resp}, nil
}

func (s StaleWhileRevalidate) revalidateInBackground(req *Request, partition, key string) {
	reqCopy := &Request{
		Method:     req.Method,
		URL:        req.URL,
		Header:     req.Header,
		Navigation: req.Navigation,
	}
	s.run(func() {
		resp, err := s.Fetcher.Fetch(context.Background(), reqCopy)
		if err != nil {
			if s.Logger != nil {
				s.Logger.WithError(err).WithFields(logrus.Fields{
					"action":    "revalidate",
					"partition": partition,
					"key":       key,
				}).Debug("revalidate_failed")
			}
			return
		}
		if !isOK(resp) {
			return
		}
		if s.Cacheable != nil && !s.Cacheable(reqCopy.URL) {
			return
		}
		if err := s.Store.Put(context.Background(), partition, key, resp.Clone()); err != nil {
			s.logWriteFailure(partition, key, err)
		}
	})
}
